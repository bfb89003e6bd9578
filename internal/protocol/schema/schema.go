package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// JSON value kinds checked by requirements.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindBool
	KindNumber
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

type Requirement struct {
	Field    string
	Kind     Kind
	Optional bool
}

var requirements = map[string][]Requirement{
	MsgExecuteRequest: {
		{"code", KindString, false},
		{"silent", KindBool, true},
		{"store_history", KindBool, true},
		{"allow_stdin", KindBool, true},
		{"stop_on_error", KindBool, true},
		{"user_expressions", KindObject, true},
	},
	MsgExecuteReply: {
		{"status", KindString, false},
		{"execution_count", KindNumber, true},
	},
	MsgExecuteInput: {
		{"code", KindString, false},
		{"execution_count", KindNumber, false},
	},
	MsgExecuteResult: {
		{"execution_count", KindNumber, false},
		{"data", KindObject, false},
		{"metadata", KindObject, true},
	},
	MsgDisplayData: {
		{"data", KindObject, false},
		{"metadata", KindObject, true},
	},
	MsgStream: {
		{"name", KindString, false},
		{"text", KindString, false},
	},
	MsgError: {
		{"ename", KindString, false},
		{"evalue", KindString, false},
		{"traceback", KindArray, true},
	},
	MsgStatus: {
		{"execution_state", KindString, false},
	},
	MsgKernelInfoRequest: nil,
	MsgKernelInfoReply: {
		{"protocol_version", KindString, false},
		{"language_info", KindObject, false},
	},
	MsgInterruptRequest: nil,
	MsgInterruptReply: {
		{"status", KindString, false},
	},
	MsgShutdownRequest: {
		{"restart", KindBool, true},
	},
	MsgShutdownReply: {
		{"status", KindString, false},
		{"restart", KindBool, true},
	},
	MsgCommOpen: {
		{"comm_id", KindString, false},
		{"target_name", KindString, false},
		{"data", KindObject, true},
	},
	MsgCommMsg: {
		{"comm_id", KindString, false},
		{"data", KindObject, true},
	},
	MsgCommClose: {
		{"comm_id", KindString, false},
		{"data", KindObject, true},
	},
	MsgCommInfoRequest: {
		{"target_name", KindString, true},
	},
	MsgCommInfoReply: {
		{"comms", KindObject, false},
	},
	MsgInputRequest: {
		{"prompt", KindString, false},
		{"password", KindBool, true},
	},
	MsgInputReply: {
		{"value", KindString, false},
	},
	MsgIsCompleteRequest: {
		{"code", KindString, false},
	},
	MsgIsCompleteReply: {
		{"status", KindString, false},
		{"indent", KindString, true},
	},
	MsgCompleteRequest: {
		{"code", KindString, false},
		{"cursor_pos", KindNumber, false},
	},
	MsgCompleteReply: {
		{"status", KindString, false},
		{"matches", KindArray, true},
	},
	MsgInspectRequest: {
		{"code", KindString, false},
		{"cursor_pos", KindNumber, false},
		{"detail_level", KindNumber, true},
	},
	MsgInspectReply: {
		{"status", KindString, false},
		{"found", KindBool, true},
	},
}

var decoders = map[string]func() any{
	MsgExecuteRequest:    func() any { return &ExecuteRequest{} },
	MsgExecuteReply:      func() any { return &ExecuteReply{} },
	MsgExecuteInput:      func() any { return &ExecuteInput{} },
	MsgExecuteResult:     func() any { return &ExecuteResult{} },
	MsgDisplayData:       func() any { return &DisplayData{} },
	MsgStream:            func() any { return &Stream{} },
	MsgError:             func() any { return &ErrorContent{} },
	MsgStatus:            func() any { return &Status{} },
	MsgKernelInfoRequest: func() any { return &KernelInfoRequest{} },
	MsgKernelInfoReply:   func() any { return &KernelInfoReply{} },
	MsgInterruptRequest:  func() any { return &InterruptRequest{} },
	MsgInterruptReply:    func() any { return &InterruptReply{} },
	MsgShutdownRequest:   func() any { return &ShutdownRequest{} },
	MsgShutdownReply:     func() any { return &ShutdownReply{} },
	MsgCommOpen:          func() any { return &CommOpen{} },
	MsgCommMsg:           func() any { return &CommMsg{} },
	MsgCommClose:         func() any { return &CommClose{} },
	MsgCommInfoRequest:   func() any { return &CommInfoRequest{} },
	MsgCommInfoReply:     func() any { return &CommInfoReply{} },
	MsgInputRequest:      func() any { return &InputRequest{} },
	MsgInputReply:        func() any { return &InputReply{} },
	MsgIsCompleteRequest: func() any { return &IsCompleteRequest{} },
	MsgIsCompleteReply:   func() any { return &IsCompleteReply{} },
	MsgCompleteRequest:   func() any { return &CompleteRequest{} },
	MsgCompleteReply:     func() any { return &CompleteReply{} },
	MsgInspectRequest:    func() any { return &InspectRequest{} },
	MsgInspectReply:      func() any { return &InspectReply{} },
}

// Known reports whether msgType has a registered content schema.
func Known(msgType string) bool {
	_, ok := decoders[msgType]
	return ok
}

// ReplyType returns the reply message type for a request type.
func ReplyType(msgType string) (string, bool) {
	base, ok := strings.CutSuffix(msgType, "_request")
	if !ok || !Known(msgType) {
		return "", false
	}
	reply := base + "_reply"
	return reply, Known(reply)
}

// Validate enforces required fields and field kinds for a message type.
// Unknown fields are ignored.
func Validate(msgType string, raw []byte) error {
	reqs, ok := requirements[msgType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedMessageType, msgType)
	}
	fields, err := objectFields(msgType, raw)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		value, found := fields[req.Field]
		if !found || isNull(value) {
			if req.Optional {
				continue
			}
			log.Debug().Str("msg_type", msgType).Str("field", req.Field).Msg("schema.Validate missing field")
			return &SchemaError{MsgType: msgType, Field: req.Field, Reason: "missing required field"}
		}
		if got := kindOf(value); got != req.Kind {
			log.Debug().
				Str("msg_type", msgType).
				Str("field", req.Field).
				Stringer("got", got).
				Stringer("want", req.Kind).
				Msg("schema.Validate type mismatch")
			return &SchemaError{
				MsgType: msgType,
				Field:   req.Field,
				Reason:  fmt.Sprintf("type mismatch: got %s want %s", got, req.Kind),
			}
		}
	}
	return nil
}

// Parse validates raw content and decodes it into the typed content struct
// registered for msgType. The result is always a pointer.
func Parse(msgType string, raw []byte) (any, error) {
	newContent, ok := decoders[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMessageType, msgType)
	}
	if err := Validate(msgType, raw); err != nil {
		return nil, err
	}
	out := newContent()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, &SchemaError{MsgType: msgType, Reason: err.Error()}
	}
	return out, nil
}

func objectFields(msgType string, raw []byte) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	if raw[0] != '{' {
		return nil, &SchemaError{MsgType: msgType, Reason: "content is not a JSON object"}
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &SchemaError{MsgType: msgType, Reason: "invalid json: " + err.Error()}
	}
	return fields, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func kindOf(v json.RawMessage) Kind {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	switch v[0] {
	case '"':
		return KindString
	case 't', 'f':
		return KindBool
	case '{':
		return KindObject
	case '[':
		return KindArray
	case 'n':
		return 0
	default:
		return KindNumber
	}
}
