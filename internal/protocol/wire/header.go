package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion is the messaging protocol version stamped on every header.
	ProtocolVersion = "5.3"

	// Delimiter separates routing identities from the signed body.
	Delimiter = "<IDS|MSG>"
)

// Header identifies one message and selects its content schema.
type Header struct {
	MsgID    string `json:"msg_id"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// IsZero reports whether h carries no message identity.
func (h Header) IsZero() bool {
	return strings.TrimSpace(h.MsgID) == "" && strings.TrimSpace(h.MsgType) == ""
}

// Validate checks the fields routing depends on.
func (h Header) Validate() error {
	if strings.TrimSpace(h.MsgID) == "" {
		return fmt.Errorf("%w: header missing msg_id", ErrFormat)
	}
	if strings.TrimSpace(h.MsgType) == "" {
		return fmt.Errorf("%w: header missing msg_type", ErrFormat)
	}
	return nil
}

// NewHeader builds a header with a fresh message id.
func NewHeader(msgType, session, username string) Header {
	return Header{
		MsgID:    uuid.NewString(),
		Session:  session,
		Username: username,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
		MsgType:  msgType,
		Version:  ProtocolVersion,
	}
}

// Message is one decoded envelope.
type Message struct {
	Identities [][]byte
	Header     Header
	Parent     Header
	Metadata   map[string]any
	Content    json.RawMessage
	Buffers    [][]byte
}

// HasParent reports whether the message names an originating request.
func (m *Message) HasParent() bool {
	return m != nil && !m.Parent.IsZero()
}

// DecodeContent unmarshals the raw content into out.
func (m *Message) DecodeContent(out any) error {
	if m == nil {
		return ErrNilMessage
	}
	if len(m.Content) == 0 {
		return json.Unmarshal([]byte("{}"), out)
	}
	return json.Unmarshal(m.Content, out)
}

func cloneFrames(in [][]byte) [][]byte {
	if len(in) == 0 {
		return nil
	}
	out := make([][]byte, len(in))
	for i, f := range in {
		buf := make([]byte, len(f))
		copy(buf, f)
		out[i] = buf
	}
	return out
}
