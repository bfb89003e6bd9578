package schema

import (
	"errors"
	"fmt"
)

var ErrUnsupportedMessageType = errors.New("schema: unsupported message type")

// SchemaError reports content that does not match its message type.
type SchemaError struct {
	MsgType string
	Field   string
	Reason  string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: msg_type=%s: %s", e.MsgType, e.Reason)
	}
	return fmt.Sprintf("schema: msg_type=%s field=%s: %s", e.MsgType, e.Field, e.Reason)
}
