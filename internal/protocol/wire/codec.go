package wire

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"sync"
)

// SchemeHMACSHA256 is the only signature scheme the kernel accepts.
const SchemeHMACSHA256 = "hmac-sha256"

var emptyObject = []byte("{}")

// Codec signs, verifies, encodes and decodes envelopes. A Codec is safe for
// concurrent use.
type Codec struct {
	key  []byte
	pool sync.Pool
}

// NewCodec builds a codec for the connection's scheme and key. An empty key
// disables signing.
func NewCodec(scheme, key string) (*Codec, error) {
	c := &Codec{}
	if key == "" {
		return c, nil
	}
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case SchemeHMACSHA256, "":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	c.key = []byte(key)
	c.pool.New = func() any { return hmac.New(sha256.New, c.key) }
	return c, nil
}

// Signed reports whether the codec signs and verifies envelopes.
func (c *Codec) Signed() bool {
	return len(c.key) > 0
}

// Encode renders msg as frames: identities, delimiter, signature, header,
// parent header, metadata, content, buffers.
func (c *Codec) Encode(msg *Message) ([][]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	parent := emptyObject
	if !msg.Parent.IsZero() {
		if parent, err = json.Marshal(msg.Parent); err != nil {
			return nil, fmt.Errorf("encode parent header: %w", err)
		}
	}
	metadata := emptyObject
	if len(msg.Metadata) > 0 {
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	content := []byte(msg.Content)
	if len(content) == 0 {
		content = emptyObject
	}

	frames := make([][]byte, 0, len(msg.Identities)+6+len(msg.Buffers))
	frames = append(frames, msg.Identities...)
	frames = append(frames, []byte(Delimiter))
	frames = append(frames, c.sign(header, parent, metadata, content))
	frames = append(frames, header, parent, metadata, content)
	frames = append(frames, msg.Buffers...)
	return frames, nil
}

// Decode parses frames received on a socket. Identities are everything
// before the delimiter; buffers are everything after the content part.
func (c *Codec) Decode(frames [][]byte) (*Message, error) {
	split := -1
	for i, f := range frames {
		if string(f) == Delimiter {
			split = i
			break
		}
	}
	if split < 0 {
		return nil, fmt.Errorf("%w: missing delimiter", ErrFormat)
	}
	body := frames[split+1:]
	if len(body) < 5 {
		return nil, fmt.Errorf("%w: expected at least 5 parts after delimiter, got %d", ErrFormat, len(body))
	}
	signature, header, parent, metadata, content := body[0], body[1], body[2], body[3], body[4]

	if c.Signed() {
		got, err := hex.DecodeString(string(signature))
		if err != nil {
			return nil, fmt.Errorf("%w: signature is not hex", ErrAuth)
		}
		if !hmac.Equal(got, c.mac(header, parent, metadata, content)) {
			return nil, ErrAuth
		}
	}

	msg := &Message{
		Identities: cloneFrames(frames[:split]),
		Content:    append(json.RawMessage(nil), content...),
		Buffers:    cloneFrames(body[5:]),
	}
	if err := json.Unmarshal(header, &msg.Header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if err := msg.Header.Validate(); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(parent)) > 2 {
		if err := json.Unmarshal(parent, &msg.Parent); err != nil {
			return nil, fmt.Errorf("%w: parent header: %v", ErrFormat, err)
		}
	}
	if len(bytes.TrimSpace(metadata)) > 2 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrFormat, err)
		}
	}
	return msg, nil
}

func (c *Codec) sign(parts ...[]byte) []byte {
	if !c.Signed() {
		return []byte{}
	}
	sum := c.mac(parts...)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

func (c *Codec) mac(parts ...[]byte) []byte {
	h := c.pool.Get().(hash.Hash)
	defer c.pool.Put(h)
	h.Reset()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
