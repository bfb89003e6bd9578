package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/kernelctl/internal/testutil/testlog"
)

func testMessage() *Message {
	parent := NewHeader("execute_request", "client-session", "alice")
	return &Message{
		Identities: [][]byte{[]byte("peer-1")},
		Header:     NewHeader("execute_reply", "kernel-session", "kernel"),
		Parent:     parent,
		Metadata:   map[string]any{"started": "now"},
		Content:    json.RawMessage(`{"status":"ok","execution_count":1}`),
		Buffers:    [][]byte{{0x00, 0x01, 0x02}},
	}
}

func TestRoundTripSigned(t *testing.T) {
	testlog.Start(t)

	codec, err := NewCodec(SchemeHMACSHA256, "secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	msg := testMessage()
	frames, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(frames[1]) != Delimiter {
		t.Fatalf("expected delimiter at index 1, got %q", frames[1])
	}
	if len(frames[2]) != 64 {
		t.Fatalf("expected hex sha256 signature, got %q", frames[2])
	}

	decoded, err := codec.Decode(frames)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Header != msg.Header {
		t.Fatalf("header mismatch: got %+v want %+v", decoded.Header, msg.Header)
	}
	if decoded.Parent != msg.Parent {
		t.Fatalf("parent mismatch: got %+v want %+v", decoded.Parent, msg.Parent)
	}
	if !bytes.Equal(decoded.Content, msg.Content) {
		t.Fatalf("content mismatch: %s", decoded.Content)
	}
	if decoded.Metadata["started"] != "now" {
		t.Fatalf("metadata mismatch: %+v", decoded.Metadata)
	}
	if len(decoded.Identities) != 1 || string(decoded.Identities[0]) != "peer-1" {
		t.Fatalf("identities mismatch: %q", decoded.Identities)
	}
	if len(decoded.Buffers) != 1 || !bytes.Equal(decoded.Buffers[0], msg.Buffers[0]) {
		t.Fatalf("buffers mismatch: %v", decoded.Buffers)
	}

	again, err := codec.Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if len(again) != len(frames) {
		t.Fatalf("frame count mismatch: got %d want %d", len(again), len(frames))
	}
	for i := range frames {
		if !bytes.Equal(frames[i], again[i]) {
			t.Fatalf("frame %d mismatch after round trip", i)
		}
	}
}

func TestDecodeWrongKey(t *testing.T) {
	testlog.Start(t)

	sender, _ := NewCodec(SchemeHMACSHA256, "secret")
	receiver, _ := NewCodec(SchemeHMACSHA256, "other")
	frames, err := sender.Encode(testMessage())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := receiver.Decode(frames); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestDecodeTamperedContent(t *testing.T) {
	testlog.Start(t)

	codec, _ := NewCodec(SchemeHMACSHA256, "secret")
	frames, _ := codec.Encode(testMessage())
	frames[6] = []byte(`{"status":"error"}`)
	if _, err := codec.Decode(frames); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestDecodeBuffersAreUnsigned(t *testing.T) {
	testlog.Start(t)

	codec, _ := NewCodec(SchemeHMACSHA256, "secret")
	frames, _ := codec.Encode(testMessage())
	frames[len(frames)-1] = []byte("replaced")
	msg, err := codec.Decode(frames)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(msg.Buffers[0]) != "replaced" {
		t.Fatalf("unexpected buffer %q", msg.Buffers[0])
	}
}

func TestDecodeNonHexSignature(t *testing.T) {
	testlog.Start(t)

	codec, _ := NewCodec(SchemeHMACSHA256, "secret")
	frames, _ := codec.Encode(testMessage())
	frames[2] = []byte("zz")
	if _, err := codec.Decode(frames); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	testlog.Start(t)

	codec, _ := NewCodec("", "")
	cases := map[string][][]byte{
		"missing delimiter": {[]byte("id"), []byte(""), []byte("{}")},
		"short body":        {[]byte(Delimiter), []byte(""), []byte("{}"), []byte("{}")},
		"bad header json":   {[]byte(Delimiter), []byte(""), []byte("{"), []byte("{}"), []byte("{}"), []byte("{}")},
		"header no msg_id":  {[]byte(Delimiter), []byte(""), []byte(`{"msg_type":"x"}`), []byte("{}"), []byte("{}"), []byte("{}")},
		"bad parent": {
			[]byte(Delimiter), []byte(""),
			[]byte(`{"msg_id":"a","msg_type":"x"}`), []byte(`[1,2,3]`), []byte("{}"), []byte("{}"),
		},
		"bad metadata": {
			[]byte(Delimiter), []byte(""),
			[]byte(`{"msg_id":"a","msg_type":"x"}`), []byte("{}"), []byte(`"str"`), []byte("{}"),
		},
	}
	for name, frames := range cases {
		if _, err := codec.Decode(frames); !errors.Is(err, ErrFormat) {
			t.Fatalf("%s: expected ErrFormat, got %v", name, err)
		}
	}
}

func TestUnsignedCodecIgnoresSignature(t *testing.T) {
	testlog.Start(t)

	codec, err := NewCodec("", "")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	if codec.Signed() {
		t.Fatalf("expected unsigned codec")
	}
	msg := testMessage()
	msg.Parent = Header{}
	msg.Metadata = nil
	frames, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frames[2]) != 0 {
		t.Fatalf("expected empty signature, got %q", frames[2])
	}
	if string(frames[4]) != "{}" || string(frames[5]) != "{}" {
		t.Fatalf("expected empty parent and metadata objects, got %q %q", frames[4], frames[5])
	}
	frames[2] = []byte("anything")
	decoded, err := codec.Decode(frames)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.HasParent() {
		t.Fatalf("expected no parent, got %+v", decoded.Parent)
	}
}

func TestNewCodecRejectsUnknownScheme(t *testing.T) {
	testlog.Start(t)

	if _, err := NewCodec("hmac-md5", "secret"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	if _, err := NewCodec("hmac-md5", ""); err != nil {
		t.Fatalf("unsigned codec should ignore scheme: %v", err)
	}
}
