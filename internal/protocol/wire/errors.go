package wire

import "errors"

var (
	// ErrFormat marks a malformed envelope. The frame is dropped and the channel continues.
	ErrFormat = errors.New("wire: malformed envelope")
	// ErrAuth marks a signature that is missing, undecodable, or does not match.
	ErrAuth = errors.New("wire: signature mismatch")

	ErrUnsupportedScheme = errors.New("wire: unsupported signature scheme")
	ErrNilMessage        = errors.New("wire: nil message")
)
