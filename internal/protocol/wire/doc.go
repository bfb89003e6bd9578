// Package wire owns the signed multipart envelope.
//
// Ownership boundary:
// - envelope framing (identities, delimiter, signature, four JSON parts, buffers)
// - HMAC signing and verification
// - header construction
//
// Content payloads stay raw here; typed parsing belongs to package schema.
package wire
