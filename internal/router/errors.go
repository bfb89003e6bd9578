package router

import "errors"

var (
	ErrScopeClosed     = errors.New("router: scope closed")
	ErrClosed          = errors.New("router: closed")
	ErrNoChannel       = errors.New("router: channel not attached")
	ErrDropped         = errors.New("router: outbound message dropped")
	ErrStdinNotAllowed = errors.New("router: request does not allow stdin")
	ErrWrongChannel    = errors.New("router: message type not accepted on channel")
)
