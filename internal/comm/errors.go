package comm

import "errors"

var (
	ErrUnknownComm          = errors.New("comm: unknown comm")
	ErrCommExists           = errors.New("comm: comm already open")
	ErrHandlerInstantiation = errors.New("comm: handler instantiation failed")
	ErrTargetExists         = errors.New("comm: target already registered")
	ErrInvalidTarget        = errors.New("comm: invalid target")
	ErrFactoryNil           = errors.New("comm: factory is nil")
)
