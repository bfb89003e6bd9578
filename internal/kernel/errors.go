package kernel

import "errors"

var (
	ErrLifecycleOrder     = errors.New("kernel: invalid lifecycle transition")
	ErrEnginePanic        = errors.New("kernel: engine panic")
	ErrShutdownTimeout    = errors.New("kernel: shutdown timed out")
	ErrNilEngine          = errors.New("kernel: engine is nil")
	ErrMissingSocket      = errors.New("kernel: missing socket")
	ErrUnknownCommTarget  = errors.New("kernel: unknown comm target")
	ErrInvalidServiceConf = errors.New("kernel: invalid service config")
)
