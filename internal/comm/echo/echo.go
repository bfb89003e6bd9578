// Package echo provides the built-in "echo" comm target: every message is
// sent back unchanged. A message of {"close": true} also closes the comm.
package echo

import (
	"context"
	"encoding/json"

	"github.com/danmuck/kernelctl/internal/comm"
)

const Target = "echo"

func Register(reg *comm.Registry) error {
	return reg.Register(Target, New)
}

type handler struct {
	id string
}

func New(_ context.Context, commID string, _ json.RawMessage, _ comm.Emitter) (comm.Handler, error) {
	return &handler{id: commID}, nil
}

func (h *handler) Message(_ context.Context, data json.RawMessage, out comm.Emitter) error {
	if err := out.Send(data); err != nil {
		return err
	}
	var ctl struct {
		Close bool `json:"close"`
	}
	if json.Unmarshal(data, &ctl) == nil && ctl.Close {
		return out.Close(nil)
	}
	return nil
}

func (h *handler) Close() {}
