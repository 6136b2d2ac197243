package lifecycle

import "context"

// Engine runs the simulation of loaded worlds. Activate is called after a world
// is registered and Deactivate before its slot is released.
type Engine interface {
	Activate(ctx context.Context, h *Handle) error
	Deactivate(ctx context.Context, h *Handle) error
}

type nopEngine struct{}

func (nopEngine) Activate(context.Context, *Handle) error   { return nil }
func (nopEngine) Deactivate(context.Context, *Handle) error { return nil }

// NopEngine accepts every world and does nothing.
var NopEngine Engine = nopEngine{}
