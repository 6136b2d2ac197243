package lifecycle

import (
	"errors"
	"fmt"

	"worldhost.ai/internal/sim/dimension"
	"worldhost.ai/internal/sim/registry"
	"worldhost.ai/internal/sim/worldinfo"
)

// Error kinds. Every error returned by Manager is an *Error whose Kind is one
// of these.
var (
	ErrInvalidName       = worldinfo.ErrInvalidName
	ErrNameCollision     = errors.New("name collides with a non-world entry")
	ErrSlotExhausted     = dimension.ErrSlotExhausted
	ErrAlreadyRegistered = registry.ErrAlreadyRegistered
	ErrCannotUnloadRoot  = errors.New("cannot unload the overworld")
	ErrIO                = errors.New("world storage failure")
	ErrActivation        = errors.New("engine refused world")
	ErrNotLoaded         = errors.New("world not known")
)

type Error struct {
	Op    string
	World string
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.World != "" {
		msg += " " + e.World
	}
	switch {
	case e.Err == nil:
		return msg + ": " + e.Kind.Error()
	case errors.Is(e.Err, e.Kind):
		return msg + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, world string, kind, err error) *Error {
	return &Error{Op: op, World: world, Kind: kind, Err: err}
}

// KindOf returns the kind of a lifecycle error, or nil.
func KindOf(err error) error {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}

var codes = []struct {
	kind error
	code string
}{
	{ErrInvalidName, "E_INVALID_NAME"},
	{ErrNameCollision, "E_NAME_COLLISION"},
	{ErrSlotExhausted, "E_SLOT_EXHAUSTED"},
	{ErrAlreadyRegistered, "E_ALREADY_REGISTERED"},
	{ErrCannotUnloadRoot, "E_CANNOT_UNLOAD_ROOT"},
	{ErrIO, "E_IO"},
	{ErrActivation, "E_ACTIVATION"},
	{ErrNotLoaded, "E_NOT_LOADED"},
}

// Code maps an error to a stable string code for administrative surfaces.
func Code(err error) string {
	if err == nil {
		return ""
	}
	kind := KindOf(err)
	if kind == nil {
		kind = err
	}
	for _, c := range codes {
		if errors.Is(kind, c.kind) {
			return c.code
		}
	}
	return "E_INTERNAL"
}
