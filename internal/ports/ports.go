package ports

import "context"

// Trigger signals an asynchronous worker by name. Callers treat it as
// best-effort: a failure never undoes state already written.
type Trigger interface {
	Invoke(ctx context.Context, name string) error
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, name string) error

func (f TriggerFunc) Invoke(ctx context.Context, name string) error { return f(ctx, name) }
