package user

import "context"

// ReloadNotifier is told when the system identity set changed, after the change is committed.
type ReloadNotifier interface {
	Reload(ctx context.Context) error
}

// NopNotifier ignores reload notifications. Tenant-scoped stores always use it.
type NopNotifier struct{}

// Reload implements ReloadNotifier.
func (NopNotifier) Reload(context.Context) error { return nil }

// NotifierFunc adapts a function to ReloadNotifier.
type NotifierFunc func(ctx context.Context) error

// Reload implements ReloadNotifier by calling f.
func (f NotifierFunc) Reload(ctx context.Context) error { return f(ctx) }
