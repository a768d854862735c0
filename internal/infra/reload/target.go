package reload

import (
	"context"
	"errors"
)

// Target receives reload notifications.
type Target interface {
	Reload(ctx context.Context) error
}

// Multi notifies every target in order. All targets are called even if one fails;
// the failures are joined.
func Multi(targets ...Target) Target {
	return multi(targets)
}

type multi []Target

func (m multi) Reload(ctx context.Context) error {
	var errs []error

	for _, t := range m {
		if err := t.Reload(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
