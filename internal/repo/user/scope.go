package user

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mkrupp/userstore/internal/domain"
)

const (
	// SystemCollectionName is the shared, privileged identity collection.
	SystemCollectionName = "_users"

	tenantCollectionSuffix = "_users"
)

var appNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Scope selects which collection a Store addresses.
// The system scope owns the identity set other components cache; tenant scopes are private per app.
type Scope struct {
	System bool
	App    string
}

// SystemScope returns the scope of the system identity collection.
func SystemScope() Scope {
	return Scope{System: true}
}

// TenantScope returns the scope of the private user collection of app.
func TenantScope(app string) Scope {
	return Scope{App: app}
}

// CollectionName returns the name of the collection the scope addresses.
// Returns ErrInvalidInput if a tenant scope has no valid app name.
func (s Scope) CollectionName() (string, error) {
	if s.System {
		return SystemCollectionName, nil
	}

	if !appNameRe.MatchString(s.App) {
		return "", fmt.Errorf("%w: app name %q", domain.ErrInvalidInput, s.App)
	}

	return s.App + tenantCollectionSuffix, nil
}

// Open resolves the scope's collection in db.
func (s Scope) Open(ctx context.Context, db Database) (Collection, error) {
	name, err := s.CollectionName()
	if err != nil {
		return nil, err
	}

	coll, err := db.Collection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}

	return coll, nil
}

func (s Scope) String() string {
	if s.System {
		return "system"
	}

	return "tenant:" + s.App
}
