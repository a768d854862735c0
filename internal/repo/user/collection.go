package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/mkrupp/userstore/internal/domain"
)

var (
	// ErrDocumentNotFound is returned by a Collection when no document has the requested id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUniqueViolation is returned by a Collection when an insert collides with a unique index.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// Collection defines the document collection a Store persists users in.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// FirstByUsername returns the user with the exact username.
	// Returns the user and true if found, or nil and false if not found.
	FirstByUsername(ctx context.Context, username string) (*domain.User, bool, error)

	// ByID returns the user with the given id.
	// Returns ErrDocumentNotFound if no such user exists.
	ByID(ctx context.Context, id string) (*domain.User, error)

	// All returns every user in the collection.
	All(ctx context.Context) ([]*domain.User, error)

	// Insert stores a new user and returns the id assigned to it.
	// Returns ErrUniqueViolation if a unique index rejects the document.
	Insert(ctx context.Context, user *domain.User) (string, error)

	// Replace overwrites the payloads of the user with user.ID.
	// Returns ErrDocumentNotFound if no such user exists.
	Replace(ctx context.Context, user *domain.User) error

	// RemoveByID deletes the user with the given id.
	// Returns ErrDocumentNotFound if no such user exists.
	RemoveByID(ctx context.Context, id string) error

	// Transaction runs fn atomically with read and write intent on the collection.
	// If fn returns an error nothing fn wrote becomes visible and the error is returned as is.
	// Calling Transaction on the collection passed to fn joins the running transaction.
	Transaction(ctx context.Context, fn func(tx Collection) error) error
}

// Database opens named collections.
type Database interface {
	// Collection opens the named collection, creating it if needed.
	Collection(ctx context.Context, name string) (Collection, error)

	// Close releases any resources held by the database.
	Close() error
}

// DatabaseFactory is a function that creates a new Database instance.
// Returns an error if initialization fails.
type DatabaseFactory func() (Database, error)

var collectionNameRe = regexp.MustCompile(`^_?[A-Za-z][A-Za-z0-9_]*$`)

func validateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: collection name %q", domain.ErrInvalidInput, name)
	}

	return nil
}
