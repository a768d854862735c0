package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound matches any UserNotFoundError.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameNotAvailable matches any UsernameNotAvailableError.
	ErrUsernameNotAvailable = errors.New("username not available")
	// ErrInvalidInput is returned when a caller supplies malformed input, e.g. an empty username.
	ErrInvalidInput = errors.New("invalid input")
)

// AuthDataActive is the auth data key the system identity store defaults to true.
const AuthDataActive = "active"

// User is a stored identity record.
type User struct {
	ID        string         // Store-assigned, immutable
	Username  string         // Unique within a collection
	AuthData  map[string]any // Opaque authentication payload
	UserData  map[string]any // Opaque profile payload
	CreatedAt int64          // Unix timestamp of creation
	UpdatedAt int64          // Unix timestamp of last save
}

// Clone returns a deep copy of the user so callers never share payload maps with the store.
// Payloads are expected in the form NormalizeData produces.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}

	clone := *u
	clone.AuthData = CloneData(u.AuthData)
	clone.UserData = CloneData(u.UserData)

	return &clone
}

// Active reports whether the auth data carries active=true.
func (u *User) Active() bool {
	active, ok := u.AuthData[AuthDataActive].(bool)

	return ok && active
}

// UserNotFoundError is returned when an operation addressing a user by id finds no record.
type UserNotFoundError struct {
	ID string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user with id %q not found", e.ID)
}

// Is makes errors.Is(err, ErrUserNotFound) hold for every UserNotFoundError.
func (e *UserNotFoundError) Is(target error) bool {
	return target == ErrUserNotFound
}

// UsernameNotAvailableError is returned when creating a user whose username is already taken.
type UsernameNotAvailableError struct {
	Username string
}

func (e *UsernameNotAvailableError) Error() string {
	return fmt.Sprintf("username %q is not available or already taken", e.Username)
}

// Is makes errors.Is(err, ErrUsernameNotAvailable) hold for every UsernameNotAvailableError.
func (e *UsernameNotAvailableError) Is(target error) bool {
	return target == ErrUsernameNotAvailable
}
