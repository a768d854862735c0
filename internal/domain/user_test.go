package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/userstore/internal/domain"
)

func TestUserNotFoundError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("get user: %w", &domain.UserNotFoundError{ID: "abc"})

	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.NotErrorIs(t, err, domain.ErrUsernameNotAvailable)
	assert.Contains(t, err.Error(), `"abc"`)

	var notFound *domain.UserNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "abc", notFound.ID)
}

func TestUsernameNotAvailableError(t *testing.T) {
	t.Parallel()

	err := errors.Join(&domain.UsernameNotAvailableError{Username: "alice"}, errors.New("constraint"))

	assert.ErrorIs(t, err, domain.ErrUsernameNotAvailable)
	assert.NotErrorIs(t, err, domain.ErrUserNotFound)

	var taken *domain.UsernameNotAvailableError
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, "alice", taken.Username)
}

func TestUser_Clone(t *testing.T) {
	t.Parallel()

	orig := &domain.User{
		ID:       "1",
		Username: "alice",
		AuthData: map[string]any{"roles": []any{"admin"}},
		UserData: map[string]any{"profile": map[string]any{"name": "Alice"}},
	}

	clone := orig.Clone()
	clone.AuthData["roles"].([]any)[0] = "guest"
	clone.UserData["profile"].(map[string]any)["name"] = "Mallory"

	assert.Equal(t, "admin", orig.AuthData["roles"].([]any)[0])
	assert.Equal(t, "Alice", orig.UserData["profile"].(map[string]any)["name"])
	assert.Nil(t, (*domain.User)(nil).Clone())
}

func TestUser_Active(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		authData map[string]any
		want     bool
	}{
		{name: "active true", authData: map[string]any{"active": true}, want: true},
		{name: "active false", authData: map[string]any{"active": false}, want: false},
		{name: "missing", authData: map[string]any{}, want: false},
		{name: "not a bool", authData: map[string]any{"active": "yes"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u := &domain.User{AuthData: tt.authData}
			assert.Equal(t, tt.want, u.Active())
		})
	}
}
