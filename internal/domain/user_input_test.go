package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/userstore/internal/domain"
)

func TestValidateUserInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		userData map[string]any
		authData map[string]any
		want     domain.UserInput
		wantErr  error
	}{
		{
			name:     "defaults nil payloads",
			username: "alice",
			want: domain.UserInput{
				Username: "alice",
				UserData: map[string]any{},
				AuthData: map[string]any{},
			},
		},
		{
			name:     "keeps payloads",
			username: "bob",
			userData: map[string]any{"email": "bob@example.com"},
			authData: map[string]any{"hash": "x"},
			want: domain.UserInput{
				Username: "bob",
				UserData: map[string]any{"email": "bob@example.com"},
				AuthData: map[string]any{"hash": "x"},
			},
		},
		{
			name:     "username taken verbatim",
			username: " Carol ",
			want: domain.UserInput{
				Username: " Carol ",
				UserData: map[string]any{},
				AuthData: map[string]any{},
			},
		},
		{
			name:     "normalizes typed values",
			username: "dave",
			userData: map[string]any{
				"age":   int64(42),
				"tags":  []string{"a", "b"},
				"prefs": map[string]string{"theme": "dark"},
			},
			authData: map[string]any{"max": int64(1) << 53},
			want: domain.UserInput{
				Username: "dave",
				UserData: map[string]any{
					"age":   float64(42),
					"tags":  []any{"a", "b"},
					"prefs": map[string]any{"theme": "dark"},
				},
				AuthData: map[string]any{"max": float64(1 << 53)},
			},
		},
		{
			name:    "empty username",
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:     "integer beyond float64 precision",
			username: "erin",
			userData: map[string]any{"n": int64(1)<<53 + 1},
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name:     "nested integer beyond float64 precision",
			username: "erin",
			authData: map[string]any{"ids": []any{map[string]any{"id": uint64(math.MaxUint64)}}},
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name:     "not encodable",
			username: "frank",
			userData: map[string]any{"n": math.NaN()},
			wantErr:  domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := domain.ValidateUserInput(tt.username, tt.userData, tt.authData)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, domain.ErrUserNotFound)
				assert.NotErrorIs(t, err, domain.ErrUsernameNotAvailable)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateUserInput_DoesNotAliasCallerMaps(t *testing.T) {
	t.Parallel()

	authData := map[string]any{"hash": "x"}

	in, err := domain.ValidateUserInput("alice", nil, authData)
	require.NoError(t, err)

	in.AuthData["active"] = true

	assert.NotContains(t, authData, "active")
}

func TestValidateUserInput_DoesNotAliasNestedTypedMaps(t *testing.T) {
	t.Parallel()

	prefs := map[string]string{"theme": "dark"}
	tags := []string{"a"}

	in, err := domain.ValidateUserInput("alice", map[string]any{"prefs": prefs, "tags": tags}, nil)
	require.NoError(t, err)

	prefs["theme"] = "light"
	tags[0] = "b"

	assert.Equal(t, map[string]any{"theme": "dark"}, in.UserData["prefs"])
	assert.Equal(t, []any{"a"}, in.UserData["tags"])
}

func TestDecodeData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr error
	}{
		{
			name: "numbers as float64",
			raw:  `{"i":9007199254740992,"f":1.5,"e":1e3,"nested":{"n":[-7]}}`,
			want: map[string]any{
				"i":      float64(9007199254740992),
				"f":      1.5,
				"e":      float64(1000),
				"nested": map[string]any{"n": []any{float64(-7)}},
			},
		},
		{
			name: "null",
			raw:  `null`,
			want: map[string]any{},
		},
		{
			name:    "inexact integer",
			raw:     `{"n":9007199254740993}`,
			wantErr: domain.ErrInexactNumber,
		},
		{
			name:    "out of range",
			raw:     `{"n":1e400}`,
			wantErr: domain.ErrInexactNumber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := domain.DecodeData([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeData_Malformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{``, `not json`, `[1]`, `{"a":1} {"b":2}`} {
		_, err := domain.DecodeData([]byte(raw))
		assert.Error(t, err, raw)
	}
}
