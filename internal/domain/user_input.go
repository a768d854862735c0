package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// ErrInexactNumber is returned when a payload number cannot be held exactly as a float64.
var ErrInexactNumber = errors.New("number not exactly representable")

var errTrailingData = errors.New("decode payload: trailing data after object")

// UserInput is validated input for creating a user.
type UserInput struct {
	Username string
	UserData map[string]any
	AuthData map[string]any
}

// ValidateUserInput checks the create arguments and normalizes the payloads.
// The username is required and taken verbatim. Payloads are normalized with NormalizeData,
// so the returned maps never share memory with the caller's.
// Returns ErrInvalidInput if the username is empty or a payload is not a JSON document.
func ValidateUserInput(username string, userData, authData map[string]any) (UserInput, error) {
	if username == "" {
		return UserInput{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	data, err := NormalizeData(userData)
	if err != nil {
		return UserInput{}, fmt.Errorf("user data: %w", err)
	}

	auth, err := NormalizeData(authData)
	if err != nil {
		return UserInput{}, fmt.Errorf("auth data: %w", err)
	}

	return UserInput{
		Username: username,
		UserData: data,
		AuthData: auth,
	}, nil
}

// NormalizeData converts a payload to the form every backend stores: nested objects become
// map[string]any, arrays []any and numbers float64. The result shares nothing with data.
// A nil map yields an empty map.
// Returns ErrInvalidInput if data cannot be encoded as JSON or holds a number
// (such as an int64 above 2^53) that float64 cannot represent exactly.
func NormalizeData(data map[string]any) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	normalized, err := DecodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return normalized, nil
}

// DecodeData parses a stored JSON object. Numbers decode to float64.
// JSON null yields an empty map.
// Returns ErrInexactNumber for a number float64 cannot represent exactly.
func DecodeData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}

	if data == nil {
		return map[string]any{}, nil
	}

	for k, v := range data {
		exact, err := exactNumbers(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}

		data[k] = exact
	}

	return data, nil
}

// exactNumbers replaces the json.Number values in v, in place, by float64.
func exactNumbers(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		return exactFloat(val)
	case map[string]any:
		for k, e := range val {
			exact, err := exactNumbers(e)
			if err != nil {
				return nil, err
			}

			val[k] = exact
		}
	case []any:
		for i, e := range val {
			exact, err := exactNumbers(e)
			if err != nil {
				return nil, err
			}

			val[i] = exact
		}
	}

	return v, nil
}

func exactFloat(n json.Number) (float64, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInexactNumber, n)
	}

	lit := n.String()
	if strings.ContainsAny(lit, ".eE") {
		return f, nil
	}

	want, ok := new(big.Int).SetString(lit, 10)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInexactNumber, lit)
	}

	if got, _ := big.NewFloat(f).Int(nil); got.Cmp(want) != 0 {
		return 0, fmt.Errorf("%w: %s", ErrInexactNumber, lit)
	}

	return f, nil
}

// CloneData deep-copies a normalized payload. Nested maps and slices are copied,
// scalar values are shared. A nil map yields an empty map.
func CloneData(data map[string]any) map[string]any {
	clone := make(map[string]any, len(data))

	for k, v := range data {
		clone[k] = cloneValue(v)
	}

	return clone
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneData(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}

		return out
	default:
		return val
	}
}
