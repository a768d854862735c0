package context_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	context_ "github.com/mkrupp/userstore/internal/infra/context"
)

func TestTraceID(t *testing.T) {
	t.Parallel()

	_, ok := context_.TraceIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := context_.WithTraceID(context.Background(), "abc")
	id, ok := context_.TraceIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	a, _ := context_.TraceIDFromContext(context_.WithNewTraceID(context.Background()))
	b, _ := context_.TraceIDFromContext(context_.WithNewTraceID(context.Background()))
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
