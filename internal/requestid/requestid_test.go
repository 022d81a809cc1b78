package requestid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesID(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_GeneratesWhenMissing(t *testing.T) {
	first := FromContext(context.Background())
	second := FromContext(context.Background())
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", FromContext(ctx))
}
