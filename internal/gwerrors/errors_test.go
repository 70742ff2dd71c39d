package gwerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKind(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(ToolTimeout, "tool did not respond", base)

	assert.True(t, IsKind(wrapped, ToolTimeout))
	assert.False(t, IsKind(wrapped, ToolUnavailable))
	assert.ErrorIs(t, wrapped, base)
}

func TestGatewayErrorIs(t *testing.T) {
	a := New(BackendUnavailable, "down")
	b := New(BackendUnavailable, "still down")
	c := New(BackendBadRequest, "nope")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWithStatusOverridesDefault(t *testing.T) {
	err := New(BackendBadRequest, "bad params").WithStatus(422)
	require.Equal(t, 422, err.Status)
}

func TestPayloadShape(t *testing.T) {
	err := New(MalformedRequest, "missing model field")
	payload := err.Payload()
	assert.Equal(t, "missing model field", payload.Error.Message)
	assert.Equal(t, string(MalformedRequest), payload.Error.Type)
}
