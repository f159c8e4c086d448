package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError_PassesThroughCategorized(t *testing.T) {
	m := NewDefaultErrorMapper()

	wrapped := fmt.Errorf("connect: %w", ErrUpstreamTrigger)
	got := m.MapError(wrapped)
	assert.True(t, errors.Is(got, ErrUpstreamTrigger))
}

func TestMapError_ByMessage(t *testing.T) {
	m := NewDefaultErrorMapper()

	cases := []struct {
		in   string
		want error
	}{
		{"document does not exist", ErrNotFound},
		{"401 unauthorized", ErrUnauthenticated},
		{"rate limit exceeded", ErrTransient},
		{"invalid settings payload", ErrValidation},
		{"connection refused", ErrTransient},
		{"document already exists", ErrConflict},
		{"something exploded", ErrInternal},
	}

	for _, tc := range cases {
		got := m.MapError(errors.New(tc.in))
		assert.True(t, errors.Is(got, tc.want), "%q mapped to %v", tc.in, got)
	}
}

func TestMapError_ContextCancel(t *testing.T) {
	m := NewDefaultErrorMapper()

	got := m.MapError(context.Canceled)
	require.ErrorIs(t, got, context.Canceled)
	assert.False(t, IsRetryable(got))
}

func TestBlocksWrite(t *testing.T) {
	assert.True(t, BlocksWrite(Validation("bad settings")))
	assert.True(t, BlocksWrite(UpstreamTrigger("watch registration failed")))
	assert.False(t, BlocksWrite(UpstreamFunction("categorize kickoff failed")))
	assert.False(t, BlocksWrite(nil))
}

func TestCategory(t *testing.T) {
	m := NewDefaultErrorMapper()

	assert.Equal(t, "ErrValidation", m.Category(Validation("x")))
	assert.Equal(t, "ErrUpstreamFunction", m.Category(UpstreamFunction("x")))
	assert.Equal(t, "Unknown", m.Category(errors.New("raw")))
	assert.Equal(t, "", m.Category(nil))
}
