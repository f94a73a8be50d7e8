package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"topic not found", shelferrors.New(shelferrors.ErrCodeTopicNotFound, "x", nil), ErrCodeNotFound},
		{"book not found", shelferrors.New(shelferrors.ErrCodeBookNotFound, "x", nil), ErrCodeNotFound},
		{"model mismatch", shelferrors.New(shelferrors.ErrCodeModelMismatch, "x", nil), ErrCodeModelMismatch},
		{"no index", shelferrors.New(shelferrors.ErrCodeFileNotFound, "x", nil), ErrCodeIndexNotFound},
		{"corrupt index", shelferrors.New(shelferrors.ErrCodeIndexCorrupt, "x", nil), ErrCodeIndexNotFound},
		{"nothing indexed", shelferrors.New(shelferrors.ErrCodeNoIndexedTopic, "x", nil), ErrCodeIndexNotFound},
		{"provider down", shelferrors.New(shelferrors.ErrCodeEmbedderUnavailable, "x", nil), ErrCodeEmbeddingFailed},
		{"embedding failed", shelferrors.New(shelferrors.ErrCodeEmbeddingFailed, "x", nil), ErrCodeEmbeddingFailed},
		{"empty query", shelferrors.New(shelferrors.ErrCodeInvalidQuery, "x", nil), ErrCodeInvalidParams},
		{"config", shelferrors.ConfigError("x", nil), ErrCodeInternalError},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), ErrCodeTimeout},
		{"plain", errors.New("boom"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapError(tt.err).Code)
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_CarriesShelfContext(t *testing.T) {
	// Given: a wrapped shelf error with detail and suggestion
	inner := shelferrors.Newf(shelferrors.ErrCodeModelMismatch, "topic history was indexed with static-32").
		WithDetail("topic", "history").
		WithSuggestion("run 'shelf index --full --topic history'")
	err := fmt.Errorf("query failed: %w", inner)

	// When: mapping
	mcpErr := MapError(err)

	// Then: message, code, detail and suggestion survive
	require.NotNil(t, mcpErr)
	assert.Equal(t, "topic history was indexed with static-32", mcpErr.Message)
	assert.Equal(t, shelferrors.ErrCodeModelMismatch, mcpErr.Data["error_code"])
	assert.Equal(t, "history", mcpErr.Data["topic"])
	assert.Equal(t, "run 'shelf index --full --topic history'", mcpErr.Data["suggestion"])
}

func TestMapError_PassesMCPErrorThrough(t *testing.T) {
	original := NewInvalidParamsError("k must be a number")
	assert.Same(t, original, MapError(fmt.Errorf("wrapped: %w", original)))
}

func TestMCPError_Error(t *testing.T) {
	err := &MCPError{Code: ErrCodeNotFound, Message: "Resource 'x' not found."}
	assert.Equal(t, "MCP error -32004: Resource 'x' not found.", err.Error())
}
