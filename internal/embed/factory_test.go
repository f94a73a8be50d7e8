package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/shelf/internal/config"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderType
		wantErr bool
	}{
		{"ollama", ProviderOllama, false},
		{"", ProviderOllama, false},
		{" OpenAI ", ProviderOpenAI, false},
		{"static", ProviderStatic, false},
		{"mlx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProvider(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewEmbedder_Static(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Dimensions = 32

	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, 32, e.Dimensions())
	assert.Equal(t, "static-32", e.ModelName())
}

func TestNewEmbedder_OpenAIWrapsPacedAndCached(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "sk-test")
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "openai"

	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	_, ok = cached.Inner().(*PacedEmbedder)
	assert.True(t, ok)
	assert.Equal(t, "openai:text-embedding-3-small", e.ModelName())
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "mlx"
	_, err := NewEmbedder(context.Background(), cfg)
	assert.Error(t, err)
}
