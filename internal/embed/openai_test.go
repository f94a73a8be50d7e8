package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

func TestOpenAIEmbedder_RequiresKey(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "")

	_, err := NewOpenAIEmbedder(OpenAIConfig{})

	require.Error(t, err)
	assert.Equal(t, shelferrors.CategoryConfig, shelferrors.GetCategory(err))
}

func TestOpenAIEmbedder_SendsBatchAndSortsByIndex(t *testing.T) {
	var gotAuth string
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		// Reply out of order.
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,2]},
			{"index":0,"embedding":[3,0]}
		]}`))
	}))
	defer srv.Close()

	t.Setenv(EnvOpenAIKey, "sk-test")
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1/", Model: "text-embedding-3-small", Dimensions: 2})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, []string{"first", "second"}, gotReq.Input)
	assert.Equal(t, 2, gotReq.Dimensions)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
	assert.Equal(t, "openai:text-embedding-3-small", e.ModelName())
}

func TestOpenAIEmbedder_LearnsDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2,3,4]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 0, e.Dimensions())

	_, err = e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimensions())
}

func TestOpenAIEmbedder_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", MaxRetries: 2})
	_, err := e.Embed(context.Background(), "x")

	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeEmbedderRejected))
	assert.False(t, shelferrors.IsRetryable(err))
}

func TestOpenAIEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := e.Embed(context.Background(), "x")
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeEmbedderRejected))
}
