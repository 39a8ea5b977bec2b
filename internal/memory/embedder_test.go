package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/agentkit/internal/llm"
)

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(64)
	vectors, err := e.Embed(context.Background(), []string{
		"The cat sat on the mat",
		"the CAT sat on the mat!",
		"Stock markets fell sharply today",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 4)
	for _, v := range vectors {
		assert.Len(t, v, 64)
	}

	assert.Equal(t, vectors[0], vectors[1], "case and punctuation are ignored")

	same, ok := CosineDistance(vectors[0], vectors[1])
	require.True(t, ok)
	far, ok := CosineDistance(vectors[0], vectors[2])
	require.True(t, ok)
	assert.InDelta(t, 0, same, 1e-9)
	assert.Greater(t, far, same)

	_, ok = CosineDistance(vectors[0], vectors[3])
	assert.False(t, ok, "empty text embeds to the zero vector")
}

func TestHashEmbedder_DefaultDimensions(t *testing.T) {
	vectors, err := NewHashEmbedder(0).Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Len(t, vectors[0], DefaultHashDimensions)
}

func embeddingServer(t *testing.T, wantModel string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, wantModel, req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)

		w.Header().Set("Content-Type", "application/json")
		// out of order on purpose
		w.Write([]byte(`{"object":"list","model":"m","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
}

func TestOpenAIEmbedder(t *testing.T) {
	server := embeddingServer(t, "text-embedding-3-small")
	defer server.Close()

	client := openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	vectors, err := NewOpenAIEmbedder(client, "").Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vectors)
}

func TestCompatEmbedder(t *testing.T) {
	server := embeddingServer(t, "nomic-embed-text")
	defer server.Close()

	client, err := llm.NewClient(&llm.Config{
		APIKey:    "test-key",
		APIURL:    server.URL,
		Model:     "chat",
		MaxTokens: 10,
		Timeout:   5,
	})
	require.NoError(t, err)

	vectors, err := NewCompatEmbedder(client, "nomic-embed-text").Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vectors)
}
