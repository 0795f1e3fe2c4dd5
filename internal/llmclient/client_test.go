package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePostsPromptAndReturnsContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Equal(t, "summarize this", req.Messages[0].Content)

		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "a summary"}}},
		})
	}))
	defer server.Close()

	c := New("test-key", server.URL)
	out, err := c.Generate(context.Background(), "gpt-test", "summarize this")
	require.NoError(t, err)
	assert.Equal(t, "a summary", out)
}

func TestEmbedManyPreservesInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(embeddingResponse{
			Data: []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{
				{Index: 1, Embedding: []float32{0.2}},
				{Index: 0, Embedding: []float32{0.1}},
			},
		})
	}))
	defer server.Close()

	c := New("test-key", server.URL)
	vecs, err := c.EmbedMany(context.Background(), "embed-test", []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1}, vecs[0])
	assert.Equal(t, []float32{0.2}, vecs[1])
}

func TestDoWithRetryRetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "ok"}}},
		})
	}))
	defer server.Close()

	c := New("test-key", server.URL)
	c.retryConfig.InitialDelay = 0
	out, err := c.Generate(context.Background(), "gpt-test", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, attempts)
}

func TestGenerateReturnsErrorOnClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	c := New("test-key", server.URL)
	_, err := c.Generate(context.Background(), "gpt-test", "hi")
	assert.Error(t, err)
}
