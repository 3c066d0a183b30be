package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenvault/screenvault/internal/config"
)

func geminiConfig() config.ProviderConfig {
	return config.ProviderConfig{
		Active:         "gemini",
		GeminiAPIKey:   "test-key",
		GeminiModel:    "gemini-2.0-flash",
		EmbeddingModel: "text-embedding-3-small",
		Dimensions:     4,
		RequestTimeout: 5 * time.Second,
	}
}

func newGeminiServer(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewGeminiProvider(geminiConfig())
	require.NoError(t, err)
	return p.WithBaseURL(srv.URL)
}

func TestGeminiSubstitutesEmbeddingModel(t *testing.T) {
	p, err := NewGeminiProvider(geminiConfig())
	require.NoError(t, err)
	// The config default names the OpenAI model; Gemini swaps in its own.
	assert.Equal(t, "text-embedding-004", p.EmbeddingModel())

	cfg := geminiConfig()
	cfg.EmbeddingModel = "gemini-embedding-001"
	p, err = NewGeminiProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "gemini-embedding-001", p.EmbeddingModel())
}

func TestGeminiAnalyze(t *testing.T) {
	p := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		content := `{"tag":"chat","description":"a messaging app","raw_text":"hola"}`
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": content}},
				}},
			},
		})
	})

	result, err := p.Analyze(context.Background(), []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "chat", result.Tag)
	assert.Equal(t, "hola", result.RawText)
	assert.Equal(t, "gemini", result.Provider)
}

func TestGeminiAnalyzeNoCandidates(t *testing.T) {
	p := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"candidates": []interface{}{}})
	})

	_, err := p.Analyze(context.Background(), []byte("png"), "image/png")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestGeminiEmbed(t *testing.T) {
	p := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/text-embedding-004:embedContent", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": []float32{0.5, 0.5, 0.5, 0.5}},
		})
	})

	embedding, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, embedding)
}

func TestGeminiRateLimited(t *testing.T) {
	p := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrRateLimited)
}
