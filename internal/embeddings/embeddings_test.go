package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot // vectors are L2-normalized
}

func TestLexicalProviderSimilarity(t *testing.T) {
	p := NewLexicalProvider(0)
	defer p.Close()

	ctx := context.Background()
	vecs, err := p.EmbedDocuments(ctx, []string{
		"RAG combines retrieval and generation.",
		"RAG systems use vector search for retrieval.",
		"Bananas are a popular yellow fruit.",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], defaultLexicalDimension)

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated, "texts sharing vocabulary should score higher")
}

func TestLexicalProviderDeterministic(t *testing.T) {
	p := NewLexicalProvider(64)
	ctx := context.Background()

	a, err := p.EmbedQuery(ctx, "semantic chunking")
	require.NoError(t, err)
	b, err := p.EmbedQuery(ctx, "semantic chunking")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLexicalProviderEmptyInput(t *testing.T) {
	p := NewLexicalProvider(0)
	ctx := context.Background()

	_, err := p.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)

		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		n := 1
		if texts, ok := req.Inputs.([]any); ok {
			n = len(texts)
		}
		vectors := make([][]float32, n)
		for i := range vectors {
			vectors[i] = []float32{0.1, 0.2, 0.3}
		}
		json.NewEncoder(w).Encode(vectors)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()

	vecs, err := p.EmbedDocuments(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	vec, err := p.EmbedQuery(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	assert.Equal(t, 384, p.Dimension())
}

func TestTEIProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "query")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{})
	require.NoError(t, err)
	assert.IsType(t, &LexicalProvider{}, p)

	_, err = NewProvider(ProviderConfig{Provider: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(ProviderConfig{Provider: "tei"})
	assert.Error(t, err) // missing base URL
}
