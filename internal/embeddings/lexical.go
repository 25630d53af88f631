package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// defaultLexicalDimension is the vector size for the lexical provider.
const defaultLexicalDimension = 256

// LexicalProvider generates embeddings by feature-hashing word counts into a
// fixed-length L2-normalized vector.
//
// Two texts sharing vocabulary produce similar vectors, which is enough for
// segmentation boundary decisions and for deterministic tests. It has no
// external dependencies and never fails, making it the default provider for
// environments without a model download or a TEI endpoint.
type LexicalProvider struct {
	dimension int
}

// NewLexicalProvider creates a lexical provider. A non-positive dimension
// selects the default.
func NewLexicalProvider(dimension int) *LexicalProvider {
	if dimension <= 0 {
		dimension = defaultLexicalDimension
	}
	return &LexicalProvider{dimension: dimension}
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *LexicalProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.embed(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *LexicalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embed(text), nil
}

// Dimension returns the embedding dimension.
func (p *LexicalProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op for the lexical provider.
func (p *LexicalProvider) Close() error {
	return nil
}

func (p *LexicalProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimension)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[int(h.Sum32())%p.dimension]++
	}

	// L2 normalize so dot product equals cosine similarity.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
