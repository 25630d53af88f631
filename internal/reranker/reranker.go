// Package reranker scores query-chunk relevance with a model that is more
// precise than vector similarity, re-ordering the candidate pool from the
// first retrieval stage.
package reranker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/vectorstore"
)

// Sentinel errors for re-ranking operations.
var (
	// ErrUnavailable indicates the re-ranking backend cannot be reached.
	ErrUnavailable = errors.New("reranker unavailable")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid reranker configuration")
)

// Result is a candidate after re-ranking.
//
// Score and Similarity live on different scales and must never be compared
// or mixed: the final ordering is by Score alone. Similarity is carried
// through for observability.
type Result struct {
	Chunk vectorstore.Candidate

	// Score is the re-ranker's relevance score, higher is more relevant.
	Score float64

	// OriginalRank is the candidate's 0-indexed position before
	// re-ranking.
	OriginalRank int
}

// Reranker re-orders retrieval candidates by query relevance.
type Reranker interface {
	// Rerank scores each candidate against the raw query text and returns
	// results ordered by descending re-rank score, truncated to topK.
	// Ties keep the pre-rerank order. topK <= 0 means no truncation.
	//
	// The raw query is used here, never a generated hypothesis: the
	// hypothesis serves embedding lookup only.
	Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate, topK int) ([]Result, error)

	// Close releases resources held by the reranker.
	Close() error
}

// Provider names accepted by Config.Provider.
const (
	ProviderLexical = "lexical"
	ProviderTEI     = "tei"
)

// Config selects and configures a re-ranking backend.
type Config struct {
	// Provider is one of "lexical", "tei". Default: "lexical"
	Provider string `koanf:"provider"`

	// BaseURL is the TEI server URL, required for the tei provider.
	BaseURL string `koanf:"base_url"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLexical
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLexical:
		return nil
	case ProviderTEI:
		if c.BaseURL == "" {
			return fmt.Errorf("%w: tei provider requires base_url", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
}

// New creates the configured Reranker.
func New(cfg Config, logger *zap.Logger) (Reranker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderLexical:
		return NewLexicalReranker(), nil
	case ProviderTEI:
		return NewTEIReranker(cfg.BaseURL, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
