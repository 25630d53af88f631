// Package hyde implements hypothetical document embeddings (HyDE).
//
// Users ask questions; documents make statements. The two live in different
// regions of embedding space, so embedding the raw question retrieves FAQ-ish
// meta content instead of the documentation that answers it. HyDE bridges the
// gap by generating a declarative hypothesis for the question and embedding
// that instead. The hypothesis does not have to be factually correct; it only
// has to use document vocabulary.
package hyde

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/genai"
)

// ErrEmptyQuery indicates an empty query text.
var ErrEmptyQuery = errors.New("hyde: empty query text")

// hypothesisPrompt asks for a short documentation-register passage. The
// answer's correctness is irrelevant; its vocabulary is the point.
const hypothesisPrompt = `Write a short passage (2-4 sentences) that directly answers the question below, written in the declarative style of technical documentation. State the answer as fact without hedging.

Question: %s

Passage:`

// Generator produces a hypothesis for a question-form query.
type Generator struct {
	llm    genai.Generator
	logger *zap.Logger
}

// NewGenerator creates a hypothesis generator.
func NewGenerator(llm genai.Generator, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{llm: llm, logger: logger}
}

// Generate returns a declarative hypothesis for the query.
//
// On generation failure the caller must fall back to embedding the original
// query text directly; retrieval still has to return something.
func (g *Generator) Generate(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}

	hypothesis, err := g.llm.Generate(ctx, fmt.Sprintf(hypothesisPrompt, query))
	if err != nil {
		return "", fmt.Errorf("generating hypothesis: %w", err)
	}

	g.logger.Debug("generated hypothesis",
		zap.String("query", query),
		zap.Int("hypothesis_chars", len(hypothesis)),
	)
	return hypothesis, nil
}
