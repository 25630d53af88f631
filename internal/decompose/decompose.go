// Package decompose splits compound queries into focused sub-queries.
//
// "Compare asyncio vs threading for performance" is really three questions
// wearing one trench coat; retrieving for the compound form dilutes every
// aspect. Decomposition retrieves per aspect and lets the pipeline merge.
//
// The rest of the pipeline is decomposition-agnostic: Decompose always
// returns a list of one-or-more sub-queries, so a simple query flows through
// the same code path as a decomposed one.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/genai"
)

// ErrEmptyQuery indicates an empty query text.
var ErrEmptyQuery = errors.New("decompose: empty query text")

// maxSubQueries caps how many sub-questions a decomposition may produce.
const maxSubQueries = 5

// decomposePrompt asks the model for focused sub-questions, one per line.
const decomposePrompt = `Break the following compound question into 2 to %d focused, independent sub-questions. Each sub-question must be answerable on its own. Reply with one sub-question per line and nothing else.

Question: %s

Sub-questions:`

// SubQuery is a query derived from decomposition, tagged with its position
// in the decomposition so result aggregation can attribute provenance.
type SubQuery struct {
	Text       string
	Provenance int
}

// Decomposer splits compound queries using a generative model.
type Decomposer struct {
	llm    genai.Generator
	logger *zap.Logger
}

// NewDecomposer creates a Decomposer.
func NewDecomposer(llm genai.Generator, logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{llm: llm, logger: logger}
}

// Decompose returns the query's sub-queries.
//
// If the compound-query heuristic does not fire, the query is returned
// unchanged as a single SubQuery. If it fires but the model fails, the single
// SubQuery is returned together with the error so the caller can record the
// degradation. If the model returns fewer than two usable sub-questions, the
// result is treated as "no decomposition", never a partial one.
func (d *Decomposer) Decompose(ctx context.Context, query string) ([]SubQuery, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	single := []SubQuery{{Text: query, Provenance: 0}}
	if !ShouldDecompose(query) {
		return single, nil
	}

	out, err := d.llm.Generate(ctx, fmt.Sprintf(decomposePrompt, maxSubQueries, query))
	if err != nil {
		return single, fmt.Errorf("decomposing query: %w", err)
	}

	subs := parseSubQuestions(out)
	if len(subs) < 2 {
		d.logger.Debug("decomposition returned fewer than 2 sub-questions, using original query",
			zap.String("query", query),
			zap.Int("parsed", len(subs)),
		)
		return single, nil
	}
	if len(subs) > maxSubQueries {
		subs = subs[:maxSubQueries]
	}

	result := make([]SubQuery, len(subs))
	for i, text := range subs {
		result[i] = SubQuery{Text: text, Provenance: i}
	}

	d.logger.Debug("decomposed query",
		zap.String("query", query),
		zap.Int("sub_queries", len(result)),
	)
	return result, nil
}

// interrogatives open English questions; two or more of them in one query is
// a strong compound signal.
var interrogatives = []string{"what", "how", "why", "when", "where", "which", "who"}

// comparisonMarkers signal a query comparing two or more subjects.
var comparisonMarkers = []string{" vs ", " vs. ", " versus ", "compare ", "difference between", "differences between", "pros and cons", "trade-off", "tradeoff"}

// ShouldDecompose reports whether the query looks compound: comparison
// language, multiple interrogatives, or a benefits/drawbacks pairing.
func ShouldDecompose(query string) bool {
	q := strings.ToLower(query)

	for _, marker := range comparisonMarkers {
		if strings.Contains(q, marker) {
			return true
		}
	}

	if strings.Count(q, "?") > 1 {
		return true
	}

	count := 0
	for _, w := range strings.FieldsFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		for _, interrogative := range interrogatives {
			if w == interrogative {
				count++
				break
			}
		}
	}
	if count >= 2 {
		return true
	}

	gains := strings.Contains(q, "benefit") || strings.Contains(q, "advantage")
	costs := strings.Contains(q, "drawback") || strings.Contains(q, "disadvantage") || strings.Contains(q, "limitation")
	return gains && costs
}

// parseSubQuestions extracts sub-questions from a model completion: one per
// line, tolerant of numbering and bullets.
func parseSubQuestions(out string) []string {
	var subs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789.)-* \t")
		if line == "" {
			continue
		}
		subs = append(subs, line)
	}
	return subs
}
