// Package segment splits raw document text into semantically coherent
// sentence groups.
//
// The boundary decision is local: each sentence is compared to the previous
// sentence, not to a chunk centroid. Topics can shift mid-paragraph in
// technical content, and the local comparison catches that without dragging
// a long chunk's average along.
package segment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/embeddings"
)

var (
	// ErrEmptyInput indicates an empty or whitespace-only document.
	ErrEmptyInput = errors.New("segment: empty document text")

	// ErrInvalidThreshold indicates a similarity threshold outside [0,1].
	ErrInvalidThreshold = errors.New("segment: similarity threshold must be in [0,1]")
)

// Segmenter groups sentences into chunks using embedding similarity.
type Segmenter struct {
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewSegmenter creates a Segmenter backed by the given embedder.
func NewSegmenter(embedder embeddings.Embedder, logger *zap.Logger) *Segmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Segmenter{embedder: embedder, logger: logger}
}

// Segment splits text into ordered sentence groups. Adjacent sentences whose
// similarity is at or above threshold stay in the same group; a drop below
// threshold closes the group and opens a new one.
//
// Threshold 0 merges the whole document into one group; threshold 1 splits at
// (nearly) every boundary. A non-empty document always yields at least one
// group, and the concatenation of all groups reproduces the sentence sequence
// exactly.
//
// If embedding fails for a sentence, the affected boundaries fail open as
// topic shifts: smaller chunks are preferred over silently losing a sentence.
// The degradation is logged, never returned as an error.
func (s *Segmenter) Segment(ctx context.Context, text string, threshold float64) ([][]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, ErrEmptyInput
	}
	if len(sentences) == 1 {
		return [][]string{sentences}, nil
	}

	vectors := s.embedSentences(ctx, sentences)

	groups := [][]string{}
	current := []string{sentences[0]}
	for i := 1; i < len(sentences); i++ {
		if sameTopic(vectors[i-1], vectors[i], threshold) {
			current = append(current, sentences[i])
			continue
		}
		groups = append(groups, current)
		current = []string{sentences[i]}
	}
	groups = append(groups, current)

	return groups, nil
}

// embedSentences embeds all sentences, batch first. On batch failure it
// retries sentence by sentence; a sentence that still fails gets a nil vector,
// which forces boundaries around it.
func (s *Segmenter) embedSentences(ctx context.Context, sentences []string) [][]float32 {
	vectors, err := s.embedder.EmbedDocuments(ctx, sentences)
	if err == nil && len(vectors) == len(sentences) {
		return vectors
	}
	if err != nil {
		s.logger.Warn("batch sentence embedding failed, retrying per sentence", zap.Error(err))
	}

	vectors = make([][]float32, len(sentences))
	for i, sentence := range sentences {
		vecs, err := s.embedder.EmbedDocuments(ctx, []string{sentence})
		if err != nil || len(vecs) == 0 {
			s.logger.Warn("sentence embedding failed, forcing chunk boundary",
				zap.Int("sentence", i),
				zap.Error(err),
			)
			continue
		}
		vectors[i] = vecs[0]
	}
	return vectors
}

// sameTopic reports whether two sentence vectors are similar enough to stay
// in one chunk. A missing vector always splits. Cosine similarity below zero
// is clamped to zero so the threshold keeps its 0..1 range: anti-correlated
// neighbors split at any positive threshold and merge at threshold 0.
func sameTopic(prev, cur []float32, threshold float64) bool {
	if prev == nil || cur == nil {
		return false
	}
	sim := Cosine(prev, cur)
	if sim < 0 {
		sim = 0
	}
	return sim >= threshold
}

// Cosine computes cosine similarity between two vectors. Returns 0 for
// mismatched lengths or zero vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
