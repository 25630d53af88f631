// Package corpus defines the document and chunk types shared across the
// indexing and retrieval pipeline.
package corpus

import "strings"

// MetadataChunkIndex is the metadata key carrying a chunk's position within
// its parent document.
const MetadataChunkIndex = "chunk_index"

// MetadataDocumentID is the metadata key carrying the owning document ID.
const MetadataDocumentID = "document_id"

// Document is a unit of ingested source text. Documents are immutable after
// ingestion; a content change is handled by re-ingesting the document, which
// replaces its chunk set wholesale.
type Document struct {
	// ID is the unique document identifier.
	ID string

	// Text is the raw document text.
	Text string

	// Metadata maps structured attribute names to scalar values
	// (version, language, content-type, access-level, ...).
	Metadata map[string]any
}

// Chunk is a contiguous, semantically coherent span of a document's text.
// It is the unit of retrieval. Chunks are created at indexing time and
// replaced, never mutated, on re-indexing.
type Chunk struct {
	// ID is the unique chunk identifier.
	ID string

	// DocumentID references the owning document.
	DocumentID string

	// Index is the chunk's position within the document (0-based).
	Index int

	// Sentences holds the chunk's sentences in source order.
	// Invariant: non-empty, contiguous in the original document.
	Sentences []string

	// CharCount is the length of the joined chunk text.
	CharCount int

	// SentenceCount is len(Sentences).
	SentenceCount int

	// Metadata is the parent document's metadata plus chunk-specific
	// fields (chunk_index, document_id).
	Metadata map[string]any
}

// Text returns the chunk's sentences joined into a single span.
func (c Chunk) Text() string {
	return strings.Join(c.Sentences, " ")
}

// InheritMetadata builds chunk metadata from the parent document's metadata
// plus the chunk-specific fields.
func InheritMetadata(doc Document, chunkIndex int) map[string]any {
	md := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		md[k] = v
	}
	md[MetadataChunkIndex] = chunkIndex
	md[MetadataDocumentID] = doc.ID
	return md
}

// IDSet is a set of chunk identifiers. A nil IDSet means "unrestricted";
// an empty non-nil IDSet means "no chunks".
type IDSet map[string]struct{}

// NewIDSet builds an IDSet from the given identifiers.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Len returns the number of identifiers in the set.
func (s IDSet) Len() int {
	return len(s)
}
