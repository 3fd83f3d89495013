package storage

import "time"

// Chunk is one embedded section of a repository file.
type Chunk struct {
	ID         string    // deterministic UUID, see ChunkID
	Repository string    // repository slug, the namespace key
	Path       string    // path relative to the repository root
	ChunkIndex int       // position in file (0, 1, 2...)
	HeaderPath string    // "# Title > ## Section" for markdown, "L10-L42" for code
	StartLine  int       // first source line, 1-based
	EndLine    int       // last source line, inclusive
	Content    string    // text that was embedded
	CommitSHA  string    // commit the repository was indexed at
	SourceURL  string    // remote the repository was cloned from
	BuildID    string    // build that wrote this chunk, see DeleteStale
	IndexedAt  time.Time // when this version was indexed
	Embedding  []float32 // not populated on search results
}

// ScoredChunk is a search hit with its cosine similarity.
type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// DefaultCollectionName is the single Qdrant collection shared by every repository.
const DefaultCollectionName = "repo-runner"

// DefaultVectorDimension is the embedding size for text-embedding-3-small.
const DefaultVectorDimension = 1536

// vectorName is the named vector holding chunk embeddings.
const vectorName = "content"
