package storage

import (
	"fmt"

	"github.com/google/uuid"
)

// chunkNamespace seeds ChunkID so ids are stable across processes.
var chunkNamespace = uuid.MustParse("6f1c3a52-9a0e-4d3b-8a57-2f0f6d3c9e41")

// ChunkID derives the point id for a chunk. Re-indexing the same file yields
// the same ids, so upserts overwrite rather than duplicate.
func ChunkID(repository, path string, index int) string {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s\x00%s\x00%d", repository, path, index)).String()
}
