package storage

import (
	"context"
	"errors"
)

// ErrChunkMissing is returned by FinalizeUpload when an expected chunk
// artifact cannot be read back.
var ErrChunkMissing = errors.New("chunk artifact missing")

// Backend abstracts where upload bytes live. Both implementations must
// produce byte-identical final artifacts for the same chunk sequence.
type Backend interface {
	// SaveFile persists a complete file under a name derived from slug and
	// returns the logical path used later for URL resolution and deletion.
	SaveFile(ctx context.Context, data []byte, slug string) (string, error)

	// SaveChunk persists exactly one chunk under a name derived from
	// (slug, index). It never depends on other chunks having arrived and
	// overwrites on repeated calls for the same pair.
	SaveChunk(ctx context.Context, data []byte, slug string, index, totalChunks int) (string, error)

	// FinalizeUpload concatenates chunks 0..totalChunks-1 in strict index
	// order into the path SaveFile would have produced for slug, removing
	// each chunk only after it has been incorporated. On error the caller
	// owns marking the upload failed; a partial artifact may remain but is
	// never reported as success.
	FinalizeUpload(ctx context.Context, slug string, totalChunks int) error

	// FileURL maps a stored logical path to a retrievable URL. Pure, no I/O.
	FileURL(path string) string

	// DeleteFile removes the artifact at path. Deleting an absent artifact
	// is not an error.
	DeleteFile(ctx context.Context, path string) error
}
