package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Local stores uploads on the local filesystem under a fixed root:
// final PDFs in <root>/pdfs, in-flight chunks in <root>/chunks.
type Local struct {
	root      string
	uploadDir string
	chunkDir  string
}

func NewLocal(root string) *Local {
	return &Local{
		root:      root,
		uploadDir: filepath.Join(root, "pdfs"),
		chunkDir:  filepath.Join(root, "chunks"),
	}
}

func (l *Local) SaveFile(ctx context.Context, data []byte, slug string) (string, error) {
	if err := os.MkdirAll(l.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	filePath := filepath.Join(l.uploadDir, slug+".pdf")
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return FinalPath(slug), nil
}

func (l *Local) SaveChunk(ctx context.Context, data []byte, slug string, index, totalChunks int) (string, error) {
	if err := os.MkdirAll(l.chunkDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create chunk directory: %w", err)
	}

	chunkPath := filepath.Join(l.chunkDir, chunkName(slug, index))
	if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save chunk %d: %w", index, err)
	}

	return chunkPath, nil
}

func (l *Local) FinalizeUpload(ctx context.Context, slug string, totalChunks int) error {
	if err := os.MkdirAll(l.uploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	target := filepath.Join(l.uploadDir, slug+".pdf")
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open final file: %w", err)
	}
	defer out.Close()

	// Assembly order comes from the index embedded in the chunk name, never
	// from directory iteration order.
	for i := 0; i < totalChunks; i++ {
		chunkPath := filepath.Join(l.chunkDir, chunkName(slug, i))

		in, err := os.Open(chunkPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s chunk %d", ErrChunkMissing, slug, i)
			}
			return fmt.Errorf("failed to open chunk %d: %w", i, err)
		}

		if _, err := io.Copy(out, in); err != nil {
			in.Close()
			return fmt.Errorf("failed to append chunk %d: %w", i, err)
		}
		in.Close()

		if err := os.Remove(chunkPath); err != nil {
			slog.Warn("failed to remove chunk after merge", "slug", slug, "index", i, "error", err)
		}
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync final file: %w", err)
	}

	return nil
}

func (l *Local) FileURL(path string) string {
	return "/" + path
}

func (l *Local) DeleteFile(ctx context.Context, path string) error {
	full := filepath.Join(l.root, strings.TrimPrefix(path, "uploads/"))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func chunkName(slug string, index int) string {
	return fmt.Sprintf("%s_%d", slug, index)
}

// FinalPath is the logical path a completed upload occupies, known before
// any bytes arrive.
func FinalPath(slug string) string {
	return "uploads/pdfs/" + slug + ".pdf"
}
