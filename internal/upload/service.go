package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"textbookflow/internal/config"
	"textbookflow/internal/notify"
	"textbookflow/internal/record"
	"textbookflow/internal/storage"
)

// Service is the protocol state machine in front of the storage backend. It
// holds no durable state of its own; the record's status field is the state
// that survives between the independent HTTP requests of one upload. The
// only in-process state is a per-upload mutex serializing chunk handling so
// two requests for the same upload can never interleave.
type Service struct {
	backend  storage.Backend
	store    record.Store
	notifier notify.Notifier
	cfg      *config.UploadConfig

	locks sync.Map // upload id -> *sync.Mutex
}

func NewService(backend storage.Backend, store record.Store, notifier notify.Notifier, cfg *config.UploadConfig) *Service {
	return &Service{
		backend:  backend,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
	}
}

// InitChunked creates the upload record in uploading status. The storage
// backend is untouched until the first chunk arrives.
func (s *Service) InitChunked(ctx context.Context, req InitRequest) (*record.UploadRecord, error) {
	if req.TotalChunks < 1 {
		return nil, fmt.Errorf("%w: totalChunks must be at least 1", ErrChunkCountMismatch)
	}

	now := time.Now().UTC()
	slug := NewSlug(req.FileName, now)

	rec := &record.UploadRecord{
		ID:          uuid.NewString(),
		FileName:    req.FileName,
		Slug:        slug,
		FilePath:    storage.FinalPath(slug),
		Subject:     req.Subject,
		Grade:       req.Grade,
		PDFType:     req.PDFType,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
		ChunkSize:   s.cfg.ChunkSizeBytes(),
		Status:      record.StatusUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}

	slog.Info("chunked upload initialized", "file_id", rec.ID, "slug", slug, "total_chunks", req.TotalChunks)
	return rec, nil
}

// SaveChunk persists one chunk and, once every index has been committed,
// finalizes the upload. Completion is detected from the committed-index
// count, not from which index arrived last, so arrival order cannot fake an
// early finish.
func (s *Service) SaveChunk(ctx context.Context, req ChunkRequest) (*ChunkResponse, error) {
	unlock := s.lock(req.FileID)
	defer unlock()

	rec, err := s.store.Get(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	if rec.Status != record.StatusUploading {
		return nil, record.ErrNotUploading
	}
	if req.TotalChunks != rec.TotalChunks {
		return nil, fmt.Errorf("%w: got %d, upload has %d", ErrChunkCountMismatch, req.TotalChunks, rec.TotalChunks)
	}
	if req.Index < 0 || req.Index >= rec.TotalChunks {
		return nil, fmt.Errorf("%w: index %d, totalChunks %d", ErrChunkOutOfRange, req.Index, rec.TotalChunks)
	}

	committed, err := s.store.CommitChunk(ctx, req.FileID, req.Index)
	if err != nil {
		return nil, err
	}

	if _, err := s.backend.SaveChunk(ctx, req.Data, rec.Slug, req.Index, rec.TotalChunks); err != nil {
		s.markError(ctx, req.FileID)
		return nil, fmt.Errorf("failed to save chunk %d: %w", req.Index, err)
	}

	last := committed == rec.TotalChunks
	if last {
		if err := s.backend.FinalizeUpload(ctx, rec.Slug, rec.TotalChunks); err != nil {
			s.markError(ctx, req.FileID)
			return nil, fmt.Errorf("failed to finalize upload: %w", err)
		}

		if err := s.store.SetStatus(ctx, req.FileID, record.StatusUploaded); err != nil {
			return nil, fmt.Errorf("failed to mark upload complete: %w", err)
		}

		s.handoff(ctx, rec)
		slog.Info("upload finalized", "file_id", rec.ID, "slug", rec.Slug, "path", rec.FilePath)
	}

	return &ChunkResponse{
		Success:     true,
		ChunkIndex:  req.Index,
		IsLastChunk: last,
	}, nil
}

// DirectUpload stores an already-whole file and creates its record directly
// in uploaded status; no intermediate state is needed when every byte is
// present.
func (s *Service) DirectUpload(ctx context.Context, req DirectRequest) (*record.UploadRecord, error) {
	if !s.cfg.MimeAllowed(req.ContentType) {
		return nil, ErrMimeNotAllowed
	}
	if int64(len(req.Data)) > s.cfg.DirectMaxBytes() {
		return nil, ErrFileTooLarge
	}

	now := time.Now().UTC()
	slug := NewSlug(req.FileName, now)

	path, err := s.backend.SaveFile(ctx, req.Data, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	rec := &record.UploadRecord{
		ID:        uuid.NewString(),
		FileName:  req.FileName,
		Slug:      slug,
		FilePath:  path,
		Subject:   req.Subject,
		Grade:     req.Grade,
		PDFType:   req.PDFType,
		FileSize:  int64(len(req.Data)),
		Status:    record.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}

	s.handoff(ctx, rec)
	slog.Info("direct upload complete", "file_id", rec.ID, "slug", slug, "size", rec.FileSize)
	return rec, nil
}

// Status reports the record status plus percent progress from the committed
// chunk count.
func (s *Service) Status(ctx context.Context, id string) (*StatusResponse, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	progress := 0
	switch {
	case rec.Status == record.StatusUploaded:
		progress = 100
	case rec.TotalChunks > 0:
		committed, err := s.store.ChunksCommitted(ctx, id)
		if err != nil {
			return nil, err
		}
		progress = committed * 100 / rec.TotalChunks
	}

	return &StatusResponse{Status: rec.Status, Progress: progress}, nil
}

// Delete removes the record and, best-effort, the stored artifact. Losing a
// stale blob is preferable to blocking a user-visible deletion, so artifact
// cleanup failure is only logged.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.backend.DeleteFile(ctx, rec.FilePath); err != nil {
		slog.Warn("failed to delete stored file", "file_id", id, "path", rec.FilePath, "error", err)
	}

	return nil
}

// FileURL resolves the public URL for a stored path.
func (s *Service) FileURL(path string) string {
	return s.backend.FileURL(path)
}

// markError moves the record to its terminal error state. No code path may
// leave a failed upload stuck in uploading, so a failure here is loud.
func (s *Service) markError(ctx context.Context, id string) {
	if err := s.store.SetStatus(ctx, id, record.StatusError); err != nil {
		slog.Error("failed to mark upload as errored", "file_id", id, "error", err)
	}
}

func (s *Service) handoff(ctx context.Context, rec *record.UploadRecord) {
	job := notify.ExtractJob{
		FileID:      rec.ID,
		Slug:        rec.Slug,
		FilePath:    rec.FilePath,
		FileName:    rec.FileName,
		Subject:     rec.Subject,
		Grade:       rec.Grade,
		PDFType:     rec.PDFType,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, job); err != nil {
		slog.Warn("failed to hand off upload to worker", "file_id", rec.ID, "error", err)
	}
}

func (s *Service) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
