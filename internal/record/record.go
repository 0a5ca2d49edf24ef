package record

import (
	"context"
	"errors"
	"time"
)

// Status tracks the lifecycle of one upload. StatusUploaded and StatusError
// are terminal; the store enforces that no transition leaves a terminal state.
type Status string

const (
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusError     Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusUploaded || s == StatusError
}

var (
	ErrNotFound       = errors.New("upload record not found")
	ErrNotUploading   = errors.New("upload record is not in uploading state")
	ErrDuplicateChunk = errors.New("chunk index already committed")
	ErrAlreadyExists  = errors.New("upload record already exists")
)

// UploadRecord is the durable metadata row for one user-initiated upload,
// independent of how many chunks it took.
type UploadRecord struct {
	ID          string    `json:"id" dynamodbav:"id"`
	FileName    string    `json:"fileName" dynamodbav:"file_name"`
	Slug        string    `json:"fileSlug" dynamodbav:"file_slug"`
	FilePath    string    `json:"filePath" dynamodbav:"file_path"`
	Subject     string    `json:"subject" dynamodbav:"subject"`
	Grade       string    `json:"grade" dynamodbav:"grade"`
	PDFType     string    `json:"pdfType" dynamodbav:"pdf_type"`
	FileSize    int64     `json:"fileSize" dynamodbav:"file_size"`
	TotalChunks int       `json:"totalChunks" dynamodbav:"total_chunks"`
	ChunkSize   int64     `json:"chunkSize" dynamodbav:"chunk_size"`
	Status      Status    `json:"status" dynamodbav:"status"`
	CreatedAt   time.Time `json:"uploadDate" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"-" dynamodbav:"updated_at"`
}

// Store persists upload records and owns the status state machine. Callers
// never mutate a record directly; every transition goes through SetStatus or
// CommitChunk so the terminal-state guard holds for every implementation.
type Store interface {
	Create(ctx context.Context, rec *UploadRecord) error
	Get(ctx context.Context, id string) (*UploadRecord, error)

	// CommitChunk atomically marks one chunk index as durably written and
	// returns how many distinct indices have been committed so far. It fails
	// with ErrNotUploading if the record is terminal and ErrDuplicateChunk if
	// the index was already committed.
	CommitChunk(ctx context.Context, id string, index int) (int, error)

	// ChunksCommitted reports the number of distinct committed chunk indices.
	ChunksCommitted(ctx context.Context, id string) (int, error)

	// SetStatus transitions uploading -> to. Transitions out of a terminal
	// state fail with ErrNotUploading.
	SetStatus(ctx context.Context, id string, to Status) error

	Delete(ctx context.Context, id string) error
}
