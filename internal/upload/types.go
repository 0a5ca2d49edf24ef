package upload

import (
	"errors"
	"time"

	"textbookflow/internal/record"
)

// InitRequest starts a chunked upload. No bytes travel with it; the client
// learns the chunk size to use from the response.
type InitRequest struct {
	FileName    string
	FileSize    int64
	TotalChunks int
	Subject     string
	Grade       string
	PDFType     string
}

type InitResponse struct {
	FileID      string `json:"fileId"`
	FileSlug    string `json:"fileSlug"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int64  `json:"chunkSize"`
}

// ChunkRequest carries one chunk of a previously initialized upload.
type ChunkRequest struct {
	FileID      string
	Index       int
	TotalChunks int
	Data        []byte
}

type ChunkResponse struct {
	Success     bool `json:"success"`
	ChunkIndex  int  `json:"chunkIndex"`
	IsLastChunk bool `json:"isLastChunk"`
}

// DirectRequest carries a complete file small enough to skip chunking.
type DirectRequest struct {
	FileName    string
	ContentType string
	Subject     string
	Grade       string
	PDFType     string
	Data        []byte
}

type DirectResponse struct {
	ID         string        `json:"id"`
	FileName   string        `json:"fileName"`
	FilePath   string        `json:"filePath"`
	Subject    string        `json:"subject"`
	Grade      string        `json:"grade"`
	PDFType    string        `json:"pdfType"`
	Status     record.Status `json:"status"`
	UploadDate time.Time     `json:"uploadDate"`
	FileURL    string        `json:"fileUrl"`
}

type StatusResponse struct {
	Status   record.Status `json:"status"`
	Progress int           `json:"progress"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var (
	ErrMimeNotAllowed     = errors.New("only PDF files are allowed")
	ErrFileTooLarge       = errors.New("file exceeds direct upload limit")
	ErrChunkOutOfRange    = errors.New("chunk index out of range")
	ErrChunkCountMismatch = errors.New("total chunk count does not match upload")
)
