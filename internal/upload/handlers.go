package upload

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"textbookflow/internal/config"
	"textbookflow/internal/record"
)

type Handler struct {
	service *Service
	cfg     *config.UploadConfig
}

func NewHandler(service *Service, cfg *config.UploadConfig) *Handler {
	return &Handler{
		service: service,
		cfg:     cfg,
	}
}

// HandleUpload handles POST /api/upload/pdf. One endpoint serves all three
// request shapes; which one arrived is decided by the fields present:
//
//	isChunked set, no chunkIndex/fileId  -> chunked-init
//	chunkIndex and fileId set            -> chunk
//	otherwise                            -> direct upload
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := r.ParseMultipartForm(h.cfg.MaxFormMemoryMB * 1024 * 1024); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	isChunked := r.FormValue("isChunked") == "true"
	chunkIndex := r.FormValue("chunkIndex")
	fileID := r.FormValue("fileId")

	switch {
	case isChunked && chunkIndex == "" && fileID == "":
		h.handleInit(w, r)
	case chunkIndex != "" && fileID != "":
		h.handleChunk(w, r, chunkIndex, fileID)
	default:
		h.handleDirect(w, r)
	}
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	fileName := r.FormValue("fileName")
	fileSize := r.FormValue("fileSize")
	totalChunks := r.FormValue("totalChunks")
	subject := r.FormValue("subject")
	grade := r.FormValue("grade")
	pdfType := r.FormValue("pdfType")

	if subject == "" || grade == "" || pdfType == "" || fileName == "" || fileSize == "" || totalChunks == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required fields for chunked upload initialization")
		return
	}

	size, err := strconv.ParseInt(fileSize, 10, 64)
	if err != nil || size <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid file size")
		return
	}
	chunks, err := strconv.Atoi(totalChunks)
	if err != nil || chunks < 1 {
		h.writeError(w, http.StatusBadRequest, "Invalid total chunk count")
		return
	}

	rec, err := h.service.InitChunked(r.Context(), InitRequest{
		FileName:    fileName,
		FileSize:    size,
		TotalChunks: chunks,
		Subject:     subject,
		Grade:       grade,
		PDFType:     pdfType,
	})
	if err != nil {
		slog.Error("chunked upload init failed", "file_name", fileName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to initialize chunked upload")
		return
	}

	h.writeJSON(w, http.StatusOK, InitResponse{
		FileID:      rec.ID,
		FileSlug:    rec.Slug,
		TotalChunks: rec.TotalChunks,
		ChunkSize:   rec.ChunkSize,
	})
}

func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request, chunkIndex, fileID string) {
	totalChunks := r.FormValue("totalChunks")
	chunk, _, err := r.FormFile("chunk")
	if err != nil || totalChunks == "" {
		h.writeError(w, http.StatusBadRequest, "Missing chunk information")
		return
	}
	defer chunk.Close()

	index, idxErr := strconv.Atoi(chunkIndex)
	chunks, totalErr := strconv.Atoi(totalChunks)
	if idxErr != nil || totalErr != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid chunk information")
		return
	}

	data, err := io.ReadAll(chunk)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read chunk data")
		return
	}

	resp, err := h.service.SaveChunk(r.Context(), ChunkRequest{
		FileID:      fileID,
		Index:       index,
		TotalChunks: chunks,
		Data:        data,
	})
	if err != nil {
		switch {
		case errors.Is(err, record.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "File not found")
		case errors.Is(err, record.ErrNotUploading):
			h.writeError(w, http.StatusBadRequest, "File is not in uploading state")
		case errors.Is(err, record.ErrDuplicateChunk):
			h.writeError(w, http.StatusBadRequest, "Chunk already uploaded")
		case errors.Is(err, ErrChunkOutOfRange), errors.Is(err, ErrChunkCountMismatch):
			h.writeError(w, http.StatusBadRequest, "Invalid chunk information")
		default:
			slog.Error("chunk processing failed", "file_id", fileID, "chunk_index", index, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Failed to process chunk")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDirect(w http.ResponseWriter, r *http.Request) {
	subject := r.FormValue("subject")
	grade := r.FormValue("grade")
	pdfType := r.FormValue("pdfType")

	file, header, err := r.FormFile("file")
	if err != nil || subject == "" || grade == "" || pdfType == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read file data")
		return
	}

	rec, err := h.service.DirectUpload(r.Context(), DirectRequest{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Subject:     subject,
		Grade:       grade,
		PDFType:     pdfType,
		Data:        data,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrMimeNotAllowed):
			h.writeError(w, http.StatusBadRequest, "Only PDF files are allowed")
		case errors.Is(err, ErrFileTooLarge):
			h.writeError(w, http.StatusBadRequest, "File too large for direct upload")
		default:
			slog.Error("direct upload failed", "file_name", header.Filename, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Failed to process PDF upload")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, DirectResponse{
		ID:         rec.ID,
		FileName:   rec.FileName,
		FilePath:   rec.FilePath,
		Subject:    rec.Subject,
		Grade:      rec.Grade,
		PDFType:    rec.PDFType,
		Status:     rec.Status,
		UploadDate: rec.CreatedAt,
		FileURL:    h.service.FileURL(rec.FilePath),
	})
}

// HandleStatus handles GET /api/upload/pdf/{id}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp, err := h.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("status lookup failed", "file_id", r.PathValue("id"), "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to look up upload status")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleDelete handles DELETE /api/upload/pdf/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, record.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("upload delete failed", "file_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to delete upload")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}
