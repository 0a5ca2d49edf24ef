package upload

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textbookflow/internal/config"
	"textbookflow/internal/notify"
	"textbookflow/internal/record"
	"textbookflow/internal/storage"
)

func newTestMux(t *testing.T) (*http.ServeMux, *record.MemoryStore) {
	t.Helper()

	store := record.NewMemoryStore()
	cfg := config.DefaultUploadConfig()
	svc := NewService(storage.NewLocal(t.TempDir()), store, notify.Nop{}, cfg)
	handler := NewHandler(svc, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload/pdf", handler.HandleUpload)
	mux.HandleFunc("/api/upload/pdf/{id}/status", handler.HandleStatus)
	mux.HandleFunc("/api/upload/pdf/{id}", handler.HandleDelete)
	return mux, store
}

type formFile struct {
	field       string
	name        string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, fields map[string]string, file *formFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+file.field+`"; filename="`+file.name+`"`)
		h.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/pdf", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func TestHandleUpload_MethodNotAllowed(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/upload/pdf", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleUpload_InitValidation(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{
			name:   "missing file name",
			fields: map[string]string{"isChunked": "true", "fileSize": "100", "totalChunks": "2", "subject": "History", "grade": "9", "pdfType": "normal"},
		},
		{
			name:   "missing metadata",
			fields: map[string]string{"isChunked": "true", "fileName": "a.pdf", "fileSize": "100", "totalChunks": "2"},
		},
		{
			name:   "bad total chunks",
			fields: map[string]string{"isChunked": "true", "fileName": "a.pdf", "fileSize": "100", "totalChunks": "zero", "subject": "History", "grade": "9", "pdfType": "normal"},
		},
		{
			name:   "bad file size",
			fields: map[string]string{"isChunked": "true", "fileName": "a.pdf", "fileSize": "-5", "totalChunks": "2", "subject": "History", "grade": "9", "pdfType": "normal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newTestMux(t)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, multipartRequest(t, tt.fields, nil))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rr).Error)
		})
	}
}

func TestHandleUpload_InitSuccess(t *testing.T) {
	mux, store := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"isChunked": "true", "fileName": "My Biology Book.pdf", "fileSize": "10485760",
		"totalChunks": "2", "subject": "Biology", "grade": "10", "pdfType": "normal",
	}, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[InitResponse](t, rr)
	assert.NotEmpty(t, resp.FileID)
	assert.Contains(t, resp.FileSlug, "my-biology-book-pdf-")
	assert.Equal(t, 2, resp.TotalChunks)
	assert.Equal(t, int64(5*1024*1024), resp.ChunkSize)

	rec, err := store.Get(t.Context(), resp.FileID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusUploading, rec.Status)
}

func TestHandleUpload_ChunkFlow(t *testing.T) {
	mux, store := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"isChunked": "true", "fileName": "physics.pdf", "fileSize": "15",
		"totalChunks": "3", "subject": "Physics", "grade": "11", "pdfType": "normal",
	}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	init := decode[InitResponse](t, rr)

	chunks := []string{"first", "second", "third"}
	for i, c := range chunks {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
			"chunkIndex": strconv.Itoa(i), "totalChunks": "3", "fileId": init.FileID,
		}, &formFile{field: "chunk", name: "blob", contentType: "application/octet-stream", data: []byte(c)}))

		require.Equal(t, http.StatusOK, rr.Code, "chunk %d", i)
		resp := decode[ChunkResponse](t, rr)
		assert.True(t, resp.Success)
		assert.Equal(t, i, resp.ChunkIndex)
		assert.Equal(t, i == len(chunks)-1, resp.IsLastChunk)
	}

	rec, err := store.Get(t.Context(), init.FileID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusUploaded, rec.Status)
}

func TestHandleUpload_ChunkErrors(t *testing.T) {
	mux, store := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"isChunked": "true", "fileName": "err.pdf", "fileSize": "10",
		"totalChunks": "2", "subject": "Math", "grade": "8", "pdfType": "normal",
	}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	init := decode[InitResponse](t, rr)

	chunkFile := &formFile{field: "chunk", name: "blob", contentType: "application/octet-stream", data: []byte("x")}

	// unknown upload id
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"chunkIndex": "0", "totalChunks": "2", "fileId": "does-not-exist",
	}, chunkFile))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// missing chunk part
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"chunkIndex": "0", "totalChunks": "2", "fileId": init.FileID,
	}, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// malformed index
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"chunkIndex": "abc", "totalChunks": "2", "fileId": init.FileID,
	}, chunkFile))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// index out of range
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"chunkIndex": "5", "totalChunks": "2", "fileId": init.FileID,
	}, chunkFile))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// duplicate index
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"chunkIndex": "0", "totalChunks": "2", "fileId": init.FileID,
	}, chunkFile))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"chunkIndex": "0", "totalChunks": "2", "fileId": init.FileID,
	}, chunkFile))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Chunk already uploaded", decode[ErrorResponse](t, rr).Error)

	// conflict against a terminal record
	require.NoError(t, store.SetStatus(t.Context(), init.FileID, record.StatusError))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"chunkIndex": "1", "totalChunks": "2", "fileId": init.FileID,
	}, chunkFile))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "File is not in uploading state", decode[ErrorResponse](t, rr).Error)
}

func TestHandleUpload_Direct(t *testing.T) {
	mux, store := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"subject": "History", "grade": "9", "pdfType": "normal",
	}, &formFile{field: "file", name: "history_9.pdf", contentType: "application/pdf", data: []byte("%PDF-1.4 two pages")}))

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[DirectResponse](t, rr)
	assert.Equal(t, record.StatusUploaded, resp.Status)
	assert.Equal(t, "history_9.pdf", resp.FileName)
	assert.Regexp(t, `\.pdf$`, resp.FilePath)
	assert.Equal(t, "History", resp.Subject)
	assert.Equal(t, "9", resp.Grade)

	rec, err := store.Get(t.Context(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusUploaded, rec.Status)
}

func TestHandleUpload_DirectValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	// missing metadata
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{"subject": "History"},
		&formFile{field: "file", name: "a.pdf", contentType: "application/pdf", data: []byte("%PDF")}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing required fields", decode[ErrorResponse](t, rr).Error)

	// missing file part
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"subject": "History", "grade": "9", "pdfType": "normal",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// wrong media type
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"subject": "History", "grade": "9", "pdfType": "normal",
	}, &formFile{field: "file", name: "notes.txt", contentType: "text/plain", data: []byte("plain text")}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Only PDF files are allowed", decode[ErrorResponse](t, rr).Error)
}

func TestHandleStatus(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"isChunked": "true", "fileName": "s.pdf", "fileSize": "10",
		"totalChunks": "2", "subject": "Math", "grade": "8", "pdfType": "normal",
	}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	init := decode[InitResponse](t, rr)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/upload/pdf/"+init.FileID+"/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[StatusResponse](t, rr)
	assert.Equal(t, record.StatusUploading, st.Status)
	assert.Equal(t, 0, st.Progress)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/upload/pdf/unknown/status", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleDelete(t *testing.T) {
	mux, store := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, multipartRequest(t, map[string]string{
		"subject": "History", "grade": "9", "pdfType": "normal",
	}, &formFile{field: "file", name: "gone.pdf", contentType: "application/pdf", data: []byte("%PDF")}))
	require.Equal(t, http.StatusOK, rr.Code)
	created := decode[DirectResponse](t, rr)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/upload/pdf/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := store.Get(t.Context(), created.ID)
	assert.ErrorIs(t, err, record.ErrNotFound)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/upload/pdf/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
