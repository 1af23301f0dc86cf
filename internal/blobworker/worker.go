// Package blobworker is the blob-store worker: a small HTTP server owning the
// on-disk file tree. Writes are atomic (temp file then rename on the same
// filesystem) and streamed in 256 KiB chunks.
package blobworker

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/selfdb-io/selfdb/internal/httpx"
)

// chunkSize amortizes the write syscalls on large streams.
const chunkSize = 256 * 1024

// Worker serves the blob tree rooted at BaseDir.
type Worker struct {
	BaseDir string
	log     zerolog.Logger
}

func New(baseDir string, log zerolog.Logger) *Worker {
	return &Worker{BaseDir: baseDir, log: log.With().Str("component", "blobworker").Logger()}
}

// Handler builds the worker's route set.
func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", w.handleHealth)
	mux.HandleFunc("POST /api/v1/files/upload", w.handleUpload)
	mux.HandleFunc("GET /api/v1/files/{bucket}/{path...}", w.handleDownload)
	mux.HandleFunc("DELETE /api/v1/files/{bucket}/{path...}", w.handleDeleteFile)
	mux.HandleFunc("PUT /api/v1/buckets/{bucket}", w.handleCreateBucket)
	mux.HandleFunc("DELETE /api/v1/buckets/{bucket}", w.handleDeleteBucket)
	return mux
}

// resolve joins bucket and path under the base dir and rejects anything that
// escapes it.
func (w *Worker) resolve(bucket, rel string) (string, error) {
	base, err := filepath.Abs(w.BaseDir)
	if err != nil {
		return "", err
	}
	full, err := filepath.Abs(filepath.Join(base, bucket, rel))
	if err != nil {
		return "", err
	}
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", httpx.BadRequest("Invalid path")
	}
	return full, nil
}

func (w *Worker) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	httpx.JSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (w *Worker) handleUpload(rw http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket")
	rel := strings.TrimSpace(r.URL.Query().Get("path"))
	if bucket == "" || rel == "" {
		httpx.WriteError(rw, httpx.BadRequest("bucket and path query parameters are required"))
		return
	}
	full, err := w.resolve(bucket, rel)
	if err != nil {
		httpx.WriteError(rw, err)
		return
	}

	body := io.Reader(r.Body)
	// The multipart fallback: pull the first file part and stream that.
	if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, "multipart/form-data") {
		part, err := firstFilePart(r, ct)
		if err != nil {
			httpx.WriteError(rw, httpx.BadRequest("Unreadable multipart body: "+err.Error()))
			return
		}
		defer part.Close()
		body = part
	}

	size, err := w.atomicWrite(full, body)
	if err != nil {
		httpx.WriteError(rw, err)
		return
	}
	w.log.Info().Str("bucket", bucket).Str("path", rel).Int64("size", size).Msg("stored blob")
	httpx.JSON(rw, http.StatusCreated, map[string]any{"path": rel, "size": size})
}

// atomicWrite streams into a temp file next to the target and renames it into
// place; rename on the same filesystem is the atomicity primitive. Empty
// uploads are rejected.
func (w *Worker) atomicWrite(full string, body io.Reader) (int64, error) {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	buf := make([]byte, chunkSize)
	size, err := io.CopyBuffer(tmp, body, buf)
	if err != nil {
		cleanup()
		return 0, err
	}
	if size == 0 {
		cleanup()
		return 0, httpx.Validation("Empty file upload")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return size, nil
}

func (w *Worker) handleDownload(rw http.ResponseWriter, r *http.Request) {
	full, err := w.resolve(r.PathValue("bucket"), r.PathValue("path"))
	if err != nil {
		httpx.WriteError(rw, err)
		return
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		httpx.WriteError(rw, httpx.NotFound("File"))
		return
	}
	if err != nil {
		httpx.WriteError(rw, err)
		return
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		rw.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.WriteHeader(http.StatusOK)
	buf := make([]byte, chunkSize)
	_, _ = io.CopyBuffer(rw, f, buf)
}

func (w *Worker) handleDeleteFile(rw http.ResponseWriter, r *http.Request) {
	full, err := w.resolve(r.PathValue("bucket"), r.PathValue("path"))
	if err != nil {
		httpx.WriteError(rw, err)
		return
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		httpx.WriteError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Worker) handleCreateBucket(rw http.ResponseWriter, r *http.Request) {
	full, err := w.resolve(r.PathValue("bucket"), ".")
	if err != nil {
		httpx.WriteError(rw, err)
		return
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		httpx.WriteError(rw, err)
		return
	}
	httpx.JSON(rw, http.StatusCreated, map[string]string{"bucket": r.PathValue("bucket")})
}

func (w *Worker) handleDeleteBucket(rw http.ResponseWriter, r *http.Request) {
	full, err := w.resolve(r.PathValue("bucket"), ".")
	if err != nil {
		httpx.WriteError(rw, err)
		return
	}
	if err := os.RemoveAll(full); err != nil {
		httpx.WriteError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// firstFilePart returns a reader over the first file field of a multipart
// body without materializing the whole payload.
func firstFilePart(r *http.Request, contentType string) (io.ReadCloser, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.New("missing multipart boundary")
	}
	mr := multipart.NewReader(r.Body, boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
	}
}
