package api

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/storage"
	"github.com/selfdb-io/selfdb/internal/store"
)

// uploadFile is the streaming proxy: the request body goes to the worker
// chunk by chunk, the metadata row and bucket counters land in one
// transaction afterwards.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	q := r.URL.Query()
	bucketID, err := uuid.Parse(q.Get("bucket_id"))
	if err != nil {
		return httpx.Validation("bucket_id must be a UUID")
	}
	filename := strings.TrimSpace(q.Get("filename"))
	if filename == "" {
		return httpx.Validation("filename is required")
	}
	bucket, err := store.GetBucket(r.Context(), rc.conn, bucketID)
	if err != nil {
		return err
	}
	if !bucket.Public && rc.user == nil {
		return httpx.InvalidToken()
	}

	effPath := strings.TrimSpace(q.Get("path"))
	if effPath == "" {
		effPath = filename
	}
	contentType := q.Get("content_type")
	if contentType == "" {
		contentType = r.Header.Get("Content-Type")
	}

	// macOS-style duplicate resolution: probe the live siblings sharing the
	// stem and pick the first free number.
	originalPath := ""
	taken, err := store.LiveFilePathExists(r.Context(), rc.conn, bucketID, effPath)
	if err != nil {
		return err
	}
	if taken {
		used, lerr := store.LiveFilePathsLike(r.Context(), rc.conn, bucketID, storage.StemPattern(effPath))
		if lerr != nil {
			return lerr
		}
		originalPath = effPath
		effPath = storage.NextAvailablePath(effPath, used)
	}

	res, err := s.storage.UploadStream(r.Context(), bucket.Name, effPath, filename, contentType, r.ContentLength, r.Body)
	if err != nil {
		return err
	}

	now := model.UTCNow()
	f := &model.File{
		ID:        uuid.New(),
		BucketID:  bucketID,
		Name:      path.Base(effPath),
		Path:      effPath,
		Size:      res.Size,
		MimeType:  contentType,
		Metadata:  model.JSONMap{},
		Version:   1,
		IsLatest:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rc.user != nil {
		f.OwnerID = &rc.user.ID
	}
	err = rc.Tx(r.Context(), func(tq db.Querier) error {
		if terr := store.InsertFile(r.Context(), tq, f); terr != nil {
			return terr
		}
		return store.AdjustBucketStats(r.Context(), tq, bucketID, 1, res.Size)
	})
	if err != nil {
		// The blob may remain at the worker; that drift is acceptable and
		// swept later.
		return err
	}

	body := map[string]any{"file": f}
	if originalPath != "" {
		body["original_path"] = originalPath
		body["message"] = "A file named '" + originalPath + "' already exists; stored as '" + effPath + "'"
	}
	httpx.JSON(w, http.StatusCreated, body)
	return nil
}

// downloadFile streams the worker's blob back to the client.
func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	bucketName := r.PathValue("bucket")
	filePath := r.PathValue("path")
	bucket, err := store.GetBucketByName(r.Context(), rc.conn, bucketName)
	if err != nil {
		return err
	}
	if !bucket.Public && rc.user == nil {
		return httpx.InvalidToken()
	}
	f, err := store.GetLiveFileByPath(r.Context(), rc.conn, bucket.ID, filePath)
	if err != nil {
		return err
	}
	resp, err := s.storage.Download(r.Context(), bucket.Name, f.Path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Name+`"`)
	if f.MimeType != "" {
		w.Header().Set("Content-Type", f.MimeType)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 256*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return nil
		}
	}
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	opts, err := listOptions(r)
	if err != nil {
		return err
	}
	files, err := store.ListFiles(r.Context(), rc.conn, nil, opts)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, files)
	return nil
}

func (s *Server) countFiles(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	n, err := store.CountFiles(r.Context(), rc.conn, nil, r.URL.Query().Get("search"))
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, n)
	return nil
}

// fetchFile loads a file and applies the parent bucket's visibility.
func (s *Server) fetchFile(r *http.Request, rc *reqCtx, id uuid.UUID) (*model.File, *model.Bucket, error) {
	f, err := store.GetFile(r.Context(), rc.conn, id)
	if err != nil {
		return nil, nil, err
	}
	b, err := store.GetBucket(r.Context(), rc.conn, f.BucketID)
	if err != nil {
		return nil, nil, err
	}
	if !b.Public && rc.user == nil {
		return nil, nil, httpx.InvalidToken()
	}
	return f, b, nil
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	f, _, err := s.fetchFile(r, rc, id)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, f)
	return nil
}

func requireFileOwner(f *model.File, rc *reqCtx) error {
	if rc.user.IsAdmin() {
		return nil
	}
	if f.OwnerID != nil && *f.OwnerID == rc.user.ID {
		return nil
	}
	return httpx.Forbidden("")
}

func (s *Server) patchFile(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req store.FileUpdate
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	f, _, err := s.fetchFile(r, rc, id)
	if err != nil {
		return err
	}
	if err := requireFileOwner(f, rc); err != nil {
		return err
	}
	var updated *model.File
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		updated, terr = store.UpdateFile(r.Context(), q, id, req)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, updated)
	return nil
}

// deleteFile removes the blob best-effort (a 404 at the worker is success),
// then the metadata row and the bucket counters.
func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	f, bucket, err := s.fetchFile(r, rc, id)
	if err != nil {
		return err
	}
	if err := requireFileOwner(f, rc); err != nil {
		return err
	}
	if err := s.storage.DeleteFile(r.Context(), bucket.Name, f.Path); err != nil {
		return err
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		if terr := store.DeleteFile(r.Context(), q, id); terr != nil {
			return terr
		}
		return store.AdjustBucketStats(r.Context(), q, f.BucketID, -1, -f.Size)
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
