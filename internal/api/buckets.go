package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/store"
)

func (s *Server) routeStorage(mux *http.ServeMux) {
	mux.HandleFunc("GET /storage/buckets/count", s.handle(authOptional, []string{"search"}, s.countBuckets))
	mux.HandleFunc("GET /storage/buckets/{$}", s.handle(authOptional, listQueryParams, s.listBuckets))
	mux.HandleFunc("POST /storage/buckets/{$}", s.handle(authRequired, nil, s.createBucket))
	mux.HandleFunc("GET /storage/buckets/{id}", s.handle(authOptional, nil, s.getBucket))
	mux.HandleFunc("PATCH /storage/buckets/{id}", s.handle(authRequired, nil, s.patchBucket))
	mux.HandleFunc("DELETE /storage/buckets/{id}", s.handle(authRequired, nil, s.deleteBucket))
	mux.HandleFunc("GET /storage/buckets/{id}/files", s.handle(authOptional, listQueryParams, s.listBucketFiles))

	mux.HandleFunc("GET /storage/stats", s.handle(authAdmin, nil, s.storageStats))

	mux.HandleFunc("POST /storage/files/upload", s.handle(authOptional,
		[]string{"bucket_id", "filename", "path", "content_type"}, s.uploadFile))
	mux.HandleFunc("GET /storage/files/download/{bucket}/{path...}", s.handle(authOptional, nil, s.downloadFile))
	mux.HandleFunc("GET /storage/files/{$}", s.handle(authRequired, listQueryParams, s.listFiles))
	mux.HandleFunc("GET /storage/files/count", s.handle(authRequired, []string{"search"}, s.countFiles))
	mux.HandleFunc("GET /storage/files/{id}", s.handle(authOptional, nil, s.getFile))
	mux.HandleFunc("PATCH /storage/files/{id}", s.handle(authRequired, nil, s.patchFile))
	mux.HandleFunc("DELETE /storage/files/{id}", s.handle(authRequired, nil, s.deleteFile))
}

// fetchBucket loads a bucket and applies the visibility rule.
func (s *Server) fetchBucket(r *http.Request, rc *reqCtx, id uuid.UUID) (*model.Bucket, error) {
	b, err := store.GetBucket(r.Context(), rc.conn, id)
	if err != nil {
		return nil, err
	}
	if !b.Public && rc.user == nil {
		return nil, httpx.InvalidToken()
	}
	return b, nil
}

func requireBucketOwner(b *model.Bucket, rc *reqCtx) error {
	if rc.user.IsAdmin() {
		return nil
	}
	if b.OwnerID != nil && *b.OwnerID == rc.user.ID {
		return nil
	}
	return httpx.Forbidden("")
}

func (s *Server) countBuckets(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	n, err := store.CountBuckets(r.Context(), rc.conn, r.URL.Query().Get("search"))
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, n)
	return nil
}

func (s *Server) listBuckets(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	opts, err := listOptions(r)
	if err != nil {
		return err
	}
	buckets, err := store.ListBuckets(r.Context(), rc.conn, opts, rc.user != nil)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, buckets)
	return nil
}

type createBucketRequest struct {
	Name        string        `json:"name"`
	Public      bool          `json:"public"`
	Description *string       `json:"description"`
	Metadata    model.JSONMap `json:"metadata"`
}

func (s *Server) createBucket(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req createBucketRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if err := store.ValidateBucketName(req.Name); err != nil {
		return err
	}
	now := model.UTCNow()
	b := &model.Bucket{
		ID:          uuid.New(),
		Name:        req.Name,
		Public:      req.Public,
		Description: req.Description,
		OwnerID:     &rc.user.ID,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if b.Metadata == nil {
		b.Metadata = model.JSONMap{}
	}
	err := rc.Tx(r.Context(), func(q db.Querier) error {
		return store.InsertBucket(r.Context(), q, b)
	})
	if err != nil {
		if isConflict(err) {
			// Idempotent only when the existing bucket is indistinguishable.
			existing, gerr := store.GetBucketByName(r.Context(), rc.conn, req.Name)
			if gerr == nil && existing.Public == req.Public {
				httpx.JSON(w, http.StatusOK, existing)
				return nil
			}
			return httpx.Conflict("Bucket already exists")
		}
		return err
	}
	if err := s.storage.CreateBucketDir(r.Context(), b.Name); err != nil {
		s.log.Warn().Err(err).Str("bucket", b.Name).Msg("bucket dir provisioning failed")
	}
	httpx.JSON(w, http.StatusCreated, b)
	return nil
}

func (s *Server) getBucket(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	b, err := s.fetchBucket(r, rc, id)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, b)
	return nil
}

func (s *Server) patchBucket(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req store.BucketUpdate
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	b, err := store.GetBucket(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	if err := requireBucketOwner(b, rc); err != nil {
		return err
	}
	var updated *model.Bucket
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		updated, terr = store.UpdateBucket(r.Context(), q, id, req)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, updated)
	return nil
}

// deleteBucket walks the bucket's files for best-effort blob deletes, then
// drops the worker directory and the registry rows.
func (s *Server) deleteBucket(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	b, err := store.GetBucket(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	if err := requireBucketOwner(b, rc); err != nil {
		return err
	}
	files, err := store.ListBucketFiles(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	for _, f := range files {
		if derr := s.storage.DeleteFile(r.Context(), b.Name, f.Path); derr != nil {
			s.log.Warn().Err(derr).Str("path", f.Path).Msg("blob delete during bucket teardown")
		}
	}
	if err := s.storage.DeleteBucketDir(r.Context(), b.Name); err != nil {
		s.log.Warn().Err(err).Str("bucket", b.Name).Msg("bucket dir delete failed")
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		for _, f := range files {
			if terr := store.DeleteFile(r.Context(), q, f.ID); terr != nil {
				return terr
			}
		}
		return store.DeleteBucket(r.Context(), q, id)
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) listBucketFiles(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	b, err := s.fetchBucket(r, rc, id)
	if err != nil {
		return err
	}
	opts, err := listOptions(r)
	if err != nil {
		return err
	}
	files, err := store.ListFiles(r.Context(), rc.conn, &b.ID, opts)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, files)
	return nil
}

func (s *Server) storageStats(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	stats, err := store.GetStorageStats(r.Context(), rc.conn)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, stats)
	return nil
}
