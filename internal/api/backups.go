package api

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/store"
)

func (s *Server) routeBackups(mux *http.ServeMux) {
	mux.HandleFunc("GET /backups/{$}", s.handle(authAdmin, nil, s.listBackups))
	mux.HandleFunc("POST /backups/{$}", s.handle(authAdmin, nil, s.createBackup))
	mux.HandleFunc("GET /backups/{name}/download", s.handle(authAdmin, nil, s.downloadBackup))
	mux.HandleFunc("DELETE /backups/{name}", s.handle(authAdmin, nil, s.deleteBackup))

	// Restore runs before the first login exists, so it cannot require
	// credentials; the initialized latch is the gate instead.
	mux.HandleFunc("POST /backups/restore", s.handle(authNone, nil, s.restoreBackup))
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	backups, err := s.backups.List()
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, backups)
	return nil
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	info, err := s.backups.Create(r.Context())
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusCreated, info)
	return nil
}

func (s *Server) downloadBackup(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	name := r.PathValue("name")
	path, err := s.backups.Path(name)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
	return nil
}

func (s *Server) deleteBackup(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	if err := s.backups.Delete(r.PathValue("name")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// restoreBackup replaces the database and blob tree from an uploaded archive.
// Only an uninitialized system accepts it; a successful restore clears the
// latch again because the dump may carry initialized=true.
func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	initialized, err := store.IsInitialized(r.Context(), rc.conn)
	if err != nil {
		return err
	}
	if initialized {
		return httpx.Forbidden("System is already initialized")
	}

	body, err := restoreArchiveReader(r)
	if err != nil {
		return err
	}
	if err := s.backups.Restore(r.Context(), body); err != nil {
		return err
	}
	// The restore terminated every backend on the application database,
	// including the connection this request borrowed, so the latch reset
	// must run on a connection dialed after the replay.
	if err := s.clearInitializedLatch(r.Context()); err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "restored"})
	return nil
}

// clearInitializedLatch resets the latch on a freshly borrowed connection.
func (s *Server) clearInitializedLatch(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return httpx.Unavailable("Database unavailable")
	}
	defer conn.Close()
	return store.ResetInitialized(ctx, conn)
}

// restoreArchiveReader accepts the archive either as the raw request body or
// as the first file part of a multipart upload.
func restoreArchiveReader(r *http.Request) (io.Reader, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return r.Body, nil
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, httpx.BadRequest("Multipart upload without a boundary")
	}
	mr := multipart.NewReader(r.Body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, httpx.Validation("No file in multipart upload")
		}
		if err != nil {
			return nil, httpx.BadRequest("Malformed multipart upload")
		}
		if part.FileName() != "" {
			return part, nil
		}
	}
}
