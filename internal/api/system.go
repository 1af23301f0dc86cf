package api

import (
	"net/http"

	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/store"
)

func (s *Server) routeSystem(mux *http.ServeMux) {
	mux.HandleFunc("GET /system/status", s.handle(authNone, nil, s.systemStatus))
	mux.HandleFunc("GET /system/storage/health", s.handle(authNone, nil, s.storageHealth))
}

// systemStatus is the setup-wizard probe: it reports whether the first admin
// login has happened yet.
func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	initialized, err := store.IsInitialized(r.Context(), rc.conn)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"initialized": initialized,
		"version":     s.cfg.AppVersion,
	})
	return nil
}

func (s *Server) storageHealth(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	if err := s.storage.Health(r.Context()); err != nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"healthy": false, "detail": err.Error()})
		return nil
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"healthy": true})
	return nil
}
