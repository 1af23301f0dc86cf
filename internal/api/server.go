// Package api wires the HTTP surface: one route-config dispatcher in front of
// per-domain handlers, mirroring the admission pipeline order API key → CORS
// → routing → query allowlist → body → auth → authorization → handler.
package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/selfdb-io/selfdb/internal/auth"
	"github.com/selfdb-io/selfdb/internal/backup"
	"github.com/selfdb-io/selfdb/internal/config"
	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/functions"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/realtime"
	"github.com/selfdb-io/selfdb/internal/sqlconsole"
	"github.com/selfdb-io/selfdb/internal/storage"
)

// Server holds the gateway's shared handles; all four pieces of process-wide
// state live here and are closed by the lifecycle in cmd/selfdb.
type Server struct {
	cfg      *config.Config
	db       *db.DB
	auth     *auth.Service
	storage  *storage.Client
	runtime  *functions.Runtime
	console  *sqlconsole.Console
	backups  *backup.Manager
	realtime *realtime.Proxy
	log      zerolog.Logger
}

func NewServer(cfg *config.Config, database *db.DB, authSvc *auth.Service,
	storageClient *storage.Client, runtime *functions.Runtime,
	backups *backup.Manager, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		db:       database,
		auth:     authSvc,
		storage:  storageClient,
		runtime:  runtime,
		console:  sqlconsole.New(log),
		backups:  backups,
		realtime: realtime.NewProxy(cfg.RealtimeWSURL(), authSvc, log),
		log:      log,
	}
}

// Handler assembles the router and the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.routeUsers(mux)
	s.routeTables(mux)
	s.routeStorage(mux)
	s.routeSQL(mux)
	s.routeFunctions(mux)
	s.routeWebhooks(mux)
	s.routeSchema(mux)
	s.routeSystem(mux)
	s.routeBackups(mux)

	// The realtime socket bypasses the dispatcher: holding a borrowed DB
	// connection for the lifetime of a WebSocket would pin the pool.
	mux.HandleFunc("GET /realtime/socket", func(w http.ResponseWriter, r *http.Request) {
		if err := httpx.CheckQueryParams(r, "token"); err != nil {
			httpx.WriteError(w, err)
			return
		}
		s.realtime.ServeHTTP(w, r)
	})

	var h http.Handler = mux
	h = httpx.APIKey(s.cfg.APIKey, h)
	h = httpx.CORS(s.cfg.CORSOrigins, h)
	h = httpx.Recover(s.log, h)
	h = httpx.Logging(s.log, h)
	h = httpx.RequestID(h)
	return h
}
