package api

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/store"
)

// authMode is the per-route authentication requirement consumed by the
// dispatcher.
type authMode int

const (
	authNone authMode = iota
	authOptional
	authRequired
	authAdmin
)

// reqCtx is what a handler gets from the dispatcher: the request-scoped
// connection and the resolved caller (nil on anonymous routes).
type reqCtx struct {
	conn *sql.Conn
	user *model.User
}

// Tx runs fn inside a transaction on the request's connection.
func (rc *reqCtx) Tx(ctx context.Context, fn func(q db.Querier) error) error {
	tx, err := rc.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, rc *reqCtx) error

// handle is the single dispatcher every route goes through: query-parameter
// allowlist, connection borrow, authentication, claims publication, then the
// handler. Errors map onto the wire in one place.
func (s *Server) handle(mode authMode, queryParams []string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := httpx.CheckQueryParams(r, queryParams...); err != nil {
			httpx.WriteError(w, err)
			return
		}
		conn, err := s.db.Conn(r.Context())
		if err != nil {
			httpx.WriteError(w, httpx.Unavailable("Database unavailable"))
			return
		}
		defer conn.Close()
		rc := &reqCtx{conn: conn}

		user, err := s.resolveUser(r, conn)
		switch mode {
		case authNone:
		case authOptional:
			if err == nil {
				rc.user = user
			}
		case authRequired, authAdmin:
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			if mode == authAdmin && !user.IsAdmin() {
				httpx.WriteError(w, httpx.Forbidden(""))
				return
			}
			rc.user = user
		}

		if rc.user != nil {
			if err := db.SetJWTClaims(r.Context(), conn, rc.user.ID.String(), rc.user.Role); err != nil {
				httpx.WriteError(w, err)
				return
			}
		}

		if err := fn(w, r, rc); err != nil {
			httpx.WriteError(w, err)
		}
	}
}

// resolveUser extracts the bearer token, verifies it, and loads an active
// user row. sub failing to resolve is the same 401 as a bad signature.
func (s *Server) resolveUser(r *http.Request, conn *sql.Conn) (*model.User, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return nil, httpx.InvalidToken()
	}
	sub, _, err := s.auth.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, httpx.InvalidToken()
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, httpx.InvalidToken()
	}
	user, err := store.GetUser(r.Context(), conn, id)
	if err != nil {
		return nil, httpx.InvalidToken()
	}
	if !user.IsActive {
		return nil, httpx.InactiveUser()
	}
	return user, nil
}

// pathUUID parses a UUID path parameter, rejecting non-UUID input at the
// router boundary.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, httpx.Validation("Invalid UUID in path: " + name)
	}
	return id, nil
}

// listQueryParams is the shared allowlist of the registry list endpoints.
var listQueryParams = []string{"skip", "limit", "search", "sort_by", "sort_order"}

// listOptions decodes the shared pagination query parameters.
func listOptions(r *http.Request) (store.ListOptions, error) {
	q := r.URL.Query()
	opts := store.ListOptions{
		Search:    q.Get("search"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	var err error
	if opts.Skip, err = intParam(q.Get("skip"), 0); err != nil {
		return opts, httpx.Validation("skip must be an integer")
	}
	if opts.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		return opts, httpx.Validation("limit must be an integer")
	}
	return opts, nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// limitParam decodes a bare limit query parameter for the audit-read routes.
func limitParam(r *http.Request) (int, error) {
	n, err := intParam(r.URL.Query().Get("limit"), 0)
	if err != nil {
		return 0, httpx.Validation("limit must be an integer")
	}
	return n, nil
}
