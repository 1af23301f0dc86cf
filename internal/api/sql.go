package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/sqlconsole"
)

func (s *Server) routeSQL(mux *http.ServeMux) {
	mux.HandleFunc("POST /sql/query", s.handle(authAdmin, nil, s.runQuery))
	mux.HandleFunc("GET /sql/history", s.handle(authAdmin, []string{"limit"}, s.listHistory))
	mux.HandleFunc("DELETE /sql/history", s.handle(authAdmin, nil, s.clearHistory))
	mux.HandleFunc("GET /sql/snippets", s.handle(authAdmin, nil, s.listSnippets))
	mux.HandleFunc("POST /sql/snippets", s.handle(authAdmin, nil, s.createSnippet))
	mux.HandleFunc("DELETE /sql/snippets/{id}", s.handle(authAdmin, nil, s.deleteSnippet))
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req queryRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	res, err := s.console.Execute(r.Context(), rc.conn, req.Query, rc.user)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, res)
	return nil
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	limit, err := limitParam(r)
	if err != nil {
		return err
	}
	entries, err := sqlconsole.ListHistory(r.Context(), rc.conn, rc.user.ID, limit)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, entries)
	return nil
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	err := rc.Tx(r.Context(), func(q db.Querier) error {
		return sqlconsole.ClearHistory(r.Context(), q, rc.user.ID)
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	return nil
}

func (s *Server) listSnippets(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	snippets, err := sqlconsole.ListSnippets(r.Context(), rc.conn, rc.user.ID)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, snippets)
	return nil
}

type snippetRequest struct {
	Name        string  `json:"name"`
	SQLCode     string  `json:"sql_code"`
	Description *string `json:"description"`
	IsShared    bool    `json:"is_shared"`
}

func (s *Server) createSnippet(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req snippetRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if req.Name == "" || req.SQLCode == "" {
		return httpx.Validation("name and sql_code are required")
	}
	sn := &model.SQLSnippet{
		ID:          uuid.New(),
		Name:        req.Name,
		SQLCode:     req.SQLCode,
		Description: req.Description,
		IsShared:    req.IsShared,
		CreatedBy:   &rc.user.ID,
		CreatedAt:   model.UTCNow(),
	}
	err := rc.Tx(r.Context(), func(q db.Querier) error {
		return sqlconsole.InsertSnippet(r.Context(), q, sn)
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusCreated, sn)
	return nil
}

func (s *Server) deleteSnippet(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		return sqlconsole.DeleteSnippet(r.Context(), q, id, rc.user.ID)
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
