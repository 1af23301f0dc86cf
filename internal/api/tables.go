package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/engine"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/store"
)

func (s *Server) routeTables(mux *http.ServeMux) {
	mux.HandleFunc("GET /tables/count", s.handle(authOptional, []string{"search"}, s.countTables))
	mux.HandleFunc("GET /tables/{$}", s.handle(authOptional, listQueryParams, s.listTables))
	mux.HandleFunc("POST /tables/{$}", s.handle(authRequired, nil, s.createTable))
	mux.HandleFunc("GET /tables/{id}", s.handle(authOptional, nil, s.getTable))
	mux.HandleFunc("PATCH /tables/{id}", s.handle(authRequired, nil, s.patchTable))
	mux.HandleFunc("DELETE /tables/{id}", s.handle(authRequired, nil, s.deleteTable))
	mux.HandleFunc("POST /tables/{id}/columns", s.handle(authRequired, nil, s.addColumn))
	mux.HandleFunc("PATCH /tables/{id}/columns/{name}", s.handle(authRequired, nil, s.patchColumn))
	mux.HandleFunc("DELETE /tables/{id}/columns/{name}", s.handle(authRequired, nil, s.dropColumn))
	mux.HandleFunc("GET /tables/{id}/data", s.handle(authOptional, listQueryParams, s.listRows))
	mux.HandleFunc("POST /tables/{id}/data", s.handle(authOptional, nil, s.insertRow))
	mux.HandleFunc("PATCH /tables/{id}/data/{rowID}", s.handle(authRequired, nil, s.updateRow))
	mux.HandleFunc("DELETE /tables/{id}/data/{rowID}", s.handle(authRequired, nil, s.deleteRow))
}

// fetchTable loads a registry entry and applies the visibility rule: private
// tables require some authenticated caller.
func (s *Server) fetchTable(r *http.Request, rc *reqCtx, id uuid.UUID) (*model.Table, error) {
	t, err := store.GetTable(r.Context(), rc.conn, id)
	if err != nil {
		return nil, err
	}
	if !t.Public && rc.user == nil {
		return nil, httpx.InvalidToken()
	}
	return t, nil
}

// requireTableOwner applies the write rule: owner or admin.
func requireTableOwner(t *model.Table, rc *reqCtx) error {
	if rc.user.IsAdmin() {
		return nil
	}
	if t.OwnerID != nil && *t.OwnerID == rc.user.ID {
		return nil
	}
	return httpx.Forbidden("")
}

func (s *Server) countTables(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	n, err := store.CountTables(r.Context(), rc.conn, r.URL.Query().Get("search"))
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, n)
	return nil
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	opts, err := listOptions(r)
	if err != nil {
		return err
	}
	tables, err := store.ListTables(r.Context(), rc.conn, opts, rc.user != nil)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, tables)
	return nil
}

type createTableRequest struct {
	Name            string            `json:"name"`
	TableSchema     model.TableSchema `json:"table_schema"`
	Public          bool              `json:"public"`
	Description     *string           `json:"description"`
	Metadata        model.JSONMap     `json:"metadata"`
	RealtimeEnabled bool              `json:"realtime_enabled"`
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req createTableRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if err := engine.ValidateTableName(req.Name); err != nil {
		return err
	}
	now := model.UTCNow()
	t := &model.Table{
		ID:              uuid.New(),
		Name:            req.Name,
		TableSchema:     req.TableSchema,
		Public:          req.Public,
		OwnerID:         &rc.user.ID,
		Description:     req.Description,
		Metadata:        req.Metadata,
		RealtimeEnabled: req.RealtimeEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if t.Metadata == nil {
		t.Metadata = model.JSONMap{}
	}
	err := rc.Tx(r.Context(), func(q db.Querier) error {
		return engine.CreateTable(r.Context(), q, t)
	})
	if err != nil {
		// Same name twice is idempotent: hand back the existing entry.
		if isConflict(err) {
			existing, gerr := store.GetTableByName(r.Context(), rc.conn, req.Name)
			if gerr == nil {
				httpx.JSON(w, http.StatusOK, existing)
				return nil
			}
		}
		return err
	}
	httpx.JSON(w, http.StatusCreated, t)
	return nil
}

func (s *Server) getTable(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	t, err := s.fetchTable(r, rc, id)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, t)
	return nil
}

type tablePatchRequest struct {
	Name            *string       `json:"name"`
	Description     *string       `json:"description"`
	Public          *bool         `json:"public"`
	Metadata        model.JSONMap `json:"metadata"`
	RealtimeEnabled *bool         `json:"realtime_enabled"`
}

func (s *Server) patchTable(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req tablePatchRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	t, err := store.GetTable(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	if err := requireTableOwner(t, rc); err != nil {
		return err
	}

	var updated *model.Table
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		if req.Name != nil && *req.Name != t.Name {
			if terr := engine.RenameTable(r.Context(), q, t, *req.Name); terr != nil {
				return terr
			}
		}
		if req.RealtimeEnabled != nil && *req.RealtimeEnabled != t.RealtimeEnabled {
			name := t.Name
			if req.Name != nil {
				name = *req.Name
			}
			if terr := engine.SetRealtime(r.Context(), q, name, *req.RealtimeEnabled); terr != nil {
				return terr
			}
		}
		var terr error
		updated, terr = store.UpdateTableMeta(r.Context(), q, id, store.TableUpdate{
			Name:            req.Name,
			Description:     req.Description,
			Public:          req.Public,
			Metadata:        req.Metadata,
			RealtimeEnabled: req.RealtimeEnabled,
		})
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, updated)
	return nil
}

func (s *Server) deleteTable(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	t, err := store.GetTable(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	if err := requireTableOwner(t, rc); err != nil {
		return err
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		return engine.DropTable(r.Context(), q, t)
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type addColumnRequest struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable *bool   `json:"nullable"`
	Default  *string `json:"default"`
}

func (s *Server) addColumn(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req addColumnRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	t, err := store.GetTable(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	if err := requireTableOwner(t, rc); err != nil {
		return err
	}
	var updated *model.Table
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		updated, terr = engine.AddColumn(r.Context(), q, t, req.Name,
			model.ColumnDef{Type: req.Type, Nullable: req.Nullable, Default: req.Default})
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, updated)
	return nil
}

func (s *Server) patchColumn(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req engine.ColumnPatch
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	t, err := store.GetTable(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	if err := requireTableOwner(t, rc); err != nil {
		return err
	}
	var updated *model.Table
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		updated, terr = engine.PatchColumn(r.Context(), q, t, r.PathValue("name"), req)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, updated)
	return nil
}

func (s *Server) dropColumn(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	t, err := store.GetTable(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	if err := requireTableOwner(t, rc); err != nil {
		return err
	}
	var updated *model.Table
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		updated, terr = engine.DropColumn(r.Context(), q, t, r.PathValue("name"))
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, updated)
	return nil
}

func (s *Server) listRows(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	t, err := s.fetchTable(r, rc, id)
	if err != nil {
		return err
	}
	q := r.URL.Query()
	skip, serr := intParam(q.Get("skip"), 0)
	limit, lerr := intParam(q.Get("limit"), 0)
	if serr != nil || lerr != nil {
		return httpx.Validation("skip and limit must be integers")
	}
	rows, total, err := engine.ListRows(r.Context(), rc.conn, t, engine.RowQuery{
		Skip:      skip,
		Limit:     limit,
		Search:    q.Get("search"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows, "total": total})
	return nil
}

func (s *Server) insertRow(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	t, err := store.GetTable(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	// Public tables accept anonymous inserts; private ones need any
	// authenticated caller.
	if !t.Public && rc.user == nil {
		return httpx.InvalidToken()
	}
	var data map[string]any
	if err := httpx.DecodeLenient(r, &data); err != nil {
		return err
	}
	var row map[string]any
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		if row, terr = engine.InsertRow(r.Context(), q, t, data, rc.user); terr != nil {
			return terr
		}
		return store.AdjustRowCount(r.Context(), q, t.ID, 1)
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusCreated, row)
	return nil
}

func (s *Server) updateRow(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	t, err := s.fetchTable(r, rc, id)
	if err != nil {
		return err
	}
	var data map[string]any
	if err := httpx.DecodeStrict(r, &data); err != nil {
		return err
	}
	var row map[string]any
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		row, terr = engine.UpdateRow(r.Context(), q, t, r.PathValue("rowID"), data, rc.user)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, row)
	return nil
}

func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	t, err := s.fetchTable(r, rc, id)
	if err != nil {
		return err
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		if terr := engine.DeleteRow(r.Context(), q, t, r.PathValue("rowID"), rc.user); terr != nil {
			return terr
		}
		return store.AdjustRowCount(r.Context(), q, t.ID, -1)
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// isConflict reports whether err is the 409 taxonomy error or a raw unique
// violation.
func isConflict(err error) bool {
	var apiErr *httpx.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusConflict
	}
	return httpx.IsUniqueViolation(err)
}
