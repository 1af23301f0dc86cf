package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/functions"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/store"
)

func (s *Server) routeFunctions(mux *http.ServeMux) {
	mux.HandleFunc("GET /functions/count", s.handle(authAdmin, []string{"search"}, s.countFunctions))
	mux.HandleFunc("GET /functions/{$}", s.handle(authAdmin, listQueryParams, s.listFunctions))
	mux.HandleFunc("POST /functions/{$}", s.handle(authAdmin, nil, s.createFunction))
	mux.HandleFunc("GET /functions/{id}", s.handle(authAdmin, nil, s.getFunction))
	mux.HandleFunc("PATCH /functions/{id}", s.handle(authAdmin, nil, s.patchFunction))
	mux.HandleFunc("DELETE /functions/{id}", s.handle(authAdmin, nil, s.deleteFunction))
	mux.HandleFunc("POST /functions/{id}/deploy", s.handle(authAdmin, nil, s.deployFunction))
	mux.HandleFunc("PUT /functions/{id}/env-vars", s.handle(authAdmin, nil, s.replaceEnvVars))
	mux.HandleFunc("GET /functions/{id}/executions", s.handle(authAdmin, []string{"limit"}, s.listExecutions))
	mux.HandleFunc("GET /functions/{id}/logs", s.handle(authAdmin, []string{"limit"}, s.listFunctionLogs))

	// The runtime calls back here after every invocation; it holds no user
	// credentials, so the route is open and defensively decoded.
	mux.HandleFunc("POST /functions/{name}/execution-result", s.handle(authNone, nil, s.recordExecutionResult))
}

func (s *Server) countFunctions(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	n, err := store.CountFunctions(r.Context(), rc.conn, r.URL.Query().Get("search"))
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, n)
	return nil
}

func (s *Server) listFunctions(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	opts, err := listOptions(r)
	if err != nil {
		return err
	}
	fns, err := store.ListFunctions(r.Context(), rc.conn, opts)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, fns)
	return nil
}

type createFunctionRequest struct {
	Name           string        `json:"name"`
	Code           string        `json:"code"`
	Description    *string       `json:"description"`
	TimeoutSeconds *int          `json:"timeout_seconds"`
	EnvVars        model.JSONMap `json:"env_vars"`
}

func (s *Server) createFunction(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req createFunctionRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if err := store.ValidateFunctionName(req.Name); err != nil {
		return err
	}
	if req.Code == "" {
		return httpx.Validation("code is required")
	}
	timeout := 30
	if req.TimeoutSeconds != nil {
		if err := store.ValidateTimeout(*req.TimeoutSeconds); err != nil {
			return err
		}
		timeout = *req.TimeoutSeconds
	}
	now := model.UTCNow()
	fn := &model.Function{
		ID:               uuid.New(),
		Name:             req.Name,
		Code:             req.Code,
		Description:      req.Description,
		TimeoutSeconds:   timeout,
		OwnerID:          &rc.user.ID,
		IsActive:         true,
		DeploymentStatus: model.DeployPending,
		Version:          1,
		EnvVars:          req.EnvVars,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if fn.EnvVars == nil {
		fn.EnvVars = model.JSONMap{}
	}
	err := rc.Tx(r.Context(), func(q db.Querier) error {
		return store.InsertFunction(r.Context(), q, fn)
	})
	if err != nil {
		if isConflict(err) {
			return httpx.Conflict("Function name already in use")
		}
		return err
	}
	s.deployAndRecord(w, r, rc, fn, http.StatusCreated)
	return nil
}

// deployAndRecord pushes code to the runtime and persists the outcome; a
// failed deploy still returns the function row, with status failed.
func (s *Server) deployAndRecord(w http.ResponseWriter, r *http.Request, rc *reqCtx, fn *model.Function, okStatus int) {
	ok, msg, err := s.runtime.Deploy(r.Context(), fn)
	status, deployErr := model.DeployDeployed, (*string)(nil)
	if err != nil {
		status = model.DeployFailed
		m := err.Error()
		deployErr = &m
	} else if !ok {
		status = model.DeployFailed
		if msg == "" {
			msg = "deployment rejected by runtime"
		}
		deployErr = &msg
	}
	if serr := store.SetDeploymentStatus(r.Context(), rc.conn, fn.ID, status, deployErr); serr != nil {
		s.log.Error().Err(serr).Str("function", fn.Name).Msg("deployment status write failed")
	}
	fresh, gerr := store.GetFunction(r.Context(), rc.conn, fn.ID)
	if gerr != nil {
		fresh = fn
	}
	httpx.JSON(w, okStatus, fresh)
}

func (s *Server) getFunction(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	fn, err := store.GetFunction(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, fn)
	return nil
}

func (s *Server) patchFunction(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req store.FunctionUpdate
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	var fn *model.Function
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		fn, terr = store.UpdateFunction(r.Context(), q, id, req)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, fn)
	return nil
}

// deleteFunction undeploys first so the runtime never keeps code for a row
// that no longer exists.
func (s *Server) deleteFunction(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	fn, err := store.GetFunction(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	if err := s.runtime.Undeploy(r.Context(), fn.Name); err != nil {
		s.log.Warn().Err(err).Str("function", fn.Name).Msg("undeploy during delete")
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		return store.DeleteFunction(r.Context(), q, id)
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) deployFunction(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	fn, err := store.GetFunction(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	s.deployAndRecord(w, r, rc, fn, http.StatusOK)
	return nil
}

type envVarsRequest struct {
	EnvVars model.JSONMap `json:"env_vars"`
}

func (s *Server) replaceEnvVars(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req envVarsRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if req.EnvVars == nil {
		req.EnvVars = model.JSONMap{}
	}
	var fn *model.Function
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		fn, terr = store.ReplaceEnvVars(r.Context(), q, id, req.EnvVars)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, fn)
	return nil
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	limit, err := limitParam(r)
	if err != nil {
		return err
	}
	execs, err := store.ListExecutions(r.Context(), rc.conn, id, limit)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, execs)
	return nil
}

func (s *Server) listFunctionLogs(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	limit, err := limitParam(r)
	if err != nil {
		return err
	}
	logs, err := store.ListFunctionLogs(r.Context(), rc.conn, id, limit)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, logs)
	return nil
}

// recordExecutionResult ingests the runtime callback. An unknown function name
// still gets a 200 so the runtime does not retry a callback nothing can use.
func (s *Server) recordExecutionResult(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	name := r.PathValue("name")
	var res functions.ExecutionResult
	if err := httpx.DecodeStrict(r, &res); err != nil {
		return err
	}
	fn, err := store.GetFunctionByName(r.Context(), rc.conn, name)
	if err != nil {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"received": true,
			"warning":  "Function not found",
		})
		return nil
	}

	var deliveryID *uuid.UUID
	if res.DeliveryID != nil {
		if id, perr := uuid.Parse(*res.DeliveryID); perr == nil {
			deliveryID = &id
		}
	}
	var executionID uuid.UUID
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		executionID, terr = store.RecordExecution(r.Context(), q, fn,
			bool(res.Success), float64(res.ExecutionTimeMS), res.Result, res.Logs, deliveryID)
		if terr != nil {
			return terr
		}
		if deliveryID != nil {
			status := model.DeliveryCompleted
			var errMsg *string
			if !bool(res.Success) {
				status = model.DeliveryFailed
				m := "function reported failure"
				errMsg = &m
			}
			return store.CompleteDelivery(r.Context(), q, *deliveryID, status, nil, res.Result, errMsg)
		}
		return nil
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"received":     true,
		"execution_id": executionID,
	})
	return nil
}
