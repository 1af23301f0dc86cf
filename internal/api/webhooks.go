package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/store"
	"github.com/selfdb-io/selfdb/internal/webhooks"
)

const maxTriggerBody = 1 << 20

func (s *Server) routeWebhooks(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhooks/count", s.handle(authAdmin, []string{"search"}, s.countWebhooks))
	mux.HandleFunc("GET /webhooks/{$}", s.handle(authAdmin, append(listQueryParams, "function_id"), s.listWebhooks))
	mux.HandleFunc("POST /webhooks/{$}", s.handle(authAdmin, nil, s.createWebhook))
	mux.HandleFunc("GET /webhooks/{id}", s.handle(authAdmin, nil, s.getWebhook))
	mux.HandleFunc("PATCH /webhooks/{id}", s.handle(authAdmin, nil, s.patchWebhook))
	mux.HandleFunc("DELETE /webhooks/{id}", s.handle(authAdmin, nil, s.deleteWebhook))
	mux.HandleFunc("POST /webhooks/{id}/regenerate-token", s.handle(authAdmin, nil, s.regenerateToken))
	mux.HandleFunc("GET /webhooks/{id}/deliveries", s.handle(authAdmin, []string{"limit"}, s.listDeliveries))
	mux.HandleFunc("POST /webhooks/{id}/deliveries/{delivery_id}/retry", s.handle(authAdmin, nil, s.retryDelivery))

	// Public ingress. The token in the path is the only credential.
	mux.HandleFunc("POST /webhooks/trigger/{token}", s.handle(authNone, nil, s.triggerWebhook))
}

func (s *Server) countWebhooks(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	n, err := store.CountWebhooks(r.Context(), rc.conn, r.URL.Query().Get("search"))
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, n)
	return nil
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	opts, err := listOptions(r)
	if err != nil {
		return err
	}
	var functionID *uuid.UUID
	if raw := r.URL.Query().Get("function_id"); raw != "" {
		id, perr := uuid.Parse(raw)
		if perr != nil {
			return httpx.Validation("function_id must be a UUID")
		}
		functionID = &id
	}
	hooks, err := store.ListWebhooks(r.Context(), rc.conn, functionID, opts)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, hooks)
	return nil
}

type createWebhookRequest struct {
	FunctionID         uuid.UUID `json:"function_id"`
	Name               string    `json:"name"`
	SecretKey          *string   `json:"secret_key"`
	RetryAttempts      *int      `json:"retry_attempts"`
	RetryDelaySeconds  *int      `json:"retry_delay_seconds"`
	RateLimitPerMinute *int      `json:"rate_limit_per_minute"`
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	var req createWebhookRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return httpx.Validation("name is required")
	}
	if req.FunctionID == uuid.Nil {
		return httpx.Validation("function_id is required")
	}
	if req.RetryAttempts != nil && (*req.RetryAttempts < 1 || *req.RetryAttempts > 10) {
		return httpx.Validation("retry_attempts must be between 1 and 10")
	}
	if _, err := store.GetFunction(r.Context(), rc.conn, req.FunctionID); err != nil {
		return err
	}
	token, err := webhooks.GenerateToken()
	if err != nil {
		return err
	}
	now := model.UTCNow()
	hook := &model.Webhook{
		ID:                 uuid.New(),
		FunctionID:         req.FunctionID,
		OwnerID:            &rc.user.ID,
		Name:               req.Name,
		WebhookToken:       token,
		SecretKey:          req.SecretKey,
		IsActive:           true,
		RetryAttempts:      3,
		RetryDelaySeconds:  60,
		RateLimitPerMinute: 60,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.RetryAttempts != nil {
		hook.RetryAttempts = *req.RetryAttempts
	}
	if req.RetryDelaySeconds != nil {
		hook.RetryDelaySeconds = *req.RetryDelaySeconds
	}
	if req.RateLimitPerMinute != nil {
		hook.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		return store.InsertWebhook(r.Context(), q, hook)
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusCreated, hook)
	return nil
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	hook, err := store.GetWebhook(r.Context(), rc.conn, id)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, hook)
	return nil
}

func (s *Server) patchWebhook(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	var req store.WebhookUpdate
	if err := httpx.DecodeStrict(r, &req); err != nil {
		return err
	}
	if req.RetryAttempts != nil && (*req.RetryAttempts < 1 || *req.RetryAttempts > 10) {
		return httpx.Validation("retry_attempts must be between 1 and 10")
	}
	var hook *model.Webhook
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		hook, terr = store.UpdateWebhook(r.Context(), q, id, req)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, hook)
	return nil
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		return store.DeleteWebhook(r.Context(), q, id)
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// regenerateToken invalidates every sender holding the old token.
func (s *Server) regenerateToken(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	token, err := webhooks.GenerateToken()
	if err != nil {
		return err
	}
	var hook *model.Webhook
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		var terr error
		hook, terr = store.RotateWebhookToken(r.Context(), q, id, token)
		return terr
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, hook)
	return nil
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	limit, err := limitParam(r)
	if err != nil {
		return err
	}
	if _, err := store.GetWebhook(r.Context(), rc.conn, id); err != nil {
		return err
	}
	deliveries, err := store.ListDeliveries(r.Context(), rc.conn, id, limit)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, deliveries)
	return nil
}

// retryDelivery re-invokes the function with a stored payload.
func (s *Server) retryDelivery(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	deliveryID, err := pathUUID(r, "delivery_id")
	if err != nil {
		return err
	}
	delivery, err := store.GetDelivery(r.Context(), rc.conn, deliveryID)
	if err != nil {
		return err
	}
	if delivery.WebhookID != id {
		return httpx.NotFound("Delivery")
	}
	fn, err := store.GetFunction(r.Context(), rc.conn, delivery.FunctionID)
	if err != nil {
		return err
	}
	if err := store.BumpRetryCount(r.Context(), rc.conn, deliveryID); err != nil {
		return err
	}
	s.invokeForDelivery(r, rc, fn, delivery.ID, delivery.RequestBody)
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"accepted":    true,
		"delivery_id": delivery.ID,
		"function":    fn.Name,
	})
	return nil
}

// invokeForDelivery runs the function and records the outcome on the delivery
// row. Invocation failures mark the delivery failed but never surface to the
// sender, who already holds a receipt.
func (s *Server) invokeForDelivery(r *http.Request, rc *reqCtx, fn *model.Function, deliveryID uuid.UUID, payload model.JSONMap) {
	res, err := s.runtime.Invoke(r.Context(), fn.Name, payload, deliveryID.String())
	if err != nil {
		msg := err.Error()
		if cerr := store.CompleteDelivery(r.Context(), rc.conn, deliveryID,
			model.DeliveryFailed, nil, nil, &msg); cerr != nil {
			s.log.Error().Err(cerr).Str("delivery", deliveryID.String()).Msg("delivery completion write failed")
		}
		return
	}
	status := model.DeliveryCompleted
	var errMsg *string
	if res.StatusCode >= 400 {
		status = model.DeliveryFailed
		m := http.StatusText(res.StatusCode)
		errMsg = &m
	}
	if cerr := store.CompleteDelivery(r.Context(), rc.conn, deliveryID,
		status, &res.StatusCode, res.Body, errMsg); cerr != nil {
		s.log.Error().Err(cerr).Str("delivery", deliveryID.String()).Msg("delivery completion write failed")
	}
}

// triggerWebhook is the public ingress: validate the token shape before any
// lookup, record the delivery, verify the HMAC when both sides opted in, then
// invoke. The sender always gets a 202 receipt once the delivery row exists.
func (s *Server) triggerWebhook(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	token := r.PathValue("token")
	if !webhooks.ValidTokenShape(token) {
		return httpx.NotFound("Webhook")
	}
	hook, err := store.GetWebhookByToken(r.Context(), rc.conn, token)
	if err != nil {
		return httpx.NotFound("Webhook")
	}
	if !hook.IsActive {
		return httpx.NotFound("Webhook")
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBody))
	if err != nil {
		return httpx.BadRequest("Unreadable request body")
	}
	payload := model.JSONMap{}
	if len(raw) > 0 {
		if uerr := json.Unmarshal(raw, &payload); uerr != nil {
			payload = model.JSONMap{"raw": string(raw)}
		}
	}
	headers := model.JSONMap{}
	for _, k := range []string{"Content-Type", "User-Agent", webhooks.SignatureHeader} {
		if v := r.Header.Get(k); v != "" {
			headers[k] = v
		}
	}

	var sigValid *bool
	signature := r.Header.Get(webhooks.SignatureHeader)
	if hook.SecretKey != nil && *hook.SecretKey != "" && signature != "" {
		v := webhooks.VerifySignature(*hook.SecretKey, raw, signature)
		sigValid = &v
	}

	now := model.UTCNow()
	delivery := &model.WebhookDelivery{
		ID:              uuid.New(),
		WebhookID:       hook.ID,
		FunctionID:      hook.FunctionID,
		RequestHeaders:  headers,
		RequestBody:     payload,
		SignatureValid:  sigValid,
		Status:          model.DeliveryReceived,
		DeliveryAttempt: 1,
		ReceivedAt:      now,
	}
	err = rc.Tx(r.Context(), func(q db.Querier) error {
		if terr := store.BumpTriggerCount(r.Context(), q, hook.ID); terr != nil {
			return terr
		}
		return store.InsertDelivery(r.Context(), q, delivery)
	})
	if err != nil {
		return err
	}

	if sigValid != nil && !*sigValid {
		msg := "Invalid webhook signature"
		if cerr := store.CompleteDelivery(r.Context(), rc.conn, delivery.ID,
			model.DeliveryFailed, nil, nil, &msg); cerr != nil {
			s.log.Error().Err(cerr).Str("delivery", delivery.ID.String()).Msg("delivery completion write failed")
		}
		return &httpx.Error{Status: http.StatusUnauthorized, Detail: msg}
	}

	fn, err := store.GetFunction(r.Context(), rc.conn, hook.FunctionID)
	if err != nil {
		httpx.JSON(w, http.StatusAccepted, map[string]any{
			"accepted":    true,
			"delivery_id": delivery.ID,
			"message":     "Webhook received but no function configured",
		})
		return nil
	}
	s.invokeForDelivery(r, rc, fn, delivery.ID, payload)
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"accepted":    true,
		"delivery_id": delivery.ID,
		"function":    fn.Name,
	})
	return nil
}
