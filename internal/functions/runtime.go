// Package functions talks to the external function runtime: deploys,
// undeploys, invokes, and decodes the execution-result callbacks it sends
// back.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

// Runtime is the HTTP client to the function runtime.
type Runtime struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewRuntime(baseURL string, log zerolog.Logger) *Runtime {
	return &Runtime{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 310 * time.Second},
		log:     log.With().Str("component", "functions").Logger(),
	}
}

type deployRequest struct {
	FunctionName string        `json:"functionName"`
	Code         string        `json:"code"`
	Env          model.JSONMap `json:"env"`
}

type deployResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Deploy pushes code to the runtime. The returned message is stored as
// deployment_error when success is false.
func (r *Runtime) Deploy(ctx context.Context, fn *model.Function) (bool, string, error) {
	payload, err := json.Marshal(deployRequest{FunctionName: fn.Name, Code: fn.Code, Env: fn.EnvVars})
	if err != nil {
		return false, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/deploy", bytes.NewReader(payload))
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return false, "", httpx.Unavailable("Function runtime unavailable: " + err.Error())
	}
	defer resp.Body.Close()
	var out deployResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", httpx.Unavailable("Function runtime returned an unreadable response")
	}
	if resp.StatusCode >= 400 {
		return false, out.Message, nil
	}
	return out.Success, out.Message, nil
}

// Undeploy removes a function from the runtime. A 404 there is success.
func (r *Runtime) Undeploy(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		r.baseURL+"/functions/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return httpx.Unavailable("Function runtime unavailable: " + err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return httpx.Unavailable(fmt.Sprintf("Function runtime error (%d)", resp.StatusCode))
	}
	return nil
}

// InvokeResult carries the runtime's response to a webhook-driven invocation.
type InvokeResult struct {
	StatusCode int
	Body       model.JSONMap
}

// Invoke runs a function with a webhook payload; the delivery id lets the
// runtime thread its callback back to the delivery row.
func (r *Runtime) Invoke(ctx context.Context, name string, payload model.JSONMap, deliveryID string) (*InvokeResult, error) {
	body, err := json.Marshal(map[string]any{"payload": payload, "delivery_id": deliveryID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/invoke/"+url.PathEscape(name), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, httpx.Unavailable("Function runtime unavailable: " + err.Error())
	}
	defer resp.Body.Close()
	var out model.JSONMap
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			out = model.JSONMap{"raw": string(raw)}
		}
	}
	return &InvokeResult{StatusCode: resp.StatusCode, Body: out}, nil
}
