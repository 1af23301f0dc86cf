package httpx

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NotFound("Bucket"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Bucket not found", body["detail"])
}

func TestWriteErrorUnknownIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMapDBError(t *testing.T) {
	require.Nil(t, MapDBError(nil, "Thing"))

	err := MapDBError(sql.ErrNoRows, "Table")
	var he *Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusNotFound, he.Status)

	err = MapDBError(&pq.Error{Code: "23505"}, "User")
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusConflict, he.Status)

	err = MapDBError(&pq.Error{Code: "23503", Message: "fk violation"}, "Row")
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusBadRequest, he.Status)

	err = MapDBError(&pq.Error{Code: "42P01"}, "Table")
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusNotFound, he.Status)

	plain := errors.New("connection reset")
	require.Equal(t, plain, MapDBError(plain, "Thing"))
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	require.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("nope")))
}

func TestCheckQueryParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/t?skip=1&limit=5", nil)
	require.NoError(t, CheckQueryParams(r, "skip", "limit"))

	r = httptest.NewRequest(http.MethodGet, "/t?skip=1&bogus=x", nil)
	err := CheckQueryParams(r, "skip")
	var he *Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusBadRequest, he.Status)
	require.Contains(t, he.Detail, "bogus")

	// The API key may ride in the query for WebSocket handshakes.
	r = httptest.NewRequest(http.MethodGet, "/t?X-API-Key=k", nil)
	require.NoError(t, CheckQueryParams(r))
}

func TestDecodeStrict(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	var p payload
	require.NoError(t, DecodeStrict(r, &p))
	require.Equal(t, "a", p.Name)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","typo":1}`))
	err := DecodeStrict(r, &p)
	var he *Error
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusUnprocessableEntity, he.Status)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.ErrorAs(t, DecodeStrict(r, &p), &he)
	require.Equal(t, "Request body required", he.Detail)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"} {"x":1}`))
	require.Error(t, DecodeStrict(r, &p))
}

func TestDecodeLenientEmptyBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	var p payload
	require.NoError(t, DecodeLenient(r, &p))
	require.Empty(t, p.Name)
}

func TestAPIKeyMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := APIKey("sekrit", inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/me", nil))
	require.Equal(t, http.StatusNotAcceptable, rec.Code)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	r.Header.Set("X-API-Key", "wrong")
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	r.Header.Set("X-API-Key", "sekrit")
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	// The realtime handshake may pass the key as a query parameter.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/realtime/socket?X-API-Key=sekrit", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// The webhook trigger path is public.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/trigger/tok123", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORS([]string{"https://app.example.com"}, inner)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/users/me", nil)
	r.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unlisted origins fall through without CORS headers.
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	h := Recover(zerolog.Nop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ReqIDFromCtx(r.Context())
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-Request-Id", "abc123")
	h.ServeHTTP(rec, r)
	require.Equal(t, "abc123", seen)
	require.Equal(t, "abc123", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
