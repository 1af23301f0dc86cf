package httpx

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey int

const reqIDKey ctxKey = iota

// ReqIDFromCtx returns the request id set by the RequestID middleware.
func ReqIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(reqIDKey).(string); ok {
		return v
	}
	return ""
}

func genID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// RequestID middleware adds/propagates a request ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = genID()
		}
		w.Header().Set("X-Request-Id", rid)
		ctx := context.WithValue(r.Context(), reqIDKey, rid)
		r2 := r.WithContext(ctx)
		r2.Header.Set("X-Request-Id", rid)
		next.ServeHTTP(w, r2)
	})
}

// Logging middleware logs basic request info.
func Logging(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &respWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.URL.Path
		if q := r.URL.RawQuery; q != "" {
			path += "?" + q
		}
		log.Info().
			Str("req_id", ReqIDFromCtx(r.Context())).
			Str("method", r.Method).
			Str("path", path).
			Int("status", rw.code).
			Int64("dur_ms", time.Since(start).Milliseconds()).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// Recover converts handler panics into 500 responses instead of dropping the
// connection.
func Recover(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("req_id", ReqIDFromCtx(r.Context())).
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprint(rec)).
					Bytes("stack", debug.Stack()).
					Msg("handler panic")
				Detail(w, http.StatusInternalServerError, fmt.Sprint(rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// APIKey gates every request on the X-API-Key header. WebSocket handshakes
// cannot carry headers, so the realtime socket path may pass the key as a
// query parameter instead. The webhook trigger path is public: the token in
// the URL is the credential.
func APIKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/webhooks/trigger/") {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if got == "" && strings.HasPrefix(r.URL.Path, "/realtime/socket") {
			got = r.URL.Query().Get("X-API-Key")
		}
		if got == "" {
			WriteError(w, MissingAPIKey())
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			WriteError(w, InvalidAPIKey())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS applies the operator-supplied origin allowlist.
func CORS(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, X-Webhook-Signature")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// CheckQueryParams enforces a route's exact query-parameter allowlist. Extra
// keys are a 400, not a 422, so client logic bugs are distinguishable from
// schema bugs.
func CheckQueryParams(r *http.Request, allowed ...string) error {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	// The API key may ride in the query on WebSocket paths.
	set["X-API-Key"] = true
	var unknown []string
	for k := range r.URL.Query() {
		if !set[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return BadRequest("Unknown query parameters: " + strings.Join(unknown, ", "))
	}
	return nil
}

type respWriter struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (w *respWriter) WriteHeader(code int) {
	w.code = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *respWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *respWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so WebSocket upgrades survive the middleware chain.
func (w *respWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
