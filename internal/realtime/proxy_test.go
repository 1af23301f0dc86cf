package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/selfdb-io/selfdb/internal/auth"
)

// fakeBroker echoes frames and records the identity query parameters the
// proxy attached.
func fakeBroker(t *testing.T, identities chan<- url.Values) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case identities <- r.URL.Query():
		default:
		}
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "bye")
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	s, err := auth.New("test-secret", "HS256", 30, 7)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestProxyBridgesFrames(t *testing.T) {
	identities := make(chan url.Values, 1)
	broker := fakeBroker(t, identities)
	authSvc := newAuthService(t)

	proxy := NewProxy(wsURL(broker.URL), authSvc, zerolog.Nop())
	front := httptest.NewServer(proxy)
	defer front.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := authSvc.MintAccessToken("user-42", "admin")
	if err != nil {
		t.Fatal(err)
	}
	c, _, err := websocket.Dial(ctx, wsURL(front.URL)+"?token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(websocket.StatusNormalClosure, "done")

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"action":"subscribe","table":"orders"}`)); err != nil {
		t.Fatal(err)
	}
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageText || string(data) != `{"action":"subscribe","table":"orders"}` {
		t.Fatalf("echo mismatch: %q", data)
	}

	q := <-identities
	if q.Get("user_id") != "user-42" || q.Get("role") != "admin" {
		t.Fatalf("identity not forwarded: %v", q)
	}
}

func TestProxyAnonymousConnection(t *testing.T) {
	identities := make(chan url.Values, 1)
	broker := fakeBroker(t, identities)

	proxy := NewProxy(wsURL(broker.URL), newAuthService(t), zerolog.Nop())
	front := httptest.NewServer(proxy)
	defer front.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(front.URL), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(websocket.StatusNormalClosure, "done")

	if err := c.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if _, data, err := c.Read(ctx); err != nil || string(data) != "ping" {
		t.Fatalf("echo failed: %q %v", data, err)
	}

	q := <-identities
	if q.Get("user_id") != "" || q.Get("role") != "" {
		t.Fatalf("anonymous identity should be empty: %v", q)
	}
}

func TestProxyBrokerUnavailable(t *testing.T) {
	proxy := NewProxy("ws://127.0.0.1:1/sock", newAuthService(t), zerolog.Nop())
	front := httptest.NewServer(proxy)
	defer front.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(front.URL), nil)
	if err != nil {
		// Some environments reject the handshake outright, which is also fine.
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "done")
	if _, _, err := c.Read(ctx); err == nil {
		t.Fatal("expected close after broker dial failure")
	}
}
