// Package realtime proxies client WebSockets to the internal pub/sub broker:
// accept, attach identity from the query token, then pump frames both ways
// until either side closes.
package realtime

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/selfdb-io/selfdb/internal/auth"
)

// Proxy terminates client sockets and dials the broker per connection.
type Proxy struct {
	brokerURL string
	auth      *auth.Service
	log       zerolog.Logger
}

func NewProxy(brokerURL string, authSvc *auth.Service, log zerolog.Logger) *Proxy {
	return &Proxy{
		brokerURL: brokerURL,
		auth:      authSvc,
		log:       log.With().Str("component", "realtime").Logger(),
	}
}

// ServeHTTP upgrades the client connection and bridges it to the broker. The
// optional token query parameter carries identity; anonymous connections are
// allowed and forwarded with empty user_id/role.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer client.Close(websocket.StatusNormalClosure, "bye")
	client.SetReadLimit(1 << 20)

	userID, role := p.auth.ValidateWSToken(r.URL.Query().Get("token"))

	broker, _, err := websocket.Dial(r.Context(), p.brokerEndpoint(userID, role), nil)
	if err != nil {
		p.log.Warn().Err(err).Msg("broker dial failed")
		client.Close(websocket.StatusInternalError, "realtime broker unavailable: "+err.Error())
		return
	}
	defer broker.Close(websocket.StatusNormalClosure, "bye")
	broker.SetReadLimit(1 << 20)

	// First closer wins: whichever direction ends cancels the other, then
	// both sockets close on the deferred paths.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan struct{}, 2)
	go func() {
		pump(ctx, client, broker)
		done <- struct{}{}
	}()
	go func() {
		pump(ctx, broker, client)
		done <- struct{}{}
	}()
	<-done
	cancel()
	<-done
}

func (p *Proxy) brokerEndpoint(userID, role string) string {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("role", role)
	return p.brokerURL + "?" + q.Encode()
}

// pump forwards frames one way, preserving per-direction ordering, until the
// source closes or the context cancels.
func pump(ctx context.Context, src, dst *websocket.Conn) {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return
		}
	}
}
