// Package bridge is the realtime websocket server. Each connection carries a
// capability token and targets a single container; after the token gate the
// connection is handed to one of two sub-protocols, an interactive terminal or
// line-delimited JSON file sync.
package bridge

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/codedeck/sandbox/internal/engine"
	"github.com/codedeck/sandbox/internal/sandbox"
	"github.com/codedeck/sandbox/internal/token"
)

const controlWriteTimeout = 5 * time.Second

type Bridge struct {
	tokens  *token.Service
	engine  *engine.Engine
	manager *sandbox.Manager

	// verified memoizes accepted tokens by raw value so reconnect storms do
	// not redo the HMAC and JSON work. Entries expire with the token itself.
	verified *ttlcache.Cache[string, token.Payload]

	upgrader websocket.Upgrader
}

func New(tokens *token.Service, eng *engine.Engine, manager *sandbox.Manager) *Bridge {
	// Touch-on-hit must be off: a cache hit must never extend an entry past
	// the token's own expiry.
	verified := ttlcache.New(
		ttlcache.WithTTL[string, token.Payload](token.DefaultTTL),
		ttlcache.WithDisableTouchOnHit[string, token.Payload](),
	)
	go verified.Start()

	return &Bridge{
		tokens:   tokens,
		engine:   eng,
		manager:  manager,
		verified: verified,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect straight from the editor origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the gate. The upgrade happens
// first so rejections arrive as websocket close frames the client can read,
// not as opaque HTTP errors.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))

		return
	}

	query := r.URL.Query()

	containerID := query.Get("container")
	if containerID == "" {
		b.closeWith(conn, websocket.ClosePolicyViolation, "container required")

		return
	}

	rawToken := query.Get("token")
	if rawToken == "" {
		b.closeWith(conn, websocket.ClosePolicyViolation, "token required")

		return
	}

	payload, err := b.verify(rawToken)
	if err != nil {
		b.closeWith(conn, websocket.ClosePolicyViolation, "invalid token")

		return
	}

	if payload.ContainerID != containerID {
		b.closeWith(conn, websocket.ClosePolicyViolation, "container mismatch")

		return
	}

	// A realtime connection counts as sandbox activity.
	b.manager.TouchByContainer(containerID)

	switch query.Get("type") {
	case "sync":
		b.serveSync(r.Context(), conn, containerID)
	default:
		b.serveTerminal(r.Context(), conn, containerID)
	}
}

func (b *Bridge) verify(rawToken string) (token.Payload, error) {
	if item := b.verified.Get(rawToken); item != nil {
		return item.Value(), nil
	}

	payload, err := b.tokens.Verify(rawToken)
	if err != nil {
		return token.Payload{}, err
	}

	b.verified.Set(rawToken, payload, time.Until(time.UnixMilli(payload.Exp)))

	return payload, nil
}

// closeWith sends a close frame with the given code and reason, then tears the
// connection down.
func (b *Bridge) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(controlWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
