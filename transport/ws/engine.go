// Package ws is an alternate Connection Engine transport for operators who
// front BTPS with a WebSocket relay instead of a raw TLS socket. It
// implements the same agent.Engine surface (Connect/SendArtifact/End) and
// the same conn.Listeners event contract as transport/conn, so an Agent can
// be constructed against either transport interchangeably. The primary wire
// format stays line-delimited TLS JSON per spec; this package is additive.
package ws

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/internal/logger"
	"github.com/openbtps/btps-go/internal/metrics"
	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/transport/conn"
	"github.com/openbtps/btps-go/wire"
)

// Path is the fixed WebSocket endpoint a BTPS relay serves on.
const Path = "/btps"

// Dialer opens the underlying WebSocket connection for a given host.
// Exported so tests can substitute a plain ws:// dial against a local
// relay instead of a real wss:// TLS handshake.
type Dialer func(ctx context.Context, host string) (*websocket.Conn, error)

// Engine drives one WebSocket connection to a peer, mirroring
// transport/conn.Engine's contract closely enough to satisfy
// agent.Engine.
type Engine struct {
	cfg conn.Config
	res *resolver.Resolver
	log logger.Logger

	dial Dialer

	mu        sync.Mutex
	state     conn.State
	destroyed bool
	wsConn    *websocket.Conn
	receiver  wire.Identity
	listeners conn.Listeners

	writeMu sync.Mutex
}

// New constructs an Engine in the Idle state against res for identity
// resolution. It dials with a real wss:// TLS handshake by default.
func New(cfg conn.Config, res *resolver.Resolver) *Engine {
	e := &Engine{cfg: cfg, res: res, log: logger.Default(), state: conn.StateIdle}
	e.dial = e.dialTLS
	return e
}

// SetDialer overrides how the engine opens its WebSocket connection. Used
// by tests to dial a plain ws:// relay instead of a TLS one.
func (e *Engine) SetDialer(d Dialer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dial = d
}

func (e *Engine) dialTLS(ctx context.Context, host string) (*websocket.Conn, error) {
	url := fmt.Sprintf("wss://%s%s", host, Path)
	dialer := &websocket.Dialer{
		HandshakeTimeout: e.cfg.ConnectionTimeout,
		TLSClientConfig:  e.tlsConfig(),
	}
	wsConn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return wsConn, nil
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() conn.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Connect resolves receiver's host and dials a WebSocket connection to it,
// then starts a background reader that decodes one wire.ServerResponse per
// text frame and dispatches it to listeners.
func (e *Engine) Connect(ctx context.Context, receiver wire.Identity, listeners conn.Listeners) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return btpserr.New(btpserr.Destroyed, "engine has been destroyed")
	}
	if e.state == conn.StateConnected {
		e.mu.Unlock()
		listeners.dispatch(conn.Event{Kind: conn.EventConnected})
		return nil
	}
	e.receiver = receiver
	e.listeners = listeners
	e.state = conn.StateResolving
	e.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues("attempted").Inc()

	host, err := e.res.ResolveHost(ctx, receiver)
	if err == nil && host == nil {
		err = btpserr.Newf(btpserr.ResolveDNS, "dns resolution failed for %s", receiver)
	}
	if err != nil {
		e.fail(err)
		return err
	}

	e.mu.Lock()
	e.state = conn.StateConnecting
	e.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectionTimeout)
	defer cancel()
	e.mu.Lock()
	dial := e.dial
	e.mu.Unlock()
	wsConn, err := dial(dialCtx, host.HostURL)
	if err != nil {
		e.fail(btpserr.Wrap(btpserr.ConnectionEndedEarly, err, "dial websocket relay"))
		return err
	}

	e.mu.Lock()
	e.wsConn = wsConn
	e.state = conn.StateConnected
	e.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues("connected").Inc()
	listeners.dispatch(conn.Event{Kind: conn.EventConnected})
	go e.readLoop()
	return nil
}

func (e *Engine) tlsConfig() *tls.Config {
	if e.cfg.TLSConfig != nil {
		return e.cfg.TLSConfig
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.state = conn.StateFailed
	listeners := e.listeners
	e.mu.Unlock()
	listeners.dispatch(conn.Event{Kind: conn.EventError, Error: &conn.ErrorPayload{Err: err, WillRetry: false}})
}

func (e *Engine) readLoop() {
	for {
		e.mu.Lock()
		wsConn := e.wsConn
		listeners := e.listeners
		e.mu.Unlock()
		if wsConn == nil {
			return
		}

		_, data, err := wsConn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			destroyed := e.destroyed
			e.state = conn.StateEnded
			e.mu.Unlock()
			if !destroyed {
				listeners.dispatch(conn.Event{Kind: conn.EventEnd, End: &conn.EndPayload{}})
			}
			return
		}

		var resp wire.ServerResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			listeners.dispatch(conn.Event{Kind: conn.EventError, Error: &conn.ErrorPayload{
				Err: btpserr.Wrap(btpserr.SyntaxError, err, "malformed server response"),
			}})
			continue
		}
		metrics.MessagesReceived.Inc()
		listeners.dispatch(conn.Event{Kind: conn.EventMessage, Response: &resp})
	}
}

// SendArtifact serializes artifact as one WebSocket text frame.
func (e *Engine) SendArtifact(artifact any) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return btpserr.Wrap(btpserr.Validation, err, "marshal artifact")
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return btpserr.New(btpserr.Destroyed, "engine has been destroyed")
	}
	wsConn := e.wsConn
	state := e.state
	e.mu.Unlock()
	if wsConn == nil || (state != conn.StateConnected && state != conn.StateDraining) {
		return btpserr.New(btpserr.ConnectionEndedEarly, "not connected")
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := wsConn.SetWriteDeadline(time.Now().Add(e.cfg.ConnectionTimeout)); err != nil {
		return btpserr.Wrap(btpserr.ConnectionEndedEarly, err, "set write deadline")
	}
	if err := wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
		return btpserr.Wrap(btpserr.ConnectionEndedEarly, err, "write artifact")
	}
	metrics.MessagesSent.Inc()
	return nil
}

// End half-closes the connection without destroying listeners.
func (e *Engine) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return btpserr.New(btpserr.Destroyed, "engine has been destroyed")
	}
	if e.wsConn != nil {
		_ = e.wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = e.wsConn.Close()
	}
	e.wsConn = nil
	e.state = conn.StateEnded
	return nil
}

// Destroy hard-closes the connection and rejects all further calls.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	e.state = conn.StateDestroyed
	if e.wsConn != nil {
		_ = e.wsConn.Close()
	}
	e.wsConn = nil
	e.listeners = conn.Listeners{}
	return nil
}
