// Package pool implements the Connection Transporter (spec §4.6): a
// bounded pool of Connection Engines keyed by destination identity, reused
// across transport() calls and reclaimed on TTL expiry.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/internal/logger"
	"github.com/openbtps/btps-go/internal/metrics"
	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/transport/conn"
	"github.com/openbtps/btps-go/wire"
)

// Listeners receives pool-level events, each stamped with the entry's key
// (spec §4.6).
type Listeners struct {
	OnConnectionCreated   func(key string)
	OnConnectionConnected func(key string)
	OnConnectionMessage   func(key string, resp *wire.ServerResponse)
	OnConnectionError     func(key string, ev conn.ErrorPayload)
	OnConnectionEnd       func(key string, ev conn.EndPayload)
	OnConnectionClose     func(key string)
	OnConnectionUpdated   func(key string)
	OnConnectionDestroyed func(key string)
}

// Options configures a single register_connection or transport call.
type Options struct {
	EngineConfig conn.Config
	TTL          time.Duration
}

// Config controls the pool's bounds and defaults.
type Config struct {
	MaxConnections int
	DefaultTTL     time.Duration

	// Dialer, if set, overrides every engine's transport dial. Tests
	// substitute a plain TCP dialer for the default TLS one.
	Dialer conn.Dialer
}

// DefaultConfig applies the spec defaults: 100 max connections, 300s TTL.
func DefaultConfig() Config {
	return Config{
		MaxConnections: wire.DefaultMaxConnections,
		DefaultTTL:     time.Duration(wire.DefaultConnectionTTLSeconds) * time.Second,
	}
}

// waiterResult is delivered to exactly one Transport call per engine
// message, matched by the artifact's id (spec §3 req_id correlation).
type waiterResult struct {
	resp *wire.ServerResponse
	err  error
}

type poolEntry struct {
	key    string
	engine *conn.Engine
	ttl    time.Duration
	timer  *time.Timer

	mu sync.Mutex
	// waitersByID matches an inbound response to its waiter via the
	// artifact's own id, echoed back as the response's req_id (spec §3).
	// fifoWaiters holds waiters for artifact types this package doesn't
	// know how to read an id from; those degrade to arrival order.
	waitersByID map[string]chan waiterResult
	fifoWaiters []chan waiterResult
	connected   bool
}

// artifactID extracts the request id pool sends over the wire from an
// artifact, so the eventual response's req_id can be matched back to the
// right waiter instead of assuming responses arrive in send order.
func artifactID(artifact any) string {
	switch a := artifact.(type) {
	case *wire.TransporterArtifact:
		return a.ID
	case *wire.AgentArtifact:
		return a.ID
	case *wire.IdentityLookupRequest:
		return a.ID
	default:
		return ""
	}
}

// Pool bounds and reuses Connection Engines, one per destination identity.
// Registration is serialized per key with a singleflight group so
// concurrent register_connection calls for the same destination collapse
// into one dial (spec §4.6), grounded on the teacher's handshake server's
// use of golang.org/x/sync/singleflight for per-context resolve coalescing.
type Pool struct {
	cfg Config
	res *resolver.Resolver
	log logger.Logger

	mu        sync.Mutex
	entries   map[string]*poolEntry
	listeners Listeners
	destroyed bool

	sf singleflight.Group
}

// New constructs an empty Pool resolving through res.
func New(cfg Config, res *resolver.Resolver) *Pool {
	d := DefaultConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = d.MaxConnections
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = d.DefaultTTL
	}
	return &Pool{
		cfg:     cfg,
		res:     res,
		log:     logger.Default(),
		entries: make(map[string]*poolEntry),
	}
}

// SetListeners installs the pool-wide event listener set.
func (p *Pool) SetListeners(l Listeners) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = l
}

func key(to wire.Identity) string { return to.String() }

// RegisterConnection creates and connects a new engine for to. If an entry
// already exists and override is false it fails with
// ConnectionAlreadyExists; override deregisters the existing entry first.
// It blocks until the new connection reaches Connected or a non-retryable
// failure.
func (p *Pool) RegisterConnection(ctx context.Context, to wire.Identity, opts Options, override bool) error {
	k := key(to)
	_, err, _ := p.sf.Do("register:"+k, func() (any, error) {
		return nil, p.register(ctx, to, k, opts, override)
	})
	return err
}

func (p *Pool) register(ctx context.Context, to wire.Identity, k string, opts Options, override bool) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return btpserr.New(btpserr.Destroyed, "pool has been destroyed")
	}
	existing, exists := p.entries[k]
	if exists && !override {
		p.mu.Unlock()
		metrics.ConnectionsRegistered.WithLabelValues("already_exists").Inc()
		return btpserr.Newf(btpserr.ConnectionAlreadyExists, "connection already registered for %s", k)
	}
	if !exists && len(p.entries) >= p.cfg.MaxConnections {
		p.mu.Unlock()
		metrics.ConnectionsRegistered.WithLabelValues("max_connections").Inc()
		return btpserr.Newf(btpserr.MaxConnectionsReached, "pool at max_connections=%d", p.cfg.MaxConnections)
	}
	p.mu.Unlock()

	if exists {
		p.deregisterEntry(existing, false)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = p.cfg.DefaultTTL
	}
	engine := conn.New(opts.EngineConfig, p.res)
	if p.cfg.Dialer != nil {
		engine.SetDialer(p.cfg.Dialer)
	}
	pe := &poolEntry{
		key:    k,
		engine: engine,
		ttl:    ttl,
	}

	p.mu.Lock()
	p.entries[k] = pe
	metrics.ConnectionsTotal.Set(float64(len(p.entries)))
	p.mu.Unlock()

	p.emit(func(l Listeners) {
		if l.OnConnectionCreated != nil {
			l.OnConnectionCreated(k)
		}
	})
	metrics.ConnectionsRegistered.WithLabelValues("success").Inc()
	p.resetTTL(pe)

	settled := make(chan error, 1)
	err := pe.engine.Connect(ctx, to, conn.Listeners{
		OnConnected: func() {
			pe.mu.Lock()
			pe.connected = true
			pe.mu.Unlock()
			metrics.ConnectionsActive.Inc()
			p.emit(func(l Listeners) {
				if l.OnConnectionConnected != nil {
					l.OnConnectionConnected(k)
				}
			})
			select {
			case settled <- nil:
			default:
			}
		},
		OnMessage: func(resp *wire.ServerResponse) {
			p.popWaiter(pe, waiterResult{resp: resp})
			p.emit(func(l Listeners) {
				if l.OnConnectionMessage != nil {
					l.OnConnectionMessage(k, resp)
				}
			})
		},
		OnError: func(ev conn.ErrorPayload) {
			pe.mu.Lock()
			wasConnected := pe.connected
			pe.connected = false
			pe.mu.Unlock()
			if wasConnected {
				metrics.ConnectionsActive.Dec()
			}
			p.emit(func(l Listeners) {
				if l.OnConnectionError != nil {
					l.OnConnectionError(k, ev)
				}
			})
			if !ev.WillRetry {
				p.failWaiters(pe, ev.Err)
				select {
				case settled <- ev.Err:
				default:
				}
			}
		},
		OnEnd: func(ev conn.EndPayload) {
			p.emit(func(l Listeners) {
				if l.OnConnectionEnd != nil {
					l.OnConnectionEnd(k, ev)
				}
			})
			if !ev.WillRetry {
				p.failWaiters(pe, btpserr.New(btpserr.ConnectionEndedEarly, "connection ended before a response arrived"))
			}
		},
	})
	if err != nil {
		p.deregisterEntry(pe, true)
		return err
	}

	select {
	case err := <-settled:
		if err != nil {
			p.deregisterEntry(pe, true)
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeregisterConnection detaches listeners, destroys the engine, and clears
// the TTL timer for to, emitting connectionDestroyed. Safe on a
// non-existent key.
func (p *Pool) DeregisterConnection(to wire.Identity) {
	k := key(to)
	p.mu.Lock()
	pe, ok := p.entries[k]
	p.mu.Unlock()
	if !ok {
		return
	}
	p.deregisterEntry(pe, true)
}

func (p *Pool) deregisterEntry(pe *poolEntry, emit bool) {
	p.mu.Lock()
	if pe.timer != nil {
		pe.timer.Stop()
	}
	delete(p.entries, pe.key)
	metrics.ConnectionsTotal.Set(float64(len(p.entries)))
	p.mu.Unlock()

	pe.mu.Lock()
	wasConnected := pe.connected
	pe.connected = false
	pe.mu.Unlock()

	p.failWaiters(pe, btpserr.New(btpserr.Destroyed, "connection deregistered"))
	_ = pe.engine.Destroy()
	if wasConnected {
		metrics.ConnectionsActive.Dec()
	}
	metrics.ConnectionsDestroyed.Inc()

	if emit {
		p.emit(func(l Listeners) {
			if l.OnConnectionDestroyed != nil {
				l.OnConnectionDestroyed(pe.key)
			}
			if l.OnConnectionClose != nil {
				l.OnConnectionClose(pe.key)
			}
		})
	}
}

func (p *Pool) resetTTL(pe *poolEntry) {
	pe.mu.Lock()
	if pe.timer != nil {
		pe.timer.Stop()
	}
	ttl := pe.ttl
	pe.timer = time.AfterFunc(ttl, func() {
		metrics.ConnectionsEvicted.Inc()
		p.deregisterEntry(pe, true)
	})
	pe.mu.Unlock()
}

// UpdateConnection resets an existing entry's TTL timer, optionally to a
// new duration, and emits connectionUpdated.
func (p *Pool) UpdateConnection(to wire.Identity, ttl time.Duration) error {
	k := key(to)
	p.mu.Lock()
	pe, ok := p.entries[k]
	p.mu.Unlock()
	if !ok {
		return btpserr.Newf(btpserr.Validation, "no connection registered for %s", k)
	}
	if ttl > 0 {
		pe.mu.Lock()
		pe.ttl = ttl
		pe.mu.Unlock()
	}
	p.resetTTL(pe)
	p.emit(func(l Listeners) {
		if l.OnConnectionUpdated != nil {
			l.OnConnectionUpdated(k)
		}
	})
	return nil
}

// Transport sends artifact to the engine registered for to, registering on
// demand if none exists, and resolves with the server response whose
// req_id echoes the artifact's own id (spec §3). Concurrent calls against
// the same destination share one engine; each is matched to its own
// response regardless of arrival order.
func (p *Pool) Transport(ctx context.Context, to wire.Identity, artifact any, opts Options) (*wire.ServerResponse, error) {
	start := time.Now()
	resp, err := p.transport(ctx, to, artifact, opts)
	status := "response"
	if err != nil {
		status = "error"
	}
	metrics.TransportDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return resp, err
}

func (p *Pool) transport(ctx context.Context, to wire.Identity, artifact any, opts Options) (*wire.ServerResponse, error) {
	k := key(to)
	p.mu.Lock()
	pe, ok := p.entries[k]
	p.mu.Unlock()

	if !ok {
		if err := p.RegisterConnection(ctx, to, opts, false); err != nil && !btpserr.Is(err, btpserr.ConnectionAlreadyExists) {
			return nil, err
		}
		p.mu.Lock()
		pe, ok = p.entries[k]
		p.mu.Unlock()
		if !ok {
			return nil, btpserr.Newf(btpserr.Validation, "connection for %s not available after register", k)
		}
	}

	id := artifactID(artifact)
	waiter := make(chan waiterResult, 1)

	// The waiter is registered and the artifact is sent inside the same
	// critical section, so two concurrent transport() calls on the same
	// entry cannot have their sends reach the wire in the opposite order
	// from their waiter registrations.
	pe.mu.Lock()
	if id != "" {
		if pe.waitersByID == nil {
			pe.waitersByID = make(map[string]chan waiterResult)
		}
		pe.waitersByID[id] = waiter
	} else {
		pe.fifoWaiters = append(pe.fifoWaiters, waiter)
	}
	err := pe.engine.SendArtifact(artifact)
	pe.mu.Unlock()

	p.resetTTL(pe)

	if err != nil {
		p.removeWaiter(pe, id, waiter)
		return nil, err
	}

	select {
	case res := <-waiter:
		if res.err != nil {
			return nil, res.err
		}
		return res.resp, nil
	case <-ctx.Done():
		p.removeWaiter(pe, id, waiter)
		return nil, ctx.Err()
	}
}

func (p *Pool) popWaiter(pe *poolEntry, res waiterResult) {
	pe.mu.Lock()
	var w chan waiterResult
	if res.resp != nil && res.resp.ReqID != "" {
		w = pe.waitersByID[res.resp.ReqID]
		delete(pe.waitersByID, res.resp.ReqID)
	}
	if w == nil && len(pe.fifoWaiters) > 0 {
		w = pe.fifoWaiters[0]
		pe.fifoWaiters = pe.fifoWaiters[1:]
	}
	pe.mu.Unlock()
	if w != nil {
		w <- res
	}
}

func (p *Pool) failWaiters(pe *poolEntry, err error) {
	pe.mu.Lock()
	byID := pe.waitersByID
	fifo := pe.fifoWaiters
	pe.waitersByID = nil
	pe.fifoWaiters = nil
	pe.mu.Unlock()
	for _, w := range byID {
		w <- waiterResult{err: err}
	}
	for _, w := range fifo {
		w <- waiterResult{err: err}
	}
}

func (p *Pool) removeWaiter(pe *poolEntry, id string, target chan waiterResult) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	if id != "" {
		if pe.waitersByID[id] == target {
			delete(pe.waitersByID, id)
		}
		return
	}
	for i, w := range pe.fifoWaiters {
		if w == target {
			pe.fifoWaiters = append(pe.fifoWaiters[:i], pe.fifoWaiters[i+1:]...)
			return
		}
	}
}

// TransportResult pairs one transport_batch input with its outcome,
// preserving input order.
type TransportResult struct {
	Response *wire.ServerResponse
	Err      error
}

// TransportBatch runs Transport concurrently for every artifact against
// to's shared engine, returning results in input order (spec §4.6).
func (p *Pool) TransportBatch(ctx context.Context, to wire.Identity, artifacts []any, opts Options) []TransportResult {
	results := make([]TransportResult, len(artifacts))
	var wg sync.WaitGroup
	wg.Add(len(artifacts))
	for i, artifact := range artifacts {
		go func(i int, artifact any) {
			defer wg.Done()
			resp, err := p.Transport(ctx, to, artifact, opts)
			results[i] = TransportResult{Response: resp, Err: err}
		}(i, artifact)
	}
	wg.Wait()
	return results
}

// Destroy deregisters every entry, marks the pool destroyed, and removes
// all pool listeners.
func (p *Pool) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, pe := range p.entries {
		entries = append(entries, pe)
	}
	p.mu.Unlock()

	for _, pe := range entries {
		p.deregisterEntry(pe, true)
	}

	p.mu.Lock()
	p.listeners = Listeners{}
	p.mu.Unlock()
}

// Size returns the current number of registered entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) emit(fn func(Listeners)) {
	p.mu.Lock()
	l := p.listeners
	p.mu.Unlock()
	fn(l)
}
