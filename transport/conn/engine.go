package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/internal/logger"
	"github.com/openbtps/btps-go/internal/metrics"
	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/wire"
)

// Engine drives a single TLS stream's lifecycle with one peer (spec §4.4).
// Every exported method is safe for concurrent use; Connect starts
// background goroutines that deliver events to the Listeners passed in.
type Engine struct {
	cfg Config
	res *resolver.Resolver
	log logger.Logger

	dial Dialer

	mu           sync.Mutex
	state        State
	destroyed    bool
	isConnecting bool
	isDraining   bool
	shouldRetry  bool
	retries      int
	attempt      int

	receiver  wire.Identity
	listeners Listeners

	netConn net.Conn
	writer  *bufio.Writer
	writeMu sync.Mutex

	writeQueue [][]byte

	lastActivity time.Time
	timeoutStop  chan struct{}
	timedOut     bool
	done         chan struct{}
}

// New constructs an Engine in the Idle state against res for identity
// resolution. A nil Dialer defaults to a TLS dial using cfg.TLSConfig.
func New(cfg Config, res *resolver.Resolver) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:   cfg,
		res:   res,
		log:   logger.Default(),
		state: StateIdle,
	}
	e.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := &tls.Dialer{Config: cfg.TLSConfig}
		return d.DialContext(ctx, "tcp", addr)
	}
	return e
}

// SetDialer overrides how the engine opens its transport connection. Used
// by tests to substitute an in-memory or plaintext dialer for a real TLS
// dial.
func (e *Engine) SetDialer(d Dialer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dial = d
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ProtocolVersion returns the fixed protocol version this engine speaks.
func (e *Engine) ProtocolVersion() string { return wire.ProtocolVersion }

// Connect starts (or reuses) a connection to receiver. It is idempotent:
// if already connected it immediately re-delivers `connected`; if a
// connection attempt is already in flight it delivers an AlreadyConnecting
// error rather than starting a second one.
func (e *Engine) Connect(ctx context.Context, receiver wire.Identity, listeners Listeners) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return btpserr.New(btpserr.Destroyed, "engine has been destroyed")
	}
	if e.state == StateConnected {
		e.mu.Unlock()
		listeners.dispatch(Event{Kind: EventConnected})
		return nil
	}
	if e.isConnecting {
		e.mu.Unlock()
		err := btpserr.New(btpserr.AlreadyConnecting, "connection attempt already in progress")
		listeners.dispatch(Event{Kind: EventError, Error: &ErrorPayload{Err: err, WillRetry: false, Attempt: e.attempt}})
		return err
	}

	e.receiver = receiver
	e.listeners = listeners
	e.state = StateResolving
	e.shouldRetry = true
	e.retries = 0
	e.attempt = 0
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.attemptLoop(ctx)
	return nil
}

// attemptLoop performs one resolve+dial attempt and, on failure, schedules
// a retry per the spec's retry policy, looping until success, a
// non-retryable failure, or exhaustion of max_retries.
func (e *Engine) attemptLoop(ctx context.Context) {
	e.mu.Lock()
	e.attempt++
	attempt := e.attempt
	e.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues("attempted").Inc()

	host, err := e.res.ResolveHost(ctx, e.receiver)
	if err == nil && host == nil {
		err = btpserr.Newf(btpserr.ResolveDNS, "dns resolution failed for %s", e.receiver)
	}
	if err != nil {
		e.handleAttemptFailure(ctx, err, attempt)
		return
	}

	e.mu.Lock()
	e.isConnecting = true
	e.state = StateConnecting
	e.mu.Unlock()

	addr, err := hostPort(host.HostURL, wire.DefaultPort)
	if err != nil {
		e.handleAttemptFailure(ctx, err, attempt)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectionTimeout)
	defer cancel()
	netConn, err := e.dial(dialCtx, addr)
	if err != nil {
		e.handleAttemptFailure(ctx, err, attempt)
		return
	}

	e.mu.Lock()
	e.netConn = netConn
	e.writer = bufio.NewWriter(netConn)
	e.state = StateConnected
	e.isConnecting = false
	e.lastActivity = time.Now()
	e.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues("connected").Inc()
	e.startTimeoutWatcher()
	e.dispatch(Event{Kind: EventConnected})
	go e.readLoop(ctx)
}

func (e *Engine) handleAttemptFailure(ctx context.Context, err error, attempt int) {
	e.mu.Lock()
	e.isConnecting = false
	destroyed := e.destroyed
	shouldRetry := e.shouldRetry
	retries := e.retries
	e.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues("failed").Inc()
	retry := willRetry(retries, e.cfg.MaxRetries, destroyed, false, shouldRetry, err)
	metrics.Retries.WithLabelValues(boolLabel(retry)).Inc()

	e.dispatch(Event{Kind: EventError, Error: &ErrorPayload{
		Err: err, WillRetry: retry, RetriesLeft: e.cfg.MaxRetries - retries, Attempt: attempt,
	}})

	if !retry {
		e.mu.Lock()
		e.state = StateFailed
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.retries++
	e.state = StateRetrying
	e.mu.Unlock()

	time.AfterFunc(e.cfg.RetryDelay, func() {
		e.mu.Lock()
		if e.destroyed {
			e.mu.Unlock()
			return
		}
		e.state = StateResolving
		e.mu.Unlock()
		e.attemptLoop(ctx)
	})
}

// readLoop decodes line-delimited JSON server responses until the
// connection ends or fails, classifying each outcome per the retry policy.
func (e *Engine) readLoop(ctx context.Context) {
	e.mu.Lock()
	netConn := e.netConn
	e.mu.Unlock()
	if netConn == nil {
		return
	}

	scanner := newLineScanner(netConn)
	for scanner.Scan() {
		line := scanner.Bytes()
		e.touch()

		var resp wire.ServerResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			e.endStream(ctx, btpserr.Wrap(btpserr.SyntaxError, err, "malformed server response"), true)
			return
		}

		metrics.MessagesReceived.Inc()
		e.mu.Lock()
		e.shouldRetry = false
		e.mu.Unlock()
		e.dispatch(Event{Kind: EventMessage, Response: &resp})
	}

	err := scanner.Err()
	if err == nil {
		e.endStream(ctx, nil, false)
		return
	}

	e.mu.Lock()
	timedOut := e.timedOut
	e.timedOut = false
	e.mu.Unlock()
	if timedOut {
		e.endStream(ctx, btpserr.Wrap(btpserr.ConnectionTimeout, err, "inactivity timer fired"), false)
		return
	}
	e.endStream(ctx, btpserr.Wrap(btpserr.ConnectionEndedEarly, err, "connection read failed"), false)
}

func (e *Engine) endStream(ctx context.Context, err error, syntaxError bool) {
	e.mu.Lock()
	if e.state == StateDestroyed {
		e.mu.Unlock()
		return
	}
	e.stopTimeoutWatcherLocked()
	destroyed := e.destroyed
	shouldRetry := e.shouldRetry
	retries := e.retries
	attempt := e.attempt
	e.mu.Unlock()

	if err == nil {
		e.mu.Lock()
		e.state = StateEnded
		e.mu.Unlock()
		e.dispatch(Event{Kind: EventEnd, End: &EndPayload{WillRetry: false, Attempt: attempt}})
		return
	}

	retry := willRetry(retries, e.cfg.MaxRetries, destroyed, syntaxError, shouldRetry, err)
	metrics.Retries.WithLabelValues(boolLabel(retry)).Inc()
	e.dispatch(Event{Kind: EventError, Error: &ErrorPayload{
		Err: err, WillRetry: retry, RetriesLeft: e.cfg.MaxRetries - retries, Attempt: attempt,
	}})

	e.mu.Lock()
	if retry {
		e.retries++
		e.state = StateRetrying
	} else {
		e.state = StateFailed
	}
	e.mu.Unlock()

	if retry {
		time.AfterFunc(e.cfg.RetryDelay, func() {
			e.mu.Lock()
			if e.destroyed {
				e.mu.Unlock()
				return
			}
			e.state = StateResolving
			e.mu.Unlock()
			e.attemptLoop(ctx)
		})
	}
}

// SendArtifact serializes artifact (an AgentArtifact for hop-to-hop sends,
// or any other JSON-shaped frame) as one-line JSON terminated by '\n'. A
// write that cannot complete immediately is queued in the backpressure
// queue and flushed by a best-effort drain, flipping is_draining while the
// queue is non-empty (spec §4.4).
func (e *Engine) SendArtifact(artifact any) error {
	line, err := json.Marshal(artifact)
	if err != nil {
		return btpserr.Wrap(btpserr.Validation, err, "marshal artifact")
	}
	line = append(line, '\n')

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return btpserr.New(btpserr.Destroyed, "engine has been destroyed")
	}
	if e.state != StateConnected && e.state != StateDraining {
		e.mu.Unlock()
		return btpserr.New(btpserr.ConnectionEndedEarly, "not connected")
	}
	writer := e.writer
	e.writeQueue = append(e.writeQueue, line)
	e.isDraining = len(e.writeQueue) > 1
	if e.isDraining {
		e.state = StateDraining
	}
	e.mu.Unlock()

	metrics.BackpressureQueueDepth.Set(float64(len(e.writeQueue)))
	return e.drainWriteQueue(writer)
}

func (e *Engine) drainWriteQueue(writer *bufio.Writer) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	for {
		e.mu.Lock()
		if len(e.writeQueue) == 0 {
			e.isDraining = false
			if e.state == StateDraining {
				e.state = StateConnected
			}
			e.mu.Unlock()
			return nil
		}
		line := e.writeQueue[0]
		e.mu.Unlock()

		if _, err := writer.Write(line); err != nil {
			return btpserr.Wrap(btpserr.ConnectionEndedEarly, err, "write artifact")
		}
		if err := writer.Flush(); err != nil {
			return btpserr.Wrap(btpserr.ConnectionEndedEarly, err, "flush artifact")
		}
		metrics.MessagesSent.Inc()
		e.touch()

		e.mu.Lock()
		e.writeQueue = e.writeQueue[1:]
		metrics.BackpressureQueueDepth.Set(float64(len(e.writeQueue)))
		e.mu.Unlock()
	}
}

// End half-closes the connection: clears is_connecting and discards the
// socket reference without destroying listeners or queues.
func (e *Engine) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return btpserr.New(btpserr.Destroyed, "engine has been destroyed")
	}
	e.isConnecting = false
	if e.netConn != nil {
		_ = e.netConn.Close()
	}
	e.netConn = nil
	e.state = StateEnded
	return nil
}

// Destroy hard-closes the connection, clears queues and listeners, and
// rejects all further calls with a Destroyed error.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	e.state = StateDestroyed
	e.writeQueue = nil
	e.listeners = Listeners{}
	e.stopTimeoutWatcherLocked()
	if e.netConn != nil {
		_ = e.netConn.Close()
	}
	e.netConn = nil
	if e.done != nil {
		close(e.done)
		e.done = nil
	}
	return nil
}

func (e *Engine) dispatch(ev Event) {
	e.mu.Lock()
	listeners := e.listeners
	e.mu.Unlock()
	listeners.dispatch(ev)
}

func (e *Engine) touch() {
	e.mu.Lock()
	e.lastActivity = time.Now()
	e.mu.Unlock()
}

func (e *Engine) startTimeoutWatcher() {
	e.mu.Lock()
	e.stopTimeoutWatcherLocked()
	stop := make(chan struct{})
	e.timeoutStop = stop
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.cfg.ConnectionTimeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.mu.Lock()
				idle := time.Since(e.lastActivity)
				netConn := e.netConn
				e.mu.Unlock()
				if idle >= e.cfg.ConnectionTimeout && netConn != nil {
					e.mu.Lock()
					e.timedOut = true
					e.mu.Unlock()
					_ = netConn.Close()
					return
				}
			}
		}
	}()
}

func (e *Engine) stopTimeoutWatcherLocked() {
	if e.timeoutStop != nil {
		close(e.timeoutStop)
		e.timeoutStop = nil
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// newLineScanner wraps netConn in a bufio.Scanner split on '\n', matching
// the engine's line-delimited JSON framing.
func newLineScanner(netConn net.Conn) *bufio.Scanner {
	s := bufio.NewScanner(netConn)
	s.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return s
}
