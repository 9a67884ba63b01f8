// Package agent implements Agent Framing (spec §4.5): building outbound
// transporter and agent artifacts, sending them over an injected Connection
// Engine, and interpreting inbound server responses. An Agent holds an
// engine rather than extending one, mirroring the teacher's
// composition-over-inheritance core.
package agent

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openbtps/btps-go/envelope"
	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/internal/logger"
	"github.com/openbtps/btps-go/internal/metrics"
	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/transport/conn"
	"github.com/openbtps/btps-go/wire"
)

// Engine is the subset of *conn.Engine an Agent drives. Narrow so tests can
// substitute a fake transport without a real TLS dial.
type Engine interface {
	Connect(ctx context.Context, receiver wire.Identity, listeners conn.Listeners) error
	SendArtifact(artifact any) error
	End() error
}

// CommandOptions describes one outbound command (spec §4.5 step 1).
type CommandOptions struct {
	Action   wire.AgentAction
	To       wire.Identity
	Document any
	// Encrypt requests hybrid encryption of the transporter artifact's
	// document using the receiver's published key.
	Encrypt  bool
	OAEPHash envelope.OAEPHash
}

// Agent builds and sends artifacts on behalf of one principal identity,
// composing a resolver (for receiver keys/selectors) and an Engine (for
// transport) rather than implementing either itself.
type Agent struct {
	identity wire.Identity
	agentID  string
	priv     *rsa.PrivateKey
	res      *resolver.Resolver
	engine   Engine
	log      logger.Logger

	mu      sync.Mutex
	queue   []*pendingCommand
	current *pendingCommand
}

// pendingCommand is one in-flight or queued Command() call awaiting its
// server response.
type pendingCommand struct {
	id     string
	opts   CommandOptions
	result chan commandResult
}

type commandResult struct {
	response *wire.ServerResponse
	document json.RawMessage
	err      error
}

// New constructs an Agent for identity, signing with priv and resolving
// receivers through res. The caller supplies the Engine (normally a
// *conn.Engine) so tests can inject a fake transport.
func New(identity wire.Identity, agentID string, priv *rsa.PrivateKey, res *resolver.Resolver, engine Engine) *Agent {
	return &Agent{
		identity: identity,
		agentID:  agentID,
		priv:     priv,
		res:      res,
		engine:   engine,
		log:      logger.Default(),
	}
}

// Command validates opts, builds the transporter/agent artifact pair, and
// sends it over the engine, blocking until the matching server response
// arrives, ctx is cancelled, or the connection fails without retry (spec
// §4.5 steps 1-4, serial queue semantics).
func (a *Agent) Command(ctx context.Context, opts CommandOptions) (*wire.ServerResponse, json.RawMessage, error) {
	if err := validateCommand(&opts); err != nil {
		metrics.CommandsIssued.WithLabelValues(string(opts.Action), "rejected").Inc()
		return nil, nil, err
	}

	pc := &pendingCommand{id: uuid.NewString(), opts: opts, result: make(chan commandResult, 1)}
	sentAt := time.Now()

	a.mu.Lock()
	starting := a.current == nil
	if starting {
		a.current = pc
	} else {
		a.queue = append(a.queue, pc)
	}
	metrics.QueueDepth.Set(float64(len(a.queue)))
	a.mu.Unlock()

	if starting {
		if err := a.connectAndSend(ctx, pc); err != nil {
			a.resolveAndAdvance(pc.id, commandResult{err: err})
			metrics.CommandsIssued.WithLabelValues(string(opts.Action), "error").Inc()
			return nil, nil, err
		}
	}

	select {
	case res := <-pc.result:
		metrics.MessageLatency.Observe(time.Since(sentAt).Seconds())
		if res.err != nil {
			metrics.CommandsIssued.WithLabelValues(string(opts.Action), "error").Inc()
			return nil, nil, res.err
		}
		metrics.CommandsIssued.WithLabelValues(string(opts.Action), "ok").Inc()
		return res.response, res.document, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// connectAndSend builds and sends the wire pair for pc, connecting the
// engine first if this is the first command on it.
func (a *Agent) connectAndSend(ctx context.Context, pc *pendingCommand) error {
	transporter, err := a.buildTransporterArtifact(ctx, pc.opts)
	if err != nil {
		return err
	}
	agentArtifact, err := a.buildAgentArtifact(pc.opts, transporter)
	if err != nil {
		return err
	}

	if err := a.engine.Connect(ctx, pc.opts.To, conn.Listeners{
		OnMessage: a.handleMessage,
		OnError:   a.handleError,
		OnEnd:     a.handleEnd,
	}); err != nil {
		return err
	}
	return a.engine.SendArtifact(agentArtifact)
}

// buildTransporterArtifact implements spec §4.5 step 2. Actions outside
// TrustActions skip this step and carry their document directly in the
// agent artifact.
func (a *Agent) buildTransporterArtifact(ctx context.Context, opts CommandOptions) (*wire.TransporterArtifact, error) {
	if !wire.TrustActions[opts.Action] {
		return nil, nil
	}
	artifactType, ok := wire.ArtifactTypeFor(opts.Action)
	if !ok {
		return nil, btpserr.Newf(btpserr.Validation, "action %q has no transporter artifact mapping", opts.Action)
	}

	host, err := a.res.ResolveHost(ctx, opts.To)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, btpserr.Newf(btpserr.ResolveDNS, "dns resolution failed for %s", opts.To)
	}
	if host.Version != "" && host.Version != wire.ProtocolVersion {
		return nil, btpserr.Newf(btpserr.UnsupportedProtocol, "receiver %s advertises protocol version %s, this agent speaks %s", opts.To, host.Version, wire.ProtocolVersion)
	}

	plaintext, err := envelope.MarshalDocument(opts.Document)
	if err != nil {
		return nil, err
	}
	metrics.DocumentSize.Observe(float64(len(plaintext)))

	artifact := &wire.TransporterArtifact{
		Version:  wire.ProtocolVersion,
		ID:       uuid.NewString(),
		IssuedAt: time.Now().UTC().Format(time.RFC3339),
		From:     a.identity.String(),
		To:       opts.To.String(),
		Type:     artifactType,
		Selector: host.Selector,
	}

	if opts.Encrypt {
		pem, err := a.res.ResolvePublicKey(ctx, opts.To, host.Selector)
		if err != nil {
			return nil, err
		}
		if pem == "" {
			return nil, btpserr.Newf(btpserr.ResolvePubkey, "no published key for %s at selector %s", opts.To, host.Selector)
		}
		pub, err := envelope.ParseRSAPublicKeyPEM(pem)
		if err != nil {
			return nil, err
		}
		encOpts := envelope.EncryptOptions{HashAlgo: opts.OAEPHash, Type: wire.EncryptStandard}
		ciphertext, block, err := envelope.Encrypt(plaintext, pub, encOpts)
		if err != nil {
			return nil, err
		}
		ctJSON, err := json.Marshal(ciphertext)
		if err != nil {
			return nil, btpserr.Wrap(btpserr.Validation, err, "marshal ciphertext")
		}
		artifact.Document = ctJSON
		artifact.Encryption = block
	} else {
		artifact.Document = plaintext
	}

	sig, err := envelope.Sign(artifact.SignView(), a.priv)
	if err != nil {
		return nil, err
	}
	artifact.Signature = sig
	return artifact, nil
}

// buildAgentArtifact implements spec §4.5 step 3-4: wraps the transporter
// artifact (if any) or the raw document, and signs the result. auth.request
// always travels in cleartext-document form regardless of opts.Encrypt.
func (a *Agent) buildAgentArtifact(opts CommandOptions, transporter *wire.TransporterArtifact) (*wire.AgentArtifact, error) {
	artifact := &wire.AgentArtifact{
		Version:  wire.ProtocolVersion,
		ID:       uuid.NewString(),
		IssuedAt: time.Now().UTC().Format(time.RFC3339),
		To:       opts.To.String(),
		AgentID:  a.agentID,
		Action:   opts.Action,
	}

	var doc []byte
	var err error
	if transporter != nil {
		doc, err = json.Marshal(transporter)
	} else {
		doc, err = envelope.MarshalDocument(opts.Document)
	}
	if err != nil {
		return nil, err
	}
	artifact.Document = doc

	if opts.Encrypt && opts.Action != wire.ActionAuthRequest && transporter == nil {
		return nil, btpserr.New(btpserr.Validation, "encryption is only supported for trust-gated actions with a transporter artifact")
	}

	sig, err := envelope.Sign(artifact.SignView(), a.priv)
	if err != nil {
		return nil, err
	}
	artifact.Signature = sig
	return artifact, nil
}

// statusKind maps a Server Response's status.code to the taxonomy Kind a
// btps_error response of that code represents (spec §7). Codes this agent
// has not been told to expect surface as Unknown rather than being guessed
// at.
var statusKind = map[int]btpserr.Kind{
	401: btpserr.AuthenticationInvalid,
	403: btpserr.TrustNotAllowed,
	409: btpserr.TrustAlreadyActive,
	423: btpserr.TrustBlocked,
	426: btpserr.UnsupportedProtocol,
}

// statusError reports the error a Server Response's type/status represent,
// or nil when it reports success. Every btps_error response, and every
// response whose status.ok is false regardless of type, becomes a typed
// error instead of being handed to the caller as a successful document.
func statusError(resp *wire.ServerResponse) error {
	if resp.Type != wire.ResponseError && resp.Status.OK {
		return nil
	}
	kind, ok := statusKind[resp.Status.Code]
	if !ok {
		kind = btpserr.Unknown
	}
	msg := resp.Status.Message
	if msg == "" {
		msg = "server reported failure"
	}
	return btpserr.New(kind, msg).
		WithMeta("code", resp.Status.Code).
		WithMeta("req_id", resp.ReqID)
}

// ProcessMessage implements spec §4.5's inbound half: signature-less
// responses pass through untouched; signed ones are verified against the
// resolved signer key (after confirming its protocol version matches the
// one learned via DNS) and decrypted if encrypted. Either way, a
// btps_error response or a status.ok=false response becomes a returned
// error rather than a successful document.
func (a *Agent) ProcessMessage(ctx context.Context, resp *wire.ServerResponse) (json.RawMessage, error) {
	start := time.Now()
	defer func() { metrics.ProcessMessageDuration.Observe(time.Since(start).Seconds()) }()

	var doc json.RawMessage
	if resp.Signature == nil && resp.Encryption == nil {
		doc = resp.Document
	} else {
		if resp.SignedBy == "" || resp.Selector == "" {
			return nil, btpserr.New(btpserr.Validation, "signed response missing signed_by or selector")
		}
		signer, err := wire.ParseIdentity(resp.SignedBy)
		if err != nil {
			return nil, err
		}
		host, err := a.res.ResolveHost(ctx, signer)
		if err != nil {
			return nil, err
		}
		if host != nil && host.Version != "" && resp.Version != "" && host.Version != resp.Version {
			return nil, btpserr.Newf(btpserr.UnsupportedProtocol, "response from %s declares protocol version %s, dns resolves %s", signer, resp.Version, host.Version)
		}
		pem, err := a.res.ResolvePublicKey(ctx, signer, resp.Selector)
		if err != nil {
			return nil, err
		}
		if pem == "" {
			return nil, btpserr.Newf(btpserr.ResolvePubkey, "no published key for %s at selector %s", signer, resp.Selector)
		}
		pub, err := envelope.ParseRSAPublicKeyPEM(pem)
		if err != nil {
			return nil, err
		}
		if err := envelope.Verify(resp.SignView(), resp.Signature, pub); err != nil {
			return nil, err
		}
		if resp.Encryption == nil {
			doc = resp.Document
		} else {
			var ciphertext string
			if err := json.Unmarshal(resp.Document, &ciphertext); err != nil {
				return nil, btpserr.Wrap(btpserr.Validation, err, "decode ciphertext document")
			}
			plaintext, err := envelope.Decrypt(ciphertext, resp.Encryption, a.priv, envelope.OAEPSHA1)
			if err != nil {
				return nil, err
			}
			doc = plaintext
		}
	}

	if err := statusError(resp); err != nil {
		return nil, err
	}
	return doc, nil
}

// handleMessage resolves the in-flight command and, per the serial queue
// semantics, either advances to the next queued command on the same
// connection or soft-destroys the engine once the queue drains.
func (a *Agent) handleMessage(resp *wire.ServerResponse) {
	doc, err := a.ProcessMessage(context.Background(), resp)
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur == nil {
		return
	}
	a.resolveAndAdvance(cur.id, commandResult{response: resp, document: doc, err: err})
}

// handleError resolves every queued command with the same error when the
// engine will not retry (spec §4.5 serial queue semantics).
func (a *Agent) handleError(ev conn.ErrorPayload) {
	if ev.WillRetry {
		return
	}
	a.failAll(ev.Err)
}

// handleEnd resolves every queued command when the stream ends without a
// retry pending.
func (a *Agent) handleEnd(ev conn.EndPayload) {
	if ev.WillRetry {
		return
	}
	a.failAll(btpserr.New(btpserr.ConnectionEndedEarly, "connection ended before a response arrived"))
}

func (a *Agent) failAll(err error) {
	a.mu.Lock()
	pending := append([]*pendingCommand{}, a.queue...)
	if a.current != nil {
		pending = append([]*pendingCommand{a.current}, pending...)
	}
	a.queue = nil
	a.current = nil
	a.mu.Unlock()

	if len(pending) > 0 {
		a.log.Warn("failing queued commands", logger.Error(err), logger.Int("count", len(pending)))
	}
	for _, pc := range pending {
		pc.result <- commandResult{err: err}
	}
}

// resolveAndAdvance delivers res to the command matching id (normally the
// current one), then either sends the next queued command on the same
// connection or half-closes it when the queue is empty.
func (a *Agent) resolveAndAdvance(id string, res commandResult) {
	a.mu.Lock()
	cur := a.current
	if cur == nil || cur.id != id {
		a.mu.Unlock()
		return
	}
	var next *pendingCommand
	if len(a.queue) > 0 {
		next = a.queue[0]
		a.queue = a.queue[1:]
	}
	a.current = next
	metrics.QueueDepth.Set(float64(len(a.queue)))
	a.mu.Unlock()

	cur.result <- res

	if next == nil {
		_ = a.engine.End()
		return
	}
	if err := a.connectAndSend(context.Background(), next); err != nil {
		a.resolveAndAdvance(next.id, commandResult{err: err})
	}
}
