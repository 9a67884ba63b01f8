// Package resolver implements the BTPS Identity Resolver: DNS TXT lookups
// that map an "account$domain" identity to its transport endpoint and
// selector-scoped signing key (spec §4.1).
package resolver

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/internal/logger"
	"github.com/openbtps/btps-go/internal/metrics"
	"github.com/openbtps/btps-go/wire"
)

// HostRecord is the result of resolve_host.
type HostRecord struct {
	Version  string
	HostURL  string
	Selector string
}

// KeyRecord is the result of resolve_identity_key.
type KeyRecord struct {
	KeyType string
	Version string
	PEM     string
}

// Config controls where and how the resolver queries DNS.
type Config struct {
	// ServerAddr is a "host:port" DNS resolver address.
	ServerAddr string
	// DialTimeout bounds a single DNS exchange.
	DialTimeout time.Duration
	// CacheTTL is the minimum time a lookup result stays cached: a DNS TTL
	// below it, or a response with no TTL, is raised to CacheTTL.
	CacheTTL time.Duration
}

// DefaultConfig returns the resolver defaults: Google's public resolver,
// a 5s dial timeout, and a 5 minute cache TTL floor.
func DefaultConfig() Config {
	return Config{
		ServerAddr:  "8.8.8.8:53",
		DialTimeout: 5 * time.Second,
		CacheTTL:    5 * time.Minute,
	}
}

type cacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// exchanger is the seam between Resolver and the wire-level DNS exchange,
// narrow enough that tests can substitute a fake without a live resolver.
type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Resolver performs two-stage DNS TXT lookups and caches results in-process
// keyed by query name, with a per-entry TTL taken from the DNS answer and
// never shorter than cfg.CacheTTL.
type Resolver struct {
	cfg    Config
	client exchanger
	log    logger.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs a Resolver against cfg, applying defaults for zero fields.
func New(cfg Config) *Resolver {
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = DefaultConfig().ServerAddr
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Resolver{
		cfg:    cfg,
		client: &dns.Client{Timeout: cfg.DialTimeout},
		log:    logger.Default(),
		cache:  make(map[string]cacheEntry),
	}
}

// NewWithExchanger constructs a Resolver against a caller-supplied
// exchanger, bypassing the network. Used by tests.
func NewWithExchanger(cfg Config, ex exchanger) *Resolver {
	r := New(cfg)
	r.client = ex
	return r
}

// ResolveHost queries `_btps.host.{domain}` for the identity's transport
// endpoint. Missing any of v/u/s yields a not-found (nil, nil) result, per
// spec §4.1.
func (r *Resolver) ResolveHost(ctx context.Context, id wire.Identity) (*HostRecord, error) {
	name := fmt.Sprintf("_btps.host.%s", id.Domain)
	start := time.Now()
	kv, _, err := r.lookupTXTKV(ctx, name)
	metrics.LookupDuration.WithLabelValues("host").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ResolverLookups.WithLabelValues("host", "error").Inc()
		return nil, btpserr.Wrap(btpserr.ResolveDNS, err, "resolve host record")
	}
	if kv == nil {
		metrics.ResolverLookups.WithLabelValues("host", "not_found").Inc()
		return nil, nil
	}
	v, u, s := kv["v"], kv["u"], kv["s"]
	if v == "" || u == "" || s == "" {
		metrics.ResolverLookups.WithLabelValues("host", "incomplete").Inc()
		return nil, nil
	}
	metrics.ResolverLookups.WithLabelValues("host", "ok").Inc()
	return &HostRecord{Version: v, HostURL: u, Selector: s}, nil
}

// ResolveIdentityKey queries `{selector}._btps.host.{account}.{domain}` for
// the signing key published at selector. Callers verifying an inbound
// artifact MUST pass the selector declared on that artifact, never the
// identity's current selector (spec §4.1 key rotation policy).
func (r *Resolver) ResolveIdentityKey(ctx context.Context, id wire.Identity, selector string) (*KeyRecord, error) {
	name := fmt.Sprintf("%s._btps.host.%s.%s", selector, id.Account, id.Domain)
	start := time.Now()
	kv, _, err := r.lookupTXTKV(ctx, name)
	metrics.LookupDuration.WithLabelValues("key").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ResolverLookups.WithLabelValues("key", "error").Inc()
		return nil, btpserr.Wrap(btpserr.ResolveDNS, err, "resolve identity key record")
	}
	if kv == nil {
		metrics.ResolverLookups.WithLabelValues("key", "not_found").Inc()
		return nil, nil
	}
	k, v, p := kv["k"], kv["v"], kv["p"]
	if k == "" || v == "" || p == "" {
		metrics.ResolverLookups.WithLabelValues("key", "incomplete").Inc()
		return nil, nil
	}
	pem, err := base64ToPEM(p, pemHeaderFor(k))
	if err != nil {
		return nil, btpserr.Wrap(btpserr.ResolvePubkey, err, "reconstruct pem from txt record")
	}
	metrics.ResolverLookups.WithLabelValues("key", "ok").Inc()
	return &KeyRecord{KeyType: k, Version: v, PEM: pem}, nil
}

// ResolvePublicKey is a convenience wrapper returning only the PEM.
func (r *Resolver) ResolvePublicKey(ctx context.Context, id wire.Identity, selector string) (string, error) {
	rec, err := r.ResolveIdentityKey(ctx, id, selector)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	return rec.PEM, nil
}

func pemHeaderFor(keyType string) string {
	switch strings.ToLower(keyType) {
	case "rsa":
		return "PUBLIC KEY"
	default:
		return "PUBLIC KEY"
	}
}

// base64ToPEM wraps raw base64 SPKI bytes into a 64-column PEM block.
func base64ToPEM(b64 string, header string) (string, error) {
	if _, err := base64.StdEncoding.DecodeString(b64); err != nil {
		return "", fmt.Errorf("invalid base64 spki: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("-----BEGIN " + header + "-----\n")
	for i := 0; i < len(b64); i += 64 {
		end := i + 64
		if end > len(b64) {
			end = len(b64)
		}
		sb.WriteString(b64[i:end])
		sb.WriteByte('\n')
	}
	sb.WriteString("-----END " + header + "-----\n")
	return sb.String(), nil
}

// lookupTXTKV resolves all TXT records at name, joins their segments, and
// parses the first `;`-delimited `k=v` record it finds into a map. Returns
// (nil, 0, nil) if no TXT records exist, mirroring spec §4.1's "not found"
// outcome rather than treating it as an error.
func (r *Resolver) lookupTXTKV(ctx context.Context, name string) (map[string]string, time.Duration, error) {
	if cached, ok := r.fromCache(name); ok {
		metrics.ResolverCacheHits.Inc()
		return cached, r.cfg.CacheTTL, nil
	}

	kv, ttl, err := r.exchangeTXTKV(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	r.store(name, kv, ttl)
	return kv, ttl, nil
}

// exchangeTXTKV performs the actual DNS exchange, uncached.
func (r *Resolver) exchangeTXTKV(ctx context.Context, name string) (map[string]string, time.Duration, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.SetEdns0(4096, false)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.cfg.ServerAddr)
	if err != nil {
		return nil, 0, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		if resp.Rcode == dns.RcodeNameError {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("dns failure: rcode=%d for %s", resp.Rcode, name)
	}

	var ttl time.Duration
	for _, ans := range resp.Answer {
		txt, ok := ans.(*dns.TXT)
		if !ok {
			continue
		}
		joined := strings.Join(txt.Txt, "")
		kv := parseKV(joined)
		if len(kv) == 0 {
			continue
		}
		ttl = time.Duration(txt.Hdr.Ttl) * time.Second
		return kv, ttl, nil
	}
	return nil, 0, nil
}

func parseKV(record string) map[string]string {
	kv := make(map[string]string)
	for _, pair := range strings.Split(record, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			continue
		}
		kv[strings.TrimSpace(pair[:idx])] = strings.TrimSpace(pair[idx+1:])
	}
	return kv
}

func (r *Resolver) fromCache(name string) (map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[name]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (r *Resolver) store(name string, value map[string]string, ttl time.Duration) {
	if ttl < r.cfg.CacheTTL {
		ttl = r.cfg.CacheTTL
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}
