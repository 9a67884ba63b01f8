package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/wire"
)

func TestDefaultConfig(t *testing.T) {
	cfg := resolver.DefaultConfig()
	require.Equal(t, "8.8.8.8:53", cfg.ServerAddr)
	require.Greater(t, cfg.DialTimeout.Seconds(), 0.0)
	require.Greater(t, cfg.CacheTTL.Seconds(), 0.0)
}

func TestNewAppliesDefaultsForZeroFields(t *testing.T) {
	r := resolver.New(resolver.Config{})
	require.NotNil(t, r)
}

// fakeExchanger answers every query with a fixed TXT record.
type fakeExchanger struct {
	txt   string
	ttl   uint32
	calls int
}

func (f *fakeExchanger) ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	f.calls++
	resp := new(dns.Msg)
	resp.SetReply(m)
	resp.Rcode = dns.RcodeSuccess
	if f.txt != "" {
		rr := &dns.TXT{
			Hdr: dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: f.ttl},
			Txt: []string{f.txt},
		}
		resp.Answer = append(resp.Answer, rr)
	}
	return resp, time.Millisecond, nil
}

func TestResolveHost(t *testing.T) {
	fake := &fakeExchanger{txt: "v=1.0.0;u=btps://mail.example.com:3443;s=btps1", ttl: 300}
	r := resolver.NewWithExchanger(resolver.DefaultConfig(), fake)

	id := wire.MustParseIdentity("alice$example.com")
	rec, err := r.ResolveHost(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "1.0.0", rec.Version)
	require.Equal(t, "btps://mail.example.com:3443", rec.HostURL)
	require.Equal(t, "btps1", rec.Selector)
}

func TestResolveHostCachesResult(t *testing.T) {
	fake := &fakeExchanger{txt: "v=1.0.0;u=btps://mail.example.com:3443;s=btps1", ttl: 300}
	r := resolver.NewWithExchanger(resolver.DefaultConfig(), fake)
	id := wire.MustParseIdentity("alice$example.com")

	_, err := r.ResolveHost(context.Background(), id)
	require.NoError(t, err)
	_, err = r.ResolveHost(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, fake.calls)
}

func TestResolveHostIncompleteRecordIsNotFound(t *testing.T) {
	fake := &fakeExchanger{txt: "v=1.0.0;u=btps://mail.example.com:3443", ttl: 300}
	r := resolver.NewWithExchanger(resolver.DefaultConfig(), fake)
	id := wire.MustParseIdentity("alice$example.com")

	rec, err := r.ResolveHost(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestResolveIdentityKey(t *testing.T) {
	fake := &fakeExchanger{txt: "v=1.0.0;k=rsa;p=QUJDRA==", ttl: 300}
	r := resolver.NewWithExchanger(resolver.DefaultConfig(), fake)
	id := wire.MustParseIdentity("alice$example.com")

	rec, err := r.ResolveIdentityKey(context.Background(), id, "btps1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "rsa", rec.KeyType)
	require.Contains(t, rec.PEM, "-----BEGIN PUBLIC KEY-----")
}

func TestResolveHostNoRecordsIsNotFound(t *testing.T) {
	fake := &fakeExchanger{}
	r := resolver.NewWithExchanger(resolver.DefaultConfig(), fake)
	id := wire.MustParseIdentity("alice$example.com")

	rec, err := r.ResolveHost(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, rec)
}
