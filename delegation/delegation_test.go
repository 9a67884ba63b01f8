package delegation_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/openbtps/btps-go/delegation"
	"github.com/openbtps/btps-go/envelope"
	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/wire"
)

type fakeExchanger struct {
	records map[string]string
}

func (f *fakeExchanger) ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	name := m.Question[0].Name
	resp := new(dns.Msg)
	resp.SetReply(m)
	resp.Rcode = dns.RcodeSuccess
	if val, ok := f.records[name]; ok {
		resp.Answer = append(resp.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 300},
			Txt: []string{val},
		})
	}
	return resp, time.Millisecond, nil
}

func pemForPub(t *testing.T, pub *rsa.PublicKey) (string, string) {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	full := string(pem.EncodeToMemory(block))
	return full, base64.StdEncoding.EncodeToString(der)
}

func newTestResolver(t *testing.T, identity wire.Identity, selector string, pub *rsa.PublicKey) *resolver.Resolver {
	t.Helper()
	_, b64 := pemForPub(t, pub)
	records := map[string]string{
		dns.Fqdn("_btps.host." + identity.Domain): "v=1.0.0;u=btps://mail." + identity.Domain + ":3443;s=" + selector,
		dns.Fqdn(selector + "._btps.host." + identity.Account + "." + identity.Domain): "v=1.0.0;k=rsa;p=" + b64,
	}
	return resolver.NewWithExchanger(resolver.DefaultConfig(), &fakeExchanger{records: records})
}

func TestNewVerifiesSelfConsistentKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	identity := wire.MustParseIdentity("saas$example.com")
	res := newTestResolver(t, identity, "btps1", &priv.PublicKey)

	d, err := delegation.New(context.Background(), identity, priv, res)
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestNewRejectsMismatchedKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	identity := wire.MustParseIdentity("saas$example.com")
	// Publish `other`'s key but construct with `priv` — must fail.
	res := newTestResolver(t, identity, "btps1", &other.PublicKey)

	_, err = delegation.New(context.Background(), identity, priv, res)
	require.Error(t, err)
}

func buildArtifact() *wire.TransporterArtifact {
	return &wire.TransporterArtifact{
		Version:  wire.ProtocolVersion,
		ID:       "art-1",
		IssuedAt: time.Now().UTC().Format(time.RFC3339),
		From:     "saas$example.com",
		To:       "bob$example.org",
		Type:     wire.ArtifactDocument,
		Document: json.RawMessage(`{"hello":"world"}`),
		Selector: "btps1",
	}
}

func TestDelegateArtifactSaaSSignsMode(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	identity := wire.MustParseIdentity("saas$example.com")
	res := newTestResolver(t, identity, "btps1", &priv.PublicKey)
	d, err := delegation.New(context.Background(), identity, priv, res)
	require.NoError(t, err)

	agentPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	agentPEM, _ := pemForPub(t, &agentPriv.PublicKey)

	artifact := buildArtifact()
	signed, err := d.DelegateArtifact("agent-1", agentPEM, artifact, nil)
	require.NoError(t, err)
	require.NotNil(t, signed.Delegation)
	require.Equal(t, identity.String(), signed.Delegation.SignedBy)
	require.Nil(t, signed.Delegation.Attestation)

	err = envelope.Verify(signed.Delegation.DelegationSignView(), &signed.Delegation.Signature, &priv.PublicKey)
	require.NoError(t, err)

	err = envelope.Verify(signed.SignViewWithDelegation(signed.Delegation), signed.Signature, &priv.PublicKey)
	require.NoError(t, err)
}

func TestDelegateArtifactUserSignsSaaSAttestsMode(t *testing.T) {
	saasPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	saasIdentity := wire.MustParseIdentity("saas$example.com")
	res := newTestResolver(t, saasIdentity, "btps1", &saasPriv.PublicKey)
	d, err := delegation.New(context.Background(), saasIdentity, saasPriv, res)
	require.NoError(t, err)

	principalPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	principal := &delegation.Principal{
		Identity:   wire.MustParseIdentity("alice$example.com"),
		Selector:   "btps1",
		PrivateKey: principalPriv,
	}

	agentPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	agentPEM, _ := pemForPub(t, &agentPriv.PublicKey)

	artifact := buildArtifact()
	signed, err := d.DelegateArtifact("agent-2", agentPEM, artifact, principal)
	require.NoError(t, err)
	require.NotNil(t, signed.Delegation.Attestation)
	require.Equal(t, principal.Identity.String(), signed.Delegation.SignedBy)
	require.Equal(t, saasIdentity.String(), signed.Delegation.Attestation.SignedBy)

	err = envelope.Verify(signed.Delegation.DelegationSignView(), &signed.Delegation.Signature, &principalPriv.PublicKey)
	require.NoError(t, err)

	attestView := wire.AttestationSignView(signed.Delegation, signed.Delegation.Attestation.SignedBy, signed.Delegation.Attestation.IssuedAt, signed.Delegation.Attestation.Selector)
	err = envelope.Verify(attestView, &signed.Delegation.Attestation.Signature, &saasPriv.PublicKey)
	require.NoError(t, err)
}
