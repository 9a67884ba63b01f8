// Package delegation implements the BTPS Delegator: it lets a service sign
// artifacts on behalf of a principal and/or attest that an agent's
// ephemeral key belongs to that principal (spec §4.3).
package delegation

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"time"

	"github.com/openbtps/btps-go/envelope"
	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/wire"
)

// selfCheckMessage is the fixed message a Delegator signs and verifies
// against its own resolved key on construction.
var selfCheckMessage = []byte("btps-delegator-self-check-v1")

// Principal carries the private key and DNS coordinates of the identity a
// "user-signs + SaaS-attests" delegation is issued on behalf of.
type Principal struct {
	Identity   wire.Identity
	Selector   string
	PrivateKey *rsa.PrivateKey
}

// Delegator signs delegation blocks as a known, DNS-published identity.
type Delegator struct {
	identity wire.Identity
	selector string
	priv     *rsa.PrivateKey
	res      *resolver.Resolver
}

// New constructs a Delegator for identity using priv. It resolves the
// identity's current selector and published key over DNS and verifies
// priv's public half matches what is published, by signing and verifying
// selfCheckMessage. A mismatch is fatal (spec §4.3).
func New(ctx context.Context, identity wire.Identity, priv *rsa.PrivateKey, res *resolver.Resolver) (*Delegator, error) {
	host, err := res.ResolveHost(ctx, identity)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, btpserr.Newf(btpserr.ResolveDNS, "no host record for %s", identity)
	}

	pemStr, err := res.ResolvePublicKey(ctx, identity, host.Selector)
	if err != nil {
		return nil, err
	}
	if pemStr == "" {
		return nil, btpserr.Newf(btpserr.ResolvePubkey, "no key published for %s at selector %s", identity, host.Selector)
	}
	pub, err := envelope.ParseRSAPublicKeyPEM(pemStr)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.ResolvePubkey, err, "parse published key")
	}

	sig, err := signRaw(priv, selfCheckMessage)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.SignatureVerificationFailed, err, "self-check sign")
	}
	if err := verifyRaw(pub, selfCheckMessage, sig); err != nil {
		return nil, btpserr.Wrap(btpserr.SignatureVerificationFailed, err, "resolved key does not match private key")
	}

	return &Delegator{identity: identity, selector: host.Selector, priv: priv, res: res}, nil
}

// DelegateArtifact attaches a Delegation to artifact binding agentID's
// agentPubKeyPEM to either the Delegator's own identity ("SaaS-signs" mode,
// onBehalfOf == nil) or to onBehalfOf's identity, attested by the Delegator
// ("user-signs + SaaS-attests" mode, onBehalfOf != nil). In both modes the
// returned artifact's top-level Signature is recomputed over
// {artifact, delegation} using the Delegator's own key.
func (d *Delegator) DelegateArtifact(agentID, agentPubKeyPEM string, artifact *wire.TransporterArtifact, onBehalfOf *Principal) (*wire.TransporterArtifact, error) {
	out := *artifact
	out.Signature = nil

	issuedAt := time.Now().UTC().Format(time.RFC3339)

	var deleg wire.Delegation
	if onBehalfOf == nil {
		deleg = wire.Delegation{
			AgentID:     agentID,
			AgentPubKey: agentPubKeyPEM,
			SignedBy:    d.identity.String(),
			IssuedAt:    issuedAt,
			Selector:    d.selector,
		}
		sig, err := envelope.Sign(deleg.DelegationSignView(), d.priv)
		if err != nil {
			return nil, err
		}
		deleg.Signature = *sig
	} else {
		deleg = wire.Delegation{
			AgentID:     agentID,
			AgentPubKey: agentPubKeyPEM,
			SignedBy:    onBehalfOf.Identity.String(),
			IssuedAt:    issuedAt,
			Selector:    onBehalfOf.Selector,
		}
		principalSig, err := envelope.Sign(deleg.DelegationSignView(), onBehalfOf.PrivateKey)
		if err != nil {
			return nil, err
		}
		deleg.Signature = *principalSig

		attestIssuedAt := time.Now().UTC().Format(time.RFC3339)
		attestSig, err := envelope.Sign(
			wire.AttestationSignView(&deleg, d.identity.String(), attestIssuedAt, d.selector),
			d.priv,
		)
		if err != nil {
			return nil, err
		}
		deleg.Attestation = &wire.Attestation{
			SignedBy:  d.identity.String(),
			IssuedAt:  attestIssuedAt,
			Signature: *attestSig,
			Selector:  d.selector,
		}
	}

	out.Delegation = &deleg
	sig, err := envelope.Sign(out.SignViewWithDelegation(&deleg), d.priv)
	if err != nil {
		return nil, err
	}
	out.Signature = sig
	return &out, nil
}

func signRaw(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hash[:])
}

func verifyRaw(pub *rsa.PublicKey, message, sig []byte) error {
	hash := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], sig)
}
