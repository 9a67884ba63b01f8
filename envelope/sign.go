// Package envelope implements the BTPS Envelope Codec: detached-signature
// signing and verification over canonical JSON (spec §4.2), and hybrid
// AES+RSA encryption and decryption of document payloads. All signing uses
// RSA PKCS#1 v1.5 over SHA-256; key wrapping uses RSA-OAEP with a caller
// selectable hash.
package envelope

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"time"

	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/internal/metrics"
	"github.com/openbtps/btps-go/wire"
)

// ParseRSAPublicKeyPEM decodes a PEM-encoded SPKI public key, as returned
// by the identity resolver, into an *rsa.PublicKey.
func ParseRSAPublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, btpserr.New(btpserr.Validation, "invalid pem block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Validation, err, "parse spki public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, btpserr.New(btpserr.Validation, "published key is not RSA")
	}
	return rsaPub, nil
}

// ParseRSAPrivateKeyPEM decodes a PEM-encoded RSA private key, accepting
// both PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") blocks.
func ParseRSAPrivateKeyPEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, btpserr.New(btpserr.Validation, "invalid pem block")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, btpserr.Wrap(btpserr.Validation, err, "parse pkcs1 private key")
		}
		return priv, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, btpserr.Wrap(btpserr.Validation, err, "parse pkcs8 private key")
		}
		rsaPriv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, btpserr.New(btpserr.Validation, "private key is not RSA")
		}
		return rsaPriv, nil
	default:
		return nil, btpserr.Newf(btpserr.Validation, "unsupported pem block type %q", block.Type)
	}
}

// Fingerprint returns the base64 SHA-256 digest of pub's SPKI DER encoding.
// Every Signature and Delegation on the wire carries this value so a
// verifier can confirm it holds the exact key the signer used, independent
// of whatever key the identity resolver currently returns.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", btpserr.Wrap(btpserr.Validation, err, "marshal public key")
	}
	sum := sha256.Sum256(der)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// canonicalBytes marshals v (expected to be the result of a SignView
// method) to its canonical JSON form: Go's encoding/json preserves struct
// declared-field order, so the SignView struct literal itself is the
// canonicalization (spec §9).
func canonicalBytes(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Validation, err, "canonicalize sign view")
	}
	return b, nil
}

// Sign computes a detached signature over view (normally the result of a
// *SignView() call) using priv, and returns a wire.Signature ready to
// attach to the artifact.
func Sign(view any, priv *rsa.PrivateKey) (result *wire.Signature, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperations.WithLabelValues("sign", "rsa-pkcs1v15-sha256").Inc()
		metrics.CryptoOperationDuration.WithLabelValues("sign", "rsa-pkcs1v15-sha256").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("sign").Inc()
		}
	}()

	data, err := canonicalBytes(view)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hash[:])
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "sign canonical view")
	}
	fp, err := Fingerprint(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &wire.Signature{
		AlgorithmHash: "sha256",
		Value:         base64.StdEncoding.EncodeToString(sig),
		Fingerprint:   fp,
	}, nil
}

// Verify checks sig against view using pub. It distinguishes a fingerprint
// mismatch (the signer used a different key than the one resolved) from a
// cryptographic verification failure, since the two map to distinct error
// kinds the caller reacts to differently (spec §7).
func Verify(view any, sig *wire.Signature, pub *rsa.PublicKey) (err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperations.WithLabelValues("verify", "rsa-pkcs1v15-sha256").Inc()
		metrics.CryptoOperationDuration.WithLabelValues("verify", "rsa-pkcs1v15-sha256").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("verify").Inc()
		}
	}()

	if sig == nil {
		return btpserr.New(btpserr.Validation, "missing signature")
	}
	wantFP, err := Fingerprint(pub)
	if err != nil {
		return err
	}
	if sig.Fingerprint != wantFP {
		return btpserr.New(btpserr.SignatureFingerprintMismatch, "signature fingerprint does not match resolved key").
			WithMeta("expected", wantFP).WithMeta("got", sig.Fingerprint)
	}
	data, err := canonicalBytes(view)
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil {
		return btpserr.Wrap(btpserr.SignatureVerificationFailed, err, "decode signature value")
	}
	hash := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], raw); err != nil {
		return btpserr.Wrap(btpserr.SignatureVerificationFailed, err, "verify signature")
	}
	return nil
}
