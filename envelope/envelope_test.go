package envelope_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbtps/btps-go/envelope"
	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/wire"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func TestSignAndVerify(t *testing.T) {
	priv := genKey(t)
	artifact := &wire.TransporterArtifact{
		Version:    wire.ProtocolVersion,
		ID:         "art-1",
		IssuedAt:   "2026-08-01T00:00:00Z",
		From:       "alice$example.com",
		To:         "bob$example.org",
		Type:       wire.ArtifactDocument,
		Document:   json.RawMessage(`{"hello":"world"}`),
		Encryption: nil,
		Selector:   "btps1",
	}

	sig, err := envelope.Sign(artifact.SignView(), priv)
	require.NoError(t, err)
	artifact.Signature = sig

	err = envelope.Verify(artifact.SignView(), artifact.Signature, &priv.PublicKey)
	require.NoError(t, err)
}

func TestVerifyRejectsTampering(t *testing.T) {
	priv := genKey(t)
	artifact := &wire.TransporterArtifact{
		Version:  wire.ProtocolVersion,
		ID:       "art-2",
		IssuedAt: "2026-08-01T00:00:00Z",
		From:     "alice$example.com",
		To:       "bob$example.org",
		Type:     wire.ArtifactDocument,
		Document: json.RawMessage(`{"hello":"world"}`),
		Selector: "btps1",
	}
	sig, err := envelope.Sign(artifact.SignView(), priv)
	require.NoError(t, err)
	artifact.Signature = sig

	artifact.Document = json.RawMessage(`{"hello":"tampered"}`)
	err = envelope.Verify(artifact.SignView(), artifact.Signature, &priv.PublicKey)
	require.Error(t, err)
	require.True(t, btpserr.Is(err, btpserr.SignatureVerificationFailed))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv := genKey(t)
	other := genKey(t)
	artifact := &wire.TransporterArtifact{
		Version:  wire.ProtocolVersion,
		ID:       "art-3",
		IssuedAt: "2026-08-01T00:00:00Z",
		From:     "alice$example.com",
		To:       "bob$example.org",
		Type:     wire.ArtifactDocument,
		Document: json.RawMessage(`{}`),
		Selector: "btps1",
	}
	sig, err := envelope.Sign(artifact.SignView(), priv)
	require.NoError(t, err)
	artifact.Signature = sig

	err = envelope.Verify(artifact.SignView(), artifact.Signature, &other.PublicKey)
	require.Error(t, err)
	require.True(t, btpserr.Is(err, btpserr.SignatureFingerprintMismatch))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	priv := genKey(t)
	plaintext := []byte(`{"invoice":"12345","amount":99.5}`)

	ctB64, block, err := envelope.Encrypt(plaintext, &priv.PublicKey, envelope.DefaultEncryptOptions())
	require.NoError(t, err)
	require.Equal(t, wire.AlgorithmAESGCM, block.Algorithm)
	require.NotEmpty(t, block.AuthTag)

	out, err := envelope.Decrypt(ctB64, block, priv, envelope.OAEPSHA1)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestEncryptDecryptWithOAEPSHA256(t *testing.T) {
	priv := genKey(t)
	plaintext := []byte("top secret document")

	opts := envelope.EncryptOptions{HashAlgo: envelope.OAEPSHA256, Type: wire.EncryptStandard}
	ctB64, block, err := envelope.Encrypt(plaintext, &priv.PublicKey, opts)
	require.NoError(t, err)

	out, err := envelope.Decrypt(ctB64, block, priv, envelope.OAEPSHA256)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)

	// Unwrapping with the wrong hash must fail rather than silently succeed.
	_, err = envelope.Decrypt(ctB64, block, priv, envelope.OAEPSHA1)
	require.Error(t, err)
}

func TestDecryptRejectsLegacyCBC(t *testing.T) {
	priv := genKey(t)
	block := &wire.EncryptionBlock{
		Algorithm:    wire.AlgorithmAESCBC,
		EncryptedKey: "irrelevant",
		IV:           "irrelevant",
		Type:         wire.EncryptStandard,
	}
	_, err := envelope.Decrypt("ZGF0YQ==", block, priv, envelope.OAEPSHA1)
	require.Error(t, err)
	require.True(t, btpserr.Is(err, btpserr.UnsupportedEncrypt))
}

func TestGenerateIdentityToken(t *testing.T) {
	tok, err := envelope.GenerateIdentityToken("alice$example.com")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(tok), 8)
	require.LessOrEqual(t, len(tok), 24)

	tok2, err := envelope.GenerateIdentityToken("alice$example.com")
	require.NoError(t, err)
	require.NotEqual(t, tok, tok2)
}

func TestGenerateIdentityTokenRejectsEmpty(t *testing.T) {
	_, err := envelope.GenerateIdentityToken("")
	require.Error(t, err)
}

func TestParseRSAPrivateKeyPEMRoundTripsPKCS1(t *testing.T) {
	priv := genKey(t)
	der := x509.MarshalPKCS1PrivateKey(priv)
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))

	parsed, err := envelope.ParseRSAPrivateKeyPEM(pemStr)
	require.NoError(t, err)
	require.Equal(t, priv.D, parsed.D)
}

func TestParseRSAPrivateKeyPEMRoundTripsPKCS8(t *testing.T) {
	priv := genKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	parsed, err := envelope.ParseRSAPrivateKeyPEM(pemStr)
	require.NoError(t, err)
	require.Equal(t, priv.D, parsed.D)
}

func TestParseRSAPrivateKeyPEMRejectsGarbage(t *testing.T) {
	_, err := envelope.ParseRSAPrivateKeyPEM("not a pem block")
	require.Error(t, err)
}
