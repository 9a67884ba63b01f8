package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/internal/metrics"
	"github.com/openbtps/btps-go/wire"
)

// OAEPHash selects the hash used for RSA-OAEP key wrapping. SHA-1 is the
// wire default for backward compatibility with existing receivers; SHA-256
// is opt-in (spec §4.2 Open Question).
type OAEPHash int

const (
	OAEPSHA1 OAEPHash = iota
	OAEPSHA256
)

// EncryptOptions controls how Encrypt wraps the AES content key.
type EncryptOptions struct {
	HashAlgo    OAEPHash
	Type        wire.EncryptionType
}

// DefaultEncryptOptions wraps keys with OAEP-SHA1, the wire-compatible
// default, as a standardEncrypt block.
func DefaultEncryptOptions() EncryptOptions {
	return EncryptOptions{HashAlgo: OAEPSHA1, Type: wire.EncryptStandard}
}

// Encrypt generates a random AES-256-GCM content key, encrypts plaintext
// with it, and wraps the content key for recipientPub with RSA-OAEP.
// Returns the ciphertext (base64) and the EncryptionBlock describing how to
// reverse it.
func Encrypt(plaintext []byte, recipientPub *rsa.PublicKey, opts EncryptOptions) (ciphertextB64 string, block *wire.EncryptionBlock, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperations.WithLabelValues("encrypt", "aes-gcm").Inc()
		metrics.CryptoOperationDuration.WithLabelValues("encrypt", "aes-gcm").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		}
	}()

	key := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, key); err != nil {
		return "", nil, btpserr.Wrap(btpserr.Unknown, err, "generate content key")
	}
	blk, err := aes.NewCipher(key)
	if err != nil {
		return "", nil, btpserr.Wrap(btpserr.Unknown, err, "init aes cipher")
	}
	gcm, err := cipher.NewGCM(blk)
	if err != nil {
		return "", nil, btpserr.Wrap(btpserr.Unknown, err, "init gcm")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", nil, btpserr.Wrap(btpserr.Unknown, err, "generate nonce")
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	// GCM appends the auth tag to the sealed output; split it so the wire
	// block carries ciphertext and tag separately, matching the documented
	// EncryptionBlock shape.
	tagSize := gcm.Overhead()
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	wrappedKey, err := wrapKey(key, recipientPub, opts.HashAlgo)
	if err != nil {
		return "", nil, err
	}

	enctype := opts.Type
	if enctype == "" {
		enctype = wire.EncryptStandard
	}
	return base64.StdEncoding.EncodeToString(ct), &wire.EncryptionBlock{
		Algorithm:    wire.AlgorithmAESGCM,
		EncryptedKey: wrappedKey,
		IV:           base64.StdEncoding.EncodeToString(nonce),
		AuthTag:      base64.StdEncoding.EncodeToString(tag),
		Type:         enctype,
	}, nil
}

// Decrypt reverses Encrypt. A legacy AES-256-CBC block (no auth tag) is
// treated as an incompatible format rather than decrypted, per the wire
// policy that CBC and GCM must never be mixed on a single deployment (spec
// §9 Open Question).
func Decrypt(ciphertextB64 string, block *wire.EncryptionBlock, priv *rsa.PrivateKey, hashAlgo OAEPHash) (plaintext []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperations.WithLabelValues("decrypt", "aes-gcm").Inc()
		metrics.CryptoOperationDuration.WithLabelValues("decrypt", "aes-gcm").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		}
	}()

	if block == nil {
		return nil, btpserr.New(btpserr.Validation, "missing encryption block")
	}
	if block.Algorithm == wire.AlgorithmAESCBC || block.AuthTag == "" {
		return nil, btpserr.New(btpserr.UnsupportedEncrypt, "legacy aes-256-cbc payloads without an auth tag are not supported")
	}
	if block.Algorithm != wire.AlgorithmAESGCM {
		return nil, btpserr.Newf(btpserr.UnsupportedEncrypt, "unsupported encryption algorithm %q", block.Algorithm)
	}

	key, err := unwrapKey(block.EncryptedKey, priv, hashAlgo)
	if err != nil {
		return nil, err
	}
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "init aes cipher")
	}
	gcm, err := cipher.NewGCM(blk)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "init gcm")
	}
	nonce, err := base64.StdEncoding.DecodeString(block.IV)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.DecryptionUnintended, err, "decode iv")
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.DecryptionUnintended, err, "decode ciphertext")
	}
	tag, err := base64.StdEncoding.DecodeString(block.AuthTag)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.DecryptionUnintended, err, "decode auth tag")
	}
	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err = gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.DecryptionUnintended, err, "open gcm payload")
	}
	return plaintext, nil
}

func wrapKey(key []byte, pub *rsa.PublicKey, hashAlgo OAEPHash) (string, error) {
	var wrapped []byte
	var err error
	switch hashAlgo {
	case OAEPSHA256:
		wrapped, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	default:
		wrapped, err = rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, key, nil)
	}
	if err != nil {
		return "", btpserr.Wrap(btpserr.UnsupportedEncrypt, err, "wrap content key")
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

func unwrapKey(wrappedB64 string, priv *rsa.PrivateKey, hashAlgo OAEPHash) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(wrappedB64)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.DecryptionUnintended, err, "decode wrapped key")
	}
	var key []byte
	switch hashAlgo {
	case OAEPSHA256:
		key, err = rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	default:
		key, err = rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, wrapped, nil)
	}
	if err != nil {
		return nil, btpserr.Wrap(btpserr.DecryptionUnintended, err, "unwrap content key")
	}
	return key, nil
}

// MarshalDocument turns an arbitrary document value into the raw bytes
// Encrypt expects as plaintext, or that get placed directly into an
// artifact's Document field when no encryption is requested.
func MarshalDocument(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Validation, err, "marshal document")
	}
	return b, nil
}
