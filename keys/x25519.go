package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"

	"github.com/openbtps/btps-go/internal/btpserr"
)

type x25519KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// GenerateX25519KeyPair generates a new ephemeral X25519 key-agreement pair.
// It never signs: Sign/Verify always return btpserr.Unknown.
func GenerateX25519KeyPair() (KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "generate x25519 keypair")
	}
	pub := priv.PublicKey()
	return &x25519KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         idFromHash(sha256.Sum256(pub.Bytes())),
	}, nil
}

func (kp *x25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *x25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *x25519KeyPair) Algorithm() Algorithm          { return AlgorithmX25519 }
func (kp *x25519KeyPair) ID() string                    { return kp.id }

func (kp *x25519KeyPair) Sign([]byte) ([]byte, error) {
	return nil, btpserr.New(btpserr.Unknown, "x25519 keys are key-agreement only and cannot sign")
}

func (kp *x25519KeyPair) Verify([]byte, []byte) error {
	return btpserr.New(btpserr.Unknown, "x25519 keys are key-agreement only and cannot verify")
}

// ECDH performs X25519 key agreement against a peer's public key.
func (kp *x25519KeyPair) ECDH(peer *ecdh.PublicKey) ([]byte, error) {
	secret, err := kp.privateKey.ECDH(peer)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "x25519 ecdh")
	}
	return secret, nil
}
