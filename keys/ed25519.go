package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"

	"github.com/openbtps/btps-go/internal/btpserr"
)

type ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a new Ed25519 agent keypair.
func GenerateEd25519KeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "generate ed25519 keypair")
	}
	return &ed25519KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         idFromHash(sha256.Sum256(pub)),
	}, nil
}

func (kp *ed25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *ed25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *ed25519KeyPair) Algorithm() Algorithm          { return AlgorithmEd25519 }
func (kp *ed25519KeyPair) ID() string                    { return kp.id }

func (kp *ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

func (kp *ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return btpserr.New(btpserr.SignatureVerificationFailed, "ed25519 signature verification failed")
	}
	return nil
}
