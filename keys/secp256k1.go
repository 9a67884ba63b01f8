package keys

import (
	"crypto"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/openbtps/btps-go/internal/btpserr"
)

type secp256k1KeyPair struct {
	privateKey *secp256k1.PrivateKey
	publicKey  *secp256k1.PublicKey
	id         string
}

// GenerateSecp256k1KeyPair generates a new secp256k1 agent keypair.
func GenerateSecp256k1KeyPair() (KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "generate secp256k1 keypair")
	}
	pub := priv.PubKey()
	return &secp256k1KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         idFromHash(sha256.Sum256(pub.SerializeCompressed())),
	}, nil
}

func (kp *secp256k1KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *secp256k1KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *secp256k1KeyPair) Algorithm() Algorithm          { return AlgorithmSecp256k1 }
func (kp *secp256k1KeyPair) ID() string                    { return kp.id }

func (kp *secp256k1KeyPair) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	sig := dcrecdsa.Sign(kp.privateKey, hash[:])
	return sig.Serialize(), nil
}

func (kp *secp256k1KeyPair) Verify(message, signature []byte) error {
	hash := sha256.Sum256(message)
	sig, err := dcrecdsa.ParseDERSignature(signature)
	if err != nil {
		return btpserr.Wrap(btpserr.SignatureVerificationFailed, err, "parse secp256k1 signature")
	}
	if !sig.Verify(hash[:], kp.publicKey) {
		return btpserr.New(btpserr.SignatureVerificationFailed, "secp256k1 signature verification failed")
	}
	return nil
}
