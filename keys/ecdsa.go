package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"

	"github.com/openbtps/btps-go/internal/btpserr"
)

type ecdsaKeyPair struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	id         string
}

// GenerateECDSAKeyPair generates a new P-256 ECDSA agent keypair.
func GenerateECDSAKeyPair() (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "generate ecdsa keypair")
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "marshal ecdsa public key")
	}
	return &ecdsaKeyPair{
		privateKey: priv,
		publicKey:  &priv.PublicKey,
		id:         idFromHash(sha256.Sum256(der)),
	}, nil
}

func (kp *ecdsaKeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *ecdsaKeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *ecdsaKeyPair) Algorithm() Algorithm          { return AlgorithmECDSAP256 }
func (kp *ecdsaKeyPair) ID() string                    { return kp.id }

func (kp *ecdsaKeyPair) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, kp.privateKey, hash[:])
	if err != nil {
		return nil, btpserr.Wrap(btpserr.Unknown, err, "sign with ecdsa key")
	}
	return sig, nil
}

func (kp *ecdsaKeyPair) Verify(message, signature []byte) error {
	hash := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(kp.publicKey, hash[:], signature) {
		return btpserr.New(btpserr.SignatureVerificationFailed, "ecdsa signature verification failed")
	}
	return nil
}
