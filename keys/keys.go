// Package keys generates and wraps ephemeral agent keypairs; its caller in
// this module is the btpsctl keygen command, and the delegation package
// does not use it. Principal identities always sign with RSA (see the envelope
// package); these types cover the Ed25519/ECDSA/secp256k1/X25519 key
// material an agent may hold independently of its principal's RSA key.
package keys

import (
	"crypto"
	"encoding/hex"
)

// Algorithm identifies an agent keypair's signing algorithm.
type Algorithm string

const (
	AlgorithmEd25519   Algorithm = "Ed25519"
	AlgorithmECDSAP256 Algorithm = "ECDSA-P256"
	AlgorithmSecp256k1 Algorithm = "Secp256k1"
	AlgorithmX25519    Algorithm = "X25519"
)

// KeyPair is the common interface every agent keypair implements. X25519
// keys are key-agreement only; Sign/Verify on an X25519 pair always returns
// an error.
type KeyPair interface {
	PublicKey() crypto.PublicKey
	PrivateKey() crypto.PrivateKey
	Algorithm() Algorithm
	Sign(message []byte) ([]byte, error)
	Verify(message, signature []byte) error
	ID() string
}

// idFromHash renders the first 8 bytes of a SHA-256 digest as a hex id,
// matching the teacher's key-id derivation.
func idFromHash(sum [32]byte) string {
	return hex.EncodeToString(sum[:8])
}
