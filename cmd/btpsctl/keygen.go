package main

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spf13/cobra"

	"github.com/openbtps/btps-go/keys"
)

var (
	keygenAlgo    string
	keygenBits    int
	keygenOutPriv string
	keygenOutPub  string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key pair",
	Long: `Keygen generates key material. "rsa" (the default) produces the
PKCS#8 private key and SPKI public key PEM pair a BTPS identity publishes
and signs with. The other algorithms (ed25519, ecdsa, secp256k1, x25519)
generate the ephemeral, non-principal keys an agent may hold independently
of its identity's RSA key, printed as hex-encoded key material.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenAlgo, "algo", "rsa", "rsa, ed25519, ecdsa, secp256k1, or x25519")
	keygenCmd.Flags().IntVar(&keygenBits, "bits", 2048, "RSA key size in bits (--algo rsa only)")
	keygenCmd.Flags().StringVar(&keygenOutPriv, "out-priv", "", "write the private key here instead of stdout")
	keygenCmd.Flags().StringVar(&keygenOutPub, "out-pub", "", "write the public key here instead of stdout (--algo rsa only)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if keygenAlgo == "rsa" {
		return runKeygenRSA()
	}
	return runKeygenAgent()
}

func runKeygenRSA() error {
	priv, err := rsa.GenerateKey(rand.Reader, keygenBits)
	if err != nil {
		return fmt.Errorf("generate rsa key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := writeOrPrint(keygenOutPriv, privPEM); err != nil {
		return err
	}
	return writeOrPrint(keygenOutPub, pubPEM)
}

func writeOrPrint(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func runKeygenAgent() error {
	var (
		kp  keys.KeyPair
		err error
	)
	switch keygenAlgo {
	case "ed25519":
		kp, err = keys.GenerateEd25519KeyPair()
	case "ecdsa":
		kp, err = keys.GenerateECDSAKeyPair()
	case "secp256k1":
		kp, err = keys.GenerateSecp256k1KeyPair()
	case "x25519":
		kp, err = keys.GenerateX25519KeyPair()
	default:
		return fmt.Errorf("unsupported --algo %q", keygenAlgo)
	}
	if err != nil {
		return fmt.Errorf("generate %s keypair: %w", keygenAlgo, err)
	}

	privHex, pubHex, err := encodeKeyPairHex(kp)
	if err != nil {
		return err
	}

	out := struct {
		Algorithm  string `json:"algorithm"`
		ID         string `json:"id"`
		PrivateKey string `json:"private_key_hex"`
		PublicKey  string `json:"public_key_hex"`
	}{
		Algorithm:  string(kp.Algorithm()),
		ID:         kp.ID(),
		PrivateKey: privHex,
		PublicKey:  pubHex,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// encodeKeyPairHex renders kp's raw key material as hex, type-switching on
// the concrete crypto.PrivateKey/crypto.PublicKey the keys package returns
// for each algorithm.
func encodeKeyPairHex(kp keys.KeyPair) (privHex, pubHex string, err error) {
	switch priv := kp.PrivateKey().(type) {
	case ed25519.PrivateKey:
		privHex = hex.EncodeToString(priv)
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(priv)
		if err != nil {
			return "", "", fmt.Errorf("marshal ecdsa private key: %w", err)
		}
		privHex = hex.EncodeToString(der)
	case *secp256k1.PrivateKey:
		privHex = hex.EncodeToString(priv.Serialize())
	case *ecdh.PrivateKey:
		privHex = hex.EncodeToString(priv.Bytes())
	default:
		return "", "", fmt.Errorf("unsupported private key type %T", priv)
	}

	switch pub := kp.PublicKey().(type) {
	case ed25519.PublicKey:
		pubHex = hex.EncodeToString(pub)
	case *ecdsa.PublicKey:
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return "", "", fmt.Errorf("marshal ecdsa public key: %w", err)
		}
		pubHex = hex.EncodeToString(der)
	case *secp256k1.PublicKey:
		pubHex = hex.EncodeToString(pub.SerializeCompressed())
	case *ecdh.PublicKey:
		pubHex = hex.EncodeToString(pub.Bytes())
	default:
		return "", "", fmt.Errorf("unsupported public key type %T", pub)
	}
	return privHex, pubHex, nil
}
