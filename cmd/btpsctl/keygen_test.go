package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbtps/btps-go/keys"
)

func TestEncodeKeyPairHexEd25519(t *testing.T) {
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	privHex, pubHex, err := encodeKeyPairHex(kp)
	require.NoError(t, err)
	require.Len(t, privHex, 128) // 64 bytes
	require.Len(t, pubHex, 64)   // 32 bytes
}

func TestEncodeKeyPairHexECDSA(t *testing.T) {
	kp, err := keys.GenerateECDSAKeyPair()
	require.NoError(t, err)

	privHex, pubHex, err := encodeKeyPairHex(kp)
	require.NoError(t, err)
	require.NotEmpty(t, privHex)
	require.NotEmpty(t, pubHex)
}

func TestEncodeKeyPairHexSecp256k1(t *testing.T) {
	kp, err := keys.GenerateSecp256k1KeyPair()
	require.NoError(t, err)

	privHex, pubHex, err := encodeKeyPairHex(kp)
	require.NoError(t, err)
	require.Len(t, privHex, 64) // 32 bytes
	require.NotEmpty(t, pubHex)
}

func TestEncodeKeyPairHexX25519(t *testing.T) {
	kp, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	privHex, pubHex, err := encodeKeyPairHex(kp)
	require.NoError(t, err)
	require.Len(t, privHex, 64)
	require.Len(t, pubHex, 64)
}

func TestWriteOrPrintWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, writeOrPrint(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestRunKeygenRSAWritesKeyFiles(t *testing.T) {
	dir := t.TempDir()
	keygenAlgo = "rsa"
	keygenBits = 2048
	keygenOutPriv = filepath.Join(dir, "priv.pem")
	keygenOutPub = filepath.Join(dir, "pub.pem")
	defer func() {
		keygenAlgo, keygenOutPriv, keygenOutPub = "rsa", "", ""
	}()

	require.NoError(t, runKeygenRSA())

	priv, err := os.ReadFile(keygenOutPriv)
	require.NoError(t, err)
	require.Contains(t, string(priv), "PRIVATE KEY")

	pub, err := os.ReadFile(keygenOutPub)
	require.NoError(t, err)
	require.Contains(t, string(pub), "PUBLIC KEY")
}
