package keys_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbtps/btps-go/keys"
)

func TestEd25519SignVerify(t *testing.T) {
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	msg := []byte("hello btps")

	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, kp.Verify(msg, sig))
	require.Error(t, kp.Verify([]byte("tampered"), sig))
}

func TestECDSASignVerify(t *testing.T) {
	kp, err := keys.GenerateECDSAKeyPair()
	require.NoError(t, err)
	msg := []byte("hello btps")

	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, kp.Verify(msg, sig))
	require.Error(t, kp.Verify([]byte("tampered"), sig))
}

func TestSecp256k1SignVerify(t *testing.T) {
	kp, err := keys.GenerateSecp256k1KeyPair()
	require.NoError(t, err)
	msg := []byte("hello btps")

	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, kp.Verify(msg, sig))
	require.Error(t, kp.Verify([]byte("tampered"), sig))
}

func TestX25519CannotSign(t *testing.T) {
	kp, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	_, err = kp.Sign([]byte("anything"))
	require.Error(t, err)
	require.Error(t, kp.Verify([]byte("a"), []byte("b")))
}

func TestKeyIDsAreStable(t *testing.T) {
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.NotEmpty(t, kp.ID())
	require.Equal(t, kp.ID(), kp.ID())
}
