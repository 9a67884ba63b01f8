package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"strings"
	"time"

	"github.com/openbtps/btps-go/internal/btpserr"
)

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// GenerateIdentityToken derives a short, unguessable token bound to
// identity: it hashes the identity together with a high-resolution
// timestamp and 4 random bytes, then projects the digest onto Crockford
// base-32 and clamps the result to [8,24] characters (spec §4.2).
func GenerateIdentityToken(identity string) (string, error) {
	if identity == "" {
		return "", btpserr.New(btpserr.Validation, "identity must not be empty")
	}
	nonce := make([]byte, 4)
	if _, err := rand.Read(nonce); err != nil {
		return "", btpserr.Wrap(btpserr.Unknown, err, "read random nonce")
	}
	material := make([]byte, 0, len(identity)+8+len(nonce))
	material = append(material, identity...)
	material = appendUint64(material, uint64(time.Now().UnixNano()))
	material = append(material, nonce...)

	sum := sha256.Sum256(material)
	token := crockfordEncode(sum[:])
	if len(token) > 24 {
		token = token[:24]
	}
	for len(token) < 8 {
		token += "0"
	}
	return token, nil
}

func appendUint64(dst []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		dst = append(dst, byte(v>>(56-8*i)))
	}
	return dst
}

// crockfordEncode projects b onto the Crockford base-32 alphabet, 5 bits at
// a time, without padding.
func crockfordEncode(b []byte) string {
	var sb strings.Builder
	var buf uint32
	var bits int
	for _, c := range b {
		buf = buf<<8 | uint32(c)
		bits += 8
		for bits >= 5 {
			bits -= 5
			idx := (buf >> uint(bits)) & 0x1f
			sb.WriteByte(crockfordAlphabet[idx])
		}
	}
	if bits > 0 {
		idx := (buf << uint(5-bits)) & 0x1f
		sb.WriteByte(crockfordAlphabet[idx])
	}
	return sb.String()
}
