// Package wire defines the BTPS wire schema: identities, signature and
// encryption blocks, transporter and agent artifacts, and the trust record
// shape consumed through an external store. Field order in every struct is
// the canonicalization this module signs over (spec §9) — never reorder a
// struct's fields without also bumping every signature this would break.
package wire

import (
	"strings"

	"github.com/openbtps/btps-go/internal/btpserr"
)

// Identity is a parsed "account$domain" address.
type Identity struct {
	Account string
	Domain  string
	raw     string
}

// String returns the original "account$domain" form.
func (id Identity) String() string {
	if id.raw != "" {
		return id.raw
	}
	return id.Account + "$" + id.Domain
}

// ParseIdentity parses "account$domain" into its parts. Neither part may be
// empty and domain must contain a dot.
func ParseIdentity(s string) (Identity, error) {
	idx := strings.IndexByte(s, '$')
	if idx <= 0 || idx == len(s)-1 {
		return Identity{}, btpserr.Newf(btpserr.InvalidIdentity, "malformed identity %q", s)
	}
	account, domain := s[:idx], s[idx+1:]
	if account == "" || domain == "" {
		return Identity{}, btpserr.Newf(btpserr.InvalidIdentity, "malformed identity %q", s)
	}
	if !strings.Contains(domain, ".") {
		return Identity{}, btpserr.Newf(btpserr.InvalidIdentity, "domain %q has no dot", domain)
	}
	return Identity{Account: account, Domain: domain, raw: s}, nil
}

// MustParseIdentity parses s or panics. Intended for tests and constants.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}
