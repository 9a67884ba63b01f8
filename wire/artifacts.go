package wire

import "encoding/json"

// Signature is the detached RSA signature carried by every signed artifact.
type Signature struct {
	AlgorithmHash string `json:"algorithm_hash"`
	Value         string `json:"value"`
	Fingerprint   string `json:"fingerprint"`
}

// EncryptionType enumerates the Encryption block's `type` field.
type EncryptionType string

const (
	EncryptStandard EncryptionType = "standardEncrypt"
	Encrypt2FA      EncryptionType = "2faEncrypt"
	EncryptNone     EncryptionType = "none"
)

// EncryptionAlgorithm enumerates the two incompatible on-wire AES variants
// (spec §9 Open Question — CBC and GCM must never be mixed).
type EncryptionAlgorithm string

const (
	AlgorithmAESGCM EncryptionAlgorithm = "aes-256-gcm"
	AlgorithmAESCBC EncryptionAlgorithm = "aes-256-cbc"
)

// EncryptionBlock describes how Document was hybrid-encrypted.
type EncryptionBlock struct {
	Algorithm    EncryptionAlgorithm `json:"algorithm"`
	EncryptedKey string              `json:"encrypted_key"`
	IV           string              `json:"iv"`
	AuthTag      string              `json:"auth_tag,omitempty"`
	Type         EncryptionType      `json:"type"`
}

// Delegation binds an agent's ephemeral key to a principal identity.
type Delegation struct {
	AgentID      string       `json:"agent_id"`
	AgentPubKey  string       `json:"agent_pub_key"`
	SignedBy     string       `json:"signed_by"`
	Signature    Signature    `json:"signature"`
	IssuedAt     string       `json:"issued_at"`
	Selector     string       `json:"selector"`
	Attestation  *Attestation `json:"attestation,omitempty"`
}

// Attestation is a second signature over a Delegation, issued by a SaaS
// identity attesting that a user-signed delegation is genuine.
type Attestation struct {
	SignedBy  string    `json:"signed_by"`
	IssuedAt  string    `json:"issued_at"`
	Signature Signature `json:"signature"`
	Selector  string    `json:"selector"`
}

// TransporterArtifact is the end-to-end envelope carrying a business
// document between two identities. Document is either a json.RawMessage
// object (encryption == nil) or a base64 ciphertext string (encryption !=
// nil) — callers decode it according to the declared Type once verified.
type TransporterArtifact struct {
	Version    string           `json:"version"`
	ID         string           `json:"id"`
	IssuedAt   string           `json:"issued_at"`
	From       string           `json:"from"`
	To         string           `json:"to"`
	Type       ArtifactType     `json:"type"`
	Document   json.RawMessage  `json:"document"`
	Signature  *Signature       `json:"signature,omitempty"`
	Encryption *EncryptionBlock `json:"encryption"`
	Selector   string           `json:"selector"`
	Delegation *Delegation      `json:"delegation,omitempty"`
}

// AgentArtifact is the hop-to-hop envelope from an agent to its principal's
// server, usually wrapping a TransporterArtifact in Document.
type AgentArtifact struct {
	Version    string           `json:"version"`
	ID         string           `json:"id"`
	IssuedAt   string           `json:"issued_at"`
	To         string           `json:"to"`
	AgentID    string           `json:"agent_id"`
	Action     AgentAction      `json:"action"`
	Document   json.RawMessage  `json:"document,omitempty"`
	Signature  *Signature       `json:"signature,omitempty"`
	Encryption *EncryptionBlock `json:"encryption"`
}

// IdentityLookupRequest is an unsigned control frame used to ask a peer
// server to resolve an identity on the caller's behalf.
type IdentityLookupRequest struct {
	Version          string `json:"version"`
	ID               string `json:"id"`
	IssuedAt         string `json:"issued_at"`
	Identity         string `json:"identity"`
	From             string `json:"from"`
	HostSelector     string `json:"host_selector"`
	IdentitySelector string `json:"identity_selector,omitempty"`
}

// ResponseStatus carries a Server Response's status block.
type ResponseStatus struct {
	OK      bool   `json:"ok"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// ServerResponse is returned by a peer server in reply to an Agent
// Artifact.
type ServerResponse struct {
	Version    string           `json:"version"`
	ID         string           `json:"id"`
	IssuedAt   string           `json:"issued_at"`
	Type       ResponseType     `json:"type"`
	Status     ResponseStatus   `json:"status"`
	ReqID      string           `json:"req_id,omitempty"`
	Document   json.RawMessage  `json:"document,omitempty"`
	Signature  *Signature       `json:"signature,omitempty"`
	Encryption *EncryptionBlock `json:"encryption,omitempty"`
	SignedBy   string           `json:"signed_by,omitempty"`
	Selector   string           `json:"selector,omitempty"`
}

// IsSigned reports whether the response carries a signature or encryption
// block and therefore requires verification (spec §4.5 process_message).
func (r *ServerResponse) IsSigned() bool {
	return r.Signature != nil || r.Encryption != nil
}
