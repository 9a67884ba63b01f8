package wire

import "encoding/json"

// SignView returns the value this artifact's signature is computed over:
// every field except Signature and Delegation, in the struct's declared
// field order. Both sign and verify paths MUST build the same view —
// reordering these fields changes every signature on the wire (spec §9).
func (a *TransporterArtifact) SignView() any {
	return struct {
		Version    string           `json:"version"`
		ID         string           `json:"id"`
		IssuedAt   string           `json:"issued_at"`
		From       string           `json:"from"`
		To         string           `json:"to"`
		Type       ArtifactType     `json:"type"`
		Document   json.RawMessage  `json:"document"`
		Encryption *EncryptionBlock `json:"encryption"`
		Selector   string           `json:"selector"`
	}{
		Version:    a.Version,
		ID:         a.ID,
		IssuedAt:   a.IssuedAt,
		From:       a.From,
		To:         a.To,
		Type:       a.Type,
		Document:   a.Document,
		Encryption: a.Encryption,
		Selector:   a.Selector,
	}
}

// SignViewWithDelegation returns the view signed when a Delegation is being
// attached: {artifact-without-signature-or-delegation, delegation}. Used by
// the delegation package's SaaS-signs and user-signs flows.
func (a *TransporterArtifact) SignViewWithDelegation(d *Delegation) any {
	return struct {
		Artifact   any         `json:"artifact"`
		Delegation *Delegation `json:"delegation"`
	}{
		Artifact:   a.SignView(),
		Delegation: d,
	}
}

// SignView returns the value an AgentArtifact's signature is computed over.
func (a *AgentArtifact) SignView() any {
	return struct {
		Version    string           `json:"version"`
		ID         string           `json:"id"`
		IssuedAt   string           `json:"issued_at"`
		To         string           `json:"to"`
		AgentID    string           `json:"agent_id"`
		Action     AgentAction      `json:"action"`
		Document   json.RawMessage  `json:"document,omitempty"`
		Encryption *EncryptionBlock `json:"encryption"`
	}{
		Version:    a.Version,
		ID:         a.ID,
		IssuedAt:   a.IssuedAt,
		To:         a.To,
		AgentID:    a.AgentID,
		Action:     a.Action,
		Document:   a.Document,
		Encryption: a.Encryption,
	}
}

// SignView returns the value a ServerResponse's signature is computed over.
func (r *ServerResponse) SignView() any {
	return struct {
		Version    string           `json:"version"`
		ID         string           `json:"id"`
		IssuedAt   string           `json:"issued_at"`
		Type       ResponseType     `json:"type"`
		Status     ResponseStatus   `json:"status"`
		ReqID      string           `json:"req_id,omitempty"`
		Document   json.RawMessage  `json:"document,omitempty"`
		Encryption *EncryptionBlock `json:"encryption,omitempty"`
		SignedBy   string           `json:"signed_by,omitempty"`
		Selector   string           `json:"selector,omitempty"`
	}{
		Version:    r.Version,
		ID:         r.ID,
		IssuedAt:   r.IssuedAt,
		Type:       r.Type,
		Status:     r.Status,
		ReqID:      r.ReqID,
		Document:   r.Document,
		Encryption: r.Encryption,
		SignedBy:   r.SignedBy,
		Selector:   r.Selector,
	}
}

// DelegationSignView returns the value a Delegation's own signature (signed
// by the issuing principal) is computed over: every field except Signature
// and Attestation.
func (d *Delegation) DelegationSignView() any {
	return struct {
		AgentID     string `json:"agent_id"`
		AgentPubKey string `json:"agent_pub_key"`
		SignedBy    string `json:"signed_by"`
		IssuedAt    string `json:"issued_at"`
		Selector    string `json:"selector"`
	}{
		AgentID:     d.AgentID,
		AgentPubKey: d.AgentPubKey,
		SignedBy:    d.SignedBy,
		IssuedAt:    d.IssuedAt,
		Selector:    d.Selector,
	}
}

// AttestationSignView returns the value an Attestation's signature is
// computed over: {delegation, attestation-without-signature}.
func AttestationSignView(d *Delegation, signedBy, issuedAt, selector string) any {
	return struct {
		Delegation  any `json:"delegation"`
		Attestation any `json:"attestation"`
	}{
		Delegation: d.DelegationSignView(),
		Attestation: struct {
			SignedBy string `json:"signed_by"`
			IssuedAt string `json:"issued_at"`
			Selector string `json:"selector"`
		}{SignedBy: signedBy, IssuedAt: issuedAt, Selector: selector},
	}
}
