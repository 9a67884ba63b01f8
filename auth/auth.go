// Package auth implements Authentication (spec §4.7): auth-token issuance
// and validation, agent registration, and refresh-token rotation. It holds
// no sockets — every operation here is invoked by a server handling a
// signed agent artifact, and the caller is responsible for wrapping the
// returned document in a Server Response.
package auth

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"time"

	"github.com/openbtps/btps-go/envelope"
	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/internal/logger"
	"github.com/openbtps/btps-go/internal/metrics"
	"github.com/openbtps/btps-go/wire"

	"github.com/google/uuid"
)

// TokenRecord is one stored auth or refresh token, as persisted by a
// TokenStore implementation (spec §6 Token Store interface).
type TokenRecord struct {
	Token        string
	AgentID      string
	UserIdentity string
	ExpiresAt    time.Time
	Metadata     map[string]any
}

// TokenStore is the token persistence interface Authenticator consumes;
// implementations live outside this module (spec §6).
type TokenStore interface {
	Store(record TokenRecord) error
	Get(agentID, token string) (*TokenRecord, error)
	Remove(agentID, token string) error
	Cleanup() error
}

// AuthResponseDocument is the payload returned by create_agent and
// validate_and_reissue_refresh_token, carried in an Agent Artifact's
// document field by the caller.
type AuthResponseDocument struct {
	AgentID      string `json:"agent_id"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	DecryptBy    string `json:"decrypt_by"`
}

// CreateAgentRequest carries create_agent's input fields.
type CreateAgentRequest struct {
	UserIdentity wire.Identity
	PublicKeyPEM string
	AgentInfo    map[string]any
	DecidedBy    string
}

// RefreshUpdate carries validate_and_reissue_refresh_token's update fields.
type RefreshUpdate struct {
	DecryptBy    string
	DecidedBy    string
	PublicKeyPEM string
	AgentInfo    map[string]any
}

// Authenticator issues and validates tokens and agent trust records on
// behalf of serverIdentity, grounded on the teacher's did.Manager
// constructor-injected-dependency style: every collaborator (token store,
// trust store) is passed in explicitly, with no ambient globals.
type Authenticator struct {
	serverIdentity wire.Identity
	tokens         TokenStore
	trust          wire.Store
	log            logger.Logger
}

// New constructs an Authenticator for serverIdentity.
func New(serverIdentity wire.Identity, tokens TokenStore, trust wire.Store) *Authenticator {
	return &Authenticator{
		serverIdentity: serverIdentity,
		tokens:         tokens,
		trust:          trust,
		log:            logger.Default(),
	}
}

// GenerateAuthToken issues a short-lived auth token for identity, storing
// it via the token store with the server's identity, purpose, and
// requester recorded in metadata. Default TTL is 15 minutes (spec §4.7).
func (a *Authenticator) GenerateAuthToken(ctx context.Context, identity wire.Identity, purpose, requestedBy string) (string, error) {
	token, err := envelope.GenerateIdentityToken(identity.String())
	if err != nil {
		return "", err
	}
	record := TokenRecord{
		Token:        token,
		UserIdentity: identity.String(),
		ExpiresAt:    time.Now().Add(wire.DefaultAuthTokenTTL),
		Metadata: map[string]any{
			"issued_by_server_identity": a.serverIdentity.String(),
			"purpose":                   purpose,
			"requested_by":              requestedBy,
		},
	}
	if err := a.tokens.Store(record); err != nil {
		return "", err
	}
	metrics.AuthTokensIssued.Inc()
	return token, nil
}

// ValidateAuthToken reports whether token was issued for principalIdentity
// and has not expired (spec §4.7).
func (a *Authenticator) ValidateAuthToken(ctx context.Context, principalIdentity wire.Identity, token string) (bool, error) {
	record, err := a.tokens.Get("", token)
	if err != nil {
		metrics.TokenValidations.WithLabelValues("invalid").Inc()
		return false, err
	}
	valid := record != nil &&
		record.UserIdentity == principalIdentity.String() &&
		time.Now().Before(record.ExpiresAt)
	if valid {
		metrics.TokenValidations.WithLabelValues("valid").Inc()
	} else {
		metrics.TokenValidations.WithLabelValues("invalid").Inc()
	}
	return valid, nil
}

// CreateAgent issues a trust record binding req's public key to
// req.UserIdentity and mints a refresh token for the resulting agent,
// signed (at the caller's layer) by signedBy. Default refresh-token TTL is
// 7 days (spec §4.7).
func (a *Authenticator) CreateAgent(ctx context.Context, req CreateAgentRequest, signedBy wire.Identity) (*AuthResponseDocument, error) {
	pub, err := envelope.ParseRSAPublicKeyPEM(req.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	fingerprint, err := envelope.Fingerprint(pub)
	if err != nil {
		return nil, err
	}

	trustID := wire.ComputeTrustID(req.UserIdentity.String(), a.serverIdentity.String())
	now := time.Now()
	record := &wire.TrustRecord{
		SenderID:             req.UserIdentity.String(),
		ReceiverID:           a.serverIdentity.String(),
		Status:               wire.TrustAccepted,
		CreatedAt:            now,
		DecidedBy:            req.DecidedBy,
		DecidedAt:            now,
		PublicKeyBase64:      publicKeyB64(req.PublicKeyPEM),
		PublicKeyFingerprint: fingerprint,
	}
	if _, err := a.trust.Create(record, trustID); err != nil {
		return nil, err
	}

	agentID := uuid.NewString()
	refreshToken, err := envelope.GenerateIdentityToken(agentID)
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(wire.DefaultRefreshTokenTTL)
	if err := a.tokens.Store(TokenRecord{
		Token:        refreshToken,
		AgentID:      agentID,
		UserIdentity: req.UserIdentity.String(),
		ExpiresAt:    expiresAt,
		Metadata:     map[string]any{"agent_info": req.AgentInfo, "trust_id": trustID},
	}); err != nil {
		return nil, err
	}

	metrics.RefreshTokensIssued.WithLabelValues("register").Inc()
	return &AuthResponseDocument{
		AgentID:      agentID,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt.UTC().Format(time.RFC3339),
		DecryptBy:    signedBy.String(),
	}, nil
}

// ValidateAndReissueRefreshToken verifies and rotates agentID's refresh
// token, applying update to the agent's trust record when new key material
// is supplied (spec §4.7).
func (a *Authenticator) ValidateAndReissueRefreshToken(ctx context.Context, agentID, token string, update RefreshUpdate) (*AuthResponseDocument, error) {
	record, err := a.tokens.Get(agentID, token)
	if err != nil {
		return nil, err
	}
	if record == nil || time.Now().After(record.ExpiresAt) {
		return nil, btpserr.New(btpserr.AuthenticationInvalid, "refresh token is invalid or expired")
	}

	if err := a.tokens.Remove(agentID, token); err != nil {
		return nil, err
	}

	if update.PublicKeyPEM != "" {
		trustID, _ := record.Metadata["trust_id"].(string)
		if trustID == "" {
			trustID = wire.ComputeTrustID(record.UserIdentity, a.serverIdentity.String())
		}
		pub, err := envelope.ParseRSAPublicKeyPEM(update.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		fingerprint, err := envelope.Fingerprint(pub)
		if err != nil {
			return nil, err
		}
		patch := map[string]any{
			"public_key_base64":     publicKeyB64(update.PublicKeyPEM),
			"public_key_fingerprint": fingerprint,
			"decided_by":            update.DecidedBy,
			"decided_at":            time.Now(),
		}
		if _, err := a.trust.Update(trustID, patch); err != nil {
			return nil, err
		}
	}

	newToken, err := envelope.GenerateIdentityToken(agentID)
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(wire.DefaultRefreshTokenTTL)
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if update.AgentInfo != nil {
		metadata["agent_info"] = update.AgentInfo
	}
	if err := a.tokens.Store(TokenRecord{
		Token:        newToken,
		AgentID:      agentID,
		UserIdentity: record.UserIdentity,
		ExpiresAt:    expiresAt,
		Metadata:     metadata,
	}); err != nil {
		return nil, err
	}

	metrics.RefreshTokensIssued.WithLabelValues("reissue").Inc()
	decryptBy := update.DecryptBy
	if decryptBy == "" {
		decryptBy = a.serverIdentity.String()
	}
	return &AuthResponseDocument{
		AgentID:      agentID,
		RefreshToken: newToken,
		ExpiresAt:    expiresAt.UTC().Format(time.RFC3339),
		DecryptBy:    decryptBy,
	}, nil
}

// publicKeyB64 normalizes a PEM-encoded public key down to the base64 DER
// bytes the trust record stores, mirroring the resolver's `p=` TXT field.
func publicKeyB64(pemStr string) string {
	pub, err := envelope.ParseRSAPublicKeyPEM(pemStr)
	if err != nil {
		return ""
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(der)
}
