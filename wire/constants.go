package wire

import "time"

// Protocol-wide defaults, spec §6.
const (
	ProtocolVersion             = "1.0.0"
	DefaultMaxConnections       = 100
	DefaultConnectionTTLSeconds = 300
	DefaultPort                 = 3443
	DefaultSelector             = "btps1"

	DefaultMaxRetries     = 5
	DefaultRetryDelay     = time.Second
	DefaultConnTimeout    = 30 * time.Second
	DefaultAuthTokenTTL   = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// ArtifactType enumerates the Transporter Artifact's `type` field.
type ArtifactType string

const (
	ArtifactTrustRequest ArtifactType = "TRUST_REQ"
	ArtifactTrustResult  ArtifactType = "TRUST_RES"
	ArtifactDocument     ArtifactType = "BTPS_DOC"
)

// ResponseType enumerates the Server Response's `type` field.
type ResponseType string

const (
	ResponseOK    ResponseType = "btps_response"
	ResponseError ResponseType = "btps_error"
)

// AgentAction enumerates the Agent Artifact's `action` field.
type AgentAction string

const (
	ActionTrustRequest AgentAction = "trust.request"
	ActionTrustRespond AgentAction = "trust.respond"
	ActionTrustUpdate  AgentAction = "trust.update"
	ActionTrustDelete  AgentAction = "trust.delete"
	ActionArtifactSend AgentAction = "artifact.send"
	ActionAuthRequest  AgentAction = "auth.request"
	ActionAuthRefresh  AgentAction = "auth.refresh"
	ActionSystemPing   AgentAction = "system.ping"
)

// TrustActions are actions that build a Transporter Artifact first.
var TrustActions = map[AgentAction]bool{
	ActionTrustRequest: true,
	ActionTrustRespond: true,
	ActionTrustUpdate:  true,
	ActionTrustDelete:  true,
	ActionArtifactSend: true,
}

// ArtifactTypeFor maps an action to the Transporter Artifact type it
// produces, per spec §4.5 step 2.
func ArtifactTypeFor(action AgentAction) (ArtifactType, bool) {
	switch action {
	case ActionTrustRequest:
		return ArtifactTrustRequest, true
	case ActionTrustRespond, ActionTrustUpdate, ActionTrustDelete:
		return ArtifactTrustResult, true
	case ActionArtifactSend:
		return ArtifactDocument, true
	default:
		return "", false
	}
}

// TrustGated reports whether action requires an active trust record between
// the parties (spec §3 invariants: everything except auth.* and
// system.ping).
func TrustGated(action AgentAction) bool {
	switch action {
	case ActionAuthRequest, ActionAuthRefresh, ActionSystemPing:
		return false
	default:
		return true
	}
}

// DocumentRequired reports whether action requires a non-nil document.
func DocumentRequired(action AgentAction) bool {
	switch action {
	case ActionTrustRequest, ActionTrustRespond, ActionTrustUpdate, ActionTrustDelete,
		ActionArtifactSend, ActionAuthRequest, ActionAuthRefresh:
		return true
	default:
		return false
	}
}
