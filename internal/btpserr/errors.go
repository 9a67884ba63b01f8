// Package btpserr defines the BTPS error taxonomy: a single typed error
// shape shared by every component, with one Kind per failure condition the
// protocol distinguishes.
package btpserr

import "fmt"

// Kind enumerates the distinct failure conditions a BTPS component can
// report. Each Kind carries a fixed retry classification.
type Kind string

const (
	InvalidIdentity              Kind = "InvalidIdentity"
	ResolveDNS                   Kind = "ResolveDns"
	InvalidHostname              Kind = "InvalidHostname"
	UnsupportedProtocol          Kind = "UnsupportedProtocol"
	ResolvePubkey                Kind = "ResolvePubkey"
	Validation                   Kind = "Validation"
	SignatureFingerprintMismatch Kind = "SignatureFingerprintMismatch"
	SignatureVerificationFailed  Kind = "SignatureVerificationFailed"
	UnsupportedEncrypt           Kind = "UnsupportedEncrypt"
	DecryptionUnintended         Kind = "DecryptionUnintended"
	Unknown                      Kind = "Unknown"
	TrustAlreadyActive           Kind = "TrustAlreadyActive"
	TrustBlocked                 Kind = "TrustBlocked"
	TrustNotAllowed              Kind = "TrustNotAllowed"
	ConnectionTimeout            Kind = "ConnectionTimeout"
	ConnectionEndedEarly         Kind = "ConnectionEndedEarly"
	SyntaxError                  Kind = "SyntaxError"
	Destroyed                    Kind = "Destroyed"
	AuthenticationInvalid        Kind = "AuthenticationInvalid"
	MaxConnectionsReached        Kind = "MaxConnectionsReached"
	ConnectionAlreadyExists      Kind = "ConnectionAlreadyExists"
	AlreadyConnecting            Kind = "AlreadyConnecting"
)

// retryable holds the spec's retry classification. Kinds absent from this
// map are non-retryable.
var retryable = map[Kind]bool{
	ConnectionTimeout:    true,
	ConnectionEndedEarly: true,
}

// Error is the shape every BTPS component returns: a Kind, a human message,
// an optional wrapped cause, and structured context in Meta.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Meta    map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this error's Kind is in the retry class that
// permits a Connection Engine to reattempt.
func (e *Error) Retryable() bool { return retryable[e.Kind] }

// New creates an Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithMeta attaches structured context and returns the same *Error for
// chaining at the call site.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if e, ok := err.(*Error); ok {
		be = e
	} else {
		return false
	}
	return be.Kind == kind
}

// IsRetryable reports whether err is a *Error whose Kind permits retry.
func IsRetryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Retryable()
}
