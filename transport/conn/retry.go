package conn

import (
	"errors"
	"strings"

	"github.com/openbtps/btps-go/internal/btpserr"
)

// nonRetryablePhrases are matched case-insensitively against an error's
// message; a match marks the error class as non-retryable regardless of
// the attempt/retry counters (spec §4.4). A *btpserr.Error whose Kind names
// one of these classes (InvalidHostname, ResolveDns, ...) is non-retryable
// too, since its rendered kind carries no spaces to match a phrase.
var nonRetryablePhrases = []string{
	"invalid identity",
	"invalid btpaddress",
	"invalid hostname",
	"unsupported protocol",
	"signature verification failed",
	"destroyed",
	"dns resolution failed",
	"client disconnected after inactivity",
	"already connecting",
}

func isNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var be *btpserr.Error
	if errors.As(err, &be) {
		switch be.Kind {
		case btpserr.InvalidIdentity, btpserr.InvalidHostname, btpserr.UnsupportedProtocol,
			btpserr.SignatureVerificationFailed, btpserr.Destroyed, btpserr.ResolveDNS,
			btpserr.AlreadyConnecting:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range nonRetryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// willRetry implements the spec's retry decision:
//
//	will_retry = retries < max_retries
//	          && !destroyed
//	          && !syntax_error
//	          && !is_non_retryable(err)
//	          && should_retry
func willRetry(retries, maxRetries int, destroyed, syntaxError, shouldRetry bool, err error) bool {
	if destroyed || syntaxError || !shouldRetry {
		return false
	}
	if retries >= maxRetries {
		return false
	}
	if isNonRetryable(err) {
		return false
	}
	return true
}
