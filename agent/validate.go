package agent

import (
	"github.com/openbtps/btps-go/internal/btpserr"
	"github.com/openbtps/btps-go/wire"
)

// validateCommand implements spec §4.5 step 1: checks (action, to, document,
// crypto_opts) against the action's schema before anything is built or
// sent. auth.request always travels in cleartext-document form, so a
// caller-requested encryption is stripped rather than rejected.
func validateCommand(opts *CommandOptions) error {
	if opts.Action == "" {
		return btpserr.New(btpserr.Validation, "command requires an action")
	}
	if _, ok := wire.ArtifactTypeFor(opts.Action); !ok && wire.TrustActions[opts.Action] {
		return btpserr.Newf(btpserr.Validation, "action %q has no transporter artifact mapping", opts.Action)
	}
	if opts.To.Domain == "" {
		return btpserr.New(btpserr.InvalidIdentity, "command requires a receiver identity")
	}
	if wire.DocumentRequired(opts.Action) && opts.Document == nil {
		return btpserr.Newf(btpserr.Validation, "action %q requires a document", opts.Action)
	}
	if opts.Action == wire.ActionAuthRequest && opts.Encrypt {
		opts.Encrypt = false
	}
	return nil
}
