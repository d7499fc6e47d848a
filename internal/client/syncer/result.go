package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/placesync/internal/errs"
)

// Outcome is how a cycle ended.
type Outcome int

const (
	OutcomeSynced Outcome = iota
	OutcomeBusy
	OutcomeNetworkError
	OutcomeReauthRequired
	OutcomeMalformedResponse
	OutcomeLocalStorageError
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSynced:
		return "synced"
	case OutcomeBusy:
		return "busy"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeReauthRequired:
		return "reauth_required"
	case OutcomeMalformedResponse:
		return "malformed_response"
	case OutcomeLocalStorageError:
		return "local_storage_error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result summarizes one cycle. Counts are zero unless Outcome is OutcomeSynced.
type Result struct {
	Outcome Outcome
	Err     error // cause of a failed cycle

	Pushed    int // local versions sent
	Pulled    int // authoritative versions received
	Applied   int // local rows written by the merge
	Conflicts int // concurrent edits settled, on either side

	ServerTime time.Time // new cursor
}

// OK reports whether the cycle completed.
func (r Result) OK() bool { return r.Outcome == OutcomeSynced }

// classify maps a cycle failure to its outcome.
func classify(err error) Outcome {
	var (
		ae *errs.AuthError
		me *errs.MalformedResponseError
		le *errs.LocalStorageError
	)
	switch {
	case errors.Is(err, errs.ErrBusy):
		return OutcomeBusy
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case errors.Is(err, errs.ErrReauthRequired), errors.As(err, &ae):
		return OutcomeReauthRequired
	case errors.As(err, &le):
		return OutcomeLocalStorageError
	case errors.As(err, &me):
		return OutcomeMalformedResponse
	default:
		return OutcomeNetworkError
	}
}
