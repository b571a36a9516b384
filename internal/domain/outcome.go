package domain

import (
	"encoding/json"

	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// Outcome is the result of submitting one queue item. It is one of
// Pending, Success or Failed.
type Outcome interface {
	outcome()
}

// Pending leaves the item queued for a later cycle.
type Pending struct {
	Err error
}

// Success marks the item synced. Response is the upstream acknowledgement.
type Success struct {
	Response json.RawMessage
}

// Failed marks the item failed; it is not retried until an operator asks.
type Failed struct {
	Reason string
}

func (Pending) outcome() {}
func (Success) outcome() {}
func (Failed) outcome()  {}

// OutcomeFromError classifies a remote call result. Permanent errors fail
// the item; everything else leaves it pending.
func OutcomeFromError(resp json.RawMessage, err error) Outcome {
	switch {
	case err == nil:
		return Success{Response: resp}
	case apperrors.IsPermanent(err):
		return Failed{Reason: err.Error()}
	default:
		return Pending{Err: err}
	}
}
