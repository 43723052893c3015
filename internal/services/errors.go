package services

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("game session not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLockBusy          = errors.New("user lock busy")
	ErrFundsHeld         = errors.New("funds held by another session")
	ErrSlotTaken         = errors.New("user already has an open session")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrClaimLost         = errors.New("teardown claim lost")
	ErrTeardownBusy      = errors.New("teardown already in progress")
	ErrHoldMoved         = errors.New("wallet hold no longer belongs to session")
)

// ErrDepositUnconfirmed is returned when the provider may have taken the
// deposit. The reservation stays in place until a withdrawal settles it.
var ErrDepositUnconfirmed = errors.New("provider deposit unconfirmed")

type LaunchErrorKind string

const (
	KindPermissionDenied LaunchErrorKind = "permission_denied"
	KindSessionConflict  LaunchErrorKind = "session_conflict"
	KindPopupBlocked     LaunchErrorKind = "popup_blocked"
	KindProviderError    LaunchErrorKind = "provider_error"
	KindRaceConflict     LaunchErrorKind = "race_conflict"
	KindNotFound         LaunchErrorKind = "not_found"
)

// LaunchError is the typed failure of a launch or surface operation. Callers
// branch on Kind.
type LaunchError struct {
	Kind    LaunchErrorKind
	Message string
	// RunningGame names the game holding the slot on a session conflict.
	RunningGame string
	// LaunchURL is the stored URL to retry with after a blocked popup.
	LaunchURL string
	Err       error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func launchErr(kind LaunchErrorKind, msg string, err error) *LaunchError {
	return &LaunchError{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the launch error kind carried by err, or "".
func KindOf(err error) LaunchErrorKind {
	var le *LaunchError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
