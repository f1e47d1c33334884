// Package handshake implements the ccstream authentication exchange.
//
// The server greets every connection either with OK (no password configured)
// or with a PASSWORD challenge that the client answers with a PASSWORD block.
// Wrong passwords are throttled and answered with WRONG_PASSWORD, after which
// the server challenges again, indefinitely unless a cap is configured. Once
// authenticated, the client announces its binary header with BIN_HEADER and
// the server acknowledges with OK.
package handshake

import (
	"errors"
	"fmt"
)

var (
	ErrServerBusy        = errors.New("handshake: too many connections to the server, try later")
	ErrServerError       = errors.New("handshake: internal server error")
	ErrProtocolViolation = errors.New("handshake: protocol violation")
	ErrHeaderExpected    = errors.New("handshake: expected BIN_HEADER")
	ErrTooManyAttempts   = errors.New("handshake: too many password attempts")
	ErrNoPasswordReader  = errors.New("handshake: server requires a password but no password reader is set")
)

// State is a step of the handshake. Client and server share the vocabulary;
// they differ in who drives each transition.
type State int

const (
	AwaitGreeting State = iota
	PasswordChallenge
	PasswordSent
	Authenticated
	Rejected
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case AwaitGreeting:
		return "AwaitGreeting"
	case PasswordChallenge:
		return "PasswordChallenge"
	case PasswordSent:
		return "PasswordSent"
	case Authenticated:
		return "Authenticated"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Outcome is the result class of a handshake attempt.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeRejected
	OutcomeClosedOrError
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "Accepted"
	case OutcomeRejected:
		return "Rejected"
	case OutcomeClosedOrError:
		return "ConnectionClosedOrError"
	default:
		return "Unknown"
	}
}

// Result describes how a handshake ended.
type Result struct {
	Outcome Outcome
	// State is the last state reached.
	State State
	// Reason explains a rejection.
	Reason string
	// Attempts counts password blocks exchanged.
	Attempts int
}

func (r Result) accepted() (Result, error) {
	r.Outcome = OutcomeAccepted
	r.State = Authenticated
	return r, nil
}

func (r Result) rejected(err error) (Result, error) {
	r.Outcome = OutcomeRejected
	r.State = Rejected
	r.Reason = err.Error()
	return r, err
}

func (r Result) failed(step string, err error) (Result, error) {
	r.Outcome = OutcomeClosedOrError
	return r, fmt.Errorf("handshake: %s: %w", step, err)
}
