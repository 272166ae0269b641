package handshake

import (
	"errors"
	"fmt"
)

// State is a step of a single login attempt.
type State int

const (
	StateStart State = iota
	StateLoginPageFetched
	StateCsrfExtracted
	StateCredentialsSubmitted
	StateIntermediateFormFound
	StateFormSubmitted
	StateEntryPagesVisited
	StateCredentialRecovered
	StateRecoveryFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateLoginPageFetched:
		return "login-page-fetched"
	case StateCsrfExtracted:
		return "csrf-extracted"
	case StateCredentialsSubmitted:
		return "credentials-submitted"
	case StateIntermediateFormFound:
		return "intermediate-form-found"
	case StateFormSubmitted:
		return "form-submitted"
	case StateEntryPagesVisited:
		return "entry-pages-visited"
	case StateCredentialRecovered:
		return "credential-recovered"
	case StateRecoveryFailed:
		return "recovery-failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrCredentialRecoveryFailed matches every error returned by Client.Attempt.
	ErrCredentialRecoveryFailed = errors.New("no valid bearer credential could be recovered")
	ErrNoCsrfToken              = errors.New("no CSRF token")
	ErrFormNotFound             = errors.New("intermediate form not found")
	ErrMissingCredentials       = errors.New("username or password not configured")
)

// UnexpectedStatusError is returned when a handshake request answered with a
// status the handshake cannot continue from.
type UnexpectedStatusError struct {
	Url        string
	StatusCode int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.Url)
}

// Error is the only error type Client.Attempt returns. It records the last
// state the attempt reached and the cause of the failure.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("handshake failed after %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is folds every handshake failure into ErrCredentialRecoveryFailed.
func (e *Error) Is(target error) bool {
	return target == ErrCredentialRecoveryFailed
}
