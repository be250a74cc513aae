package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotApplicable means the handler does not recognize the credential;
	// the next handler should be tried.
	ErrNotApplicable = errors.New("credential not applicable")

	// ErrRejected means the handler recognized the credential and refused it.
	// No further handler may be tried.
	ErrRejected = errors.New("credential rejected")

	// ErrMisconfigured marks setup errors such as missing keys or collaborators.
	ErrMisconfigured = errors.New("auth handler misconfigured")

	// ErrUnauthenticated is returned by the dispatcher when no handler applied.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// NotApplicable wraps ErrNotApplicable with a cause for logging.
func NotApplicable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotApplicable, fmt.Sprintf(format, args...))
}

// RejectedError carries the unauthenticated AuthInfo of a refused credential.
type RejectedError struct {
	Info *AuthInfo
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Info.Reason())
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// Reject builds the AuthInfo for a refused credential and wraps it in a RejectedError.
func Reject(typ string, profile *Profile, reason string) (*AuthInfo, error) {
	info := NewBuilder().
		WithType(typ).
		WithProfile(profile).
		WithReason(reason).
		Build()
	return info, &RejectedError{Info: info}
}
