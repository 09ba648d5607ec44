package recordsys

import (
	"errors"
	"fmt"
)

// ErrStaffNotFound is returned by implementations when a staff lookup comes
// back empty. Distinct from a name-match failure, which the caller detects
// itself against the entries FindStaff did return.
var ErrStaffNotFound = errors.New("staff member not found in record system")

// TransientError indicates a navigation or connection failure that is
// expected to succeed on retry: connection resets, slow page loads, the
// record system's intermittent error screens.
type TransientError struct {
	Op  string // The operation that failed, e.g. "list_clients"
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SessionExpiredError indicates the session is no longer valid and the
// caller must re-authenticate and re-navigate before retrying.
type SessionExpiredError struct {
	Op string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired during %s", e.Op)
}

// AuthError indicates the record system rejected the supplied credentials.
// Unlike transient and session errors, this is not recoverable by retry.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %s", e.Reason)
}
