// Package recordsys defines the contract with the external record-keeping
// system. The reconciliation core consumes this interface; it never
// implements a real record system itself. Implementations wrap whatever
// session-based, paginated surface the vendor exposes.
package recordsys

import (
	"context"
	"time"
)

// Credentials authenticates a session with the record system.
type Credentials struct {
	Username string
	Password string
}

// Session is an opaque authenticated session handle. Sessions can expire at
// any time; every method taking a Session may return *SessionExpiredError.
type Session struct {
	ID string
}

// StaffRef identifies a staff member inside the record system.
type StaffRef struct {
	ID   string
	Name string // As displayed by the record system
}

// ClientRef identifies a client inside the record system.
type ClientRef struct {
	ID          string
	Name        string    // As displayed by the record system
	DateOfBirth time.Time // Zero when the listing does not show it
}

// RawDocument is one entry of a client's document list, as the record system
// presents it. Classification happens downstream in the extractor.
type RawDocument struct {
	Label string    // Document type label, e.g. "Therapy Note"
	Date  time.Time // Document service date
}

// RawAppointment is one entry of a client's schedule view. Used only as
// corroborating evidence, never as ground truth.
type RawAppointment struct {
	Date time.Time
}

// ClientPage is one page of a staff member's client list.
type ClientPage struct {
	Clients     []ClientRef
	HasNextPage bool
}

// Client is the record system contract. All calls are blocking from the
// caller's perspective and honor context cancellation. Any call may return
// *TransientError or *SessionExpiredError; the core never assumes either is
// fatal.
type Client interface {
	// Authenticate opens a new session. Returns *AuthError when the
	// credentials are rejected.
	Authenticate(ctx context.Context, creds Credentials) (Session, error)

	// FindStaff lists the staff entries visible to the session. The caller
	// applies its own name-matching strategies to the returned entries.
	FindStaff(ctx context.Context, session Session) ([]StaffRef, error)

	// ListClients returns one page of a staff member's client list.
	// Pages are zero-based.
	ListClients(ctx context.Context, session Session, staff StaffRef, page int) (ClientPage, error)

	// OpenClientDocuments opens a client's chart and returns its document
	// list.
	OpenClientDocuments(ctx context.Context, session Session, client ClientRef) ([]RawDocument, error)

	// OpenClientSchedule returns the client's scheduled appointments, when
	// the record system exposes a schedule view. An empty slice is a valid
	// result.
	OpenClientSchedule(ctx context.Context, session Session, client ClientRef) ([]RawAppointment, error)

	// NavigateBack returns the session to the staff member's client list
	// after a per-client drill-down.
	NavigateBack(ctx context.Context, session Session) error
}
