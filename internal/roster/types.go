// Package roster loads the staff and client rosters from tabular (CSV)
// input into typed records keyed by normalized name. Rows with unresolvable
// required fields are excluded and reported as data-quality warnings, never
// as fatal errors.
package roster

import "time"

// EmploymentStatus describes whether a staff member should be traversed.
type EmploymentStatus string

const (
	StatusActive     EmploymentStatus = "active"
	StatusTerminated EmploymentStatus = "terminated"
	StatusLeave      EmploymentStatus = "leave"
)

// StaffMember is one row of the staff roster. Immutable once loaded.
type StaffMember struct {
	Name           string // Normalized "last, first"
	Status         EmploymentStatus
	SeparationDate time.Time // Termination/leave date, zero when active
}

// Traversable reports whether the staff member's clients should be visited.
// Terminated and on-leave staff are skipped before any external traversal.
func (s StaffMember) Traversable() bool {
	return s.Status == StatusActive
}

// ServiceFileStatus describes whether a client's service file is open.
type ServiceFileStatus string

const (
	FileOpen   ServiceFileStatus = "open"
	FileClosed ServiceFileStatus = "closed"
)

// Client is one row of the client roster. Each roster row is an independent
// analysis unit: a client reassigned mid-period with two roster rows is
// processed as two rows, both flagged for manual review.
type Client struct {
	Name              string    // Normalized "last, first"
	DateOfBirth       time.Time // Zero when unknown; used only to disambiguate matches
	Staff             string    // Normalized assigned staff name
	CadenceDescriptor string    // Raw cadence cell as it appeared in the roster
	CadenceDays       int       // Resolved day interval (> 0 for loaded rows)
	Reassigned        bool
	ReassignedAt      time.Time // Zero unless Reassigned
	ServiceStart      time.Time // Service-file start date, zero when unknown
	FileStatus        ServiceFileStatus
	ManualReview      bool     // Set at load for duplicate roster rows
	Notes             []string // Data-quality notes attached at load time
}

// Warning records a roster row that was excluded or needs attention.
type Warning struct {
	Line   int    // 1-based line number in the source file (header is line 1)
	Name   string // Best-effort name for the row, may be empty
	Reason string
}
