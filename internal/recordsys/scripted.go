package recordsys

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation names used for fault injection and call counting on the
// ScriptedClient.
const (
	OpAuthenticate  = "authenticate"
	OpFindStaff     = "find_staff"
	OpListClients   = "list_clients"
	OpOpenDocuments = "open_documents"
	OpOpenSchedule  = "open_schedule"
	OpNavigateBack  = "navigate_back"
)

// ScriptedClient is an in-memory record system used by tests. Fixtures are
// plain maps; faults are injected per operation so tests can script exact
// failure sequences (fail the third client-list call, expire the session
// mid-traversal, hang during extraction).
//
// The client is safe for concurrent use by multiple workers.
type ScriptedClient struct {
	mu sync.Mutex

	Staff             []StaffRef
	ClientsByStaff    map[string][]ClientRef      // staff ID -> clients
	DocumentsByClient map[string][]RawDocument    // client ID -> documents
	ScheduleByClient  map[string][]RawAppointment // client ID -> schedule
	PageSize          int                         // Default 25

	validCreds *Credentials // nil accepts anything

	faults   map[string][]error
	hangs    map[string]time.Duration
	calls    map[string]int
	sessions map[string]bool // session ID -> valid
}

// NewScriptedClient creates an empty scripted record system.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		ClientsByStaff:    make(map[string][]ClientRef),
		DocumentsByClient: make(map[string][]RawDocument),
		ScheduleByClient:  make(map[string][]RawAppointment),
		PageSize:          25,
		faults:            make(map[string][]error),
		hangs:             make(map[string]time.Duration),
		calls:             make(map[string]int),
		sessions:          make(map[string]bool),
	}
}

// RequireCredentials makes Authenticate reject anything but the given pair.
func (s *ScriptedClient) RequireCredentials(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validCreds = &creds
}

// ValidCredentials returns the credential pair Authenticate accepts, or the
// zero value when any pair is accepted.
func (s *ScriptedClient) ValidCredentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validCreds == nil {
		return Credentials{}
	}
	return *s.validCreds
}

// FailNext queues an error to be returned by the next call to the named
// operation. Multiple queued errors are consumed in order.
func (s *ScriptedClient) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// HangOn makes every call to the named operation block for the given
// duration (or until the context is cancelled) before proceeding.
func (s *ScriptedClient) HangOn(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangs[op] = d
}

// ExpireSessions invalidates every open session: subsequent calls with an
// old session return *SessionExpiredError until the caller re-authenticates.
func (s *ScriptedClient) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.sessions {
		s.sessions[id] = false
	}
}

// CallCount returns how many times the named operation was invoked,
// including calls that returned injected faults.
func (s *ScriptedClient) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records the call, applies any hang, and pops one queued fault.
func (s *ScriptedClient) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	hang := s.hangs[op]
	var fault error
	if queue := s.faults[op]; len(queue) > 0 {
		fault = queue[0]
		s.faults[op] = queue[1:]
	}
	s.mu.Unlock()

	if hang > 0 {
		select {
		case <-time.After(hang):
		case <-ctx.Done():
			return &TransientError{Op: op, Err: ctx.Err()}
		}
	}

	return fault
}

func (s *ScriptedClient) checkSession(op string, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sessions[session.ID] {
		return &SessionExpiredError{Op: op}
	}
	return nil
}

// Authenticate implements Client.
func (s *ScriptedClient) Authenticate(ctx context.Context, creds Credentials) (Session, error) {
	if err := s.enter(ctx, OpAuthenticate); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validCreds != nil && (creds.Username != s.validCreds.Username || creds.Password != s.validCreds.Password) {
		return Session{}, &AuthError{Reason: "invalid username or password"}
	}

	session := Session{ID: uuid.New().String()}
	s.sessions[session.ID] = true
	return session, nil
}

// FindStaff implements Client.
func (s *ScriptedClient) FindStaff(ctx context.Context, session Session) ([]StaffRef, error) {
	if err := s.enter(ctx, OpFindStaff); err != nil {
		return nil, err
	}
	if err := s.checkSession(OpFindStaff, session); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Staff) == 0 {
		return nil, ErrStaffNotFound
	}
	out := make([]StaffRef, len(s.Staff))
	copy(out, s.Staff)
	return out, nil
}

// ListClients implements Client.
func (s *ScriptedClient) ListClients(ctx context.Context, session Session, staff StaffRef, page int) (ClientPage, error) {
	if err := s.enter(ctx, OpListClients); err != nil {
		return ClientPage{}, err
	}
	if err := s.checkSession(OpListClients, session); err != nil {
		return ClientPage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all, ok := s.ClientsByStaff[staff.ID]
	if !ok {
		return ClientPage{}, &TransientError{Op: OpListClients, Err: fmt.Errorf("unknown staff ref %s", staff.ID)}
	}

	start := page * s.PageSize
	if start >= len(all) {
		return ClientPage{}, nil
	}
	end := start + s.PageSize
	if end > len(all) {
		end = len(all)
	}
	pageClients := make([]ClientRef, end-start)
	copy(pageClients, all[start:end])
	return ClientPage{Clients: pageClients, HasNextPage: end < len(all)}, nil
}

// OpenClientDocuments implements Client.
func (s *ScriptedClient) OpenClientDocuments(ctx context.Context, session Session, client ClientRef) ([]RawDocument, error) {
	if err := s.enter(ctx, OpOpenDocuments); err != nil {
		return nil, err
	}
	if err := s.checkSession(OpOpenDocuments, session); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]RawDocument, len(s.DocumentsByClient[client.ID]))
	copy(docs, s.DocumentsByClient[client.ID])
	return docs, nil
}

// OpenClientSchedule implements Client.
func (s *ScriptedClient) OpenClientSchedule(ctx context.Context, session Session, client ClientRef) ([]RawAppointment, error) {
	if err := s.enter(ctx, OpOpenSchedule); err != nil {
		return nil, err
	}
	if err := s.checkSession(OpOpenSchedule, session); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	appts := make([]RawAppointment, len(s.ScheduleByClient[client.ID]))
	copy(appts, s.ScheduleByClient[client.ID])
	return appts, nil
}

// NavigateBack implements Client.
func (s *ScriptedClient) NavigateBack(ctx context.Context, session Session) error {
	if err := s.enter(ctx, OpNavigateBack); err != nil {
		return err
	}
	return s.checkSession(OpNavigateBack, session)
}

var _ Client = (*ScriptedClient)(nil)
