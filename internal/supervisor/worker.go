package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/therapyops/chartrecon/internal/extract"
	"github.com/therapyops/chartrecon/internal/match"
	"github.com/therapyops/chartrecon/internal/predict"
	"github.com/therapyops/chartrecon/internal/recordsys"
	"github.com/therapyops/chartrecon/internal/roster"
	"github.com/therapyops/chartrecon/pkg/ledger"
)

// State is a worker's position in its lifecycle. States exist for the health
// monitor and for log readability; transitions are driven by the worker
// itself, except Broken which the monitor may force.
type State string

const (
	StateIdle             State = "idle"
	StateAuthenticating   State = "authenticating"
	StateLocatingStaff    State = "locating_staff"
	StateListingClients   State = "listing_clients"
	StateProcessingClient State = "processing_client"
	StateRecovering       State = "recovering"
	StateDone             State = "done"
	StateBroken           State = "broken"
)

// worker walks one static partition of the staff roster through its own
// record system session.
type worker struct {
	id  string
	sup *Supervisor
	rs  recordsys.Client

	assignments []assignment
	session     recordsys.Session
	staffRefs   []recordsys.StaffRef
	staffNames  []string

	mu                sync.Mutex
	state             State
	brokenReason      string
	lastProgress      time.Time
	callCancel        context.CancelFunc
	stallRecoveryUsed bool
	nameMatchFailures int
	recoveryFailures  int
}

func newWorker(id string, sup *Supervisor, assignments []assignment) *worker {
	return &worker{
		id:           id,
		sup:          sup,
		rs:           sup.newClient(),
		assignments:  assignments,
		state:        StateIdle,
		lastProgress: time.Now(),
	}
}

// run processes the worker's partition to completion. Failures never escape:
// a worker that cannot continue records coverage entries for everything it
// did not reach and returns.
func (w *worker) run(ctx context.Context) {
	w.setState(StateAuthenticating)
	w.touchProgress()

	if err := w.authenticate(ctx); err != nil {
		w.breakWorker(fmt.Sprintf("authentication failed: %v", err))
		w.coverAssignments(w.assignments, "worker-broken")
		return
	}

	w.setState(StateLocatingStaff)
	if err := w.loadStaffDirectory(ctx); err != nil {
		w.breakWorker(fmt.Sprintf("staff directory unavailable: %v", err))
		w.coverAssignments(w.assignments, "worker-broken")
		return
	}

	for i, asg := range w.assignments {
		// The stop signal is honored between staff members, never
		// mid-client.
		if ctx.Err() != nil {
			w.coverAssignments(w.assignments[i:], "stop-requested")
			return
		}
		if !w.processStaff(ctx, asg) {
			if i+1 < len(w.assignments) {
				// A false return without a broken worker means the stop
				// signal landed mid-staff; the rest of the partition still
				// needs coverage entries.
				reason := "stop-requested"
				if w.isBroken() {
					reason = "worker-broken"
				}
				w.coverAssignments(w.assignments[i+1:], reason)
			}
			return
		}
		w.sup.publishProgress(ctx, w.id, "staff_completed", asg.staff.Name, "", "")
	}

	w.setState(StateDone)
	log.Printf("[Supervisor] Worker %s done (%d staff members)", w.id, len(w.assignments))
}

// processStaff locates one staff member, lists their clients and processes
// each roster client. Returns false when the worker must stop.
func (w *worker) processStaff(ctx context.Context, asg assignment) bool {
	outcome := match.Find(asg.staff.Name, w.staffNames)
	if !outcome.OK {
		reason := "staff-name-match-failure"
		if outcome.Ambiguous {
			reason = "staff-name-ambiguous"
		}
		w.noteNameMatchFailure()
		w.coverAssignments([]assignment{asg}, reason)
		return !w.isBroken()
	}
	w.resetNameMatchFailures()
	staffRef := w.staffRefs[outcome.Result.Index]
	w.logEvent("staff_matched", map[string]interface{}{
		"staff":      asg.staff.Name,
		"matched_as": staffRef.Name,
		"strategy":   string(outcome.Result.Strategy),
		"confidence": outcome.Result.Strategy.Confidence(),
	})

	refs, ok := w.listAllClients(ctx, asg, &staffRef)
	if !ok {
		w.coverAssignments([]assignment{asg}, "client-list-unreachable")
		return !w.isBroken()
	}
	refNames := make([]string, len(refs))
	for i, r := range refs {
		refNames[i] = r.Name
	}

	for i, c := range asg.clients {
		if ctx.Err() != nil {
			w.coverClients(asg.staff.Name, asg.clients[i:], "stop-requested")
			return false
		}
		w.processClient(ctx, asg, &staffRef, c, refs, refNames)
		if w.isBroken() {
			if i+1 < len(asg.clients) {
				w.coverClients(asg.staff.Name, asg.clients[i+1:], "worker-broken")
			}
			return false
		}
	}
	return true
}

// processClient runs the full per-client pipeline: match, extract, predict,
// append. A client is marked processed exactly once, and always before any
// recovery attempt, so a record that keeps killing the session cannot poison
// the run.
func (w *worker) processClient(ctx context.Context, asg assignment, staffRef *recordsys.StaffRef, c roster.Client, refs []recordsys.ClientRef, refNames []string) {
	// The stop signal is honored between clients, not inside one: once a
	// client's pipeline starts, its record system calls run detached from
	// the run context, bounded only by the extraction and retry deadlines
	// and the health monitor's interrupt.
	clientCtx := context.WithoutCancel(ctx)

	done, err := w.sup.ledger.IsProcessed(clientCtx, c.Staff, c.Name)
	if err == nil && done {
		// Resumed run: a previous attempt already accounted for this client.
		return
	}

	w.setState(StateProcessingClient)

	outcome := match.Find(c.Name, refNames)
	if !outcome.OK {
		reason := "name-match-failure"
		if outcome.Ambiguous {
			reason = "ambiguous-name-match"
		}
		w.noteNameMatchFailure()
		w.markProcessed(c)
		w.appendCoverage(ledger.CoverageClient, c.Staff, c.Name, reason)
		return
	}
	w.resetNameMatchFailures()
	w.logEvent("client_matched", map[string]interface{}{
		"client":     c.Name,
		"matched_as": outcome.Result.Value,
		"strategy":   string(outcome.Result.Strategy),
		"confidence": outcome.Result.Strategy.Confidence(),
	})

	timeline, err := w.extractTimeline(clientCtx, refs[outcome.Result.Index])
	if err != nil {
		// The session died on this record. Poison guard: account for the
		// client first, recover after, so a record that reliably breaks the
		// session is visited at most once.
		w.markProcessed(c)
		w.appendCoverage(ledger.CoverageClient, c.Staff, c.Name, "abandoned-after-failure")
		if newRef, ok := w.attemptRecovery(ctx, asg.staff.Name); ok {
			*staffRef = newRef
		}
		return
	}

	windowStart := w.sup.opts.WindowStart
	if c.Reassigned {
		windowStart = predict.AdjustedWindowStart(windowStart, c.ReassignedAt, w.sup.opts.Analysis.ReassignmentGraceDays)
	}
	result := w.sup.engine.Analyze(timeline, windowStart, w.sup.opts.WindowEnd, c.CadenceDays)

	row := w.sup.builder.AnalysisRow(c, w.id, timeline, result)
	opCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.sup.ledger.AppendReportRow(opCtx, row); err != nil {
		log.Printf("[Supervisor] Worker %s failed to append row for %q: %v", w.id, c.Name, err)
		w.appendCoverage(ledger.CoverageClient, c.Staff, c.Name, "ledger-write-failure")
	}
	w.markProcessed(c)
	w.sup.ledger.IncrCounter(opCtx, ledger.CounterClientsProcessed, 1)
	w.sup.publishProgress(opCtx, w.id, "client_completed", c.Staff, c.Name, "")
	w.touchProgress()
}

// extractTimeline opens the client's documents and schedule under a
// per-client deadline on its own goroutine. Hitting the deadline is not an
// error: whatever was extracted proceeds downstream flagged as partial.
func (w *worker) extractTimeline(ctx context.Context, ref recordsys.ClientRef) (*extract.Timeline, error) {
	timeout := w.sup.opts.Workers.ExtractionTimeout.Std()
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type extraction struct {
		docs  []recordsys.RawDocument
		appts []recordsys.RawAppointment
		err   error
	}
	ch := make(chan extraction, 1)
	go func() {
		var ex extraction
		ex.err = w.call(tctx, recordsys.OpOpenDocuments, func(c context.Context) error {
			var e error
			ex.docs, e = w.rs.OpenClientDocuments(c, w.session, ref)
			return e
		})
		if ex.err == nil {
			ex.err = w.call(tctx, recordsys.OpOpenSchedule, func(c context.Context) error {
				var e error
				ex.appts, e = w.rs.OpenClientSchedule(c, w.session, ref)
				return e
			})
		}
		if ex.err == nil {
			// Best effort: a failed back-navigation surfaces on the next call.
			w.call(tctx, recordsys.OpNavigateBack, func(c context.Context) error {
				return w.rs.NavigateBack(c, w.session)
			})
		}
		ch <- ex
	}()

	deadlineHit := func() bool {
		return errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	}

	select {
	case ex := <-ch:
		if ex.err != nil {
			if deadlineHit() {
				return w.partialTimeline(ex.docs, ex.appts), nil
			}
			return nil, ex.err
		}
		return w.sup.classifier.Build(ex.docs, ex.appts), nil

	case <-tctx.Done():
		// The extraction goroutine is still blocked; its calls honor the
		// context, so it unwinds on its own.
		if deadlineHit() {
			return w.partialTimeline(nil, nil), nil
		}
		return nil, tctx.Err()
	}
}

func (w *worker) partialTimeline(docs []recordsys.RawDocument, appts []recordsys.RawAppointment) *extract.Timeline {
	opCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.sup.ledger.IncrCounter(opCtx, ledger.CounterExtractionTimeouts, 1)
	log.Printf("[Supervisor] Worker %s extraction deadline hit, continuing with partial data", w.id)

	timeline := w.sup.classifier.Build(docs, appts)
	timeline.Partial = true
	return timeline
}

// listAllClients pages through the staff member's client list. A failed page
// triggers session recovery and a re-list of the same page.
func (w *worker) listAllClients(ctx context.Context, asg assignment, staffRef *recordsys.StaffRef) ([]recordsys.ClientRef, bool) {
	var refs []recordsys.ClientRef
	page := 0
	for {
		w.setState(StateListingClients)
		var cp recordsys.ClientPage
		err := w.call(ctx, recordsys.OpListClients, func(c context.Context) error {
			var e error
			cp, e = w.rs.ListClients(c, w.session, *staffRef, page)
			return e
		})
		if err != nil {
			newRef, ok := w.attemptRecovery(ctx, asg.staff.Name)
			if !ok {
				return nil, false
			}
			*staffRef = newRef
			continue
		}
		refs = append(refs, cp.Clients...)
		w.touchProgress()
		if !cp.HasNextPage {
			return refs, true
		}
		page++
	}
}

func (w *worker) authenticate(ctx context.Context) error {
	return w.call(ctx, recordsys.OpAuthenticate, func(c context.Context) error {
		session, err := w.rs.Authenticate(c, w.sup.opts.Credentials)
		if err != nil {
			return err
		}
		w.session = session
		return nil
	})
}

func (w *worker) loadStaffDirectory(ctx context.Context) error {
	return w.call(ctx, recordsys.OpFindStaff, func(c context.Context) error {
		refs, err := w.rs.FindStaff(c, w.session)
		if err != nil {
			return err
		}
		w.staffRefs = refs
		names := make([]string, len(refs))
		for i, r := range refs {
			names[i] = r.Name
		}
		w.staffNames = names
		return nil
	})
}

// attemptRecovery rebuilds the worker's session from scratch: re-auth,
// re-load the staff directory, re-match the staff member. Repeated recovery
// failures break the worker.
func (w *worker) attemptRecovery(ctx context.Context, staffName string) (recordsys.StaffRef, bool) {
	if w.isBroken() || ctx.Err() != nil {
		return recordsys.StaffRef{}, false
	}
	w.setState(StateRecovering)
	log.Printf("[Supervisor] Worker %s recovering session for staff %q", w.id, staffName)

	opCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	w.sup.ledger.IncrCounter(opCtx, ledger.CounterRecoveries, 1)
	cancel()

	recovered := func() (recordsys.StaffRef, bool) {
		if err := w.authenticate(ctx); err != nil {
			return recordsys.StaffRef{}, false
		}
		if err := w.loadStaffDirectory(ctx); err != nil {
			return recordsys.StaffRef{}, false
		}
		outcome := match.Find(staffName, w.staffNames)
		if !outcome.OK {
			return recordsys.StaffRef{}, false
		}
		return w.staffRefs[outcome.Result.Index], true
	}

	ref, ok := recovered()
	if !ok {
		w.mu.Lock()
		w.recoveryFailures++
		failures := w.recoveryFailures
		limit := w.sup.opts.Workers.MaxRecoveryFailures
		w.mu.Unlock()
		if limit > 0 && failures >= limit {
			w.breakWorker(fmt.Sprintf("%d consecutive recovery failures", failures))
		}
		return recordsys.StaffRef{}, false
	}

	w.mu.Lock()
	w.recoveryFailures = 0
	w.mu.Unlock()
	w.touchProgress()
	return ref, true
}

// call invokes one record system operation with exponential-backoff retry on
// transient errors. The in-flight context is kept interruptible so the health
// monitor can break a stalled call.
func (w *worker) call(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.callCancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.callCancel = nil
		w.mu.Unlock()
		cancel()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.sup.opts.Retry.InitialInterval.Std()
	bo.MaxInterval = w.sup.opts.Retry.MaxInterval.Std()
	bo.MaxElapsedTime = w.sup.opts.Retry.MaxElapsedTime.Std()

	return backoff.Retry(func() error {
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		var transient *recordsys.TransientError
		if errors.As(err, &transient) {
			opCtx, opCancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.sup.ledger.IncrCounter(opCtx, ledger.CounterTransientFailures, 1)
			opCancel()
			log.Printf("[Supervisor] Worker %s transient failure on %s: %v (retrying)", w.id, op, err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, callCtx))
}

// Coverage and accounting helpers. Coverage writes use a background context
// so stop-requested entries land even when the run context is cancelled.

func (w *worker) coverAssignments(assignments []assignment, reason string) {
	for _, asg := range assignments {
		w.appendCoverage(ledger.CoverageStaff, asg.staff.Name, "", reason)
		w.coverClients(asg.staff.Name, asg.clients, reason)
	}
}

func (w *worker) coverClients(staffName string, clients []roster.Client, reason string) {
	for _, c := range clients {
		w.appendCoverage(ledger.CoverageClient, staffName, c.Name, reason)
	}
}

func (w *worker) appendCoverage(kind ledger.CoverageKind, staffName, clientName, reason string) {
	opCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.sup.appendCoverage(opCtx, kind, staffName, clientName, reason, w.id); err != nil {
		log.Printf("[Supervisor] Worker %s failed to append coverage for %s/%s: %v", w.id, staffName, clientName, err)
	}
}

func (w *worker) markProcessed(c roster.Client) {
	opCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.sup.ledger.MarkProcessed(opCtx, c.Staff, c.Name); err != nil {
		log.Printf("[Supervisor] Worker %s failed to mark %q processed: %v", w.id, c.Name, err)
	}
}

func (w *worker) noteNameMatchFailure() {
	opCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	w.sup.ledger.IncrCounter(opCtx, ledger.CounterNameMatchFailures, 1)
	cancel()

	w.mu.Lock()
	w.nameMatchFailures++
	failures := w.nameMatchFailures
	limit := w.sup.opts.Workers.MaxNameMatchFailures
	w.mu.Unlock()
	if limit > 0 && failures >= limit {
		w.breakWorker(fmt.Sprintf("%d consecutive name-match failures", failures))
	}
}

func (w *worker) resetNameMatchFailures() {
	w.mu.Lock()
	w.nameMatchFailures = 0
	w.mu.Unlock()
}

// breakWorker transitions the worker to Broken and interrupts any in-flight
// call. Idempotent; callable from the health monitor goroutine.
func (w *worker) breakWorker(reason string) {
	w.mu.Lock()
	if w.state == StateBroken {
		w.mu.Unlock()
		return
	}
	w.state = StateBroken
	w.brokenReason = reason
	cancel := w.callCancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	opCtx, opCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer opCancel()
	w.sup.ledger.IncrCounter(opCtx, ledger.CounterWorkersBroken, 1)
	w.sup.publishProgress(opCtx, w.id, "worker_broken", "", "", reason)
	log.Printf("[Supervisor] Worker %s broken: %s", w.id, reason)
}

func (w *worker) setState(s State) {
	w.mu.Lock()
	if w.state != StateBroken {
		w.state = s
	}
	w.mu.Unlock()
}

// State returns the worker's current lifecycle state.
func (w *worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *worker) isBroken() bool {
	return w.State() == StateBroken
}

func (w *worker) touchProgress() {
	w.mu.Lock()
	w.lastProgress = time.Now()
	w.mu.Unlock()
}

func (w *worker) lastProgressAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastProgress
}

// useStallRecovery claims the worker's single last-chance recovery. Returns
// false when it was already spent.
func (w *worker) useStallRecovery() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stallRecoveryUsed {
		return false
	}
	w.stallRecoveryUsed = true
	w.lastProgress = time.Now()
	return true
}

// interrupt cancels the in-flight record system call, if any.
func (w *worker) interrupt() {
	w.mu.Lock()
	cancel := w.callCancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *worker) logEvent(event string, data map[string]interface{}) {
	data["worker_id"] = w.id
	log.Printf("[Supervisor] event=%s %v", event, data)
}
