// Package supervisor drives a reconciliation run: it partitions the staff
// roster across a fixed pool of workers, walks the record system through each
// worker's own session, and escalates failures through retry, session
// recovery and finally worker breakage. However a run ends, every roster
// client is accounted for in the ledger as exactly one report row or one
// coverage entry.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therapyops/chartrecon/internal/config"
	"github.com/therapyops/chartrecon/internal/extract"
	"github.com/therapyops/chartrecon/internal/predict"
	"github.com/therapyops/chartrecon/internal/recordsys"
	"github.com/therapyops/chartrecon/internal/report"
	"github.com/therapyops/chartrecon/internal/roster"
	"github.com/therapyops/chartrecon/pkg/ledger"
)

// ClientFactory produces a fresh record system surface for one worker. Each
// worker authenticates its own session; sessions are never shared.
type ClientFactory func() recordsys.Client

// Options bundles everything a run needs beyond the rosters themselves.
type Options struct {
	Workers     config.WorkersConfig
	Retry       config.RetryConfig
	Analysis    config.AnalysisConfig
	Credentials recordsys.Credentials
	WindowStart time.Time
	WindowEnd   time.Time
}

// Supervisor owns the worker pool and the health monitor for one run.
type Supervisor struct {
	ledger     *ledger.Client
	newClient  ClientFactory
	engine     *predict.Engine
	classifier *extract.Classifier
	builder    *report.RowBuilder
	opts       Options
}

// New creates a supervisor. The classifier and prediction engine are shared
// across workers; both are read-only after construction.
func New(led *ledger.Client, factory ClientFactory, cfg *config.Config, opts Options) *Supervisor {
	return &Supervisor{
		ledger:     led,
		newClient:  factory,
		engine:     predict.New(opts.Analysis),
		classifier: extract.NewClassifier(cfg.Documents.Categories),
		builder:    report.NewRowBuilder(led.RunName()),
		opts:       opts,
	}
}

// assignment is one staff member plus the roster clients filed under them.
type assignment struct {
	staff   roster.StaffMember
	clients []roster.Client
}

// Run executes the reconciliation. It returns only on roster-wide completion
// or context cancellation; individual staff and client failures are recorded
// in the ledger, not returned.
func (s *Supervisor) Run(ctx context.Context, staff []roster.StaffMember, clients []roster.Client) error {
	startTime := time.Now()

	assignments, err := s.prePass(ctx, staff, clients)
	if err != nil {
		return fmt.Errorf("pre-pass failed: %w", err)
	}

	workerCount := s.opts.Workers.Count
	if workerCount > len(assignments) {
		workerCount = len(assignments)
	}
	if workerCount == 0 {
		log.Printf("[Supervisor] No traversable staff, nothing to do")
		return nil
	}

	// Static partition: staff i goes to worker i mod N. The partition is
	// fixed for the whole run so recovery and resume stay deterministic.
	partitions := make([][]assignment, workerCount)
	for i, asg := range assignments {
		partitions[i%workerCount] = append(partitions[i%workerCount], asg)
	}

	workers := make([]*worker, workerCount)
	for i := range workers {
		workers[i] = newWorker(fmt.Sprintf("worker-%d", i+1), s, partitions[i])
	}

	s.logEvent("run_started", map[string]interface{}{
		"workers":      workerCount,
		"staff_count":  len(assignments),
		"client_count": len(clients),
		"window_start": s.opts.WindowStart.Format("2006-01-02"),
		"window_end":   s.opts.WindowEnd.Format("2006-01-02"),
	})

	monitor := newHealthMonitor(workers, s.opts.Workers.StallTimeout.Std())
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	go monitor.run(monitorCtx)

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}
	wg.Wait()
	stopMonitor()

	duration := time.Since(startTime)
	s.logEvent("run_complete", map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})
	log.Printf("[Supervisor] Run complete (duration: %v)", duration.Round(time.Millisecond))

	return ctx.Err()
}

// prePass settles everything that needs no record system access: clients of
// non-traversable or unknown staff become coverage entries, closed service
// files become skipped rows. What remains is grouped per traversable staff
// member for the workers.
func (s *Supervisor) prePass(ctx context.Context, staff []roster.StaffMember, clients []roster.Client) ([]assignment, error) {
	staffByName := make(map[string]roster.StaffMember, len(staff))
	for _, m := range staff {
		staffByName[m.Name] = m
	}

	byStaff := make(map[string][]roster.Client)
	for _, c := range clients {
		member, known := staffByName[c.Staff]

		if !known {
			if err := s.appendCoverage(ctx, ledger.CoverageClient, c.Staff, c.Name, "staff-not-on-roster", ""); err != nil {
				return nil, err
			}
			continue
		}
		if !member.Traversable() {
			reason := "staff-terminated"
			if member.Status == roster.StatusLeave {
				reason = "staff-on-leave"
			}
			if err := s.appendCoverage(ctx, ledger.CoverageClient, c.Staff, c.Name, reason, ""); err != nil {
				return nil, err
			}
			continue
		}
		if c.FileStatus == roster.FileClosed {
			// Closed files are reported, never traversed.
			row := s.builder.SkippedRow(c, "", "service-file-closed")
			if err := s.ledger.AppendReportRow(ctx, row); err != nil {
				return nil, err
			}
			if err := s.ledger.MarkProcessed(ctx, c.Staff, c.Name); err != nil {
				return nil, err
			}
			continue
		}
		byStaff[c.Staff] = append(byStaff[c.Staff], c)
	}

	var assignments []assignment
	for _, m := range staff {
		if !m.Traversable() {
			if err := s.appendCoverage(ctx, ledger.CoverageStaff, m.Name, "", fmt.Sprintf("staff-%s", m.Status), ""); err != nil {
				return nil, err
			}
			continue
		}
		assignments = append(assignments, assignment{staff: m, clients: byStaff[m.Name]})
	}

	return assignments, nil
}

func (s *Supervisor) appendCoverage(ctx context.Context, kind ledger.CoverageKind, staffName, clientName, reason, workerID string) error {
	entry := &ledger.CoverageEntry{
		ID:          uuid.New().String(),
		RunName:     s.ledger.RunName(),
		Kind:        kind,
		StaffName:   staffName,
		ClientName:  clientName,
		Reason:      reason,
		WorkerID:    workerID,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	return s.ledger.AppendCoverage(ctx, entry)
}

func (s *Supervisor) publishProgress(ctx context.Context, workerID, event, staffName, clientName, detail string) {
	pe := &ledger.ProgressEvent{
		RunName:    s.ledger.RunName(),
		WorkerID:   workerID,
		Event:      event,
		StaffName:  staffName,
		ClientName: clientName,
		Detail:     detail,
		AtMs:       time.Now().UnixMilli(),
	}
	// Progress is display-only; a failed publish never fails the run.
	if err := s.ledger.PublishProgress(ctx, pe); err != nil {
		log.Printf("[Supervisor] Failed to publish progress event: %v", err)
	}
}

// logEvent logs structured supervisor events.
func (s *Supervisor) logEvent(event string, data map[string]interface{}) {
	log.Printf("[Supervisor] event=%s %v", event, data)
}
