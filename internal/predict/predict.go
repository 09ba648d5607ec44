// Package predict infers a client's session cadence and predicts missed
// appointments within an analysis window. The engine is pure: given the same
// extracted timeline, window and cadence it always produces the same
// predictions, which keeps re-runs and resumed runs consistent.
package predict

import (
	"sort"
	"time"

	"github.com/therapyops/chartrecon/internal/config"
	"github.com/therapyops/chartrecon/internal/extract"
)

// Origin describes how a prediction was derived.
type Origin string

const (
	// OriginExplicitNote: the record system already holds a missed-appointment
	// note on this date.
	OriginExplicitNote Origin = "explicit-note"

	// OriginGapDetected: inferred from a conspicuous gap between documented
	// in-window sessions.
	OriginGapDetected Origin = "gap-detected"

	// OriginForwardProjected: produced by projecting the cadence forward.
	OriginForwardProjected Origin = "forward-projected"
)

// CadenceSource describes where the cadence used for analysis came from.
type CadenceSource string

const (
	CadenceExplicit CadenceSource = "explicit" // From roster metadata
	CadenceInferred CadenceSource = "inferred" // From gaps between sessions
	CadenceNone     CadenceSource = "none"     // Not determinable
)

// Prediction is a single predicted missed appointment.
type Prediction struct {
	Date   time.Time
	Origin Origin
}

// Result is the engine's output for one client.
type Result struct {
	CadenceDays         int
	CadenceSource       CadenceSource
	ExpectedCount       int
	ActualCount         int
	MissedCount         int
	Predictions         []Prediction // Sorted by date, ascending
	InsufficientHistory bool         // No billable session exists at all
}

// Engine holds the analysis tunables.
type Engine struct {
	toleranceDays        int
	conventionalCadences []int
	roundingDays         int
}

// New creates an engine from the validated analysis configuration.
func New(cfg config.AnalysisConfig) *Engine {
	return &Engine{
		toleranceDays:        cfg.ToleranceDays,
		conventionalCadences: cfg.ConventionalCadences,
		roundingDays:         cfg.CadenceRoundingDays,
	}
}

// Analyze runs cadence detection and missed-appointment prediction for one
// client. The timeline must be the client's full history (not
// window-filtered); explicitCadenceDays is the roster cadence, or 0 to infer
// one from the session history.
func (e *Engine) Analyze(t *extract.Timeline, windowStart, windowEnd time.Time, explicitCadenceDays int) Result {
	windowStart = dateOnly(windowStart)
	windowEnd = dateOnly(windowEnd)

	billable := dateOnlyAll(t.BillableDates())
	missedNotes := dateOnlyAll(t.MissedNoteDates())
	scheduled := dateOnlyAll(t.Scheduled)

	res := Result{}

	if len(billable) == 0 {
		// Never-seen client: nothing to anchor a projection on.
		res.InsufficientHistory = true
		res.CadenceSource = CadenceNone
		if explicitCadenceDays > 0 {
			res.CadenceDays = explicitCadenceDays
			res.CadenceSource = CadenceExplicit
		}
		return res
	}

	cadence, source := e.resolveCadence(explicitCadenceDays, billable)
	res.CadenceDays = cadence
	res.CadenceSource = source
	if cadence == 0 {
		// One lifetime session and no roster cadence: treat as insufficient.
		res.InsufficientHistory = true
		return res
	}

	inWindow := between(billable, windowStart, windowEnd)
	res.ActualCount = len(inWindow)
	res.ExpectedCount = expectedSessions(windowStart, windowEnd, cadence)

	// Suppression set: a candidate within toleranceDays of any of these is a
	// legitimately rescheduled or already-documented appointment, not a miss.
	suppressors := make([]time.Time, 0, len(billable)+len(missedNotes)+len(scheduled))
	suppressors = append(suppressors, billable...)
	suppressors = append(suppressors, missedNotes...)
	for _, apptDate := range scheduled {
		if withinToleranceOfAny(apptDate, billable, e.toleranceDays) {
			suppressors = append(suppressors, apptDate)
		}
	}

	if res.ActualCount > 0 {
		res.Predictions = e.caseWithSessions(inWindow, missedNotes, suppressors, windowStart, windowEnd, cadence, res.ExpectedCount-res.ActualCount)
		res.MissedCount = maxInt(0, res.ExpectedCount-res.ActualCount)
	} else {
		res.Predictions = e.caseNoSessions(billable, missedNotes, suppressors, windowStart, windowEnd, cadence)
		res.MissedCount = len(res.Predictions)
	}

	sort.Slice(res.Predictions, func(i, j int) bool {
		return res.Predictions[i].Date.Before(res.Predictions[j].Date)
	})
	return res
}

// resolveCadence prefers the roster's explicit cadence, then the median gap
// between documented sessions rounded to a conventional interval.
func (e *Engine) resolveCadence(explicit int, billable []time.Time) (int, CadenceSource) {
	if explicit > 0 {
		return explicit, CadenceExplicit
	}
	if len(billable) < 2 {
		return 0, CadenceNone
	}

	gaps := make([]int, 0, len(billable)-1)
	for i := 1; i < len(billable); i++ {
		gaps = append(gaps, daysBetween(billable[i-1], billable[i]))
	}
	sort.Ints(gaps)
	median := gaps[len(gaps)/2]
	if len(gaps)%2 == 0 {
		median = (gaps[len(gaps)/2-1] + gaps[len(gaps)/2]) / 2
	}
	if median < 1 {
		median = 1
	}

	for _, conventional := range e.conventionalCadences {
		if absInt(median-conventional) <= e.roundingDays {
			return conventional, CadenceInferred
		}
	}
	return median, CadenceInferred
}

// caseWithSessions handles windows containing at least one documented
// session. Candidate missed dates are collected in priority order - explicit
// notes, then gap-inferred dates, then forward projections - each candidate
// deduplicated against everything already accepted, and the total capped at
// the expected-minus-actual count.
func (e *Engine) caseWithSessions(inWindow, missedNotes, suppressors []time.Time, windowStart, windowEnd time.Time, cadence, missed int) []Prediction {
	if missed <= 0 {
		return nil
	}

	var accepted []Prediction
	accept := func(date time.Time, origin Origin) bool {
		if len(accepted) >= missed {
			return false
		}
		for _, p := range accepted {
			if absInt(daysBetween(p.Date, date)) <= e.toleranceDays {
				return false
			}
		}
		accepted = append(accepted, Prediction{Date: date, Origin: origin})
		return true
	}

	// Priority 1: missed appointments already documented inside the window.
	// These bypass the suppressor set - they are the record system's own
	// statement that the slot was missed.
	for _, note := range between(missedNotes, windowStart, windowEnd) {
		accept(note, OriginExplicitNote)
	}

	// Priority 2: conspicuous gaps between consecutive in-window sessions.
	for i := 1; i < len(inWindow); i++ {
		gap := daysBetween(inWindow[i-1], inWindow[i])
		if gap <= cadence+e.toleranceDays {
			continue
		}
		for d := inWindow[i-1].AddDate(0, 0, cadence); daysBetween(d, inWindow[i]) > e.toleranceDays; d = d.AddDate(0, 0, cadence) {
			if !withinToleranceOfAny(d, suppressors, e.toleranceDays) {
				accept(d, OriginGapDetected)
			}
		}
	}

	// Priority 3: uniformly spaced forward projections from the last
	// documented session, filling any remaining slots.
	last := inWindow[len(inWindow)-1]
	for d := last.AddDate(0, 0, cadence); !d.After(windowEnd); d = d.AddDate(0, 0, cadence) {
		if len(accepted) >= missed {
			break
		}
		if !withinToleranceOfAny(d, suppressors, e.toleranceDays) {
			accept(d, OriginForwardProjected)
		}
	}

	return accepted
}

// caseNoSessions handles windows with zero documented sessions: anchor on
// the last evidence (billable session or explicit missed note) strictly
// before the window, then project the cadence forward through the window,
// suppressing any slot fulfilled within tolerance.
func (e *Engine) caseNoSessions(billable, missedNotes, suppressors []time.Time, windowStart, windowEnd time.Time, cadence int) []Prediction {
	anchor, ok := lastBefore(billable, windowStart)
	if !ok {
		// Sessions exist but none precede the window: the history starts
		// after the window, nothing to project.
		return nil
	}
	// Explicit missed notes between the anchor and the window shift the
	// projection origin: those slots are documented, not re-predicted.
	if noteAnchor, hasNote := lastBefore(missedNotes, windowStart); hasNote && noteAnchor.After(anchor) {
		anchor = noteAnchor
	}

	var predictions []Prediction
	accept := func(date time.Time, origin Origin) {
		for _, p := range predictions {
			if absInt(daysBetween(p.Date, date)) <= e.toleranceDays {
				return
			}
		}
		predictions = append(predictions, Prediction{Date: date, Origin: origin})
	}

	// In-window explicit notes are reported as findings in their own right,
	// subject to the same mutual spacing as every other prediction.
	for _, note := range between(missedNotes, windowStart, windowEnd) {
		accept(note, OriginExplicitNote)
	}

	d := anchor
	for d.Before(windowStart) {
		d = d.AddDate(0, 0, cadence)
	}
	for ; !d.After(windowEnd); d = d.AddDate(0, 0, cadence) {
		if withinToleranceOfAny(d, suppressors, e.toleranceDays) {
			continue
		}
		accept(d, OriginForwardProjected)
	}

	return predictions
}

// AdjustedWindowStart shifts the analysis window for a client recently
// reassigned to a new staff member: predictions only begin once the grace
// period after the reassignment has elapsed.
func AdjustedWindowStart(windowStart, reassignedAt time.Time, graceDays int) time.Time {
	shifted := dateOnly(reassignedAt).AddDate(0, 0, graceDays)
	if shifted.After(dateOnly(windowStart)) {
		return shifted
	}
	return dateOnly(windowStart)
}

// expectedSessions computes how many sessions the cadence implies for the
// window, rounding half-up for partial boundary periods.
func expectedSessions(windowStart, windowEnd time.Time, cadence int) int {
	days := daysBetween(windowStart, windowEnd) + 1
	if days < 1 || cadence < 1 {
		return 0
	}
	return (days + cadence/2) / cadence
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dateOnlyAll(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = dateOnly(t)
	}
	return out
}

// daysBetween returns b - a in whole days.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func between(dates []time.Time, start, end time.Time) []time.Time {
	var out []time.Time
	for _, d := range dates {
		if !d.Before(start) && !d.After(end) {
			out = append(out, d)
		}
	}
	return out
}

func lastBefore(dates []time.Time, cutoff time.Time) (time.Time, bool) {
	var last time.Time
	found := false
	for _, d := range dates {
		if d.Before(cutoff) && (!found || d.After(last)) {
			last = d
			found = true
		}
	}
	return last, found
}

func withinToleranceOfAny(date time.Time, others []time.Time, tol int) bool {
	for _, o := range others {
		if absInt(daysBetween(date, o)) <= tol {
			return true
		}
	}
	return false
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
