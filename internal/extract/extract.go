// Package extract converts raw per-client document listings from the record
// system into classified, dated records. Classification is driven by the
// configured category table, never by string comparisons scattered through
// the traversal code: a typo'd or unknown label degrades to Informational
// with a data-quality note instead of silently miscounting.
package extract

import (
	"sort"
	"strings"
	"time"

	"github.com/therapyops/chartrecon/internal/config"
	"github.com/therapyops/chartrecon/internal/recordsys"
)

// Category is the closed set of document classifications.
type Category string

const (
	// BillableSession is a documented clinical encounter that counts as a
	// completed appointment.
	BillableSession Category = "billable-session"

	// MissedAppointmentNote is an explicitly documented missed appointment.
	MissedAppointmentNote Category = "missed-appointment-note"

	// Informational documents are excluded from all counting.
	Informational Category = "informational"
)

// DocumentRecord is a classified, dated document. Created once per extracted
// document; never mutated.
type DocumentRecord struct {
	Label    string
	Date     time.Time
	Category Category
}

// Classifier maps record system document labels to categories using the
// configured table. Lookup is case-insensitive and treats singular and
// plural phrasings of a label identically ("Consultation Note" and
// "Consultation Notes" classify the same).
type Classifier struct {
	byLabel map[string]Category
}

// NewClassifier builds a classifier from the configured category table.
// The table is assumed validated by config.
func NewClassifier(rules []config.CategoryRule) *Classifier {
	byLabel := make(map[string]Category)
	for _, rule := range rules {
		var category Category
		switch rule.Category {
		case config.CategoryBillable:
			category = BillableSession
		case config.CategoryMissed:
			category = MissedAppointmentNote
		default:
			category = Informational
		}
		for _, label := range rule.Labels {
			byLabel[canonicalLabel(label)] = category
		}
	}
	return &Classifier{byLabel: byLabel}
}

// Classify returns the category for a document label. known is false when
// the label is absent from the table; such documents classify as
// Informational so they can never inflate or deflate session counts.
func (c *Classifier) Classify(label string) (category Category, known bool) {
	if cat, ok := c.byLabel[canonicalLabel(label)]; ok {
		return cat, true
	}
	return Informational, false
}

// canonicalLabel lowercases, collapses whitespace, and singularizes the
// final word so that plural phrasings share one table entry.
func canonicalLabel(label string) string {
	fields := strings.Fields(strings.ToLower(label))
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	fields[len(fields)-1] = singularize(last)
	return strings.Join(fields, " ")
}

// singularize strips a plural suffix from a single word. Handles the forms
// that occur in document labels ("notes", "summaries", "plans"); it is not a
// general English stemmer.
func singularize(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 3:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "sses"), strings.HasSuffix(word, "xes"), strings.HasSuffix(word, "ches"), strings.HasSuffix(word, "shes"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ss"):
		return word
	case strings.HasSuffix(word, "s") && len(word) > 1:
		return word[:len(word)-1]
	}
	return word
}

// Timeline is a client's full extracted history: every classified document in
// date order plus the schedule view. Documents outside the analysis window
// are preserved; forward projection needs them.
type Timeline struct {
	Documents     []DocumentRecord // Sorted by date, ascending
	Scheduled     []time.Time      // Schedule view dates, sorted ascending
	UnknownLabels []string         // Distinct labels absent from the category table
	Partial       bool             // True when extraction was cut off by timeout
}

// Build classifies raw documents and assembles a sorted timeline.
func (c *Classifier) Build(docs []recordsys.RawDocument, schedule []recordsys.RawAppointment) *Timeline {
	t := &Timeline{}
	seenUnknown := make(map[string]bool)

	for _, raw := range docs {
		category, known := c.Classify(raw.Label)
		if !known && !seenUnknown[raw.Label] {
			seenUnknown[raw.Label] = true
			t.UnknownLabels = append(t.UnknownLabels, raw.Label)
		}
		t.Documents = append(t.Documents, DocumentRecord{
			Label:    raw.Label,
			Date:     raw.Date,
			Category: category,
		})
	}

	sort.Slice(t.Documents, func(i, j int) bool {
		return t.Documents[i].Date.Before(t.Documents[j].Date)
	})

	for _, appt := range schedule {
		t.Scheduled = append(t.Scheduled, appt.Date)
	}
	sort.Slice(t.Scheduled, func(i, j int) bool {
		return t.Scheduled[i].Before(t.Scheduled[j])
	})

	return t
}

// BillableDates returns the dates of all billable sessions, ascending.
func (t *Timeline) BillableDates() []time.Time {
	return t.datesOf(BillableSession)
}

// MissedNoteDates returns the dates of all explicit missed-appointment
// notes, ascending.
func (t *Timeline) MissedNoteDates() []time.Time {
	return t.datesOf(MissedAppointmentNote)
}

func (t *Timeline) datesOf(category Category) []time.Time {
	var out []time.Time
	for _, doc := range t.Documents {
		if doc.Category == category {
			out = append(out, doc.Date)
		}
	}
	return out
}
