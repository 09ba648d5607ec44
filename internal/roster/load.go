package roster

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// LoadStaff reads the staff roster CSV. A header row is required.
// Expected columns (matched by header name, order-independent):
// last name, first name, termination/leave date (optional).
func LoadStaff(path string) ([]StaffMember, []Warning, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("staff roster %s is empty (header row required)", path)
	}

	cols := indexHeaders(records[0])
	lastCol, ok := cols.find("last")
	if !ok {
		return nil, nil, fmt.Errorf("staff roster missing 'last name' column")
	}
	firstCol, ok := cols.find("first")
	if !ok {
		return nil, nil, fmt.Errorf("staff roster missing 'first name' column")
	}
	sepCol, hasSep := cols.findAny("termination", "leave", "separation")

	var staff []StaffMember
	var warnings []Warning

	for i, rec := range records[1:] {
		line := i + 2
		name := NormalizeName(cell(rec, lastCol), cell(rec, firstCol))
		if name == "" {
			warnings = append(warnings, Warning{Line: line, Reason: "missing staff name"})
			continue
		}

		member := StaffMember{Name: name, Status: StatusActive}
		if hasSep {
			if raw := cell(rec, sepCol); raw != "" {
				sep, err := dateparse.ParseAny(raw)
				if err != nil {
					warnings = append(warnings, Warning{Line: line, Name: name,
						Reason: fmt.Sprintf("unparseable termination/leave date %q", raw)})
				} else {
					member.SeparationDate = sep
					if sep.After(time.Now()) {
						member.Status = StatusLeave
					} else {
						member.Status = StatusTerminated
					}
				}
			}
		}

		staff = append(staff, member)
	}

	return staff, warnings, nil
}

// LoadClients reads the client roster CSV. A header row is required.
// Expected columns: last name, first name, assigned staff
// ("Last, First[ - Qualifier]"), cadence descriptor, reassignment indicator,
// reassignment/service-file start date, service-file status, date of birth
// (optional).
//
// Rows missing a resolvable cadence or a service-file status are excluded
// and reported as warnings. Closed service files are kept (they appear in
// the report as skipped); duplicate rows for the same client are kept and
// flagged for manual review.
func LoadClients(path string, cadenceAliases map[string]int) ([]Client, []Warning, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("client roster %s is empty (header row required)", path)
	}

	cols := indexHeaders(records[0])
	lastCol, ok := cols.find("last")
	if !ok {
		return nil, nil, fmt.Errorf("client roster missing 'last name' column")
	}
	firstCol, ok := cols.find("first")
	if !ok {
		return nil, nil, fmt.Errorf("client roster missing 'first name' column")
	}
	staffCol, ok := cols.findAny("staff", "clinician", "assigned")
	if !ok {
		return nil, nil, fmt.Errorf("client roster missing 'assigned staff' column")
	}
	cadenceCol, ok := cols.findAny("cadence", "frequency")
	if !ok {
		return nil, nil, fmt.Errorf("client roster missing 'cadence' column")
	}
	statusCol, ok := cols.find("status")
	if !ok {
		return nil, nil, fmt.Errorf("client roster missing 'status' column")
	}
	reassignCol, hasReassign := cols.findIndicator("reassign")
	startCol, hasStart := cols.findAny("start", "reassignment date")
	dobCol, hasDOB := cols.findAny("birth", "dob")

	var clients []Client
	var warnings []Warning
	byName := make(map[string][]int) // normalized name -> indices into clients

	for i, rec := range records[1:] {
		line := i + 2
		name := NormalizeName(cell(rec, lastCol), cell(rec, firstCol))
		if name == "" {
			warnings = append(warnings, Warning{Line: line, Reason: "missing client name"})
			continue
		}

		client := Client{
			Name:              name,
			Staff:             NormalizeStaffField(cell(rec, staffCol)),
			CadenceDescriptor: strings.TrimSpace(cell(rec, cadenceCol)),
		}

		if client.Staff == "" {
			warnings = append(warnings, Warning{Line: line, Name: name, Reason: "missing assigned staff"})
			continue
		}

		client.CadenceDays = ResolveCadence(client.CadenceDescriptor, cadenceAliases)
		if client.CadenceDays == 0 {
			warnings = append(warnings, Warning{Line: line, Name: name,
				Reason: fmt.Sprintf("unresolvable cadence %q", client.CadenceDescriptor)})
			continue
		}

		status := strings.ToLower(strings.TrimSpace(cell(rec, statusCol)))
		switch {
		case status == "":
			warnings = append(warnings, Warning{Line: line, Name: name, Reason: "missing service-file status"})
			continue
		case strings.Contains(status, "open"):
			client.FileStatus = FileOpen
		default:
			client.FileStatus = FileClosed
		}

		if hasReassign {
			client.Reassigned = truthy(cell(rec, reassignCol))
		}

		if hasStart {
			if raw := cell(rec, startCol); raw != "" {
				start, err := dateparse.ParseAny(raw)
				if err != nil {
					client.Notes = append(client.Notes,
						fmt.Sprintf("unparseable start/reassignment date %q", raw))
				} else if client.Reassigned {
					client.ReassignedAt = start
				} else {
					client.ServiceStart = start
				}
				if err == nil && start.After(time.Now()) {
					client.Notes = append(client.Notes, "future-dated service-file start")
				}
			} else if client.Reassigned {
				client.Notes = append(client.Notes, "reassigned without reassignment date")
			}
		}

		if hasDOB {
			if raw := cell(rec, dobCol); raw != "" {
				dob, err := dateparse.ParseAny(raw)
				if err != nil {
					client.Notes = append(client.Notes, fmt.Sprintf("unparseable date of birth %q", raw))
				} else if dob.After(time.Now()) {
					client.Notes = append(client.Notes, "future-dated date of birth")
				} else {
					client.DateOfBirth = dob
				}
			}
		}

		byName[name] = append(byName[name], len(clients))
		clients = append(clients, client)
	}

	// Duplicate roster rows for one client are independent analysis units,
	// both flagged for manual review rather than merged.
	for name, idxs := range byName {
		if len(idxs) < 2 {
			continue
		}
		for _, idx := range idxs {
			clients[idx].ManualReview = true
			clients[idx].Notes = append(clients[idx].Notes, "duplicate-roster-row")
		}
		warnings = append(warnings, Warning{Name: name,
			Reason: fmt.Sprintf("%d roster rows for the same client", len(idxs))})
	}

	return clients, warnings, nil
}

// ResolveCadence converts a roster cadence descriptor to a day interval.
// Resolution order: configured alias table, then a numeric interval embedded
// in the descriptor ("every 2 weeks", "10 days", "10"). Returns 0 when the
// descriptor cannot be resolved.
func ResolveCadence(descriptor string, aliases map[string]int) int {
	norm := strings.Join(strings.Fields(strings.ToLower(descriptor)), " ")
	if norm == "" {
		return 0
	}

	if days, ok := aliases[norm]; ok {
		return days
	}

	n := firstNumber(norm)
	if n <= 0 {
		return 0
	}
	switch {
	case strings.Contains(norm, "week"):
		return n * 7
	case strings.Contains(norm, "month"):
		return n * 28
	default:
		return n
	}
}

func firstNumber(s string) int {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, _ := strconv.Atoi(s[start:i])
			return n
		}
	}
	if start >= 0 {
		n, _ := strconv.Atoi(s[start:])
		return n
	}
	return 0
}

func truthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "true", "x", "1", "reassigned":
		return true
	default:
		return false
	}
}

// headerIndex maps normalized header names to column positions.
type headerIndex []string

func indexHeaders(header []string) headerIndex {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return normalized
}

// find returns the first column whose header contains the fragment.
func (h headerIndex) find(fragment string) (int, bool) {
	for i, name := range h {
		if strings.Contains(name, fragment) {
			return i, true
		}
	}
	return 0, false
}

func (h headerIndex) findAny(fragments ...string) (int, bool) {
	for _, f := range fragments {
		if i, ok := h.find(f); ok {
			return i, true
		}
	}
	return 0, false
}

// findIndicator finds a column containing the fragment but excludes date
// columns, so "Reassigned" matches and "Reassignment Date" does not.
func (h headerIndex) findIndicator(fragment string) (int, bool) {
	for i, name := range h {
		if strings.Contains(name, fragment) && !strings.Contains(name, "date") {
			return i, true
		}
	}
	return 0, false
}

func cell(rec []string, col int) string {
	if col >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[col])
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // rosters exported by hand are often ragged
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse roster CSV: %w", err)
	}
	return records, nil
}
