package roster

import "strings"

// NormalizeName builds the canonical "last, first" form used as a key
// throughout the run: lowercase, interior whitespace collapsed.
func NormalizeName(last, first string) string {
	last = collapse(last)
	first = collapse(first)
	if last == "" {
		return first
	}
	if first == "" {
		return last
	}
	return last + ", " + first
}

// NormalizeStaffField parses a client roster's assigned-staff cell, which
// arrives as "Last, First" optionally suffixed with " - Qualifier"
// (e.g. "Perez, Ethel - Intake"). The qualifier is dropped.
func NormalizeStaffField(field string) string {
	if idx := strings.Index(field, " - "); idx >= 0 {
		field = field[:idx]
	}
	parts := strings.SplitN(field, ",", 2)
	if len(parts) == 2 {
		return NormalizeName(parts[0], parts[1])
	}
	return collapse(field)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
