// Package match implements the ordered name-matching strategies used when
// locating a staff member or client in the external record system. Strategies
// are tried in order until one yields an unambiguous match; the winning
// strategy is recorded on the result so every match is auditable.
package match

import "strings"

// Strategy identifies which matching rule produced a result.
type Strategy string

const (
	// StrategyExact matches the normalized target string exactly.
	StrategyExact Strategy = "exact"

	// StrategyTokenSubset matches when every token of the target name appears
	// among the candidate's tokens. Prevents "ethel perez" matching
	// "ana perez pinker".
	StrategyTokenSubset Strategy = "token-subset"

	// StrategyLastName matches on last name alone, accepted only when exactly
	// one candidate shares that last name.
	StrategyLastName Strategy = "last-name"
)

// Confidence returns a comparable score for the strategy: exact matches are
// the most trustworthy, last-name-only the least.
func (s Strategy) Confidence() float64 {
	switch s {
	case StrategyExact:
		return 1.0
	case StrategyTokenSubset:
		return 0.8
	case StrategyLastName:
		return 0.5
	default:
		return 0
	}
}

// Result describes a successful match.
type Result struct {
	Index    int      // Index into the candidate slice
	Value    string   // The matched candidate, as given
	Strategy Strategy // Which rule matched
}

// Outcome is the full result of running the strategy list. Ambiguous is set
// when a strategy found several candidates and none of the stronger
// strategies could separate them; an ambiguous outcome is never a match.
type Outcome struct {
	Result    Result
	OK        bool
	Ambiguous bool // Last-name matching found more than one candidate
}

// Find runs the ordered strategy list against the candidates. The target and
// candidates are expected in the run's normalized "last, first" form, but the
// matcher tolerates extra qualifiers and middle names on the candidate side.
func Find(target string, candidates []string) Outcome {
	targetNorm := normalize(target)
	targetTokens := tokens(targetNorm)

	// Strategy 1: exact normalized match
	for i, cand := range candidates {
		if normalize(cand) == targetNorm {
			return Outcome{Result: Result{Index: i, Value: cand, Strategy: StrategyExact}, OK: true}
		}
	}

	// Strategy 2: every target token must appear among the candidate tokens.
	// First unambiguous hit wins; two hits mean the roster name is too weak
	// to distinguish and we fall through rather than guessing.
	subsetHits := make([]int, 0, 2)
	for i, cand := range candidates {
		if tokenSubset(targetTokens, tokens(normalize(cand))) {
			subsetHits = append(subsetHits, i)
		}
	}
	if len(subsetHits) == 1 {
		i := subsetHits[0]
		return Outcome{Result: Result{Index: i, Value: candidates[i], Strategy: StrategyTokenSubset}, OK: true}
	}
	if len(subsetHits) > 1 {
		return Outcome{Ambiguous: true}
	}

	// Strategy 3: last name alone, only if exactly one candidate carries it
	last := lastName(targetNorm)
	if last == "" {
		return Outcome{}
	}
	lastHits := make([]int, 0, 2)
	for i, cand := range candidates {
		candNorm := normalize(cand)
		if lastName(candNorm) != last {
			continue
		}
		// A candidate with a plainly different first name is a different
		// person, not a weak match: "smith, jane" never matches "smith, john".
		if conflictingFirstName(firstName(targetNorm), firstName(candNorm)) {
			continue
		}
		lastHits = append(lastHits, i)
	}
	if len(lastHits) == 1 {
		i := lastHits[0]
		return Outcome{Result: Result{Index: i, Value: candidates[i], Strategy: StrategyLastName}, OK: true}
	}
	if len(lastHits) > 1 {
		return Outcome{Ambiguous: true}
	}

	return Outcome{}
}

// normalize lowercases and collapses whitespace. Accepts both "last, first"
// and "first last" forms; the comma is retained so lastName can find it.
func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// tokens splits a normalized name into word tokens, dropping punctuation
// and single-letter initials (a middle initial should not block a match).
func tokens(norm string) []string {
	fields := strings.FieldsFunc(norm, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '-'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// tokenSubset reports whether every target token appears among the candidate
// tokens. Both sides must be non-empty.
func tokenSubset(target, candidate []string) bool {
	if len(target) == 0 || len(candidate) == 0 {
		return false
	}
	for _, tok := range target {
		found := false
		for _, c := range candidate {
			if c == tok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// firstName extracts the leading first-name token from a normalized string:
// the first word after the comma in "last, first", otherwise the first word.
// Returns "" when the name has no usable first-name token.
func firstName(norm string) string {
	if idx := strings.Index(norm, ","); idx >= 0 {
		rest := tokens(norm[idx+1:])
		if len(rest) == 0 {
			return ""
		}
		return rest[0]
	}
	fields := tokens(norm)
	if len(fields) < 2 {
		return ""
	}
	return fields[0]
}

// conflictingFirstName reports whether two first names identify different
// people. Missing names and prefix relationships ("sam" vs "samantha") do
// not conflict.
func conflictingFirstName(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
		return false
	}
	return true
}

// lastName extracts the last name from a normalized string: the portion
// before the comma in "last, first", otherwise the final word.
func lastName(norm string) string {
	if idx := strings.Index(norm, ","); idx >= 0 {
		return strings.TrimSpace(norm[:idx])
	}
	fields := strings.Fields(norm)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
