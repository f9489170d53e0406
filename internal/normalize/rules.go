package normalize

import "math"

const (
	lamportsPerSol = 1e9
	// Generic amounts above this are assumed to be lamports.
	lamportHeuristicCutoff = 1e6
)

// Rule extracts a SOL amount from one message field.
type Rule struct {
	Name    string
	Field   string
	Convert func(raw float64) float64
}

// DefaultRules lists the amount fields in priority order.
var DefaultRules = []Rule{
	{Name: "sol_amount", Field: "solAmount"},
	{Name: "sol", Field: "sol"},
	{Name: "lamports", Field: "lamports", Convert: LamportsToSol},
	{Name: "amount", Field: "amount", Convert: AmbiguousAmount},
	{Name: "value", Field: "value"},
}

// LamportsToSol converts lamports to SOL.
func LamportsToSol(lamports float64) float64 {
	return lamports / lamportsPerSol
}

// AmbiguousAmount interprets a generic amount that may be lamports or SOL.
func AmbiguousAmount(v float64) float64 {
	if v > lamportHeuristicCutoff {
		return LamportsToSol(v)
	}
	return v
}

// Apply returns the converted amount when the field is present and strictly
// positive.
func (r Rule) Apply(msg Message) (float64, bool) {
	raw, ok := msg.Number(r.Field)
	if !ok || !positive(raw) {
		return 0, false
	}
	sol := raw
	if r.Convert != nil {
		sol = r.Convert(raw)
	}
	if !positive(sol) {
		return 0, false
	}
	return sol, true
}

// ExtractSol evaluates rules in order and returns the first positive match,
// or 0 when nothing matched.
func ExtractSol(msg Message, rules []Rule) float64 {
	for _, rule := range rules {
		if sol, ok := rule.Apply(msg); ok {
			return sol
		}
	}
	return 0
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
