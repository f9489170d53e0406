package detector

import (
	"fmt"
	"strings"
)

// Tier is the severity of a detected bundle, ordered least to most severe.
type Tier int

const (
	TierBundle Tier = iota
	TierMedium
	TierLarge
	TierWhale
)

func (t Tier) String() string {
	switch t {
	case TierWhale:
		return "whale"
	case TierLarge:
		return "large"
	case TierMedium:
		return "medium"
	default:
		return "bundle"
	}
}

// Label is the human-facing tag used in notifications.
func (t Tier) Label() string {
	switch t {
	case TierWhale:
		return "🐳 80%"
	case TierLarge:
		return "🚀 60%"
	case TierMedium:
		return "🧨 50%"
	default:
		return "📌 BUNDLE"
	}
}

// ParseTier accepts the String form of a tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "whale":
		return TierWhale, nil
	case "large":
		return TierLarge, nil
	case "medium":
		return TierMedium, nil
	case "bundle", "":
		return TierBundle, nil
	default:
		return TierBundle, fmt.Errorf("unknown tier %q", s)
	}
}

// TierThresholds configure Classify. A non-positive threshold disables its
// rule.
type TierThresholds struct {
	WhaleSingleSol float64
	LargeSingleSol float64
	LargeTotalSol  float64
	MediumTotalSol float64
}

// DefaultTierThresholds returns the production thresholds.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{
		WhaleSingleSol: 15,
		LargeSingleSol: 8,
		LargeTotalSol:  12,
		MediumTotalSol: 5,
	}
}

// Classify picks the most severe tier whose rule matches.
func Classify(totalSol, maxSingleSol float64, th TierThresholds) Tier {
	switch {
	case reached(maxSingleSol, th.WhaleSingleSol):
		return TierWhale
	case reached(maxSingleSol, th.LargeSingleSol), reached(totalSol, th.LargeTotalSol):
		return TierLarge
	case reached(totalSol, th.MediumTotalSol):
		return TierMedium
	default:
		return TierBundle
	}
}

func reached(v, threshold float64) bool {
	return threshold > 0 && v >= threshold
}
