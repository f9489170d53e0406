package detector

import (
	"time"

	"github.com/google/uuid"
)

// GateConfig holds the fire/no-fire policy.
type GateConfig struct {
	MinTrades       int
	MinTotalSol     float64
	BigSingleBuySol float64 // non-positive disables the single-buy path

	MarketCapGate   bool
	MinMarketCapSol float64

	Tiers TierThresholds
}

// Decision explains one gate evaluation.
type Decision struct {
	AlreadyAlerted bool
	MultiParty     bool
	SingleWhale    bool
	Suppressed     bool
	Fire           bool
	Tier           Tier
}

// Candidate reports whether the trade pattern alone qualified.
func (d Decision) Candidate() bool {
	return d.MultiParty || d.SingleWhale
}

// Alert is emitted once per token per detection cycle.
type Alert struct {
	ID           uuid.UUID
	Mint         string
	Name         string
	Tier         Tier
	TradeCount   int
	TotalSol     float64
	MaxSingleSol float64
	DominancePct float64
	MarketCapSol float64
	Age          time.Duration
	AgeKnown     bool
	Window       time.Duration
	DetectedAt   time.Time
}

// Gate decides whether a token's window constitutes a bundle.
type Gate struct {
	cfg GateConfig
}

// NewGate builds a gate.
func NewGate(cfg GateConfig) Gate {
	return Gate{cfg: cfg}
}

// Evaluate inspects st and snap without mutating anything.
func (g Gate) Evaluate(st *MintState, snap Snapshot) Decision {
	if st.Alerted {
		return Decision{AlreadyAlerted: true}
	}

	d := Decision{
		MultiParty:  snap.TradeCount >= g.cfg.MinTrades && snap.TotalSol >= g.cfg.MinTotalSol,
		SingleWhale: g.cfg.BigSingleBuySol > 0 && snap.MaxSingleSol >= g.cfg.BigSingleBuySol,
	}
	if !d.Candidate() {
		return d
	}
	if g.cfg.MarketCapGate && st.MarketCapSol < g.cfg.MinMarketCapSol {
		d.Suppressed = true
		return d
	}

	d.Fire = true
	d.Tier = Classify(snap.TotalSol, snap.MaxSingleSol, g.cfg.Tiers)
	return d
}

// Apply evaluates the gate and, on fire, flips st.Alerted and builds the
// alert. The returned alert is nil when nothing fired.
func (g Gate) Apply(st *MintState, snap Snapshot, window time.Duration, now time.Time) (*Alert, Decision) {
	d := g.Evaluate(st, snap)
	if !d.Fire {
		return nil, d
	}

	st.Alerted = true
	alert := &Alert{
		ID:           uuid.New(),
		Mint:         st.Mint,
		Name:         st.DisplayName,
		Tier:         d.Tier,
		TradeCount:   snap.TradeCount,
		TotalSol:     snap.TotalSol,
		MaxSingleSol: snap.MaxSingleSol,
		DominancePct: snap.DominancePct,
		MarketCapSol: st.MarketCapSol,
		Window:       window,
		DetectedAt:   now,
	}
	if !st.FirstSeen.IsZero() {
		alert.AgeKnown = true
		alert.Age = now.Sub(st.FirstSeen)
	}
	return alert, d
}
