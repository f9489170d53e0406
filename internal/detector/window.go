package detector

import (
	"fmt"
	"math"
	"time"
)

// strictInvariants turns invariant violations into panics. Tests enable it.
var strictInvariants = false

const (
	// MaxTradeSol bounds one recorded buy. Larger amounts only come from
	// malformed frames and are rejected rather than aggregated.
	MaxTradeSol = 1e6
	// MaxMarketCapSol bounds a market-cap reading. The whole SOL supply is
	// below it, so anything above is corrupt input.
	MaxMarketCapSol = 1e9
)

// plausible reports whether v is a finite positive value no larger than limit.
func plausible(v, limit float64) bool {
	return v > 0 && v <= limit
}

// Snapshot is the aggregate view of a token's current window.
type Snapshot struct {
	TradeCount   int
	TotalSol     float64
	MaxSingleSol float64
	MaxBuyerSol  float64
	DominancePct float64
	PerBuyer     map[string]float64
}

// RecordTrade appends a trade, prunes the window and returns the fresh
// aggregate. ok is false when the amount was rejected as invalid or above
// MaxTradeSol; only the former is an invariant violation.
func RecordTrade(st *MintState, buyer string, sol float64, now time.Time, window time.Duration) (snap Snapshot, ok bool) {
	if !(sol > 0) || math.IsInf(sol, 0) {
		if strictInvariants {
			panic(fmt.Sprintf("detector: invalid trade amount %v for %s", sol, st.Mint))
		}
		return Aggregate(st, now, window), false
	}
	if sol > MaxTradeSol {
		return Aggregate(st, now, window), false
	}
	st.Trades = append(st.Trades, Trade{At: now, Buyer: buyer, SolAmount: sol})
	return Aggregate(st, now, window), true
}

// Aggregate prunes trades older than now-window and recomputes statistics.
func Aggregate(st *MintState, now time.Time, window time.Duration) Snapshot {
	prune(st, now.Add(-window))

	snap := Snapshot{
		TradeCount: len(st.Trades),
		PerBuyer:   make(map[string]float64, len(st.Trades)),
	}
	for _, tr := range st.Trades {
		snap.TotalSol += tr.SolAmount
		if tr.SolAmount > snap.MaxSingleSol {
			snap.MaxSingleSol = tr.SolAmount
		}
		snap.PerBuyer[tr.Buyer] += tr.SolAmount
	}
	for _, v := range snap.PerBuyer {
		if v > snap.MaxBuyerSol {
			snap.MaxBuyerSol = v
		}
	}
	if snap.TotalSol > 0 && !math.IsInf(snap.TotalSol, 0) {
		snap.DominancePct = math.Min(100, 100*snap.MaxBuyerSol/snap.TotalSol)
	}
	return snap
}

// prune keeps trades with At >= cutoff. Order is not assumed.
func prune(st *MintState, cutoff time.Time) {
	kept := st.Trades[:0]
	for _, tr := range st.Trades {
		if !tr.At.Before(cutoff) {
			kept = append(kept, tr)
		}
	}
	// release references held past the new length
	for i := len(kept); i < len(st.Trades); i++ {
		st.Trades[i] = Trade{}
	}
	if len(kept) == 0 {
		st.Trades = nil
		return
	}
	st.Trades = kept
}

// ObserveReserve records a bonding-curve reserve reading and returns the
// positive increase since the previous reading. The first reading only sets
// the baseline.
func ObserveReserve(st *MintState, reserve float64) (float64, bool) {
	prev := reserve
	if st.HasVirtualSol {
		prev = st.LastVirtualSol
	}
	st.LastVirtualSol = reserve
	st.HasVirtualSol = true

	delta := reserve - prev
	return delta, delta > 0
}
