// Package detector holds the per-token sliding-window aggregation and the
// bundle detection state machine.
package detector

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bundleradar/internal/normalize"
)

// Config parameterises an Engine.
type Config struct {
	Window time.Duration
	Gate   GateConfig

	// MarketCapReserveMultiplier estimates market cap from the curve reserve
	// when a frame carries no direct signal. Zero disables the estimate.
	MarketCapReserveMultiplier float64
}

// Result describes what one event did. Created is set when the event
// started tracking a token.
type Result struct {
	Mint      string
	Recorded  bool
	Delta     float64
	Snapshot  Snapshot
	Decision  Decision
	Subscribe bool
	Created   bool
	Alert     *Alert
}

// Engine owns the token store. All mutation, including eviction, happens
// under one lock, so events for a token are applied in arrival order and
// never interleave with a sweep.
type Engine struct {
	mu     sync.Mutex
	store  *Store
	cfg    Config
	gate   Gate
	logger zerolog.Logger
}

// NewEngine builds an engine with an empty store.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  NewStore(),
		cfg:    cfg,
		gate:   NewGate(cfg.Gate),
		logger: logger.With().Str("component", "detector").Logger(),
	}
}

// Handle applies one normalized event observed at now.
func (e *Engine) Handle(ev normalize.Event, now time.Time) Result {
	if ev.Mint == "" {
		return Result{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case normalize.KindCreate:
		return e.handleCreate(ev, now)
	case normalize.KindTrade:
		return e.handleTrade(ev, now)
	default:
		return Result{Mint: ev.Mint}
	}
}

func (e *Engine) handleCreate(ev normalize.Event, now time.Time) Result {
	_, known := e.store.Get(ev.Mint)
	st := e.store.Reset(ev.Mint, now)
	if ev.Name != "" {
		st.DisplayName = ev.Name
	}
	if ev.HasVirtualSol {
		ObserveReserve(st, ev.VirtualSol)
	}
	e.updateMarketCap(st, ev)

	res := Result{Mint: ev.Mint, Created: !known}
	if !st.SubscribedToTrades {
		st.SubscribedToTrades = true
		res.Subscribe = true
	}

	e.logger.Debug().Str("mint", ev.Mint).Str("name", st.DisplayName).
		Float64("market_cap_sol", st.MarketCapSol).
		Msg("token created")
	return res
}

func (e *Engine) handleTrade(ev normalize.Event, now time.Time) Result {
	_, known := e.store.Get(ev.Mint)
	st := e.store.GetOrCreate(ev.Mint, now)
	st.LastActivity = now
	e.updateMarketCap(st, ev)

	res := Result{Mint: ev.Mint, Created: !known}

	var amount float64
	if ev.HasVirtualSol {
		if delta, ok := ObserveReserve(st, ev.VirtualSol); ok && ev.Buy {
			amount = delta
		}
	} else if ev.Buy {
		amount = ev.SolAmount
	}

	if amount > 0 {
		res.Snapshot, res.Recorded = RecordTrade(st, ev.Buyer, amount, now, e.cfg.Window)
		if !res.Recorded {
			e.logger.Warn().Str("mint", ev.Mint).Float64("amount", amount).Msg("dropped invalid trade amount")
		}
	} else {
		res.Snapshot = Aggregate(st, now, e.cfg.Window)
	}

	if res.Recorded {
		res.Delta = amount
		e.logger.Debug().
			Str("mint", ev.Mint).
			Str("buyer", normalize.Short(ev.Buyer)).
			Float64("delta_sol", amount).
			Int("trades", res.Snapshot.TradeCount).
			Float64("total_sol", res.Snapshot.TotalSol).
			Msg("trade recorded")
	}

	res.Alert, res.Decision = e.gate.Apply(st, res.Snapshot, e.cfg.Window, now)
	if res.Decision.Suppressed {
		e.logger.Debug().Str("mint", ev.Mint).
			Float64("market_cap_sol", st.MarketCapSol).
			Msg("bundle pattern below market cap gate")
	}
	if res.Alert != nil {
		e.logger.Info().
			Str("mint", ev.Mint).
			Str("tier", res.Alert.Tier.String()).
			Int("trades", res.Alert.TradeCount).
			Float64("total_sol", res.Alert.TotalSol).
			Float64("max_single_sol", res.Alert.MaxSingleSol).
			Float64("dominance_pct", res.Alert.DominancePct).
			Msg("bundle detected")
	}
	return res
}

// updateMarketCap prefers a direct signal, then the reserve proxy. Frames
// with neither, or with a reading outside (0, MaxMarketCapSol], leave the
// estimate alone.
func (e *Engine) updateMarketCap(st *MintState, ev normalize.Event) {
	var estimate float64
	switch {
	case ev.MarketCapSol > 0:
		estimate = ev.MarketCapSol
	case ev.HasVirtualSol && ev.VirtualSol > 0 && e.cfg.MarketCapReserveMultiplier > 0:
		estimate = e.cfg.MarketCapReserveMultiplier * ev.VirtualSol
	default:
		return
	}
	if !plausible(estimate, MaxMarketCapSol) {
		e.logger.Warn().Str("mint", st.Mint).Float64("market_cap_sol", estimate).Msg("ignored implausible market cap")
		return
	}
	st.MarketCapSol = estimate
}

// Sweep evicts tokens idle for longer than ttl and returns their ids.
func (e *Engine) Sweep(ttl time.Duration, now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.EvictIdleOlderThan(ttl, now)
}

// Tracked returns the number of tokens currently held.
func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Len()
}

// State returns a copy of a token's state.
func (e *Engine) State(mint string) (MintState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.store.Get(mint)
	if !ok {
		return MintState{}, false
	}
	cp := *st
	cp.Trades = append([]Trade(nil), st.Trades...)
	return cp, true
}
