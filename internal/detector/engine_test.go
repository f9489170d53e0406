package detector

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundleradar/internal/normalize"
)

func testEngine(gate GateConfig) *Engine {
	return NewEngine(Config{Window: 3 * time.Second, Gate: gate, MarketCapReserveMultiplier: 2}, zerolog.Nop())
}

func buy(mint, buyer string, sol float64) normalize.Event {
	return normalize.Event{Kind: normalize.KindTrade, Mint: mint, Buyer: buyer, Buy: true, SolAmount: sol}
}

func curveBuy(mint string, reserve float64) normalize.Event {
	return normalize.Event{Kind: normalize.KindTrade, Mint: mint, Buyer: "w", Buy: true, VirtualSol: reserve, HasVirtualSol: true}
}

func TestClassify(t *testing.T) {
	th := DefaultTierThresholds()
	tests := []struct {
		name      string
		total     float64
		maxSingle float64
		want      Tier
	}{
		{"whale single", 20, 15, TierWhale},
		{"large single", 9, 8, TierLarge},
		{"large total", 12, 3, TierLarge},
		{"medium total", 5, 1, TierMedium},
		{"catch-all", 4.9, 4, TierBundle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.total, tt.maxSingle, th))
		})
	}

	assert.Equal(t, TierBundle, Classify(100, 100, TierThresholds{}), "disabled thresholds never match")
}

func TestParseTier(t *testing.T) {
	for _, tier := range []Tier{TierBundle, TierMedium, TierLarge, TierWhale} {
		got, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, got)
	}
	_, err := ParseTier("mega")
	assert.Error(t, err)
}

func TestMultiPartyBundleFiresAsBundleTier(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5})

	res := e.Handle(buy("m", "a", 3), t0)
	require.True(t, res.Recorded)
	assert.Nil(t, res.Alert)

	res = e.Handle(buy("m", "b", 3), t0.Add(500*time.Millisecond))
	require.NotNil(t, res.Alert)
	assert.True(t, res.Decision.MultiParty)
	assert.Equal(t, TierBundle, res.Alert.Tier)
	assert.Equal(t, 2, res.Alert.TradeCount)
	assert.InDelta(t, 6.0, res.Alert.TotalSol, 1e-12)
	assert.Equal(t, 3.0, res.Alert.MaxSingleSol)
	assert.InDelta(t, 50.0, res.Alert.DominancePct, 1e-9)
	assert.Equal(t, "m", res.Alert.Mint)
	assert.True(t, res.Alert.AgeKnown)
	assert.Equal(t, 500*time.Millisecond, res.Alert.Age)
	assert.NotEqual(t, [16]byte{}, [16]byte(res.Alert.ID))
}

func TestSingleWhaleBuyFires(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5, BigSingleBuySol: 4, Tiers: DefaultTierThresholds()})

	res := e.Handle(buy("m", "whale", 16), t0)
	require.NotNil(t, res.Alert)
	assert.True(t, res.Decision.SingleWhale)
	assert.False(t, res.Decision.MultiParty)
	assert.Equal(t, TierWhale, res.Alert.Tier)
	assert.Equal(t, 1, res.Alert.TradeCount)
	assert.Equal(t, 100.0, res.Alert.DominancePct)
}

func TestAlertAtMostOncePerCycle(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5, BigSingleBuySol: 4})

	alerts := 0
	now := t0
	for i := 0; i < 50; i++ {
		now = now.Add(100 * time.Millisecond)
		if res := e.Handle(buy("m", "a", 10), now); res.Alert != nil {
			alerts++
		} else if i > 0 {
			assert.True(t, res.Decision.AlreadyAlerted)
		}
	}
	assert.Equal(t, 1, alerts)

	st, ok := e.State("m")
	require.True(t, ok)
	assert.True(t, st.Alerted)

	// a fresh create re-arms the token
	res := e.Handle(normalize.Event{Kind: normalize.KindCreate, Mint: "m"}, now.Add(time.Second))
	assert.True(t, res.Subscribe, "token was first seen through a trade")
	res = e.Handle(buy("m", "a", 10), now.Add(2*time.Second))
	assert.NotNil(t, res.Alert)
}

func TestEvictionReArmsToken(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 1, MinTotalSol: 1})

	require.NotNil(t, e.Handle(buy("m", "a", 2), t0).Alert)
	assert.Equal(t, []string{"m"}, e.Sweep(2*time.Minute, t0.Add(3*time.Minute)))
	assert.Zero(t, e.Tracked())

	assert.NotNil(t, e.Handle(buy("m", "a", 2), t0.Add(4*time.Minute)).Alert)
}

func TestCreateResetsAndRequestsSubscriptionOnce(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5})

	res := e.Handle(normalize.Event{Kind: normalize.KindCreate, Mint: "m", Name: "Coin", VirtualSol: 30, HasVirtualSol: true}, t0)
	assert.True(t, res.Subscribe)

	st, _ := e.State("m")
	assert.Equal(t, "Coin", st.DisplayName)
	assert.Equal(t, 30.0, st.LastVirtualSol)
	assert.Equal(t, 60.0, st.MarketCapSol, "reserve proxy with multiplier 2")
	assert.True(t, st.SubscribedToTrades)

	res = e.Handle(normalize.Event{Kind: normalize.KindCreate, Mint: "m"}, t0.Add(time.Second))
	assert.False(t, res.Subscribe)
	st, _ = e.State("m")
	assert.Equal(t, "Coin", st.DisplayName, "name survives a nameless re-create")
	assert.False(t, st.HasVirtualSol)
}

func TestReserveDifferencingThroughEngine(t *testing.T) {
	e := NewEngine(Config{Window: time.Hour, Gate: GateConfig{MinTrades: 1000}}, zerolog.Nop())

	var deltas []float64
	now := t0
	for _, reserve := range []float64{10, 10, 15, 12, 20} {
		now = now.Add(time.Second)
		if res := e.Handle(curveBuy("m", reserve), now); res.Recorded {
			deltas = append(deltas, res.Delta)
		}
	}
	assert.Equal(t, []float64{5, 8}, deltas)

	st, _ := e.State("m")
	assert.Equal(t, 20.0, st.LastVirtualSol)
	require.Len(t, st.Trades, 2)
	assert.Equal(t, 5.0, st.Trades[0].SolAmount)
	assert.Equal(t, 8.0, st.Trades[1].SolAmount)
}

func TestSellMovesReserveBaselineWithoutRecording(t *testing.T) {
	e := NewEngine(Config{Window: time.Hour, Gate: GateConfig{MinTrades: 1000}}, zerolog.Nop())

	e.Handle(curveBuy("m", 10), t0)
	sell := curveBuy("m", 8)
	sell.Buy = false
	res := e.Handle(sell, t0.Add(time.Second))
	assert.False(t, res.Recorded)

	res = e.Handle(curveBuy("m", 11), t0.Add(2*time.Second))
	require.True(t, res.Recorded)
	assert.Equal(t, 3.0, res.Delta)
}

func TestMarketCapEstimateHolds(t *testing.T) {
	e := NewEngine(Config{Window: 3 * time.Second, Gate: GateConfig{MinTrades: 1000}}, zerolog.Nop())

	withCap := buy("m", "a", 1)
	withCap.MarketCapSol = 1000
	e.Handle(withCap, t0)

	for i := 1; i <= 2; i++ {
		e.Handle(buy("m", "a", 1), t0.Add(time.Duration(i)*time.Second))
		st, _ := e.State("m")
		assert.Equal(t, 1000.0, st.MarketCapSol)
	}

	// reserve proxy disabled: reserve-only frames do not touch the estimate
	e.Handle(curveBuy("m", 50), t0.Add(3*time.Second))
	st, _ := e.State("m")
	assert.Equal(t, 1000.0, st.MarketCapSol)
}

func TestMarketCapGate(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5, MarketCapGate: true, MinMarketCapSol: 100})

	low := buy("m", "a", 3)
	low.MarketCapSol = 40
	e.Handle(low, t0)

	res := e.Handle(buy("m", "b", 3), t0.Add(500*time.Millisecond))
	assert.Nil(t, res.Alert)
	assert.True(t, res.Decision.Suppressed)
	assert.True(t, res.Decision.Candidate())

	// a later frame raises the estimate while the pattern is still in the window
	update := normalize.Event{Kind: normalize.KindTrade, Mint: "m", MarketCapSol: 150}
	res = e.Handle(update, t0.Add(time.Second))
	require.NotNil(t, res.Alert)
	assert.Equal(t, 150.0, res.Alert.MarketCapSol)
	assert.Equal(t, 2, res.Alert.TradeCount)

	res = e.Handle(buy("m", "c", 3), t0.Add(1500*time.Millisecond))
	assert.Nil(t, res.Alert)
}

func TestMarketCapGateDisabled(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5, MinMarketCapSol: 100})

	e.Handle(buy("m", "a", 3), t0)
	res := e.Handle(buy("m", "b", 3), t0.Add(time.Millisecond))
	assert.NotNil(t, res.Alert, "threshold is ignored while the gate is off")
}

func TestTradesOutsideWindowDoNotCombine(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5})

	e.Handle(buy("m", "a", 3), t0)
	res := e.Handle(buy("m", "b", 3), t0.Add(3*time.Second+time.Millisecond))
	assert.Nil(t, res.Alert)
	assert.Equal(t, 1, res.Snapshot.TradeCount)
}

func TestHandleIgnoresEventsWithoutMint(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 1})
	res := e.Handle(buy("", "a", 3), t0)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, e.Tracked())
}

func TestSweeperSweepAt(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 1000})
	e.Handle(buy("old", "a", 1), t0)
	e.Handle(buy("new", "a", 1), t0.Add(2*time.Minute))

	var gotEvicted []string
	var gotRemaining int
	s := NewSweeper(e, 2*time.Minute, nil, func(evicted []string, remaining int) {
		gotEvicted, gotRemaining = evicted, remaining
	}, zerolog.Nop())

	s.SweepAt(t0.Add(2*time.Minute + time.Second))
	assert.Equal(t, []string{"old"}, gotEvicted)
	assert.Equal(t, 1, gotRemaining)
}

func TestOversizedReserveNeverReachesAlert(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5, BigSingleBuySol: 4, MarketCapGate: true, MinMarketCapSol: 100})

	create := normalize.Event{Kind: normalize.KindCreate, Mint: "m", VirtualSol: 1e308, HasVirtualSol: true}
	e.Handle(create, t0)
	st, _ := e.State("m")
	assert.Zero(t, st.MarketCapSol, "2x reserve overflows and is ignored")

	res := e.Handle(buy("m", "whale", 5), t0.Add(time.Second))
	assert.Nil(t, res.Alert)
	assert.True(t, res.Decision.Suppressed, "no usable market cap keeps the gate shut")

	direct := buy("m", "a", 1)
	direct.MarketCapSol = 2 * MaxMarketCapSol
	e.Handle(direct, t0.Add(2*time.Second))
	st, _ = e.State("m")
	assert.Zero(t, st.MarketCapSol)
}

func TestOversizedTradeIsNotRecorded(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 1, MinTotalSol: 1})

	res := e.Handle(buy("m", "a", 1e308), t0)
	assert.False(t, res.Recorded)
	assert.Nil(t, res.Alert)

	// a reserve jump of the same size is dropped as well
	e.Handle(curveBuy("c", 30), t0)
	res = e.Handle(curveBuy("c", 1e308), t0.Add(time.Millisecond))
	assert.False(t, res.Recorded)
	assert.Nil(t, res.Alert)

	res = e.Handle(buy("m", "b", 2), t0.Add(time.Second))
	require.NotNil(t, res.Alert)
	assert.False(t, math.IsInf(res.Alert.TotalSol, 0))
	assert.Equal(t, 100.0, res.Alert.DominancePct)
}

func TestResultReportsCreatedState(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 1000})

	assert.True(t, e.Handle(buy("m", "a", 1), t0).Created)
	assert.False(t, e.Handle(buy("m", "a", 1), t0.Add(time.Second)).Created)
	assert.False(t, e.Handle(normalize.Event{Kind: normalize.KindCreate, Mint: "m"}, t0.Add(2*time.Second)).Created)
	assert.True(t, e.Handle(normalize.Event{Kind: normalize.KindCreate, Mint: "n"}, t0).Created)
}

func TestHandleAndSweepConcurrently(t *testing.T) {
	e := testEngine(GateConfig{MinTrades: 2, MinTotalSol: 5})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				mint := fmt.Sprintf("m%d", i%10)
				at := t0.Add(time.Duration(i) * time.Second)
				e.Handle(buy(mint, fmt.Sprintf("w%d", w), 1), at)
				if i%25 == 0 {
					_, _ = e.State(mint)
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			e.Sweep(time.Second, t0.Add(time.Duration(2*i)*time.Second))
			_ = e.Tracked()
		}
	}()
	wg.Wait()

	// once everything is idle past the ttl a final sweep empties the store
	e.Sweep(time.Second, t0.Add(time.Hour))
	assert.Zero(t, e.Tracked())
}
