package detector

import "time"

// Trade is one buy inside a token's window. Never mutated after insertion.
type Trade struct {
	At        time.Time
	Buyer     string
	SolAmount float64
}

// MintState is everything tracked for one token.
type MintState struct {
	Mint   string
	Trades []Trade

	FirstSeen    time.Time
	LastActivity time.Time

	// LastVirtualSol is only meaningful when HasVirtualSol is set.
	LastVirtualSol float64
	HasVirtualSol  bool

	// MarketCapSol holds its last positive value until a new signal arrives.
	MarketCapSol float64

	Alerted            bool
	SubscribedToTrades bool
	DisplayName        string
}

// Store maps token ids to their state. It is not safe for concurrent use;
// Engine serialises access.
type Store struct {
	states map[string]*MintState
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{states: make(map[string]*MintState)}
}

// GetOrCreate returns the state for mint, creating it on first reference.
func (s *Store) GetOrCreate(mint string, now time.Time) *MintState {
	if st, ok := s.states[mint]; ok {
		return st
	}
	st := &MintState{
		Mint:         mint,
		FirstSeen:    now,
		LastActivity: now,
	}
	s.states[mint] = st
	return st
}

// Get looks up mint without creating it.
func (s *Store) Get(mint string) (*MintState, bool) {
	st, ok := s.states[mint]
	return st, ok
}

// Reset starts a fresh detection cycle for mint. Trade history, the alert
// flag and the reserve baseline are cleared; name, market cap and the
// subscription flag survive.
func (s *Store) Reset(mint string, now time.Time) *MintState {
	st := s.GetOrCreate(mint, now)
	st.Trades = nil
	st.Alerted = false
	st.LastVirtualSol = 0
	st.HasVirtualSol = false
	st.FirstSeen = now
	st.LastActivity = now
	return st
}

// EvictIdleOlderThan drops every token idle for longer than ttl and returns
// the evicted ids.
func (s *Store) EvictIdleOlderThan(ttl time.Duration, now time.Time) []string {
	var evicted []string
	for mint, st := range s.states {
		if now.Sub(st.LastActivity) > ttl {
			delete(s.states, mint)
			evicted = append(evicted, mint)
		}
	}
	return evicted
}

// Len returns the number of tracked tokens.
func (s *Store) Len() int {
	return len(s.states)
}
