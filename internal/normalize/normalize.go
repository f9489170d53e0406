// Package normalize maps heterogeneous feed frames onto canonical events.
package normalize

import (
	"math"
	"strings"

	"github.com/mr-tron/base58"
)

// Kind distinguishes token creation from trades.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindTrade
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// UnknownBuyer is used when a trade carries no trader id.
const UnknownBuyer = "unknown"

// Event is the canonical form handed to the detector.
type Event struct {
	Kind  Kind
	Mint  string
	Name  string
	Buyer string
	Buy   bool

	// SolAmount is the per-trade size extracted from amount fields, 0 if none.
	SolAmount float64

	// VirtualSol is the cumulative bonding-curve reserve, if the frame has one.
	VirtualSol    float64
	HasVirtualSol bool

	// MarketCapSol is the direct market-cap signal, 0 when absent.
	MarketCapSol float64
}

// Options configure a Normalizer.
type Options struct {
	Rules       []Rule
	StrictMints bool
}

// Normalizer turns decoded messages into events. It holds no mutable state.
type Normalizer struct {
	rules  []Rule
	strict bool
}

// New builds a Normalizer. Empty rules fall back to DefaultRules.
func New(opts Options) *Normalizer {
	rules := opts.Rules
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Normalizer{rules: rules, strict: opts.StrictMints}
}

// Normalize extracts an event from msg. The second value is false when the
// frame is not something the detector cares about.
func (n *Normalizer) Normalize(msg Message) (Event, bool) {
	if msg == nil {
		return Event{}, false
	}

	if txType := msg.Str("txType"); txType != "" {
		mint := msg.Str("mint")
		if !n.validMint(mint) {
			return Event{}, false
		}
		switch strings.ToLower(txType) {
		case "create":
			return n.create(mint, msg), true
		case "buy":
			return n.curveTrade(mint, msg, true), true
		case "sell":
			return n.curveTrade(mint, msg, false), true
		default:
			return Event{}, false
		}
	}

	return n.genericTrade(msg)
}

// ExtractSol applies the normalizer's amount rules to msg.
func (n *Normalizer) ExtractSol(msg Message) float64 {
	return ExtractSol(msg, n.rules)
}

func (n *Normalizer) create(mint string, msg Message) Event {
	ev := Event{
		Kind: KindCreate,
		Mint: mint,
		Name: msg.Str("name", "symbol", "ticker"),
	}
	n.applyCurveFields(&ev, msg)
	return ev
}

func (n *Normalizer) curveTrade(mint string, msg Message, buy bool) Event {
	ev := Event{
		Kind:  KindTrade,
		Mint:  mint,
		Buyer: buyerOf(msg),
		Buy:   buy,
	}
	n.applyCurveFields(&ev, msg)
	if buy && !ev.HasVirtualSol {
		ev.SolAmount = n.ExtractSol(msg)
	}
	return ev
}

func (n *Normalizer) genericTrade(msg Message) (Event, bool) {
	mint := msg.Str("mint", "token", "ca")
	if !n.validMint(mint) {
		return Event{}, false
	}
	if !strings.EqualFold(msg.Str("side"), "buy") && !msg.Bool("is_buy") {
		return Event{}, false
	}

	sol := n.ExtractSol(msg)
	if sol <= 0 {
		return Event{}, false
	}

	ev := Event{
		Kind:      KindTrade,
		Mint:      mint,
		Buyer:     buyerOf(msg),
		Buy:       true,
		SolAmount: sol,
	}
	if mc, ok := msg.Number("marketCapSol"); ok && positive(mc) {
		ev.MarketCapSol = mc
	}
	return ev, true
}

func (n *Normalizer) applyCurveFields(ev *Event, msg Message) {
	if v, ok := msg.Number("vSolInBondingCurve"); ok && !isBad(v) {
		ev.VirtualSol = v
		ev.HasVirtualSol = true
	}
	if mc, ok := msg.Number("marketCapSol"); ok && positive(mc) {
		ev.MarketCapSol = mc
	}
}

func (n *Normalizer) validMint(mint string) bool {
	if mint == "" {
		return false
	}
	if !n.strict {
		return true
	}
	return IsPubkey(mint)
}

// IsPubkey reports whether id decodes to a 32-byte Solana public key.
func IsPubkey(id string) bool {
	decoded, err := base58.Decode(id)
	return err == nil && len(decoded) == 32
}

// Short abbreviates an address for log lines.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}

func buyerOf(msg Message) string {
	if buyer := msg.Str("traderPublicKey", "trader", "user"); buyer != "" {
		return buyer
	}
	return UnknownBuyer
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
