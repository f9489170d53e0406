package alerting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bundleradar/internal/detector"
)

// Notification 封装一次 bundle 告警的展示上下文。
type Notification struct {
	Alert        detector.Alert
	MarketCapUSD decimal.Decimal
	Link         string
	Mention      string
}

// NewNotification derives display fields from an alert.
func NewNotification(alert detector.Alert, solUSD decimal.Decimal, linkBase, mention string) Notification {
	note := Notification{
		Alert:   alert,
		Mention: mention,
	}
	if solUSD.IsPositive() && finite(alert.MarketCapSol) {
		note.MarketCapUSD = decimal.NewFromFloat(alert.MarketCapSol).Mul(solUSD)
	}
	if linkBase != "" {
		note.Link = linkBase + alert.Mint
	}
	return note
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// fixed renders v with places decimals; decimal panics on NaN and Inf.
func fixed(v float64, places int32) string {
	if !finite(v) {
		return "n/a"
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

func sol(v float64) string {
	return fixed(v, 3)
}

func ageText(a detector.Alert) string {
	if !a.AgeKnown {
		return "unknown"
	}
	return fmt.Sprintf("%ds", int64(a.Age.Round(time.Second)/time.Second))
}

func windowSeconds(a detector.Alert) string {
	return fixed(a.Window.Seconds(), 1)
}

func marketCapText(note Notification) string {
	a := note.Alert
	if !(a.MarketCapSol > 0) || !finite(a.MarketCapSol) {
		return "unknown"
	}
	text := fmt.Sprintf("%s SOL", sol(a.MarketCapSol))
	if note.MarketCapUSD.IsPositive() {
		text += fmt.Sprintf(" (~$%s)", note.MarketCapUSD.StringFixed(0))
	}
	return text
}

func renderText(note Notification) string {
	a := note.Alert
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[BUNDLE DETECTED] %s %s\n", a.Tier.Label(), a.Name))
	builder.WriteString(fmt.Sprintf("Trades: %d in ~%ss\n", a.TradeCount, windowSeconds(a)))
	builder.WriteString(fmt.Sprintf("Total: %s SOL\n", sol(a.TotalSol)))
	builder.WriteString(fmt.Sprintf("Biggest single buy: %s SOL\n", sol(a.MaxSingleSol)))
	builder.WriteString(fmt.Sprintf("Dominance: %s%%\n", fixed(a.DominancePct, 1)))
	builder.WriteString(fmt.Sprintf("Market cap: %s\n", marketCapText(note)))
	builder.WriteString(fmt.Sprintf("CA: %s\n", a.Mint))
	builder.WriteString(fmt.Sprintf("Age: %s\n", ageText(a)))
	if note.Link != "" {
		builder.WriteString(note.Link)
	}
	return builder.String()
}
