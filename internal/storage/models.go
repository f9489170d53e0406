package storage

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bundleradar/internal/detector"
)

// AlertRecord is one row of the bundle alert audit log.
type AlertRecord struct {
	ID           uuid.UUID
	Mint         string
	Name         string
	Tier         string
	TradeCount   int
	TotalSol     decimal.Decimal
	MaxSingleSol decimal.Decimal
	DominancePct decimal.Decimal
	MarketCapSol decimal.Decimal
	MarketCapUSD decimal.Decimal
	AgeSeconds   *int64
	WindowMs     int64
	DetectedAt   time.Time
	CreatedAt    time.Time
}

// NewAlertRecord converts a detector alert into its persisted form.
func NewAlertRecord(alert detector.Alert, marketCapUSD decimal.Decimal) AlertRecord {
	rec := AlertRecord{
		ID:           alert.ID,
		Mint:         alert.Mint,
		Name:         alert.Name,
		Tier:         alert.Tier.String(),
		TradeCount:   alert.TradeCount,
		TotalSol:     toDecimal(alert.TotalSol, 9),
		MaxSingleSol: toDecimal(alert.MaxSingleSol, 9),
		DominancePct: toDecimal(alert.DominancePct, 2),
		MarketCapSol: toDecimal(alert.MarketCapSol, 9),
		MarketCapUSD: marketCapUSD.Round(2),
		WindowMs:     alert.Window.Milliseconds(),
		DetectedAt:   alert.DetectedAt.UTC(),
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if alert.AgeKnown {
		age := int64(alert.Age / time.Second)
		rec.AgeSeconds = &age
	}
	return rec
}

// toDecimal maps NaN and Inf to zero; NUMERIC columns cannot hold them.
func toDecimal(v float64, places int32) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(places)
}
