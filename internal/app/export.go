package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"bundleradar/internal/storage"
)

const defaultExportSpan = 7 * 24 * time.Hour

// Export renders persisted alerts as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	from, to, err := exportRange(opts, time.Now())
	if err != nil {
		return err
	}

	alerts, err := store.ListAlertsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		a.Logger.Info().Msg("no alerts found for export window")
		return nil
	}

	downsampled := downsampleAlerts(alerts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(alerts)).Int("exported", len(downsampled)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if len(downsampled) < 2 {
			a.Logger.Warn().Msg("need at least two alerts to draw a chart; skipping png")
			return nil
		}
		if err := writeAlertsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func exportRange(opts ExportOptions, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportSpan)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleAlerts(alerts []storage.AlertRecord, max int) []storage.AlertRecord {
	if max <= 0 || len(alerts) <= max {
		return alerts
	}
	if max == 1 {
		return alerts[:1]
	}

	result := make([]storage.AlertRecord, 0, max)
	step := float64(len(alerts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(alerts) {
			idx = len(alerts) - 1
		}
		result = append(result, alerts[idx])
	}
	return result
}

func writeAlertsCSV(path string, alerts []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"id", "detected_at", "mint", "name", "tier", "trade_count", "total_sol", "max_single_sol", "dominance_pct", "market_cap_sol", "market_cap_usd", "age_seconds", "window_ms"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range alerts {
		age := ""
		if rec.AgeSeconds != nil {
			age = strconv.FormatInt(*rec.AgeSeconds, 10)
		}
		record := []string{
			rec.ID.String(),
			rec.DetectedAt.UTC().Format(time.RFC3339Nano),
			rec.Mint,
			rec.Name,
			rec.Tier,
			strconv.Itoa(rec.TradeCount),
			rec.TotalSol.String(),
			rec.MaxSingleSol.String(),
			rec.DominancePct.String(),
			rec.MarketCapSol.String(),
			rec.MarketCapUSD.String(),
			age,
			strconv.FormatInt(rec.WindowMs, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeAlertsPNG(path string, alerts []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(alerts))
	total := make([]float64, len(alerts))
	maxSingle := make([]float64, len(alerts))
	marketCap := make([]float64, len(alerts))

	for i, rec := range alerts {
		x[i] = rec.DetectedAt
		total[i] = rec.TotalSol.InexactFloat64()
		maxSingle[i] = rec.MaxSingleSol.InexactFloat64()
		marketCap[i] = rec.MarketCapSol.InexactFloat64()
	}

	solFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Bundle size (SOL)",
			ValueFormatter: solFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Market cap (SOL)",
			ValueFormatter: solFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total SOL",
				XValues: x,
				YValues: total,
			},
			chart.TimeSeries{
				Name:    "Biggest buy",
				XValues: x,
				YValues: maxSingle,
			},
			chart.TimeSeries{
				Name:    "Market cap",
				XValues: x,
				YValues: marketCap,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
