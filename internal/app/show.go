package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent alerts from the audit log.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	total, err := store.CountAlerts(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Detected (UTC)\tTier\tMint\tName\tTrades\tTotal SOL\tMax SOL\tDominance%\tMCap SOL\tAge")

	for _, rec := range alerts {
		age := "unknown"
		if rec.AgeSeconds != nil {
			age = fmt.Sprintf("%ds", *rec.AgeSeconds)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			rec.DetectedAt.UTC().Format(time.RFC3339),
			rec.Tier,
			rec.Mint,
			sanitizeInline(rec.Name),
			rec.TradeCount,
			rec.TotalSol.StringFixed(3),
			rec.MaxSingleSol.StringFixed(3),
			rec.DominancePct.StringFixed(1),
			rec.MarketCapSol.StringFixed(2),
			age,
		)
	}

	writer.Flush()
	fmt.Fprintf(os.Stdout, "showing %d of %d alerts\n", len(alerts), total)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
