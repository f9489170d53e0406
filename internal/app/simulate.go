package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"bundleradar/internal/detector"
)

// SimulateAlert 构造一条合成告警并通过已配置的通道发送。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (detector.Alert, error) {
	if !a.Config.Alerting.Enabled {
		return detector.Alert{}, errors.New("alerting 未启用")
	}
	if a.newNotifier() == nil {
		return detector.Alert{}, errors.New("未配置任何告警通道")
	}

	alert, err := a.syntheticAlert(opts, time.Now().UTC())
	if err != nil {
		return detector.Alert{}, err
	}

	a.Logger.Info().Str("mint", alert.Mint).Str("tier", alert.Tier.String()).Msg("sending simulated alert")
	return alert, a.newDispatcher(nil, nil).Deliver(ctx, alert)
}

func (a *App) syntheticAlert(opts SimulateOptions, now time.Time) (detector.Alert, error) {
	if opts.TotalSol <= 0 {
		return detector.Alert{}, errors.New("--total must be greater than zero")
	}
	if opts.MaxSingleSol <= 0 || opts.MaxSingleSol > opts.TotalSol {
		opts.MaxSingleSol = opts.TotalSol
	}
	if opts.TradeCount <= 0 {
		opts.TradeCount = 1
	}
	if opts.Mint == "" {
		opts.Mint = "So11111111111111111111111111111111111111112"
	}
	if opts.Name == "" {
		opts.Name = "SIMULATED"
	}

	settings := a.Config.DetectorSettings()
	tier := detector.Classify(opts.TotalSol, opts.MaxSingleSol, settings.Gate.Tiers)
	if opts.Tier != "" {
		parsed, err := detector.ParseTier(opts.Tier)
		if err != nil {
			return detector.Alert{}, err
		}
		tier = parsed
	}

	return detector.Alert{
		ID:           uuid.New(),
		Mint:         opts.Mint,
		Name:         opts.Name,
		Tier:         tier,
		TradeCount:   opts.TradeCount,
		TotalSol:     opts.TotalSol,
		MaxSingleSol: opts.MaxSingleSol,
		DominancePct: opts.MaxSingleSol / opts.TotalSol * 100,
		MarketCapSol: opts.MarketCapSol,
		Window:       settings.Window,
		DetectedAt:   now,
	}, nil
}
