package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketgate/internal/arbitrage"
	"github.com/alanyoungcy/marketgate/internal/domain"
	"github.com/alanyoungcy/marketgate/internal/notify"
	"github.com/alanyoungcy/marketgate/internal/platform/kalshi"
	"github.com/alanyoungcy/marketgate/internal/platform/polymarket"
	"github.com/alanyoungcy/marketgate/internal/scanner"
	"github.com/alanyoungcy/marketgate/internal/sentinel"
)

// TriggerChannel is the pub/sub channel sentinel fires are announced on.
const TriggerChannel = "marketgate:trigger_fired"

// alertHistoryStream is the durable Redis stream alerts are appended to.
const alertHistoryStream = "marketgate:alerts"

// MonitorMode maintains venue streams and keeps the latest-book cache warm.
// No triggers, no scanning.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEmergencyListener(ctx, g, deps)
	a.startStreams(ctx, g, deps, nil)
	return g.Wait()
}

// SentinelMode runs venue streams feeding the trigger engine.
func (a *App) SentinelMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sentinel mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEmergencyListener(ctx, g, deps)
	watcher := a.buildWatcher(ctx, deps)
	a.startStreams(ctx, g, deps, watcher)
	return g.Wait()
}

// ArbitrageMode runs the periodic cross-venue scan loop.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbitrage mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEmergencyListener(ctx, g, deps)
	a.startScanner(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem: streams, trigger engine, and the scan loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEmergencyListener(ctx, g, deps)
	watcher := a.buildWatcher(ctx, deps)
	a.startStreams(ctx, g, deps, watcher)
	a.startScanner(ctx, g, deps)
	return g.Wait()
}

// startEmergencyListener mirrors remote stop/resume signals into the local
// controller when a signal bus is wired.
func (a *App) startEmergencyListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.SignalBus == nil {
		return
	}
	g.Go(func() error {
		err := deps.Emergency.Listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// buildWatcher constructs the sentinel watcher from the configured watch list
// and wires its alerts to the signal bus, alert history stream, and notifier.
func (a *App) buildWatcher(ctx context.Context, deps *Dependencies) *sentinel.Watcher {
	w := sentinel.NewWatcher(a.logger)

	for _, m := range a.cfg.Sentinel.Markets {
		watched := sentinel.WatchedMarket{
			MarketID: m.MarketID,
			Venue:    domain.Venue(m.Venue),
			Cooldown: a.cfg.Sentinel.Cooldown.Duration,
		}
		for _, t := range m.Triggers {
			cond := sentinel.NewTriggerCondition(
				sentinel.TriggerType(t.Type),
				decimal.NewFromFloat(t.Threshold),
				t.SuggestedSide,
			)
			if a.cfg.Sentinel.Debounce.Duration > 0 {
				cond.Debounce = a.cfg.Sentinel.Debounce.Duration
			}
			watched.Triggers = append(watched.Triggers, cond)
		}
		w.Watch(watched)
	}

	w.OnAlert(func(alert sentinel.Alert) {
		a.logger.InfoContext(ctx, "trigger fired",
			slog.String("market_id", alert.MarketID),
			slog.String("trigger", string(alert.Trigger.Type)),
			slog.String("value", alert.Value.String()),
		)

		payload, err := json.Marshal(alertPayload(alert))
		if err != nil {
			return
		}
		if deps.SignalBus != nil {
			if err := deps.SignalBus.Publish(ctx, TriggerChannel, payload); err != nil {
				a.logger.Error("failed to publish trigger fire", slog.Any("error", err))
			}
		}
		if deps.AlertStream != nil {
			if err := deps.AlertStream.StreamAppend(ctx, alertHistoryStream, payload); err != nil {
				a.logger.Error("failed to append alert history", slog.Any("error", err))
			}
		}
		if deps.Notifier != nil {
			title, message := notify.FormatAlert(alert)
			if err := deps.Notifier.Notify(ctx, notify.EventTriggerFired, title, message); err != nil {
				a.logger.Error("failed to notify alert", slog.Any("error", err))
			}
		}
	})

	a.logger.InfoContext(ctx, "watch list loaded",
		slog.Int("markets", len(a.cfg.Sentinel.Markets)))
	return w
}

// alertPayload is the wire form of a sentinel alert.
func alertPayload(alert sentinel.Alert) map[string]any {
	return map[string]any{
		"market_id":      alert.MarketID,
		"venue":          alert.Venue,
		"trigger_type":   alert.Trigger.Type,
		"threshold":      alert.Trigger.Threshold,
		"value":          alert.Value,
		"suggested_side": alert.Trigger.SuggestedSide,
		"fire_count":     alert.FireCount,
		"fired_at":       alert.FiredAt.UTC().Format(time.RFC3339),
	}
}

// startStreams launches both venue stream clients, registers them with the
// emergency registry, and fans snapshots out to the book cache and the
// watcher (when non-nil). Subscriptions come from the configured watch list.
func (a *App) startStreams(ctx context.Context, g *errgroup.Group, deps *Dependencies, watcher *sentinel.Watcher) {
	kalshiTickers, polyAssets := a.splitWatchList()
	if len(kalshiTickers) == 0 && len(polyAssets) == 0 {
		a.logger.WarnContext(ctx, "no markets configured to watch, streams idle")
		return
	}

	handleBook := func(snap domain.OrderbookSnapshot) {
		if deps.BookCache != nil {
			if err := deps.BookCache.SetSnapshot(ctx, snap); err != nil {
				a.logger.Error("failed to cache snapshot",
					slog.String("instrument", snap.Instrument), slog.Any("error", err))
			}
		}
		if watcher != nil {
			watcher.HandleOrderbook(snap)
		}
	}
	handleTrade := func(trade domain.TradeEvent) {
		if watcher != nil {
			watcher.HandleTrade(trade)
		}
	}

	if len(kalshiTickers) > 0 {
		ks, err := kalshi.NewStream(a.cfg.Kalshi.WSURL, deps.Signer, a.logger)
		if err != nil {
			a.logger.ErrorContext(ctx, "kalshi stream unavailable", slog.Any("error", err))
		} else {
			ks.OnOrderbook(handleBook)
			ks.OnTrade(handleTrade)
			deps.Streams.Register("kalshi", ks)
			if err := ks.Subscribe(ctx, kalshiTickers); err != nil {
				a.logger.ErrorContext(ctx, "kalshi subscribe failed", slog.Any("error", err))
			}
			g.Go(func() error {
				defer deps.Streams.Deregister("kalshi")
				err := ks.Run(ctx)
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("kalshi stream: %w", err)
			})
		}
	}

	if len(polyAssets) > 0 {
		ps := polymarket.NewStream(a.cfg.Polymarket.WSHost, a.logger)
		ps.OnOrderbook(handleBook)
		ps.OnTrade(handleTrade)
		deps.Streams.Register("polymarket", ps)
		if err := ps.Subscribe(ctx, polyAssets); err != nil {
			a.logger.ErrorContext(ctx, "polymarket subscribe failed", slog.Any("error", err))
		}
		g.Go(func() error {
			defer deps.Streams.Deregister("polymarket")
			err := ps.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("polymarket stream: %w", err)
		})
	}
}

// splitWatchList partitions the configured watch list into per-venue
// subscription sets.
func (a *App) splitWatchList() (kalshiTickers, polyAssets []string) {
	for _, m := range a.cfg.Sentinel.Markets {
		switch domain.Venue(m.Venue) {
		case domain.VenueKalshi:
			kalshiTickers = append(kalshiTickers, m.MarketID)
		case domain.VenuePolymarket:
			polyAssets = append(polyAssets, m.MarketID)
		}
	}
	return kalshiTickers, polyAssets
}

// startScanner launches the periodic arbitrage scan loop.
func (a *App) startScanner(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Arbitrage.Enabled {
		a.logger.InfoContext(ctx, "arbitrage scanning disabled by config")
		return
	}

	discovery := arbitrage.NewDiscovery(
		deps.Kalshi, deps.Gamma,
		arbitrage.DefaultLeagues,
		a.cfg.Arbitrage.EventLimit,
		a.logger,
	)
	detector := arbitrage.NewDetector(deps.Kalshi, deps.Clob, a.cfg.Arbitrage.TakerFee, a.logger)

	var opts []scanner.Option
	if deps.OpportunityStore != nil {
		opts = append(opts, scanner.WithStore(deps.OpportunityStore))
	}
	if deps.SignalBus != nil {
		opts = append(opts, scanner.WithSignalBus(deps.SignalBus))
	}
	if deps.Archiver != nil {
		opts = append(opts, scanner.WithArchiver(deps.Archiver))
	}
	if deps.Notifier != nil {
		opts = append(opts, scanner.WithNotifier(deps.Notifier))
	}

	sc := scanner.New(discovery, detector, deps.Emergency, scanner.Config{
		Interval: a.cfg.Arbitrage.ScanInterval.Duration,
		Leagues:  a.cfg.Arbitrage.Leagues,
	}, a.logger, opts...)

	g.Go(func() error {
		err := sc.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("scanner: %w", err)
	})
}
