package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketgate/internal/domain"
	"github.com/alanyoungcy/marketgate/internal/platform/kalshi"
)

// eventConcurrency bounds parallel slug lookups within one league, to respect
// venue rate limits. Leagues themselves run fully in parallel.
const eventConcurrency = 5

// EventSource lists a venue's game events for a series.
type EventSource interface {
	GetEvents(ctx context.Context, seriesTicker string, limit int) ([]kalshi.Event, error)
}

// SlugResolver looks a market up by its URL slug.
type SlugResolver interface {
	GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error)
}

// Discovery maps instruments across venues by deriving a deterministic
// Polymarket slug from each Kalshi event ticker. Construction must match
// exactly: no fuzzy matching on this path, a parse or lookup failure skips
// that one event.
type Discovery struct {
	events   EventSource
	resolver SlugResolver
	leagues  []LeagueConfig
	limit    int
	logger   *slog.Logger
}

// NewDiscovery creates a discovery engine over the given league set. limit
// bounds the events fetched per league; zero means the venue default.
func NewDiscovery(events EventSource, resolver SlugResolver, leagues []LeagueConfig, limit int, logger *slog.Logger) *Discovery {
	if len(leagues) == 0 {
		leagues = DefaultLeagues
	}
	if limit <= 0 {
		limit = 50
	}
	return &Discovery{
		events:   events,
		resolver: resolver,
		leagues:  leagues,
		limit:    limit,
		logger:   logger.With(slog.String("component", "arb_discovery")),
	}
}

// DiscoverAll scans the named leagues (all configured leagues when empty) in
// parallel and returns every pair found. League failures are isolated: one
// league erroring never discards another league's pairs.
func (d *Discovery) DiscoverAll(ctx context.Context, leagues []string) ([]MarketPair, error) {
	target := d.leagues
	if len(leagues) > 0 {
		want := make(map[string]struct{}, len(leagues))
		for _, l := range leagues {
			want[strings.ToLower(l)] = struct{}{}
		}
		target = nil
		for _, cfg := range d.leagues {
			if _, ok := want[cfg.Code]; ok {
				target = append(target, cfg)
			}
		}
	}

	d.logger.Info("starting discovery", slog.Int("leagues", len(target)))

	var mu sync.Mutex
	var all []MarketPair

	var g errgroup.Group
	for _, cfg := range target {
		g.Go(func() error {
			pairs, err := d.DiscoverLeague(ctx, cfg)
			if err != nil {
				d.logger.Warn("league discovery failed",
					slog.String("league", cfg.Code),
					slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			all = append(all, pairs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("discovery complete", slog.Int("pairs", len(all)))
	return all, ctx.Err()
}

// DiscoverLeague scans one league's game events with bounded parallelism.
// Per-event failures yield no pair for that event only.
func (d *Discovery) DiscoverLeague(ctx context.Context, cfg LeagueConfig) ([]MarketPair, error) {
	events, err := d.events.GetEvents(ctx, cfg.KalshiSeriesGame, d.limit)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: fetch events for %s: %w", cfg.Code, err)
	}

	var mu sync.Mutex
	var pairs []MarketPair

	var g errgroup.Group
	g.SetLimit(eventConcurrency)
	for _, ev := range events {
		g.Go(func() error {
			pair, ok := d.matchEvent(ctx, cfg, ev, MarketTypeMoneyline)
			if !ok {
				return nil
			}
			mu.Lock()
			pairs = append(pairs, pair)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return pairs, nil
}

// matchEvent derives the cross-venue slug for one event and looks it up.
func (d *Discovery) matchEvent(ctx context.Context, cfg LeagueConfig, ev kalshi.Event, mtype MarketType) (MarketPair, bool) {
	date, team1, team2, err := ParseGameTicker(ev.EventTicker)
	if err != nil {
		return MarketPair{}, false
	}

	slug := BuildSlug(cfg, team1, team2, date)

	market, err := d.resolver.GetMarketBySlug(ctx, slug)
	if err != nil {
		return MarketPair{}, false
	}

	pair := MarketPair{
		ID:           ev.EventTicker + "-" + market.ID,
		League:       cfg.Code,
		MarketType:   mtype,
		Description:  ev.Title,
		KalshiTicker: ev.EventTicker,
		PolySlug:     slug,
		PolyMarket:   market,
	}
	if len(market.ClobTokenIDs) > 0 {
		pair.PolyTokenID = market.ClobTokenIDs[0]
	}

	return pair, true
}

// ParseGameTicker splits a game ticker of the form
// "SERIES-23DEC25-LAL-GSW" into an ISO-8601 date and the two team codes.
func ParseGameTicker(ticker string) (dateISO, team1, team2 string, err error) {
	parts := strings.Split(ticker, "-")
	if len(parts) < 4 {
		return "", "", "", fmt.Errorf("arbitrage: ticker %q has %d segments, want 4", ticker, len(parts))
	}

	datePart := parts[1]
	if len(datePart) != 7 {
		return "", "", "", fmt.Errorf("arbitrage: ticker %q has malformed date %q", ticker, datePart)
	}

	// "23DEC25" -> "23Dec25" so the reference layout matches.
	cased := datePart[:3] + strings.ToLower(datePart[3:5]) + datePart[5:]
	t, err := time.Parse("06Jan02", cased)
	if err != nil {
		return "", "", "", fmt.Errorf("arbitrage: parse ticker date %q: %w", datePart, err)
	}

	return t.Format("2006-01-02"), parts[2], parts[3], nil
}

// BuildSlug assembles the deterministic venue-B slug
// "{prefix}-{team1}-{team2}-{date}" with teams normalized through the league
// table.
func BuildSlug(cfg LeagueConfig, team1, team2, dateISO string) string {
	return fmt.Sprintf("%s-%s-%s-%s",
		cfg.PolyPrefix,
		NormalizeTeam(cfg.Code, team1),
		NormalizeTeam(cfg.Code, team2),
		dateISO,
	)
}
