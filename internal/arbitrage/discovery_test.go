package arbitrage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketgate/internal/domain"
	"github.com/alanyoungcy/marketgate/internal/platform/kalshi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseGameTicker(t *testing.T) {
	date, team1, team2, err := ParseGameTicker("KXNBAGAME-23DEC25-LAL-GSW")
	require.NoError(t, err)
	assert.Equal(t, "2023-12-25", date)
	assert.Equal(t, "LAL", team1)
	assert.Equal(t, "GSW", team2)

	_, _, _, err = ParseGameTicker("KXNBAGAME-23DEC25")
	assert.Error(t, err)

	_, _, _, err = ParseGameTicker("KXNBAGAME-25XXX99-LAL-GSW")
	assert.Error(t, err)

	_, _, _, err = ParseGameTicker("KXNBAGAME-2025DEC25-LAL-GSW")
	assert.Error(t, err)
}

func TestNormalizeTeam(t *testing.T) {
	assert.Equal(t, "lakers", NormalizeTeam("nba", "LAL"))
	assert.Equal(t, "warriors", NormalizeTeam("NBA", "gsw"))
	assert.Equal(t, "cfc", NormalizeTeam("epl", "che"))
	// Unmapped names pass through lowercased.
	assert.Equal(t, "okc", NormalizeTeam("nba", "OKC"))
	// Unknown league passes everything through.
	assert.Equal(t, "tor", NormalizeTeam("mlb", "TOR"))
}

func TestBuildSlug(t *testing.T) {
	cfg := LeagueConfig{Code: "nba", PolyPrefix: "nba"}
	slug := BuildSlug(cfg, "LAL", "GSW", "2023-12-25")
	assert.Equal(t, "nba-lakers-warriors-2023-12-25", slug)
}

type fakeEventSource struct {
	events map[string][]kalshi.Event
	err    error
}

func (f *fakeEventSource) GetEvents(_ context.Context, series string, _ int) ([]kalshi.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events[series], nil
}

type fakeResolver struct {
	markets map[string]domain.Market
}

func (f *fakeResolver) GetMarketBySlug(_ context.Context, slug string) (domain.Market, error) {
	m, ok := f.markets[slug]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func TestDiscoverLeaguePairsMatchedEvents(t *testing.T) {
	events := &fakeEventSource{events: map[string][]kalshi.Event{
		"KXNBAGAME": {
			{EventTicker: "KXNBAGAME-23DEC25-LAL-GSW", Title: "Lakers vs Warriors"},
			{EventTicker: "KXNBAGAME-23DEC26-BOS-MIA", Title: "Celtics vs Heat"},
			{EventTicker: "not-a-game-ticker"}, // parse failure, isolated
		},
	}}
	resolver := &fakeResolver{markets: map[string]domain.Market{
		"nba-lakers-warriors-2023-12-25": {
			ID:           "pm-1",
			Venue:        domain.VenuePolymarket,
			Slug:         "nba-lakers-warriors-2023-12-25",
			ClobTokenIDs: []string{"tok-yes", "tok-no"},
		},
		// celtics/heat slug is deliberately absent: lookup failure, isolated
	}}

	d := NewDiscovery(events, resolver, nil, 50, discardLogger())
	pairs, err := d.DiscoverLeague(context.Background(), DefaultLeagues[0])
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	pair := pairs[0]
	assert.Equal(t, "KXNBAGAME-23DEC25-LAL-GSW-pm-1", pair.ID)
	assert.Equal(t, "nba", pair.League)
	assert.Equal(t, MarketTypeMoneyline, pair.MarketType)
	assert.Equal(t, "nba-lakers-warriors-2023-12-25", pair.PolySlug)
	assert.Equal(t, "tok-yes", pair.PolyTokenID)
	assert.Equal(t, "Lakers vs Warriors", pair.Description)
}

func TestDiscoverAllIsolatesLeagueFailures(t *testing.T) {
	events := &fakeEventSource{err: errors.New("venue down")}
	resolver := &fakeResolver{}

	d := NewDiscovery(events, resolver, nil, 50, discardLogger())
	pairs, err := d.DiscoverAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestDiscoverAllFiltersLeagues(t *testing.T) {
	events := &fakeEventSource{events: map[string][]kalshi.Event{
		"KXNBAGAME": {{EventTicker: "KXNBAGAME-23DEC25-LAL-GSW", Title: "game"}},
		"KXNFLGAME": {{EventTicker: "KXNFLGAME-23DEC25-KC-BUF", Title: "game"}},
	}}
	resolver := &fakeResolver{markets: map[string]domain.Market{
		"nba-lakers-warriors-2023-12-25": {ID: "pm-1"},
		"nfl-kc-buf-2023-12-25":          {ID: "pm-2"},
	}}

	d := NewDiscovery(events, resolver, nil, 50, discardLogger())
	pairs, err := d.DiscoverAll(context.Background(), []string{"nfl"})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "nfl", pairs[0].League)
}

func TestMatchMarkets(t *testing.T) {
	poly := []domain.Market{
		{ID: "p1", Question: "Will the Lakers beat the Warriors?"},
		{ID: "p2", Question: "Bitcoin above 100k by March?"},
	}
	kalshi := []domain.Market{
		{ID: "k1", Question: "Will the Lakers beat the Warriors"},
		{ID: "k2", Question: "Fed cuts rates in June"},
	}

	matches := MatchMarkets(poly, kalshi, 80)
	require.Len(t, matches, 1)
	assert.Equal(t, "p1", matches[0].Poly.ID)
	assert.Equal(t, "k1", matches[0].Kalshi.ID)
	assert.Greater(t, matches[0].Score, 80.0)
}
