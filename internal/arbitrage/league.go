package arbitrage

import "strings"

// LeagueConfig maps a league to its Kalshi series tickers and Polymarket slug
// prefix.
type LeagueConfig struct {
	Code               string
	PolyPrefix         string
	KalshiSeriesGame   string
	KalshiSeriesSpread string
	KalshiSeriesTotal  string
}

// DefaultLeagues is the built-in set of tracked leagues.
var DefaultLeagues = []LeagueConfig{
	{Code: "nba", PolyPrefix: "nba", KalshiSeriesGame: "KXNBAGAME", KalshiSeriesSpread: "KXNBASPREAD", KalshiSeriesTotal: "KXNBATOTAL"},
	{Code: "nfl", PolyPrefix: "nfl", KalshiSeriesGame: "KXNFLGAME", KalshiSeriesSpread: "KXNFLSPREAD", KalshiSeriesTotal: "KXNFLTOTAL"},
	{Code: "epl", PolyPrefix: "epl", KalshiSeriesGame: "KXEPLGAME", KalshiSeriesSpread: "KXEPLSPREAD", KalshiSeriesTotal: "KXEPLTOTAL"},
	{Code: "nhl", PolyPrefix: "nhl", KalshiSeriesGame: "KXNHLGAME", KalshiSeriesSpread: "KXNHLSPREAD", KalshiSeriesTotal: "KXNHLTOTAL"},
}

// teamTable maps Kalshi team abbreviations to the names Polymarket uses in
// its slugs, per league. Unmapped names pass through unchanged.
var teamTable = map[string]map[string]string{
	"epl": {
		"che":      "cfc",
		"chelsea":  "cfc",
		"mci":      "man-city",
		"man city": "man-city",
		"mun":      "man-utd",
		"man utd":  "man-utd",
		"ars":      "arsenal",
		"liv":      "liverpool",
	},
	"nba": {
		"lal":      "lakers",
		"lakers":   "lakers",
		"gsw":      "warriors",
		"warriors": "warriors",
		"bos":      "celtics",
		"mia":      "heat",
	},
}

// NormalizeTeam converts a venue-A team abbreviation to the venue-B slug
// form. Unknown leagues or teams pass through lowercased and trimmed.
func NormalizeTeam(league, team string) string {
	league = strings.ToLower(league)
	team = strings.TrimSpace(strings.ToLower(team))
	if m, ok := teamTable[league]; ok {
		if mapped, ok := m[team]; ok {
			return mapped
		}
	}
	return team
}
