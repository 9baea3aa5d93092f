package arbitrage

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/alanyoungcy/marketgate/internal/domain"
)

// Match pairs one Polymarket market with its closest Kalshi counterpart by
// question-text similarity.
type Match struct {
	Poly   domain.Market
	Kalshi domain.Market
	Score  float64 // 0-100
}

// MatchMarkets finds matching markets across venues by fuzzy question
// comparison. This is the general-purpose utility for ad-hoc market matching;
// the discovery path never uses it because slug construction there must match
// exactly.
//
// threshold is the minimum similarity score (0-100) to accept; 80 is a
// sensible default.
func MatchMarkets(polyMarkets, kalshiMarkets []domain.Market, threshold float64) []Match {
	var matches []Match
	for _, pm := range polyMarkets {
		var best *domain.Market
		bestScore := 0.0

		for i := range kalshiMarkets {
			score := tokenSortScore(pm.Question, kalshiMarkets[i].Question)
			if score > threshold && score > bestScore {
				bestScore = score
				best = &kalshiMarkets[i]
			}
		}

		if best != nil {
			matches = append(matches, Match{Poly: pm, Kalshi: *best, Score: bestScore})
		}
	}
	return matches
}

// tokenSortScore is a 0-100 similarity over word-sorted, lowercased strings,
// so "Lakers beat Warriors?" and "Will the Warriors lose to the Lakers"
// compare on shared vocabulary rather than word order.
func tokenSortScore(a, b string) float64 {
	na, nb := sortTokens(a), sortTokens(b)
	if na == "" && nb == "" {
		return 100
	}

	dist := levenshtein.ComputeDistance(na, nb)
	longest := max(len(na), len(nb))
	if longest == 0 {
		return 100
	}
	return 100 * (1 - float64(dist)/float64(longest))
}

func sortTokens(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
