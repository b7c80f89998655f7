// Package tiering computes when a product is due next: tier intervals with
// jitter, failure backoff, demotion, and auto-tier recommendations from
// price history.
package tiering

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/user/price-tracker/internal/domain"
)

var tierInterval = map[domain.Tier]time.Duration{
	domain.TierHourly: time.Hour,
	domain.TierDaily:  24 * time.Hour,
	domain.TierWeekly: 7 * 24 * time.Hour,
}

var tierDemotion = map[domain.Tier]domain.Tier{
	domain.TierHourly: domain.TierDaily,
	domain.TierDaily:  domain.TierWeekly,
	domain.TierWeekly: domain.TierWeekly,
}

const (
	minJitterMinutes = 2
	maxJitterMinutes = 10

	// priceTolerance treats float prices within this delta as unchanged.
	priceTolerance = 1e-5
)

// NextScrapeAt returns now + tier interval + 2-10 minutes of uniform
// jitter. The jitter de-synchronizes re-scrapes of products that entered
// the same tier together.
func NextScrapeAt(tier domain.Tier, now time.Time) time.Time {
	interval := tierInterval[domain.NormalizeTier(string(tier), domain.TierDaily)]
	jitter := time.Duration(minJitterMinutes+rand.Intn(maxJitterMinutes-minJitterMinutes+1)) * time.Minute
	return now.Add(interval + jitter)
}

// FailureBackoffMinutes is exponential in the failure count, capped at 24h.
func FailureBackoffMinutes(consecutiveFailures int) int {
	failures := consecutiveFailures
	if failures < 1 {
		failures = 1
	}
	minutes := math.Pow(2, float64(failures)) * 5
	if minutes > 24*60 {
		return 24 * 60
	}
	return int(minutes)
}

// Demote steps a tier down one polling class. Weekly is the floor.
func Demote(tier domain.Tier) domain.Tier {
	return tierDemotion[domain.NormalizeTier(string(tier), domain.TierDaily)]
}

// RecommendAutoTier derives a tier from recent price volatility. Products
// with two changes inside 48h or a 5% move inside 7d go hourly; products
// flat for 30d go weekly; everything else is daily. Deterministic for an
// unchanged history window.
func RecommendAutoTier(history []domain.PriceHistoryPoint, now time.Time) domain.Tier {
	if len(history) < 2 {
		return domain.TierDaily
	}

	rows := make([]domain.PriceHistoryPoint, len(history))
	copy(rows, history)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ScrapedAt.After(rows[j].ScrapedAt)
	})

	cutoff48h := now.Add(-48 * time.Hour)
	cutoff7d := now.Add(-7 * 24 * time.Hour)
	cutoff30d := now.Add(-30 * 24 * time.Hour)

	changes48h := 0
	changes30d := 0
	for i := 0; i < len(rows)-1; i++ {
		if math.Abs(rows[i].Price-rows[i+1].Price) <= priceTolerance {
			continue
		}
		ts := rows[i].ScrapedAt
		if !ts.Before(cutoff48h) {
			changes48h++
		}
		if !ts.Before(cutoff30d) {
			changes30d++
		}
	}

	var prices7d []float64
	for _, row := range rows {
		if !row.ScrapedAt.Before(cutoff7d) {
			prices7d = append(prices7d, row.Price)
		}
	}
	pctChange7d := 0.0
	if len(prices7d) >= 2 {
		newest := prices7d[0]
		oldest := prices7d[len(prices7d)-1]
		if oldest > 0 {
			pctChange7d = math.Abs((newest - oldest) / oldest)
		}
	}

	if changes48h >= 2 || pctChange7d >= 0.05 {
		return domain.TierHourly
	}
	if changes30d == 0 {
		return domain.TierWeekly
	}
	return domain.TierDaily
}

// PriceChanged reports whether two observations differ beyond tolerance.
func PriceChanged(previous, current float64) bool {
	return math.Abs(previous-current) > priceTolerance
}
