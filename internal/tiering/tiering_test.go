package tiering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/price-tracker/internal/domain"
)

func historyPoint(price float64, scrapedAt time.Time) domain.PriceHistoryPoint {
	return domain.PriceHistoryPoint{ProductID: 1, Price: price, Currency: "EUR", ScrapedAt: scrapedAt}
}

func TestNextScrapeAtJitterBounds(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, tier := range []domain.Tier{domain.TierHourly, domain.TierDaily, domain.TierWeekly} {
		interval := tierInterval[tier]
		for i := 0; i < 50; i++ {
			next := NextScrapeAt(tier, now)
			jitter := next.Sub(now) - interval
			assert.GreaterOrEqual(t, jitter, 2*time.Minute, "tier %s", tier)
			assert.LessOrEqual(t, jitter, 10*time.Minute, "tier %s", tier)
		}
	}
}

func TestNextScrapeAtUnknownTierFallsBackToDaily(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	next := NextScrapeAt(domain.Tier("bogus"), now)
	assert.True(t, next.After(now.Add(24*time.Hour)))
	assert.False(t, next.After(now.Add(24*time.Hour+10*time.Minute)))
}

func TestFailureBackoffMinutes(t *testing.T) {
	expected := map[int]int{1: 10, 2: 20, 3: 40, 4: 80, 5: 160}
	for failures, minutes := range expected {
		assert.Equal(t, minutes, FailureBackoffMinutes(failures), "failures=%d", failures)
	}
}

func TestFailureBackoffMonotonicAndCapped(t *testing.T) {
	previous := 0
	for failures := 1; failures <= 20; failures++ {
		minutes := FailureBackoffMinutes(failures)
		assert.GreaterOrEqual(t, minutes, previous, "failures=%d", failures)
		assert.LessOrEqual(t, minutes, 1440, "failures=%d", failures)
		previous = minutes
	}
	assert.Equal(t, 1440, FailureBackoffMinutes(20))
}

func TestFailureBackoffFloorsAtOneFailure(t *testing.T) {
	assert.Equal(t, 10, FailureBackoffMinutes(0))
	assert.Equal(t, 10, FailureBackoffMinutes(-3))
}

func TestDemote(t *testing.T) {
	assert.Equal(t, domain.TierDaily, Demote(domain.TierHourly))
	assert.Equal(t, domain.TierWeekly, Demote(domain.TierDaily))
	assert.Equal(t, domain.TierWeekly, Demote(domain.TierWeekly), "weekly is the floor")
}

func TestRecommendAutoTierShortHistory(t *testing.T) {
	now := time.Now()
	assert.Equal(t, domain.TierDaily, RecommendAutoTier(nil, now))
	assert.Equal(t, domain.TierDaily, RecommendAutoTier([]domain.PriceHistoryPoint{historyPoint(10, now)}, now))
}

func TestRecommendAutoTierFrequentChangesGoHourly(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	history := []domain.PriceHistoryPoint{
		historyPoint(100, now.Add(-40*time.Hour)),
		historyPoint(95, now.Add(-24*time.Hour)),
		historyPoint(98, now.Add(-12*time.Hour)),
		historyPoint(92, now.Add(-2*time.Hour)),
	}
	assert.Equal(t, domain.TierHourly, RecommendAutoTier(history, now))
}

func TestRecommendAutoTierWeeklyMoveGoesHourly(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	history := []domain.PriceHistoryPoint{
		historyPoint(100, now.Add(-6*24*time.Hour)),
		historyPoint(93, now.Add(-1*time.Hour)),
	}
	assert.Equal(t, domain.TierHourly, RecommendAutoTier(history, now))
}

func TestRecommendAutoTierFlatMonthGoesWeekly(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	history := []domain.PriceHistoryPoint{
		historyPoint(49.99, now.Add(-25*24*time.Hour)),
		historyPoint(49.99, now.Add(-14*24*time.Hour)),
		historyPoint(49.99, now.Add(-5*24*time.Hour)),
		historyPoint(49.99, now.Add(-6*time.Hour)),
	}
	assert.Equal(t, domain.TierWeekly, RecommendAutoTier(history, now))
}

func TestRecommendAutoTierOldChangeGoesDaily(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	history := []domain.PriceHistoryPoint{
		historyPoint(100, now.Add(-20*24*time.Hour)),
		historyPoint(99, now.Add(-15*24*time.Hour)),
		historyPoint(99, now.Add(-5*24*time.Hour)),
		historyPoint(99, now.Add(-1*time.Hour)),
	}
	assert.Equal(t, domain.TierDaily, RecommendAutoTier(history, now))
}

func TestRecommendAutoTierToleranceIgnoresFloatNoise(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	history := []domain.PriceHistoryPoint{
		historyPoint(49.99, now.Add(-20*24*time.Hour)),
		historyPoint(49.990000001, now.Add(-24*time.Hour)),
		historyPoint(49.99, now.Add(-1*time.Hour)),
	}
	assert.Equal(t, domain.TierWeekly, RecommendAutoTier(history, now))
}

func TestRecommendAutoTierOrderIndependent(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	history := []domain.PriceHistoryPoint{
		historyPoint(92, now.Add(-2*time.Hour)),
		historyPoint(100, now.Add(-40*time.Hour)),
		historyPoint(98, now.Add(-12*time.Hour)),
		historyPoint(95, now.Add(-24*time.Hour)),
	}
	assert.Equal(t, domain.TierHourly, RecommendAutoTier(history, now))
}

func TestRecommendAutoTierIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	history := []domain.PriceHistoryPoint{
		historyPoint(100, now.Add(-40*time.Hour)),
		historyPoint(95, now.Add(-24*time.Hour)),
		historyPoint(92, now.Add(-2*time.Hour)),
	}
	first := RecommendAutoTier(history, now)
	require.Equal(t, domain.TierHourly, first)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, RecommendAutoTier(history, now))
	}
}

func TestPriceChanged(t *testing.T) {
	assert.False(t, PriceChanged(49.99, 49.99))
	assert.False(t, PriceChanged(49.99, 49.990000001))
	assert.True(t, PriceChanged(49.99, 49.98))
}
