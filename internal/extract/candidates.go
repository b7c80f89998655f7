package extract

import (
	"regexp"
	"strings"

	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/price"
)

// Candidate is one raw price observation from a page, regardless of source
// (DOM text node, regex match over raw HTML, twister JSON entry).
type Candidate struct {
	Index   int
	Text    string
	Top     float64
	Visible bool
	Context string
}

// ScoredCandidate is a candidate that survived parsing.
type ScoredCandidate struct {
	Candidate
	Parsed *domain.Price
	Score  float64
}

var (
	buyBoxHintRe = regexp.MustCompile(`(?i)buybox|coreprice|pricetopay|apex|priceblock`)
	strikeHintRe = regexp.MustCompile(`(?i)used|buying options|basisprice|a-text-price|strike|wasprice|listprice`)
)

// Above-the-fold band for the position bonus, in CSS pixels.
const (
	foldBandTop    = 0.0
	foldBandBottom = 900.0
)

func scoreCandidate(c Candidate) float64 {
	score := 0.0
	if c.Visible {
		score += 100
	}
	if c.Top >= foldBandTop && c.Top <= foldBandBottom {
		score += 30
	} else if c.Top > foldBandBottom {
		// Penalty grows the further below the fold the node sits.
		score -= (c.Top - foldBandBottom) / 100
	}
	if buyBoxHintRe.MatchString(c.Context) {
		score += 35
	}
	if strikeHintRe.MatchString(c.Context) {
		score -= 60
	}
	// Stable tie-break favoring earlier DOM occurrence.
	score -= float64(c.Index)
	return score
}

// ChooseBest parses every candidate, discards unparseable and non-positive
// ones, and returns the highest-scoring survivor. Ties break on earliest
// index. Returns nil when nothing survives. Deterministic for a given input.
func ChooseBest(candidates []Candidate, fallbackCurrency string) *ScoredCandidate {
	var best *ScoredCandidate
	for _, c := range candidates {
		parsed := price.Parse(c.Text, fallbackCurrency)
		if parsed == nil || parsed.Numeric <= 0 {
			continue
		}
		scored := &ScoredCandidate{Candidate: c, Parsed: parsed, Score: scoreCandidate(c)}
		if best == nil || scored.Score > best.Score ||
			(scored.Score == best.Score && scored.Index < best.Index) {
			best = scored
		}
	}
	return best
}

var (
	contextBoostRe   = regexp.MustCompile(`(?i)desktop_buybox_group_1|buybox|coreprice|pricetopay|apex`)
	contextGroupRe   = regexp.MustCompile(`(?i)group_2|group_3`)
	contextStrikeRe  = regexp.MustCompile(`(?i)used|buying options|basisprice|a-text-price|strike|wasprice|listprice`)
	contextTwisterRe = regexp.MustCompile(`(?i)twister`)
)

// ContextScore is the simplified scoring used by the HTTP stage, where the
// only context available is the bytes surrounding a regex match.
func ContextScore(context string, index int) int {
	lower := strings.ToLower(context)
	score := 0
	if contextBoostRe.MatchString(lower) {
		score += 90
	}
	if contextGroupRe.MatchString(lower) {
		score -= 10
	}
	if contextStrikeRe.MatchString(lower) {
		score -= 70
	}
	if contextTwisterRe.MatchString(lower) {
		score += 20
	}
	return score - index
}

// ConfidenceForScore maps an HTTP-stage context score to a confidence band.
func ConfidenceForScore(score int) float64 {
	switch {
	case score >= 90:
		return 0.96
	case score >= 50:
		return 0.86
	case score >= 20:
		return 0.78
	default:
		return 0.7
	}
}
