package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/user/price-tracker/internal/amazon"
	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/price"
)

// DOMSnapshot is the observation set one rendered page yields: scorer
// candidates with geometry, the twister variant-price JSON if present, the
// raw markup for the inline regex fallback, and blocked-page indicators.
type DOMSnapshot struct {
	HTTPStatus          int
	Title               string
	FinalURL            string
	BodyText            string
	Candidates          []Candidate
	TwisterJSON         string
	InlineHTML          string
	HasProductIndicator bool
	ChallengeIndicators int
}

// DOMRenderer produces a snapshot through a full browser render.
// Implemented by the browser pool; stubbed in tests.
type DOMRenderer interface {
	Snapshot(ctx context.Context, url, domain, currency string) (DOMSnapshot, error)
}

// DOMStage is the last, most expensive extraction stage: a real browser
// render with selector, twister, and inline-markup fallbacks.
type DOMStage struct {
	renderer     DOMRenderer
	maxAttempts  int
	retryBackoff time.Duration
}

// NewDOMStage builds the stage. retryBackoff grows linearly with the
// attempt number between re-navigations.
func NewDOMStage(renderer DOMRenderer, retryBackoff time.Duration) *DOMStage {
	return &DOMStage{renderer: renderer, maxAttempts: 3, retryBackoff: retryBackoff}
}

// twisterPrice mirrors the variant-price entries embedded in twister JSON.
type twisterPrice struct {
	DisplayPrice string  `json:"displayPrice"`
	PriceAmount  float64 `json:"priceAmount"`
}

var inlinePriceRe = regexp.MustCompile(`class="a-offscreen"[^>]*>([^<]{1,40})<`)

// snapshotResult scores one snapshot: selector candidates first, then the
// twister JSON, then the inline-markup regex, each through the shared
// candidate ranking.
func snapshotResult(snap DOMSnapshot, fallbackCurrency string) domain.ExtractionResult {
	result := domain.ExtractionResult{
		Status:     domain.ExtractionNoPrice,
		Method:     domain.MethodDOM,
		HTTPStatus: snap.HTTPStatus,
		PageTitle:  snap.Title,
		FinalURL:   snap.FinalURL,
		Debug:      map[string]any{"extractor": domain.MethodDOM},
	}

	verdict := DetectBlocked(PageSignals{
		HTTPStatus:          snap.HTTPStatus,
		PageTitle:           snap.Title,
		BodyText:            snap.BodyText,
		FinalURL:            snap.FinalURL,
		HasProductIndicator: snap.HasProductIndicator,
		ChallengeIndicators: snap.ChallengeIndicators,
		ProbedIndicators:    true,
	})
	if verdict.Blocked {
		result.Status = domain.ExtractionBlocked
		result.BlockedSignal = true
		result.BlockedReason = verdict.Reason
		return result
	}

	if best := ChooseBest(snap.Candidates, fallbackCurrency); best != nil {
		result.Status = domain.ExtractionOK
		result.PriceRaw = best.Text
		result.Price = best.Parsed
		result.Confidence = 0.9
		result.Debug["candidateSource"] = "selector"
		result.Debug["candidateScore"] = best.Score
		return result
	}

	if snap.TwisterJSON != "" {
		var entries []twisterPrice
		if err := json.Unmarshal([]byte(snap.TwisterJSON), &entries); err == nil {
			var candidates []Candidate
			for i, entry := range entries {
				text := entry.DisplayPrice
				if text == "" && entry.PriceAmount > 0 {
					text = price.Format(entry.PriceAmount, fallbackCurrency)
				}
				candidates = append(candidates, Candidate{
					Index: i, Text: text, Visible: true, Context: "twister",
				})
			}
			if best := ChooseBest(candidates, fallbackCurrency); best != nil {
				result.Status = domain.ExtractionOK
				result.PriceRaw = best.Text
				result.Price = best.Parsed
				result.Confidence = 0.8
				result.Debug["candidateSource"] = "twister"
				return result
			}
		}
	}

	matches := inlinePriceRe.FindAllStringSubmatch(snap.InlineHTML, 8)
	var inline []Candidate
	for i, m := range matches {
		inline = append(inline, Candidate{Index: i, Text: cleanText(m[1]), Visible: true})
	}
	if best := ChooseBest(inline, fallbackCurrency); best != nil {
		result.Status = domain.ExtractionOK
		result.PriceRaw = best.Text
		result.Price = best.Parsed
		result.Confidence = 0.7
		result.Debug["candidateSource"] = "inline_markup"
		return result
	}

	return result
}

// Run renders the page with up to three attempts. A blocked signal never
// triggers a retry: re-navigating into a challenge page wastes the lease
// and risks harsher rate limiting.
func (s *DOMStage) Run(ctx context.Context, url string) domain.ExtractionResult {
	dmn := amazon.ExtractDomain(url)
	fallbackCurrency := amazon.FallbackCurrency(dmn)

	last := domain.ExtractionResult{
		Status: domain.ExtractionNoPrice,
		Method: domain.MethodDOM,
		Debug:  map[string]any{"extractor": domain.MethodDOM},
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		snap, err := s.renderer.Snapshot(ctx, url, dmn, fallbackCurrency)
		if err != nil {
			last.Debug["error"] = err.Error()
			last.Debug["attempt"] = attempt
		} else {
			last = snapshotResult(snap, fallbackCurrency)
			last.Debug["attempt"] = attempt
			if last.Price != nil || last.BlockedSignal {
				return last
			}
		}

		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(time.Duration(attempt) * s.retryBackoff):
			}
		}
	}
	return last
}
