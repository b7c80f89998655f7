package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/user/price-tracker/internal/amazon"
	"github.com/user/price-tracker/internal/extract"
)

// Price selectors probed in order of specificity.
var priceSelectors = []string{
	"#corePrice_feature_div .a-price .a-offscreen",
	"#corePriceDisplay_desktop_feature_div .a-price .a-offscreen",
	"#apex_desktop .a-price .a-offscreen",
	".a-price .a-offscreen",
	"#priceblock_ourprice",
	"#priceblock_dealprice",
}

// collectScript runs inside the page and gathers everything the DOM stage
// scores: candidate texts with geometry, the twister price JSON, blocked
// indicators, and the visible text.
const collectScript = `(() => {
	const selectors = %s;
	const seen = new Set();
	const candidates = [];
	let index = 0;
	outer: for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			if (seen.has(el)) continue;
			seen.add(el);
			const text = (el.textContent || '').trim();
			if (!text || text.length > 40) continue;
			const rect = el.getBoundingClientRect();
			let context = '';
			let node = el;
			for (let depth = 0; node && depth < 6; depth += 1) {
				context += ' ' + (node.id || '') + ' ' + (typeof node.className === 'string' ? node.className : '');
				node = node.parentElement;
			}
			candidates.push({
				index: index,
				text: text,
				top: rect.top + window.scrollY,
				visible: el.offsetParent !== null || rect.width > 0,
				context: context.trim(),
			});
			index += 1;
			if (index >= 24) break outer;
		}
	}

	const twisterEl = document.querySelector('#twister-plus-price-data-price, script[data-a-state*="twister"]');

	return {
		candidates: candidates,
		twisterJson: twisterEl ? (twisterEl.textContent || '') : '',
		hasProductIndicator: !!document.querySelector('#productTitle, #dp, #ppd, #centerCol'),
		challengeIndicators: document.querySelectorAll(
			'form[action*="validateCaptcha"], input#captchacharacters, img[src*="captcha"]').length,
		bodyText: document.body ? document.body.innerText.slice(0, 20000) : '',
	};
})()`

type domProbe struct {
	Candidates []struct {
		Index   int     `json:"index"`
		Text    string  `json:"text"`
		Top     float64 `json:"top"`
		Visible bool    `json:"visible"`
		Context string  `json:"context"`
	} `json:"candidates"`
	TwisterJSON         string `json:"twisterJson"`
	HasProductIndicator bool   `json:"hasProductIndicator"`
	ChallengeIndicators int    `json:"challengeIndicators"`
	BodyText            string `json:"bodyText"`
}

// StageAdapter exposes the pool to the extraction stages as their
// screenshot and DOM-render collaborators.
type StageAdapter struct {
	pool      *Pool
	readyWait time.Duration
}

func NewStageAdapter(pool *Pool, readyWait time.Duration) *StageAdapter {
	return &StageAdapter{pool: pool, readyWait: readyWait}
}

// Screenshot satisfies the vision stage's collaborator contract.
func (a *StageAdapter) Screenshot(ctx context.Context, url, currencyCookie string) (extract.ScreenshotResult, error) {
	dmn := amazon.ExtractDomain(url)
	page, shot, err := a.pool.Screenshot(ctx, url, dmn, currencyCookie, a.readyWait)
	if err != nil {
		return extract.ScreenshotResult{}, err
	}
	return extract.ScreenshotResult{
		Image:      shot,
		HTTPStatus: page.HTTPStatus,
		PageTitle:  page.Title,
		FinalURL:   page.FinalURL,
	}, nil
}

// Snapshot satisfies the DOM stage's renderer contract.
func (a *StageAdapter) Snapshot(ctx context.Context, url, domainName, currency string) (extract.DOMSnapshot, error) {
	selectorsJSON := "["
	for i, sel := range priceSelectors {
		if i > 0 {
			selectorsJSON += ","
		}
		selectorsJSON += fmt.Sprintf("%q", sel)
	}
	selectorsJSON += "]"

	var probe domProbe
	page, err := a.pool.Render(ctx, url, domainName, currency, a.readyWait,
		chromedp.Evaluate(fmt.Sprintf(collectScript, selectorsJSON), &probe))
	if err != nil {
		return extract.DOMSnapshot{}, fmt.Errorf("snapshot %s: %w", url, err)
	}

	snap := extract.DOMSnapshot{
		HTTPStatus:          page.HTTPStatus,
		Title:               page.Title,
		FinalURL:            page.FinalURL,
		BodyText:            probe.BodyText,
		TwisterJSON:         probe.TwisterJSON,
		InlineHTML:          page.HTML,
		HasProductIndicator: probe.HasProductIndicator,
		ChallengeIndicators: probe.ChallengeIndicators,
	}
	for _, c := range probe.Candidates {
		snap.Candidates = append(snap.Candidates, extract.Candidate{
			Index:   c.Index,
			Text:    c.Text,
			Top:     c.Top,
			Visible: c.Visible,
			Context: c.Context,
		})
	}
	return snap, nil
}
