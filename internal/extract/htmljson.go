package extract

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/price-tracker/internal/amazon"
	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/price"
)

// bodyScanLimit bounds how much of the body feeds the blocked-text matcher.
const bodyScanLimit = 16000

// Fetcher issues one plain GET with redirect-follow. Satisfied by
// *http.Client; swapped out in tests.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTMLJSONStage scans the raw response body for embedded-JSON price shapes.
// No browser execution: cheapest, tried first.
type HTMLJSONStage struct {
	client    Fetcher
	userAgent string
}

// NewHTMLJSONStage builds the HTTP stage. The client's timeout bounds the
// whole fetch.
func NewHTMLJSONStage(client Fetcher, userAgent string) *HTMLJSONStage {
	return &HTMLJSONStage{client: client, userAgent: userAgent}
}

var (
	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&euro;", "€",
		"&Euro;", "€",
		"&pound;", "£",
		"&Pound;", "£",
		"&yen;", "¥",
		"&Yen;", "¥",
		"&amp;", "&",
	)
	whitespaceRe = regexp.MustCompile(`[\s\p{Zs}]+`)

	displayPriceRe = regexp.MustCompile(`"displayPrice"\s*:\s*"([^"]+)"`)
	priceAmountRe  = regexp.MustCompile(`"priceAmount"\s*:\s*([0-9]+(?:\.[0-9]+)?)\s*,\s*"currency(?:Symbol|Code)"\s*:\s*"([^"]+)"`)
)

// cleanText collapses whitespace and decodes the HTML entities that show up
// inside embedded price JSON.
func cleanText(value string) string {
	out := entityReplacer.Replace(value)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(out, " "))
}

// decodeJSONLikeString undoes JSON string escapes found in raw matches.
// The capture cannot contain an unescaped quote, so wrapping it back into a
// JSON string literal is safe.
func decodeJSONLikeString(raw string) string {
	candidate := cleanText(raw)
	if candidate == "" {
		return candidate
	}
	var decoded string
	if err := json.Unmarshal([]byte(`"`+candidate+`"`), &decoded); err != nil {
		return candidate
	}
	return cleanText(decoded)
}

type htmlCandidate struct {
	method string
	score  int
	text   string
	parsed *domain.Price
}

func contextWindow(body string, matchStart int) string {
	start := matchStart - 180
	if start < 0 {
		start = 0
	}
	end := matchStart + 40
	if end > len(body) {
		end = len(body)
	}
	return body[start:end]
}

func collectDisplayCandidates(body, fallbackCurrency string) []htmlCandidate {
	var out []htmlCandidate
	matches := displayPriceRe.FindAllStringSubmatchIndex(body, -1)
	for idx, m := range matches {
		decoded := decodeJSONLikeString(body[m[2]:m[3]])
		if decoded == "" {
			continue
		}
		parsed := price.Parse(decoded, fallbackCurrency)
		if parsed == nil || parsed.Numeric <= 0 {
			continue
		}
		out = append(out, htmlCandidate{
			method: "displayPrice",
			score:  ContextScore(contextWindow(body, m[0]), idx),
			text:   decoded,
			parsed: parsed,
		})
	}
	return out
}

func collectPriceAmountCandidates(body, fallbackCurrency string) []htmlCandidate {
	var out []htmlCandidate
	matches := priceAmountRe.FindAllStringSubmatchIndex(body, -1)
	for idx, m := range matches {
		amount, err := strconv.ParseFloat(body[m[2]:m[3]], 64)
		if err != nil || amount <= 0 {
			continue
		}
		symbol := decodeJSONLikeString(body[m[4]:m[5]])
		text := strconv.FormatFloat(amount, 'f', -1, 64)
		if symbol != "" {
			text = symbol + " " + text
		}
		parsed := price.Parse(text, fallbackCurrency)
		if parsed == nil || parsed.Numeric <= 0 {
			continue
		}
		// Structured amount+currency pairs are slightly more trustworthy
		// than display strings.
		out = append(out, htmlCandidate{
			method: "priceAmount",
			score:  ContextScore(contextWindow(body, m[0]), idx) + 10,
			text:   text,
			parsed: parsed,
		})
	}
	return out
}

// extractPriceFromHTML picks the best embedded-JSON price candidate from the
// raw body, or nil when none parses.
func extractPriceFromHTML(body, fallbackCurrency string) *htmlCandidate {
	candidates := append(
		collectPriceAmountCandidates(body, fallbackCurrency),
		collectDisplayCandidates(body, fallbackCurrency)...,
	)
	var best *htmlCandidate
	for i := range candidates {
		if best == nil || candidates[i].score > best.score {
			best = &candidates[i]
		}
	}
	return best
}

// probePage extracts the title and challenge/product indicators from the
// document so the blocked classifier can apply its fallback heuristic.
func probePage(body string) (title string, productIndicator bool, challengeIndicators int) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", false, 0
	}
	title = cleanText(doc.Find("title").First().Text())

	productIndicator = doc.Find("#productTitle, #dp, #ppd, #centerCol").Length() > 0

	challengeIndicators = doc.Find(
		`form[action*="validateCaptcha"], input#captchacharacters, img[src*="captcha"]`,
	).Length()
	return title, productIndicator, challengeIndicators
}

// Run performs one bounded GET and returns a terminal ExtractionResult.
// Transport-level failures are reported through the result's Debug map, not
// as errors: stage failures never propagate past the pipeline.
func (s *HTMLJSONStage) Run(ctx context.Context, url string) domain.ExtractionResult {
	dmn := amazon.ExtractDomain(url)
	fallbackCurrency := amazon.FallbackCurrency(dmn)

	result := domain.ExtractionResult{
		Status: domain.ExtractionNoPrice,
		Method: domain.MethodHTMLJSON,
		Debug:  map[string]any{"extractor": domain.MethodHTMLJSON, "domain": dmn},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Debug["error"] = err.Error()
		return result
	}
	req.Header = amazon.Headers(dmn, s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		result.Debug["error"] = err.Error()
		return result
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Debug["error"] = err.Error()
		return result
	}
	body := string(bodyBytes)

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	title, productIndicator, challengeIndicators := probePage(body)
	if title == "" {
		title = "Unknown"
	}

	result.HTTPStatus = resp.StatusCode
	result.PageTitle = title
	result.FinalURL = finalURL

	scan := body
	if len(scan) > bodyScanLimit {
		scan = scan[:bodyScanLimit]
	}
	verdict := DetectBlocked(PageSignals{
		HTTPStatus:          resp.StatusCode,
		PageTitle:           title,
		BodyText:            scan,
		FinalURL:            finalURL,
		HasProductIndicator: productIndicator,
		ChallengeIndicators: challengeIndicators,
		ProbedIndicators:    true,
	})
	if verdict.Blocked {
		result.Status = domain.ExtractionBlocked
		result.BlockedSignal = true
		result.BlockedReason = verdict.Reason
		return result
	}

	best := extractPriceFromHTML(body, fallbackCurrency)
	if best == nil {
		result.Debug["hasDisplayPrice"] = displayPriceRe.MatchString(body)
		result.Debug["hasPriceAmount"] = strings.Contains(body, `"priceAmount"`)
		return result
	}

	result.Status = domain.ExtractionOK
	result.PriceRaw = cleanText(best.text)
	result.Price = best.parsed
	result.Confidence = ConfidenceForScore(best.score)
	result.Debug["candidateMethod"] = best.method
	result.Debug["candidateScore"] = best.score
	return result
}
