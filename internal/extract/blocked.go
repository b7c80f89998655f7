package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/user/price-tracker/internal/amazon"
)

// Blocked-page classification reasons, most specific first.
const (
	ReasonHTTP429       = "http_429"
	ReasonHTTP503       = "http_503"
	ReasonCaptcha       = "captcha"
	ReasonRobotCheck    = "robot_check"
	ReasonChallengePage = "challenge_page"
)

var blockURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/errors/validatecaptcha`),
	regexp.MustCompile(`/sorry/index`),
	regexp.MustCompile(`/ap/challenge`),
	regexp.MustCompile(`/errors/captcha`),
	regexp.MustCompile(`/ap/signin`),
}

// Multilingual challenge phrases. Matched against diacritic-folded,
// lower-cased title+body text.
var blockTextPatterns = []string{
	"robot check",
	"captcha",
	"enter the characters",
	"not a robot",
	"automated access",
	"automatisierte zugriffe",
	"geben sie die zeichen ein",
	"gib die zeichen ein",
	"sicherheitsuberprufung",
	"sicherheitsprufung",
	"kein roboter",
	"acceso automatizado",
	"introduce los caracteres",
	"verificacion de seguridad",
	"entrez les caracteres",
	"pas un robot",
	"accesso automatico",
	"inserisci i caratteri",
	"verifica di sicurezza",
}

var (
	captchaPhraseRe = regexp.MustCompile(`captcha|enter the characters|zeichen ein|caracteres`)
	robotPhraseRe   = regexp.MustCompile(`robot check|not a robot|kein roboter`)
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeForMatch lower-cases and strips diacritics so the multilingual
// phrase set matches accented variants.
func normalizeForMatch(value string) string {
	folded, _, err := transform.String(foldTransformer, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(folded)
}

// PageSignals carries everything the blocked-page classifier looks at.
// Both the HTTP stage and the DOM stage feed it, with indicator fields
// sourced differently per stage.
type PageSignals struct {
	HTTPStatus          int
	PageTitle           string
	BodyText            string
	FinalURL            string
	HasProductIndicator bool
	ChallengeIndicators int
	// ProbedIndicators is true when the caller actually checked the page
	// for product/challenge chrome; the fallback heuristic only applies
	// then.
	ProbedIndicators bool
}

// BlockedVerdict is the classifier outcome.
type BlockedVerdict struct {
	Blocked bool
	Reason  string
}

// DetectBlocked classifies a fetched page as an anti-bot challenge or normal
// content. Rules run in order; the first match wins. Pure function, shared
// verbatim by every extraction stage.
func DetectBlocked(sig PageSignals) BlockedVerdict {
	if sig.HTTPStatus == 429 {
		return BlockedVerdict{Blocked: true, Reason: ReasonHTTP429}
	}
	if sig.HTTPStatus == 503 {
		return BlockedVerdict{Blocked: true, Reason: ReasonHTTP503}
	}

	url := normalizeForMatch(sig.FinalURL)
	for _, pattern := range blockURLPatterns {
		if pattern.MatchString(url) {
			return BlockedVerdict{Blocked: true, Reason: ReasonChallengePage}
		}
	}

	if sig.ChallengeIndicators > 0 {
		return BlockedVerdict{Blocked: true, Reason: ReasonChallengePage}
	}

	combined := normalizeForMatch(sig.PageTitle) + "\n" + normalizeForMatch(sig.BodyText)
	for _, phrase := range blockTextPatterns {
		if !strings.Contains(combined, phrase) {
			continue
		}
		if captchaPhraseRe.MatchString(combined) {
			return BlockedVerdict{Blocked: true, Reason: ReasonCaptcha}
		}
		if robotPhraseRe.MatchString(combined) {
			return BlockedVerdict{Blocked: true, Reason: ReasonRobotCheck}
		}
		return BlockedVerdict{Blocked: true, Reason: ReasonChallengePage}
	}

	// Anti-bot pages increasingly return 200 with no price and no
	// recognizable product chrome. When the caller probed for indicators
	// and found none on a non-product path, treat the page as a challenge.
	if sig.ProbedIndicators && !sig.HasProductIndicator && !amazon.IsProductURL(sig.FinalURL) {
		return BlockedVerdict{Blocked: true, Reason: ReasonChallengePage}
	}

	return BlockedVerdict{}
}
