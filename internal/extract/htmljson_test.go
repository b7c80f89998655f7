package extract

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/price-tracker/internal/domain"
)

type stubFetcher struct {
	status   int
	body     string
	finalURL string
	err      error
}

func (s *stubFetcher) Do(req *http.Request) (*http.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	final := req.URL
	if s.finalURL != "" {
		final, _ = url.Parse(s.finalURL)
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Request:    &http.Request{URL: final},
	}, nil
}

const productPage = `<html><head><title>Kettle - Amazon.de</title></head>
<body><div id="dp"><span id="productTitle">Kettle</span>
<script>{"desktop_buybox_group_1":[{"displayPrice":"329,00 €","priceAmount":329.00,"currencySymbol":"€"}]}</script>
<script>{"wasprice":{"displayPrice":"399,00€"}}</script>
</div></body></html>`

func TestHTMLJSONStageExtractsBuyBoxPrice(t *testing.T) {
	stage := NewHTMLJSONStage(&stubFetcher{status: 200, body: productPage}, "ua")
	res := stage.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234")

	assert.Equal(t, domain.ExtractionOK, res.Status)
	assert.Equal(t, domain.MethodHTMLJSON, res.Method)
	require.NotNil(t, res.Price)
	assert.Equal(t, 329.0, res.Price.Numeric)
	assert.Equal(t, "EUR", res.Price.Currency)
	assert.Equal(t, 200, res.HTTPStatus)
	assert.False(t, res.BlockedSignal)
}

func TestHTMLJSONStageBlockedByStatus(t *testing.T) {
	stage := NewHTMLJSONStage(&stubFetcher{status: 429, body: "slow down"}, "ua")
	res := stage.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234")

	assert.Equal(t, domain.ExtractionBlocked, res.Status)
	assert.True(t, res.BlockedSignal)
	assert.Equal(t, ReasonHTTP429, res.BlockedReason)
}

func TestHTMLJSONStageBlockedByRedirectURL(t *testing.T) {
	stage := NewHTMLJSONStage(&stubFetcher{
		status:   200,
		body:     "<html><body>please verify</body></html>",
		finalURL: "https://www.amazon.de/errors/validateCaptcha",
	}, "ua")
	res := stage.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234")

	assert.Equal(t, domain.ExtractionBlocked, res.Status)
	assert.Equal(t, ReasonChallengePage, res.BlockedReason)
}

func TestHTMLJSONStageNoPrice(t *testing.T) {
	stage := NewHTMLJSONStage(&stubFetcher{
		status: 200,
		body:   `<html><head><title>Kettle</title></head><body><div id="dp"><span id="productTitle">Kettle</span></div></body></html>`,
	}, "ua")
	res := stage.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234")

	assert.Equal(t, domain.ExtractionNoPrice, res.Status)
	assert.Nil(t, res.Price)
	assert.False(t, res.BlockedSignal)
	assert.Equal(t, false, res.Debug["hasDisplayPrice"])
}

func TestHTMLJSONStageNetworkErrorIsNoPrice(t *testing.T) {
	stage := NewHTMLJSONStage(&stubFetcher{err: io.ErrUnexpectedEOF}, "ua")
	res := stage.Run(context.Background(), "https://www.amazon.de/dp/B0ABCD1234")

	assert.Equal(t, domain.ExtractionNoPrice, res.Status)
	assert.NotEmpty(t, res.Debug["error"])
}

func TestExtractPriceFromHTMLPrefersStructuredPair(t *testing.T) {
	body := `{"displayPrice":"399,00€","wasprice":true}{"buybox":{"priceAmount":329.00,"currencySymbol":"€"}}`
	best := extractPriceFromHTML(body, "EUR")
	require.NotNil(t, best)
	assert.Equal(t, "priceAmount", best.method)
	assert.Equal(t, 329.0, best.parsed.Numeric)
}

func TestDecodeJSONLikeString(t *testing.T) {
	assert.Equal(t, "329,00 €", decodeJSONLikeString(`329,00 €`))
	assert.Equal(t, "329,00 €", decodeJSONLikeString("329,00&nbsp;&euro;"))
}
