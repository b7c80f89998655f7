// Package amazon holds marketplace-specific knowledge: domains, ASIN
// extraction, canonical product URLs, and per-domain locale headers.
package amazon

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Domains lists the marketplaces the tracker understands.
var Domains = []string{
	"amazon.de", "amazon.com", "amazon.co.uk", "amazon.fr",
	"amazon.it", "amazon.es", "amazon.nl", "amazon.co.jp",
	"amazon.ca", "amazon.com.au", "amazon.in", "amazon.com.br",
}

var (
	asinRe     = regexp.MustCompile(`(?i)(?:/(?:dp|gp/product|ASIN)/)([A-Z0-9]{10})`)
	bareAsinRe = regexp.MustCompile(`(?i)^[A-Z0-9]{10}$`)
	// Canonical product paths; pages landing elsewhere are suspect.
	productPathRe = regexp.MustCompile(`(?i)/(?:dp|gp/product|ASIN)/`)
)

// IsProductURL reports whether the URL path looks like a canonical
// product-detail path.
func IsProductURL(raw string) bool {
	return productPathRe.MatchString(raw)
}

// ExtractASIN pulls the ASIN from a product URL or accepts a bare ASIN.
// Returns "" when none is found.
func ExtractASIN(urlOrASIN string) string {
	if bareAsinRe.MatchString(urlOrASIN) {
		return strings.ToUpper(urlOrASIN)
	}
	m := asinRe.FindStringSubmatch(urlOrASIN)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// ExtractDomain returns the marketplace hostname without the www prefix.
func ExtractDomain(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return "amazon.de"
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

// CanonicalURL builds the stable product-detail URL for an ASIN.
func CanonicalURL(asin, domain string) string {
	if domain == "" {
		domain = "amazon.de"
	}
	return "https://www." + domain + "/dp/" + asin
}

type domainPrefs struct {
	Currency string
	Language string
}

var prefsByDomain = map[string]domainPrefs{
	"amazon.de":     {Currency: "EUR", Language: "de-DE,de;q=0.9,en;q=0.7"},
	"amazon.com":    {Currency: "USD", Language: "en-US,en;q=0.9"},
	"amazon.co.uk":  {Currency: "GBP", Language: "en-GB,en;q=0.9"},
	"amazon.fr":     {Currency: "EUR", Language: "fr-FR,fr;q=0.9,en;q=0.7"},
	"amazon.it":     {Currency: "EUR", Language: "it-IT,it;q=0.9,en;q=0.7"},
	"amazon.es":     {Currency: "EUR", Language: "es-ES,es;q=0.9,en;q=0.7"},
	"amazon.nl":     {Currency: "EUR", Language: "nl-NL,nl;q=0.9,en;q=0.7"},
	"amazon.co.jp":  {Currency: "JPY", Language: "ja-JP,ja;q=0.9,en;q=0.6"},
	"amazon.ca":     {Currency: "CAD", Language: "en-CA,en;q=0.9"},
	"amazon.com.au": {Currency: "AUD", Language: "en-AU,en;q=0.9"},
	"amazon.in":     {Currency: "INR", Language: "en-IN,en;q=0.9"},
	"amazon.com.br": {Currency: "BRL", Language: "pt-BR,pt;q=0.9,en;q=0.7"},
}

// FallbackCurrency returns the marketplace currency for a domain, or "".
func FallbackCurrency(domain string) string {
	return prefsByDomain[domain].Currency
}

// Headers builds the locale-appropriate request headers for a marketplace.
// The i18n-prefs cookie pins the displayed currency so parsed prices match
// the marketplace default.
func Headers(domain, userAgent string) http.Header {
	prefs, ok := prefsByDomain[domain]
	if !ok {
		prefs = domainPrefs{Language: "en-US,en;q=0.9"}
	}

	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", prefs.Language)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("User-Agent", userAgent)
	if prefs.Currency != "" {
		h.Set("Cookie", "i18n-prefs="+prefs.Currency)
	}
	return h
}
