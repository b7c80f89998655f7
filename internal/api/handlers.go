package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/storage"
)

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.pgStore.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.redisStore.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	if healthStatus["postgres"] != "healthy" || healthStatus["redis"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

func (s *Server) handleProductStatus(w http.ResponseWriter, r *http.Request) {
	asin := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "asin")))
	if asin == "" {
		s.respondWithError(w, http.StatusBadRequest, "ASIN is required")
		return
	}

	product, err := s.pgStore.ProductByASIN(r.Context(), asin)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "Product not tracked")
		return
	}
	if err != nil {
		s.logger.Error("failed to load product", zap.String("asin", asin), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve product")
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"asin":                 product.ASIN,
		"domain":               product.Domain,
		"url":                  product.URL,
		"title":                product.Title,
		"tier":                 product.Tier,
		"tier_mode":            product.TierMode,
		"is_active":            product.IsActive,
		"next_scrape_at":       product.NextScrapeAt,
		"last_price":           product.LastPrice,
		"last_scraped_at":      product.LastScrapedAt,
		"last_price_change_at": product.LastPriceChangeAt,
		"consecutive_failures": product.ConsecutiveFailures,
		"last_error":           product.LastError,
	})
}

// handleSync triggers a single poll cycle inline and returns its report.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report := s.loop.RunOnce(r.Context())
	s.respondWithJSON(w, http.StatusOK, report)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
