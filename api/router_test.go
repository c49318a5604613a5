package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-scrape-promos/models"
)

type stubRunner struct {
	report *models.BatchReport
	err    error
	calls  int
}

func (s *stubRunner) Run(context.Context) (*models.BatchReport, error) {
	s.calls++
	return s.report, s.err
}

func serve(t *testing.T, router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Origin", "https://dashboard.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestScrapeEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	report := &models.BatchReport{
		RunID: "run-1",
		Summary: models.BatchSummary{
			TotalCompetitors: 3, Successful: 2, Failed: 1, TotalPricesSaved: 7,
		},
		Results: []models.ScrapeResult{
			{Competitor: "A", Success: true, ProductsFound: 5},
			{Competitor: "B", Error: "connection refused"},
			{Competitor: "C", Success: true, ProductsFound: 2},
		},
	}

	tests := []struct {
		name       string
		runner     *stubRunner
		wantStatus int
		wantOK     bool
	}{
		{name: "partial success", runner: &stubRunner{report: report}, wantStatus: http.StatusOK, wantOK: true},
		{name: "batch failure", runner: &stubRunner{err: errors.New("load competitors: no such table")}, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, NewServer(tt.runner, nil, nil).Router(), http.MethodPost, "/scrape")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Fatalf("missing CORS header on %s", tt.name)
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["success"] != tt.wantOK {
				t.Fatalf("success = %v", body["success"])
			}
			if tt.wantOK {
				summary := body["summary"].(map[string]any)
				if summary["totalPricesSaved"].(float64) != 7 || summary["failed"].(float64) != 1 {
					t.Fatalf("summary = %v", summary)
				}
				if len(body["results"].([]any)) != 3 {
					t.Fatalf("results = %v", body["results"])
				}
			} else if !strings.Contains(body["error"].(string), "no such table") {
				t.Fatalf("error = %v", body["error"])
			}
		})
	}
}

func TestPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := &stubRunner{}
	rec := serve(t, NewServer(runner, nil, nil).Router(), http.MethodOptions, "/scrape")

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != allowHeaders {
		t.Fatalf("allow headers = %q", got)
	}
	if runner.calls != 0 {
		t.Fatalf("preflight must not trigger a batch")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "promo_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	router := NewServer(&stubRunner{}, registry, nil).Router()

	if rec := serve(t, router, http.MethodGet, "/health"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	rec := serve(t, router, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "promo_test_total 1") {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}
