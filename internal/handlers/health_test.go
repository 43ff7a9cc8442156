package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthzReportsBuildInfo(t *testing.T) {
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "staging",
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "1.4.0" || resp["commitSha"] != "abc1234" || resp["environment"] != "staging" {
		t.Fatalf("unexpected payload %v", resp)
	}
	if resp["time"] != "2026-03-09T08:00:00Z" {
		t.Fatalf("unexpected time %v", resp["time"])
	}
}

func TestReadyzReportsDependencyChecks(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		report: services.SystemHealthReport{
			Status:  domain.HealthStatusOK,
			Version: "1.4.0",
			Uptime:  90 * time.Second,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, LatencyMS: 12},
			},
		},
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp readyzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.HealthStatusOK || resp.UptimeSec != 90 {
		t.Fatalf("unexpected payload %+v", resp)
	}
	if check, ok := resp.Checks["firestore"]; !ok || check.LatencyMS != 12 {
		t.Fatalf("unexpected checks %+v", resp.Checks)
	}
}

func TestReadyzFailsWhenDependencyDown(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
			},
		},
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestReadyzFailsWhenCollectorErrors(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		err: errors.New("probe failed"),
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestReadyzWithoutSystemServiceFallsBackToLiveness(t *testing.T) {
	h := NewHealthHandlers()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
