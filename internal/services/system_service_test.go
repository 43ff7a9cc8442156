package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func TestHealthReportMergesBuildMetadata(t *testing.T) {
	startedAt := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{
			report: domain.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
		},
		Clock: testClock,
		Build: BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "staging",
			StartedAt:   startedAt,
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc1234" || report.Environment != "staging" {
		t.Fatalf("build metadata not merged: %+v", report)
	}
	if report.Uptime != 2*time.Hour {
		t.Fatalf("expected 2h uptime, got %s", report.Uptime)
	}
	if report.GeneratedAt.IsZero() {
		t.Fatalf("expected generated timestamp")
	}
}

func TestHealthReportPropagatesFailure(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{err: errors.New("probe failed")},
		Clock:            testClock,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatalf("expected error from failing collector")
	}
}

func TestNewSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}
