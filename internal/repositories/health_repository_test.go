package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
)

func TestDependencyHealthRepositoryAllHealthy(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("expected firestore ok, got %s", report.Checks["firestore"].Status)
	}
}

func TestDependencyHealthRepositoryDegradedCheck(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
	if report.Checks["pubsub"].Error != "topic missing" {
		t.Fatalf("expected check error recorded, got %q", report.Checks["pubsub"].Error)
	}
}

func TestDependencyHealthRepositoryTimeoutIsError(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
}

func TestDependencyHealthRepositoryRequiresChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatalf("expected error for empty check set")
	}
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{Name: " "}})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	if _, err := repo.Collect(context.Background()); err == nil {
		t.Fatalf("expected error for unnamed check")
	}
}
