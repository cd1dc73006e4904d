package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

type stubHealthRepository struct {
	collect func(ctx context.Context) (domain.HealthReport, error)
}

func (s stubHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	return s.collect(ctx)
}

func reportWith(checks map[string]domain.HealthCheck) stubHealthRepository {
	return stubHealthRepository{collect: func(context.Context) (domain.HealthReport, error) {
		return domain.HealthReport{Status: domain.HealthStatusDegraded, Checks: checks}, nil
	}}
}

func TestSystemService_HealthReportFillsBuildInfo(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: reportWith(map[string]domain.HealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"pubsub":    {Status: domain.HealthStatusDegraded, Error: "topic missing"},
		}),
		Optional: []string{"pubsub", "storage"},
		Clock:    func() time.Time { return now },
		Build:    BuildInfo{Version: "1.4.0", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService error: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport error: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %q", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "staging" {
		t.Fatalf("unexpected build info: %+v", report)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("expected uptime 90m, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated at %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemService_RequiredDependencyFailureIsError(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: reportWith(map[string]domain.HealthCheck{
			"firestore": {Status: domain.HealthStatusDegraded, Error: "unavailable"},
			"pubsub":    {Status: domain.HealthStatusOK},
		}),
		Optional: []string{"pubsub"},
	})
	if err != nil {
		t.Fatalf("NewSystemService error: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport error: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %q", report.Status)
	}
}

func TestSystemService_AllHealthyIsOK(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: reportWith(map[string]domain.HealthCheck{
			"firestore":     {Status: domain.HealthStatusOK},
			"secretManager": {Status: domain.HealthStatusOK},
		}),
	})
	if err != nil {
		t.Fatalf("NewSystemService error: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport error: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %q", report.Status)
	}
}

func TestSystemService_PropagatesCollectError(t *testing.T) {
	boom := errors.New("boom")
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{collect: func(context.Context) (domain.HealthReport, error) {
			return domain.HealthReport{}, boom
		}},
	})
	if err != nil {
		t.Fatalf("NewSystemService error: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected collect error, got %v", err)
	}
}

func TestSystemService_RequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without health repository")
	}
}
