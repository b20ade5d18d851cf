package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
	badgerstorage "github.com/ternarybob/lustro/internal/storage/badger"
)

// fakeAnalysis hands out run IDs and blocks WaitForRun until released
type fakeAnalysis struct {
	mu       sync.Mutex
	seq      int
	started  []string
	release  chan struct{}
	startErr error
}

func newFakeAnalysis() *fakeAnalysis {
	return &fakeAnalysis{release: make(chan struct{})}
}

func (f *fakeAnalysis) StartRun(ctx context.Context, applicationID, seedURL string, config *models.AnalysisConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.seq++
	f.started = append(f.started, seedURL)
	return fmt.Sprintf("run-%d", f.seq), nil
}

func (f *fakeAnalysis) GetRunStatus(runID string) (*models.RunStatusReport, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAnalysis) CancelRun(runID string) error { return nil }

func (f *fakeAnalysis) WaitForRun(ctx context.Context, runID string) (*models.AnalysisRun, error) {
	select {
	case <-f.release:
		return &models.AnalysisRun{ID: runID, Status: models.RunStatusCompleted}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeAnalysis) Close() error { return nil }

func (f *fakeAnalysis) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func newTestScheduler(t *testing.T) (interfaces.SchedulerService, *fakeAnalysis, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badgerstorage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	analysis := newFakeAnalysis()
	svc := NewService(manager, analysis, logger)
	t.Cleanup(func() { svc.Stop() })

	return svc, analysis, manager
}

func testSchedule(id string) *models.AnalysisSchedule {
	return &models.AnalysisSchedule{
		ID:       id,
		Name:     "nightly",
		SeedURL:  "https://site.test/",
		CronExpr: "0 6 * * *",
		Config:   models.DefaultAnalysisConfig(),
		Enabled:  true,
	}
}

func waitForCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegisterValidatesSchedule(t *testing.T) {
	svc, _, _ := newTestScheduler(t)

	bad := testSchedule("s1")
	bad.CronExpr = "* * * * *" // every minute, below the floor
	if err := svc.Register(bad); err == nil {
		t.Error("Expected sub-5-minute cadence rejected")
	}

	bad = testSchedule("s2")
	bad.SeedURL = "ftp://site.test/"
	if err := svc.Register(bad); err == nil {
		t.Error("Expected non-http seed rejected")
	}

	bad = testSchedule("s3")
	bad.Name = ""
	if err := svc.Register(bad); err == nil {
		t.Error("Expected missing name rejected")
	}
}

func TestRegisterPersistsAndAssignsID(t *testing.T) {
	svc, _, manager := newTestScheduler(t)

	schedule := testSchedule("")
	if err := svc.Register(schedule); err != nil {
		t.Fatalf("Failed to register schedule: %v", err)
	}
	if schedule.ID == "" {
		t.Fatal("Expected an ID assigned")
	}

	stored, err := manager.ScheduleStorage().GetSchedule(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("Expected schedule persisted: %v", err)
	}
	if stored.CronExpr != schedule.CronExpr {
		t.Errorf("Stored schedule differs: %q", stored.CronExpr)
	}

	status, err := svc.GetStatus(schedule.ID)
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}
	if !status.Enabled || status.IsRunning {
		t.Errorf("Unexpected initial status: %+v", status)
	}
}

func TestTriggerNowStartsAnalysis(t *testing.T) {
	svc, analysis, manager := newTestScheduler(t)

	schedule := testSchedule("sched-1")
	if err := svc.Register(schedule); err != nil {
		t.Fatalf("Failed to register schedule: %v", err)
	}

	runID, err := svc.TriggerNow("sched-1")
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if runID != "run-1" {
		t.Errorf("Expected run-1, got %s", runID)
	}
	if analysis.startCount() != 1 {
		t.Errorf("Expected 1 started analysis, got %d", analysis.startCount())
	}

	// A second trigger while the first is in flight is refused
	if _, err := svc.TriggerNow("sched-1"); err == nil {
		t.Error("Expected overlapping trigger refused")
	}

	// Run marker persisted on the stored definition
	stored, err := manager.ScheduleStorage().GetSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatalf("Failed to read stored schedule: %v", err)
	}
	if stored.LastRunID != "run-1" {
		t.Errorf("Expected last run marker, got %q", stored.LastRunID)
	}

	// Release the run; the schedule becomes triggerable again
	close(analysis.release)
	waitForCondition(t, "schedule to go idle", func() bool {
		status, err := svc.GetStatus("sched-1")
		return err == nil && !status.IsRunning
	})

	status, err := svc.GetStatus("sched-1")
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}
	if status.LastRunID != "run-1" || status.LastError != "" {
		t.Errorf("Unexpected status after completion: %+v", status)
	}
	if status.LastRun == nil {
		t.Error("Expected last run time set")
	}
}

func TestTriggerNowUnknownSchedule(t *testing.T) {
	svc, _, _ := newTestScheduler(t)

	if _, err := svc.TriggerNow("ghost"); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("Expected ErrScheduleNotFound, got %v", err)
	}
}

func TestDeregisterRemovesSchedule(t *testing.T) {
	svc, _, manager := newTestScheduler(t)

	if err := svc.Register(testSchedule("sched-1")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := svc.Deregister("sched-1"); err != nil {
		t.Fatalf("Failed to deregister: %v", err)
	}

	if _, err := svc.GetStatus("sched-1"); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("Expected status gone, got %v", err)
	}
	if _, err := manager.ScheduleStorage().GetSchedule(context.Background(), "sched-1"); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("Expected stored definition gone, got %v", err)
	}
	if err := svc.Deregister("sched-1"); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("Expected ErrScheduleNotFound on double deregister, got %v", err)
	}
}

func TestStartLoadsStoredSchedules(t *testing.T) {
	svc, _, manager := newTestScheduler(t)

	// Stored out of band, as if by a previous process
	if err := manager.ScheduleStorage().StoreSchedule(context.Background(), testSchedule("sched-persisted")); err != nil {
		t.Fatalf("Failed to pre-store schedule: %v", err)
	}

	if err := svc.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if !svc.IsRunning() {
		t.Error("Expected scheduler running")
	}

	status, err := svc.GetStatus("sched-persisted")
	if err != nil {
		t.Fatalf("Expected stored schedule registered: %v", err)
	}
	waitForCondition(t, "next run to be computed", func() bool {
		status, err = svc.GetStatus("sched-persisted")
		return err == nil && status.NextRun != nil
	})

	if err := svc.Start(); err == nil {
		t.Error("Expected second Start rejected")
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}
	if svc.IsRunning() {
		t.Error("Expected scheduler stopped")
	}
}

func TestAllStatuses(t *testing.T) {
	svc, _, _ := newTestScheduler(t)

	a := testSchedule("a")
	b := testSchedule("b")
	b.Name = "weekly"
	b.Enabled = false
	if err := svc.Register(a); err != nil {
		t.Fatalf("Failed to register a: %v", err)
	}
	if err := svc.Register(b); err != nil {
		t.Fatalf("Failed to register b: %v", err)
	}

	statuses := svc.GetAllStatuses()
	if len(statuses) != 2 {
		t.Fatalf("Expected 2 statuses, got %d", len(statuses))
	}
	if statuses["b"].Enabled {
		t.Error("Expected b disabled")
	}
	if statuses["b"].NextRun != nil {
		t.Error("Expected no next run for disabled schedule")
	}
}
