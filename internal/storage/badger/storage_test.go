package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/lustro/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func TestRunStorageLifecycle(t *testing.T) {
	db := newTestDB(t)
	storage := NewRunStorage(db, arbor.NewLogger())
	ctx := context.Background()

	run := &models.AnalysisRun{
		ID:            "run-1",
		ApplicationID: "app-1",
		SeedURL:       "https://example.com/",
		Config:        models.DefaultAnalysisConfig(),
		Status:        models.RunStatusPending,
		CreatedAt:     time.Now(),
	}

	if err := storage.StoreRun(ctx, run); err != nil {
		t.Fatalf("Failed to store run: %v", err)
	}

	got, err := storage.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.SeedURL != run.SeedURL {
		t.Errorf("Expected seed %s, got %s", run.SeedURL, got.SeedURL)
	}
	if got.Config.MaxCrawlDepth != run.Config.MaxCrawlDepth {
		t.Errorf("Config snapshot not preserved: %d != %d", got.Config.MaxCrawlDepth, run.Config.MaxCrawlDepth)
	}

	// Upsert semantics: storing again overwrites
	run.Status = models.RunStatusCompleted
	run.PagesAnalyzed = 7
	if err := storage.StoreRun(ctx, run); err != nil {
		t.Fatalf("Failed to update run: %v", err)
	}
	got, err = storage.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to re-get run: %v", err)
	}
	if got.Status != models.RunStatusCompleted || got.PagesAnalyzed != 7 {
		t.Errorf("Update not applied: status=%s pages=%d", got.Status, got.PagesAnalyzed)
	}

	count, err := storage.CountRuns(ctx)
	if err != nil {
		t.Fatalf("Failed to count runs: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 run, got %d", count)
	}

	if err := storage.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("Failed to delete run: %v", err)
	}
	if _, err := storage.GetRun(ctx, "run-1"); !errors.Is(err, models.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound after delete, got %v", err)
	}

	// Deleting a missing run is not an error
	if err := storage.DeleteRun(ctx, "run-1"); err != nil {
		t.Errorf("Expected idempotent delete, got %v", err)
	}
}

func TestRunStorageListOrdering(t *testing.T) {
	db := newTestDB(t)
	storage := NewRunStorage(db, arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := &models.AnalysisRun{
			ID:            id,
			ApplicationID: "app-1",
			SeedURL:       "https://example.com/",
			Status:        models.RunStatusCompleted,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := storage.StoreRun(ctx, run); err != nil {
			t.Fatalf("Failed to store %s: %v", id, err)
		}
	}
	other := &models.AnalysisRun{
		ID:            "run-other",
		ApplicationID: "app-2",
		SeedURL:       "https://other.example.com/",
		Status:        models.RunStatusCompleted,
		CreatedAt:     base.Add(10 * time.Minute),
	}
	if err := storage.StoreRun(ctx, other); err != nil {
		t.Fatalf("Failed to store run-other: %v", err)
	}

	runs, err := storage.ListRuns(ctx, "app-1", 0)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs for app-1, got %d", len(runs))
	}
	// Newest first
	if runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Errorf("Expected newest-first order, got %s..%s", runs[0].ID, runs[2].ID)
	}

	limited, err := storage.ListRuns(ctx, "", 2)
	if err != nil {
		t.Fatalf("Failed to list limited runs: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit 2 respected, got %d", len(limited))
	}

	bySeed, err := storage.ListRunsBySeed(ctx, "https://example.com/")
	if err != nil {
		t.Fatalf("Failed to list runs by seed: %v", err)
	}
	if len(bySeed) != 3 {
		t.Errorf("Expected 3 runs for seed, got %d", len(bySeed))
	}
	if bySeed[0].ID != "run-c" {
		t.Errorf("Expected newest run first, got %s", bySeed[0].ID)
	}
}

func TestPageStorage(t *testing.T) {
	db := newTestDB(t)
	storage := NewPageStorage(db, arbor.NewLogger())
	ctx := context.Background()

	pages := []*models.PageRecord{
		{RunID: "run-1", URL: "https://example.com/", PageType: models.PageTypeContent, Depth: 0, WordCount: 120},
		{RunID: "run-1", URL: "https://example.com/about", PageType: models.PageTypeContent, Depth: 1, ParentURL: "https://example.com/"},
		{RunID: "run-2", URL: "https://example.com/", PageType: models.PageTypeBlank, Depth: 0},
	}
	if err := storage.StorePages(ctx, pages); err != nil {
		t.Fatalf("Failed to store pages: %v", err)
	}

	got, err := storage.GetPage(ctx, "run-1", "https://example.com/about")
	if err != nil {
		t.Fatalf("Failed to get page: %v", err)
	}
	if got.ParentURL != "https://example.com/" {
		t.Errorf("Expected parent URL preserved, got %s", got.ParentURL)
	}
	if got.ID != models.PageKey("run-1", "https://example.com/about") {
		t.Errorf("Expected deterministic key, got %q", got.ID)
	}

	// Same URL in a different run is a distinct record
	other, err := storage.GetPage(ctx, "run-2", "https://example.com/")
	if err != nil {
		t.Fatalf("Failed to get page from other run: %v", err)
	}
	if other.PageType != models.PageTypeBlank {
		t.Errorf("Expected run-2 record, got %s", other.PageType)
	}

	byRun, err := storage.GetPagesByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to get pages by run: %v", err)
	}
	if len(byRun) != 2 {
		t.Errorf("Expected 2 pages in run-1, got %d", len(byRun))
	}

	count, err := storage.CountPagesByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to count pages: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}

	if _, err := storage.GetPage(ctx, "run-1", "https://example.com/nope"); !errors.Is(err, models.ErrPageNotFound) {
		t.Errorf("Expected ErrPageNotFound, got %v", err)
	}

	if err := storage.DeletePagesByRun(ctx, "run-1"); err != nil {
		t.Fatalf("Failed to delete pages: %v", err)
	}
	remaining, err := storage.GetPagesByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to re-query pages: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("Expected no pages after delete, got %d", len(remaining))
	}
	// run-2 untouched
	if c, _ := storage.CountPagesByRun(ctx, "run-2"); c != 1 {
		t.Errorf("Expected run-2 pages intact, got %d", c)
	}
}

func TestLinkStorageDiscoveryOrder(t *testing.T) {
	db := newTestDB(t)
	storage := NewLinkStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// Stored out of order; queries must come back in discovery order
	links := []*models.LinkRecord{
		{RunID: "run-1", URL: "https://example.com/c", ParentURL: "https://example.com/", DiscoveryOrder: 2, Status: models.LinkStatusBroken, StatusCode: 404},
		{RunID: "run-1", URL: "https://example.com/a", ParentURL: "https://example.com/", DiscoveryOrder: 0, Status: models.LinkStatusValid, StatusCode: 200},
		{RunID: "run-1", URL: "https://example.com/d", ParentURL: "https://example.com/a", DiscoveryOrder: 3, Status: models.LinkStatusTimeout},
		{RunID: "run-1", URL: "https://example.com/b", ParentURL: "https://example.com/", DiscoveryOrder: 1, Status: models.LinkStatusUnknown},
	}
	if err := storage.StoreLinks(ctx, links); err != nil {
		t.Fatalf("Failed to store links: %v", err)
	}

	byRun, err := storage.GetLinksByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to get links: %v", err)
	}
	if len(byRun) != 4 {
		t.Fatalf("Expected 4 links, got %d", len(byRun))
	}
	for i, link := range byRun {
		if link.DiscoveryOrder != i {
			t.Errorf("Position %d: expected discovery order %d, got %d", i, i, link.DiscoveryOrder)
		}
	}

	byParent, err := storage.GetLinksByParent(ctx, "run-1", "https://example.com/")
	if err != nil {
		t.Fatalf("Failed to get links by parent: %v", err)
	}
	if len(byParent) != 3 {
		t.Errorf("Expected 3 links under the root, got %d", len(byParent))
	}

	// Only status broken counts; the timeout edge must not appear
	broken, err := storage.GetBrokenLinks(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to get broken links: %v", err)
	}
	if len(broken) != 1 {
		t.Fatalf("Expected 1 broken link, got %d", len(broken))
	}
	if broken[0].URL != "https://example.com/c" {
		t.Errorf("Expected /c broken, got %s", broken[0].URL)
	}

	got, err := storage.GetLink(ctx, "run-1", "https://example.com/a")
	if err != nil {
		t.Fatalf("Failed to get link: %v", err)
	}
	if got.Status != models.LinkStatusValid {
		t.Errorf("Expected valid status, got %s", got.Status)
	}

	if _, err := storage.GetLink(ctx, "run-1", "https://example.com/zzz"); !errors.Is(err, models.ErrLinkNotFound) {
		t.Errorf("Expected ErrLinkNotFound, got %v", err)
	}

	count, err := storage.CountLinksByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to count links: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected 4 links counted, got %d", count)
	}

	if err := storage.DeleteLinksByRun(ctx, "run-1"); err != nil {
		t.Fatalf("Failed to delete links: %v", err)
	}
	if c, _ := storage.CountLinksByRun(ctx, "run-1"); c != 0 {
		t.Errorf("Expected no links after delete, got %d", c)
	}
}

func TestRelationshipStorageRoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewRelationshipStorage(db, arbor.NewLogger())
	ctx := context.Background()

	set := models.NewRelationshipSet("run-1", "https://example.com/")
	set.ParentMap["https://example.com/about"] = "https://example.com/"
	set.ChildrenMap["https://example.com/"] = []string{"https://example.com/about"}
	set.PathMap["https://example.com/about"] = []string{"https://example.com/", "https://example.com/about"}

	if err := storage.StoreRelationships(ctx, set); err != nil {
		t.Fatalf("Failed to store relationships: %v", err)
	}

	got, err := storage.GetRelationships(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to get relationships: %v", err)
	}
	if got.SeedURL != set.SeedURL {
		t.Errorf("Expected seed %s, got %s", set.SeedURL, got.SeedURL)
	}
	if got.Parent("https://example.com/about") != "https://example.com/" {
		t.Errorf("Parent map not preserved")
	}
	if len(got.Children("https://example.com/")) != 1 {
		t.Errorf("Children map not preserved")
	}
	if err := got.Verify(); err != nil {
		t.Errorf("Stored topology fails verification: %v", err)
	}

	if _, err := storage.GetRelationships(ctx, "run-absent"); !errors.Is(err, models.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}

	if err := storage.DeleteRelationships(ctx, "run-1"); err != nil {
		t.Fatalf("Failed to delete relationships: %v", err)
	}
	if _, err := storage.GetRelationships(ctx, "run-1"); err == nil {
		t.Error("Expected error after delete")
	}
}

func TestSourceStorage(t *testing.T) {
	db := newTestDB(t)
	storage := NewSourceStorage(db, arbor.NewLogger())
	ctx := context.Background()

	body := &models.SourceBody{
		RunID:    "run-1",
		URL:      "https://example.com/",
		HTML:     "<html><body>hello</body></html>",
		Markdown: "hello",
		StoredAt: time.Now(),
	}
	if err := storage.StoreSourceBody(ctx, body); err != nil {
		t.Fatalf("Failed to store source body: %v", err)
	}

	got, err := storage.GetSourceBody(ctx, "run-1", "https://example.com/")
	if err != nil {
		t.Fatalf("Failed to get source body: %v", err)
	}
	if got.HTML != body.HTML {
		t.Errorf("HTML not preserved")
	}
	if got.SizeBytes != len(body.HTML) {
		t.Errorf("Expected size %d, got %d", len(body.HTML), got.SizeBytes)
	}
	if got.Markdown != "hello" {
		t.Errorf("Markdown not preserved, got %q", got.Markdown)
	}

	if _, err := storage.GetSourceBody(ctx, "run-1", "https://example.com/leaf"); !errors.Is(err, models.ErrSourceNotFound) {
		t.Errorf("Expected ErrSourceNotFound, got %v", err)
	}

	count, err := storage.CountSourcesByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to count source bodies: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 source body, got %d", count)
	}

	if err := storage.DeleteSourcesByRun(ctx, "run-1"); err != nil {
		t.Fatalf("Failed to delete source bodies: %v", err)
	}
	if c, _ := storage.CountSourcesByRun(ctx, "run-1"); c != 0 {
		t.Errorf("Expected no source bodies after delete, got %d", c)
	}
}

func TestChangeStorage(t *testing.T) {
	db := newTestDB(t)
	storage := NewChangeStorage(db, arbor.NewLogger())
	ctx := context.Background()

	changes := &models.ChangeDetection{
		RunID:         "run-2",
		PreviousRunID: "run-1",
		SeedURL:       "https://example.com/",
		NewPages:      []string{"https://example.com/new"},
		RemovedPages:  []string{"https://example.com/old"},
		ModifiedPages: []string{"https://example.com/changed"},
		GeneratedAt:   time.Now(),
	}
	if err := storage.StoreChanges(ctx, changes); err != nil {
		t.Fatalf("Failed to store changes: %v", err)
	}

	got, err := storage.GetChanges(ctx, "run-2")
	if err != nil {
		t.Fatalf("Failed to get changes: %v", err)
	}
	if got.PreviousRunID != "run-1" {
		t.Errorf("Expected previous run-1, got %s", got.PreviousRunID)
	}
	if len(got.NewPages) != 1 || got.NewPages[0] != "https://example.com/new" {
		t.Errorf("New pages not preserved: %v", got.NewPages)
	}
	if !got.HasChanges() {
		t.Error("Expected HasChanges true")
	}

	if _, err := storage.GetChanges(ctx, "run-9"); !errors.Is(err, models.ErrChangesNotFound) {
		t.Errorf("Expected ErrChangesNotFound, got %v", err)
	}

	if err := storage.DeleteChanges(ctx, "run-2"); err != nil {
		t.Fatalf("Failed to delete changes: %v", err)
	}
}

func TestScheduleStorage(t *testing.T) {
	db := newTestDB(t)
	storage := NewScheduleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	schedule := &models.AnalysisSchedule{
		ID:       "sched-1",
		Name:     "nightly",
		SeedURL:  "https://example.com/",
		CronExpr: "0 6 * * *",
		Config:   models.DefaultAnalysisConfig(),
		Enabled:  true,
	}
	if err := storage.StoreSchedule(ctx, schedule); err != nil {
		t.Fatalf("Failed to store schedule: %v", err)
	}
	if schedule.CreatedAt.IsZero() || schedule.UpdatedAt.IsZero() {
		t.Error("Expected timestamps set on store")
	}

	got, err := storage.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatalf("Failed to get schedule: %v", err)
	}
	if got.CronExpr != "0 6 * * *" {
		t.Errorf("Cron expression not preserved, got %q", got.CronExpr)
	}

	second := &models.AnalysisSchedule{
		ID:       "sched-2",
		Name:     "weekly",
		SeedURL:  "https://example.com/",
		CronExpr: "0 6 * * 1",
		Config:   models.DefaultAnalysisConfig(),
	}
	if err := storage.StoreSchedule(ctx, second); err != nil {
		t.Fatalf("Failed to store second schedule: %v", err)
	}

	all, err := storage.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("Failed to list schedules: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 schedules, got %d", len(all))
	}

	if err := storage.DeleteSchedule(ctx, "sched-1"); err != nil {
		t.Fatalf("Failed to delete schedule: %v", err)
	}
	if err := storage.DeleteSchedule(ctx, "sched-1"); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("Expected ErrScheduleNotFound on double delete, got %v", err)
	}
	if _, err := storage.GetSchedule(ctx, "sched-1"); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("Expected ErrScheduleNotFound, got %v", err)
	}
}
