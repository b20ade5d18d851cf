package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
	"github.com/ternarybob/lustro/internal/services/crawler"
	"github.com/ternarybob/lustro/internal/services/results"
	badgerstorage "github.com/ternarybob/lustro/internal/storage/badger"
)

func newAnalysisService(t *testing.T, cfg *common.Config) (*crawler.Service, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badgerstorage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	resultsSvc := results.NewService(manager, nil, nil, logger)
	svc := crawler.NewService(cfg, manager, resultsSvc, nil, nil, logger)
	t.Cleanup(func() { svc.Close() })

	return svc, manager
}

func siteAnalysisConfig() *models.AnalysisConfig {
	cfg := models.DefaultAnalysisConfig()
	cfg.RequestTimeout = 5
	cfg.RetryAttempts = 0
	return &cfg
}

// analysisTestSite serves four pages: the root links to /about, /missing and
// /contact; /about links on to /team, which sits past the depth budget and
// is only reachable for the validator.
func analysisTestSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<p>Welcome to the demo storefront. Browse the catalogue or get in touch.</p>
<a href="/about">About</a>
<a href="/missing">Missing</a>
<a href="/contact">Contact</a>
</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>About</title></head><body>
<p>We have been shipping demo fixtures since the beginning.</p>
<a href="/team">Team</a>
</body></html>`)
	})
	mux.HandleFunc("/contact", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Contact</title></head><body>
<p>Reach the crew through the usual channels.</p>
</body></html>`)
	})
	mux.HandleFunc("/team", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Team</title></head><body>
<p>Three people and a build server.</p>
</body></html>`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunAnalyzesSmallSite(t *testing.T) {
	svc, manager := newAnalysisService(t, &common.Config{})
	srv := analysisTestSite(t)
	seed := srv.URL + "/"
	ctx := context.Background()

	id, err := svc.StartRun(ctx, "app-demo", seed, siteAnalysisConfig())
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	run, err := svc.WaitForRun(waitCtx, id)
	if err != nil {
		t.Fatalf("Failed to wait for run: %v", err)
	}

	if run.Status != models.RunStatusCompleted {
		t.Fatalf("Expected completed run, got %s (error: %s)", run.Status, run.Error)
	}
	if run.StartedAt.IsZero() || run.CompletedAt.IsZero() {
		t.Error("Expected start and completion timestamps on a finished run")
	}
	if run.PagesAnalyzed != 4 {
		t.Errorf("Expected 4 pages analyzed (root, about, contact, missing), got %d", run.PagesAnalyzed)
	}
	if run.LinksFound != 4 {
		t.Errorf("Expected 4 distinct links, got %d", run.LinksFound)
	}
	if run.BrokenLinks != 1 {
		t.Errorf("Expected 1 broken link, got %d", run.BrokenLinks)
	}
	if run.BlankPages != 0 {
		t.Errorf("Expected no blank pages, got %d", run.BlankPages)
	}
	if run.ContentPages != 3 {
		t.Errorf("Expected 3 content pages, got %d", run.ContentPages)
	}
	if run.OverallScore != 90 {
		t.Errorf("Expected score 90 with one broken link, got %.1f", run.OverallScore)
	}

	report, err := svc.GetRunStatus(id)
	if err != nil {
		t.Fatalf("Failed to get run status: %v", err)
	}
	if !report.Ready || !report.Successful {
		t.Errorf("Expected a ready, successful report, got %+v", report)
	}

	// Persisted artifacts
	pageCount, err := manager.PageStorage().CountPagesByRun(ctx, id)
	if err != nil {
		t.Fatalf("Failed to count pages: %v", err)
	}
	if pageCount != 4 {
		t.Errorf("Expected 4 stored pages, got %d", pageCount)
	}

	rootPage, err := manager.PageStorage().GetPage(ctx, id, seed)
	if err != nil {
		t.Fatalf("Failed to load root page: %v", err)
	}
	if rootPage.Title != "Home" || rootPage.Depth != 0 || rootPage.LinkCount != 3 {
		t.Errorf("Unexpected root page record: title=%q depth=%d links=%d", rootPage.Title, rootPage.Depth, rootPage.LinkCount)
	}
	if !rootPage.HasChildren {
		t.Error("Expected the root page marked as having children")
	}
	if rootPage.PageType != models.PageTypeContent {
		t.Errorf("Expected root classified as content, got %s", rootPage.PageType)
	}

	missingPage, err := manager.PageStorage().GetPage(ctx, id, srv.URL+"/missing")
	if err != nil {
		t.Fatalf("Failed to load missing page: %v", err)
	}
	if missingPage.PageType != models.PageTypeError || missingPage.StatusCode != 404 {
		t.Errorf("Expected an error page with status 404, got %s/%d", missingPage.PageType, missingPage.StatusCode)
	}

	broken, err := manager.LinkStorage().GetBrokenLinks(ctx, id)
	if err != nil {
		t.Fatalf("Failed to load broken links: %v", err)
	}
	if len(broken) != 1 || broken[0].URL != srv.URL+"/missing" {
		t.Fatalf("Expected exactly the /missing link broken, got %v", broken)
	}
	if broken[0].StatusCode != 404 {
		t.Errorf("Expected broken link status 404, got %d", broken[0].StatusCode)
	}

	// /about was fetched by the crawl, /team only probed afterwards; both
	// paths must settle the link with the target's title
	aboutLink, err := manager.LinkStorage().GetLink(ctx, id, srv.URL+"/about")
	if err != nil {
		t.Fatalf("Failed to load about link: %v", err)
	}
	if aboutLink.Status != models.LinkStatusValid || aboutLink.Title != "About" {
		t.Errorf("Unexpected about link: status=%s title=%q", aboutLink.Status, aboutLink.Title)
	}
	teamLink, err := manager.LinkStorage().GetLink(ctx, id, srv.URL+"/team")
	if err != nil {
		t.Fatalf("Failed to load team link: %v", err)
	}
	if teamLink.Status != models.LinkStatusValid || teamLink.Title != "Team" {
		t.Errorf("Unexpected team link: status=%s title=%q", teamLink.Status, teamLink.Title)
	}

	set, err := manager.RelationshipStorage().GetRelationships(ctx, id)
	if err != nil {
		t.Fatalf("Failed to load relationships: %v", err)
	}
	if got := set.Parent(srv.URL + "/about"); got != seed {
		t.Errorf("Expected /about parented to the seed, got %q", got)
	}
	if got := set.Parent(srv.URL + "/team"); got != srv.URL+"/about" {
		t.Errorf("Expected /team parented to /about, got %q", got)
	}

	// Bodies are kept only for the seed and pages with children
	sources, err := manager.SourceStorage().CountSourcesByRun(ctx, id)
	if err != nil {
		t.Fatalf("Failed to count stored bodies: %v", err)
	}
	if sources != 2 {
		t.Errorf("Expected bodies for the seed and /about only, got %d", sources)
	}
}

func TestRunCompletesWhenSeedUnreachable(t *testing.T) {
	svc, manager := newAnalysisService(t, &common.Config{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	seed := srv.URL + "/"
	srv.Close()

	ctx := context.Background()
	id, err := svc.StartRun(ctx, "app-demo", seed, siteAnalysisConfig())
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	run, err := svc.WaitForRun(waitCtx, id)
	if err != nil {
		t.Fatalf("Failed to wait for run: %v", err)
	}

	if run.Status != models.RunStatusCompleted {
		t.Fatalf("Expected an unreachable seed to complete empty, got %s (error: %s)", run.Status, run.Error)
	}
	if run.PagesAnalyzed != 0 || run.LinksFound != 0 {
		t.Errorf("Expected empty results, got %d pages and %d links", run.PagesAnalyzed, run.LinksFound)
	}

	pageCount, err := manager.PageStorage().CountPagesByRun(ctx, id)
	if err != nil {
		t.Fatalf("Failed to count pages: %v", err)
	}
	if pageCount != 0 {
		t.Errorf("Expected no stored pages, got %d", pageCount)
	}
}

func TestCancelRunMarksRunFailed(t *testing.T) {
	svc, _ := newAnalysisService(t, &common.Config{})

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		fmt.Fprint(w, "<html><body>slow</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	id, err := svc.StartRun(ctx, "app-demo", srv.URL+"/", siteAnalysisConfig())
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	report, err := svc.GetRunStatus(id)
	if err != nil {
		t.Fatalf("Failed to get status of active run: %v", err)
	}
	if report.Ready {
		t.Error("Expected an in-flight run to report not ready")
	}

	if err := svc.CancelRun(id); err != nil {
		t.Fatalf("Failed to cancel run: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	run, err := svc.WaitForRun(waitCtx, id)
	if err != nil {
		t.Fatalf("Failed to wait for cancelled run: %v", err)
	}

	if run.Status != models.RunStatusFailed {
		t.Fatalf("Expected cancelled run to fail, got %s", run.Status)
	}
	if run.Error != "analysis cancelled" {
		t.Errorf("Expected cancellation recorded, got %q", run.Error)
	}
}

func TestCancelRunUnknownID(t *testing.T) {
	svc, _ := newAnalysisService(t, &common.Config{})

	err := svc.CancelRun("run_does_not_exist")
	if !errors.Is(err, models.ErrRunNotActive) {
		t.Errorf("Expected ErrRunNotActive, got %v", err)
	}
}

func TestRecoverInterruptedRuns(t *testing.T) {
	svc, manager := newAnalysisService(t, &common.Config{})
	ctx := context.Background()

	stranded := []*models.AnalysisRun{
		{ID: "run-stranded-running", SeedURL: "https://site.test/", Status: models.RunStatusRunning, CreatedAt: time.Now()},
		{ID: "run-stranded-pending", SeedURL: "https://site.test/", Status: models.RunStatusPending, CreatedAt: time.Now()},
	}
	finished := &models.AnalysisRun{ID: "run-finished", SeedURL: "https://site.test/", Status: models.RunStatusCompleted, CreatedAt: time.Now()}

	for _, run := range append(stranded, finished) {
		if err := manager.RunStorage().StoreRun(ctx, run); err != nil {
			t.Fatalf("Failed to store run %s: %v", run.ID, err)
		}
	}

	recovered, err := svc.RecoverInterruptedRuns(ctx)
	if err != nil {
		t.Fatalf("Failed to recover interrupted runs: %v", err)
	}
	if recovered != 2 {
		t.Errorf("Expected 2 runs recovered, got %d", recovered)
	}

	for _, original := range stranded {
		run, err := manager.RunStorage().GetRun(ctx, original.ID)
		if err != nil {
			t.Fatalf("Failed to load run %s: %v", original.ID, err)
		}
		if run.Status != models.RunStatusFailed {
			t.Errorf("Expected %s marked failed, got %s", original.ID, run.Status)
		}
		if run.Error != "Interrupted by service restart" {
			t.Errorf("Expected restart marker on %s, got %q", original.ID, run.Error)
		}
	}

	untouched, err := manager.RunStorage().GetRun(ctx, finished.ID)
	if err != nil {
		t.Fatalf("Failed to load finished run: %v", err)
	}
	if untouched.Status != models.RunStatusCompleted {
		t.Errorf("Expected the completed run untouched, got %s", untouched.Status)
	}
}

func TestStartRunRejectsInvalidInput(t *testing.T) {
	svc, _ := newAnalysisService(t, &common.Config{})
	ctx := context.Background()

	if _, err := svc.StartRun(ctx, "", "ftp://site.test/archive", siteAnalysisConfig()); err == nil {
		t.Error("Expected a non-http seed rejected")
	}

	cfg := models.DefaultAnalysisConfig()
	cfg.MaxLinksToValidate = 100 // Below 2x the page budget
	if _, err := svc.StartRun(ctx, "", "https://site.test/", &cfg); err == nil {
		t.Error("Expected a validation budget below 2x the page budget rejected")
	}
}

func TestStartRunRejectsTestURLInProduction(t *testing.T) {
	svc, _ := newAnalysisService(t, &common.Config{Environment: "production"})

	_, err := svc.StartRun(context.Background(), "", "http://localhost:4242/", siteAnalysisConfig())
	if err == nil {
		t.Error("Expected localhost seeds rejected in production")
	}
}
