package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/models"
)

func newValidationTarget() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Fine Page</title></head><body>ok</body></html>`)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/limited", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
		fmt.Fprint(w, "late")
	})
	return httptest.NewServer(mux)
}

func validatorTestConfig() models.AnalysisConfig {
	cfg := models.DefaultAnalysisConfig()
	cfg.RequestTimeout = 1
	cfg.RetryAttempts = 0
	cfg.ValidatorConcurrency = 10
	cfg.MaxLinksToValidate = 100
	return cfg
}

func newTestValidator(cfg models.AnalysisConfig) *Validator {
	logger := arbor.NewLogger()
	fetcher := NewFetcher(cfg, NewHostRateLimiter(0), logger)
	return NewValidator(cfg, fetcher, logger)
}

func testEdge(url string, order int) *models.LinkRecord {
	return &models.LinkRecord{
		ID:             models.LinkKey("run-test", url),
		RunID:          "run-test",
		URL:            url,
		DiscoveryOrder: order,
		Status:         models.LinkStatusUnknown,
	}
}

func TestValidatorReusesCrawlResults(t *testing.T) {
	// The target was already fetched by the crawl, so validation must not
	// touch the network: the URL points nowhere reachable.
	url := "http://192.0.2.1/fetched"
	edge := testEdge(url, 0)
	pages := map[string]*FetchedPage{
		url: {
			URL:            url,
			StatusCode:     200,
			ResponseTimeMs: 42,
			Classification: Classification{Title: "Known Page"},
		},
	}

	v := newTestValidator(validatorTestConfig())
	validated := v.Validate(context.Background(), []*models.LinkRecord{edge}, pages, "http://192.0.2.1/")

	if validated != 1 {
		t.Fatalf("Expected 1 validated edge, got %d", validated)
	}
	if edge.Status != models.LinkStatusValid {
		t.Errorf("Expected valid status, got %s", edge.Status)
	}
	if edge.StatusCode != 200 {
		t.Errorf("Expected status code 200, got %d", edge.StatusCode)
	}
	if edge.Title != "Known Page" {
		t.Errorf("Expected title from the crawled page, got %q", edge.Title)
	}
	if edge.ResponseTimeMs != 42 {
		t.Errorf("Expected response time copied from the crawl, got %d", edge.ResponseTimeMs)
	}
	if edge.ValidatedAt.IsZero() {
		t.Error("Expected ValidatedAt to be set")
	}
}

func TestValidatorProbeStatuses(t *testing.T) {
	srv := newValidationTarget()
	defer srv.Close()

	tests := []struct {
		name       string
		path       string
		wantStatus models.LinkStatus
		wantCode   int
	}{
		{"valid target", "/ok", models.LinkStatusValid, 200},
		{"broken target", "/gone", models.LinkStatusBroken, 404},
		{"redirect reported not followed", "/moved", models.LinkStatusRedirect, 301},
		{"rate limited target", "/limited", models.LinkStatusRateLimited, 429},
		{"server error target", "/error", models.LinkStatusBroken, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edge := testEdge(srv.URL+tt.path, 0)
			v := newTestValidator(validatorTestConfig())

			validated := v.Validate(context.Background(), []*models.LinkRecord{edge}, nil, srv.URL+"/")
			if validated != 1 {
				t.Fatalf("Expected 1 validated edge, got %d", validated)
			}
			if edge.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, edge.Status)
			}
			if edge.StatusCode != tt.wantCode {
				t.Errorf("Expected status code %d, got %d", tt.wantCode, edge.StatusCode)
			}
		})
	}
}

func TestValidatorExtractsTitleFromValidTargets(t *testing.T) {
	srv := newValidationTarget()
	defer srv.Close()

	valid := testEdge(srv.URL+"/ok", 0)
	broken := testEdge(srv.URL+"/gone", 1)
	v := newTestValidator(validatorTestConfig())

	v.Validate(context.Background(), []*models.LinkRecord{valid, broken}, nil, srv.URL+"/")

	if valid.Title != "Fine Page" {
		t.Errorf("Expected probed title %q, got %q", "Fine Page", valid.Title)
	}
	if broken.Title != "" {
		t.Errorf("Expected no title on broken target, got %q", broken.Title)
	}
}

func TestValidatorTimeout(t *testing.T) {
	srv := newValidationTarget()
	defer srv.Close()

	edge := testEdge(srv.URL+"/slow", 0)
	v := newTestValidator(validatorTestConfig())

	v.Validate(context.Background(), []*models.LinkRecord{edge}, nil, srv.URL+"/")

	if edge.Status != models.LinkStatusTimeout {
		t.Errorf("Expected timeout status, got %s", edge.Status)
	}
	if edge.ErrorMessage != "request timeout" {
		t.Errorf("Expected timeout error message, got %q", edge.ErrorMessage)
	}
	if edge.Status.CountsAsBroken() {
		t.Error("Timeouts must not count as broken links")
	}
}

func TestValidatorTransportFailureLeavesUnknown(t *testing.T) {
	srv := newValidationTarget()
	unreachable := srv.URL + "/ok"
	srv.Close()

	edge := testEdge(unreachable, 0)
	v := newTestValidator(validatorTestConfig())

	v.Validate(context.Background(), []*models.LinkRecord{edge}, nil, "http://example.com/")

	if edge.Status != models.LinkStatusUnknown {
		t.Errorf("Expected unknown status for unreachable target, got %s", edge.Status)
	}
	if edge.ErrorMessage == "" {
		t.Error("Expected the transport error to be recorded")
	}
}

func TestValidatorBudgetAndPriority(t *testing.T) {
	srv := newValidationTarget()
	defer srv.Close()

	// Discovery order deliberately interleaves the groups: the external
	// edge is discovered first but validated last.
	external := testEdge("http://203.0.113.9/elsewhere", 0)
	fetchedEdge := testEdge(srv.URL+"/crawled", 1)
	sameA := testEdge(srv.URL+"/ok", 2)
	sameB := testEdge(srv.URL+"/gone", 3)
	edges := []*models.LinkRecord{external, fetchedEdge, sameA, sameB}

	pages := map[string]*FetchedPage{
		srv.URL + "/crawled": {URL: srv.URL + "/crawled", StatusCode: 200},
	}

	cfg := validatorTestConfig()
	cfg.MaxLinksToValidate = 3
	v := newTestValidator(cfg)

	validated := v.Validate(context.Background(), edges, pages, srv.URL+"/")
	if validated != 3 {
		t.Fatalf("Expected 3 validated edges under budget 3, got %d", validated)
	}

	if fetchedEdge.Status != models.LinkStatusValid {
		t.Errorf("Expected fetched edge settled first, got %s", fetchedEdge.Status)
	}
	if sameA.Status != models.LinkStatusValid {
		t.Errorf("Expected same-origin edge validated, got %s", sameA.Status)
	}
	if sameB.Status != models.LinkStatusBroken {
		t.Errorf("Expected same-origin 404 marked broken, got %s", sameB.Status)
	}
	if external.Status != models.LinkStatusUnknown {
		t.Errorf("Expected external edge beyond budget to stay unknown, got %s", external.Status)
	}
	if !external.ValidatedAt.IsZero() {
		t.Error("Expected untouched edge to have no validation timestamp")
	}
}

func TestValidatorCancelledContextStopsProbing(t *testing.T) {
	srv := newValidationTarget()
	defer srv.Close()

	var edges []*models.LinkRecord
	for i := 0; i < 20; i++ {
		edges = append(edges, testEdge(fmt.Sprintf("%s/ok?n=%d", srv.URL, i), i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := newTestValidator(validatorTestConfig())
	validated := v.Validate(ctx, edges, nil, srv.URL+"/")

	if validated != 0 {
		t.Errorf("Expected no probes on cancelled context, got %d", validated)
	}
	for _, edge := range edges {
		if edge.Status != models.LinkStatusUnknown {
			t.Errorf("Expected %s to stay unknown, got %s", edge.URL, edge.Status)
		}
	}
}

func TestTitleFrom(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"plain title", "<html><head><title>Hello</title></head></html>", "Hello"},
		{"whitespace trimmed", "<html><head><title>\n  Spaced \t</title></head></html>", "Spaced"},
		{"missing title", "<html><body>no head</body></html>", ""},
		{"truncated body", "<html><head><title>Cut", "Cut"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := titleFrom([]byte(tt.body))
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
