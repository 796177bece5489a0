package forks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Romamo/forkscout-sub000/internal/testutil"
	"github.com/Romamo/forkscout-sub000/pkg/github"
	"github.com/Romamo/forkscout-sub000/pkg/progress"
	"github.com/Romamo/forkscout-sub000/pkg/retry"
)

func newTestClient(t *testing.T, mock *testutil.MockGitHub) *github.Client {
	t.Helper()

	cfg := github.DefaultConfig("test-token")
	cfg.BaseURL = mock.URL()
	cfg.Retry = retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}
	cfg.Progress = progress.NewManager(io.Discard)

	client, err := github.New(cfg)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

const upstreamJSON = `{
	"id": 1,
	"name": "hello",
	"full_name": "octocat/hello",
	"owner": {"login": "octocat"},
	"default_branch": "main",
	"stargazers_count": 100,
	"created_at": "2024-01-01T00:00:00Z",
	"pushed_at": "2025-06-01T00:00:00Z"
}`

func forkJSON(owner string, stars int, created, pushed string) string {
	return fmt.Sprintf(`{
		"id": 2,
		"name": "hello",
		"full_name": "%s/hello",
		"owner": {"login": "%s"},
		"fork": true,
		"default_branch": "main",
		"stargazers_count": %d,
		"created_at": "%s",
		"pushed_at": "%s"
	}`, owner, owner, stars, created, pushed)
}

func TestScanner_Repository(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetResponse("/repos/octocat/hello", testutil.NewJSONResponse(upstreamJSON))

	scanner := NewScanner(newTestClient(t, mock), DefaultScanConfig())

	repo, err := scanner.Repository(context.Background(), "octocat/hello")
	if err != nil {
		t.Fatalf("Repository() error = %v", err)
	}
	if repo.FullName != "octocat/hello" {
		t.Errorf("FullName = %q, want octocat/hello", repo.FullName)
	}
	if repo.DefaultBranch != "main" {
		t.Errorf("DefaultBranch = %q, want main", repo.DefaultBranch)
	}
	if repo.Stars != 100 {
		t.Errorf("Stars = %d, want 100", repo.Stars)
	}
}

func TestScanner_Repository_NotFound(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetResponse("/repos/ghost/gone", testutil.MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message": "Not Found"}`,
	})

	scanner := NewScanner(newTestClient(t, mock), DefaultScanConfig())

	_, err := scanner.Repository(context.Background(), "ghost/gone")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	// A 404 on a repository lookup cannot distinguish missing from private.
	if github.KindOf(err) != github.KindPrivateRepository {
		t.Errorf("kind = %q, want private_repository", github.KindOf(err))
	}
}

func TestScanner_ListForks_Pagination(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	// Two full pages, then a short one. The mock dispatches on path, so
	// the handler reads the page query parameter itself.
	mock.SetHandler("/repos/octocat/hello/forks", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		count := 100
		if page == 3 {
			count = 5
		}

		entries := make([]string, 0, count)
		for i := 0; i < count; i++ {
			owner := fmt.Sprintf("user%d-%d", page, i)
			entries = append(entries, forkJSON(owner, 0, "2024-01-01T00:00:00Z", "2025-01-01T00:00:00Z"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "[%s]", strings.Join(entries, ","))
	})

	cfg := DefaultScanConfig()
	cfg.MaxForks = 0 // uncapped
	scanner := NewScanner(newTestClient(t, mock), cfg)

	forks, err := scanner.ListForks(context.Background(), "octocat/hello")
	if err != nil {
		t.Fatalf("ListForks() error = %v", err)
	}
	if len(forks) != 205 {
		t.Errorf("len(forks) = %d, want 205", len(forks))
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("requests = %d, want 3 pages", mock.GetRequestCount())
	}
}

func TestScanner_ListForks_MaxForksCap(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	mock.SetHandler("/repos/octocat/hello/forks", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		entries := make([]string, 0, 100)
		for i := 0; i < 100; i++ {
			owner := fmt.Sprintf("user%d-%d", page, i)
			entries = append(entries, forkJSON(owner, 0, "2024-01-01T00:00:00Z", "2025-01-01T00:00:00Z"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "[%s]", strings.Join(entries, ","))
	})

	cfg := DefaultScanConfig()
	cfg.MaxForks = 150
	scanner := NewScanner(newTestClient(t, mock), cfg)

	forks, err := scanner.ListForks(context.Background(), "octocat/hello")
	if err != nil {
		t.Fatalf("ListForks() error = %v", err)
	}
	if len(forks) != 150 {
		t.Errorf("len(forks) = %d, want 150", len(forks))
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("requests = %d, want 2 (no page beyond the cap)", mock.GetRequestCount())
	}
}

func TestScanner_Compare(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetResponse("/repos/octocat/hello/compare/main...alice:main", testutil.NewJSONResponse(`{
		"ahead_by": 2,
		"behind_by": 7,
		"commits": [
			{"sha": "abc123", "commit": {"message": "Add retry budget", "author": {"name": "Alice", "date": "2025-05-01T10:00:00Z"}}},
			{"sha": "def456", "commit": {"message": "Fix nil deref on empty response", "author": {"name": "Alice", "date": "2025-05-02T10:00:00Z"}}}
		]
	}`))

	scanner := NewScanner(newTestClient(t, mock), DefaultScanConfig())

	upstream := Repository{FullName: "octocat/hello", DefaultBranch: "main"}
	fork := Repository{FullName: "alice/hello", Owner: Owner{Login: "alice"}, DefaultBranch: "main"}

	cmp, err := scanner.Compare(context.Background(), upstream, fork)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if cmp.AheadBy != 2 || cmp.BehindBy != 7 {
		t.Errorf("ahead/behind = %d/%d, want 2/7", cmp.AheadBy, cmp.BehindBy)
	}
	if len(cmp.Commits) != 2 {
		t.Fatalf("len(commits) = %d, want 2", len(cmp.Commits))
	}
	if cmp.Commits[0].Category != CategoryFeature {
		t.Errorf("commit 0 category = %q, want feature", cmp.Commits[0].Category)
	}
	if cmp.Commits[1].Category != CategoryBugfix {
		t.Errorf("commit 1 category = %q, want bugfix", cmp.Commits[1].Category)
	}
	if cmp.Commits[0].Author != "Alice" {
		t.Errorf("author = %q, want Alice", cmp.Commits[0].Author)
	}
}

func TestScanner_Scan(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	mock.SetResponse("/repos/octocat/hello", testutil.NewJSONResponse(upstreamJSON))
	mock.SetResponse("/repos/octocat/hello/forks", testutil.NewJSONResponse("["+strings.Join([]string{
		// Diverged fork with unique commits.
		forkJSON("alice", 12, "2024-06-01T00:00:00Z", "2025-06-01T00:00:00Z"),
		// Fork whose compare endpoint 404s (deleted or gone private).
		forkJSON("bob", 3, "2024-06-01T00:00:00Z", "2025-03-01T00:00:00Z"),
		// Stale fork, never pushed since forking. Filtered before compare.
		forkJSON("carol", 0, "2024-06-01T00:00:00Z", "2024-06-01T00:00:00Z"),
	}, ",")+"]"))

	mock.SetResponse("/repos/octocat/hello/compare/main...alice:main", testutil.NewJSONResponse(`{
		"ahead_by": 3,
		"behind_by": 0,
		"commits": [
			{"sha": "a1", "commit": {"message": "Add proxy support", "author": {"name": "Alice", "date": "2025-05-01T10:00:00Z"}}},
			{"sha": "a2", "commit": {"message": "Fix header casing", "author": {"name": "Alice", "date": "2025-05-02T10:00:00Z"}}},
			{"sha": "a3", "commit": {"message": "Update readme", "author": {"name": "Alice", "date": "2025-05-03T10:00:00Z"}}}
		]
	}`))
	mock.SetResponse("/repos/octocat/hello/compare/main...bob:main", testutil.MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message": "Not Found"}`,
	})

	cfg := DefaultScanConfig()
	cfg.Concurrency = 2
	scanner := NewScanner(newTestClient(t, mock), cfg)

	result, err := scanner.Scan(context.Background(), "octocat/hello")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if result.Total != 3 {
		t.Errorf("Total = %d, want 3", result.Total)
	}
	if result.Compared != 1 {
		t.Errorf("Compared = %d, want 1", result.Compared)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if len(result.Forks) != 2 {
		t.Fatalf("len(Forks) = %d, want 2 (stale fork filtered)", len(result.Forks))
	}

	// Ranked: the compared fork ahead of the skipped one.
	first := result.Forks[0]
	if first.Repository.FullName != "alice/hello" {
		t.Errorf("top fork = %q, want alice/hello", first.Repository.FullName)
	}
	if first.AheadBy != 3 {
		t.Errorf("AheadBy = %d, want 3", first.AheadBy)
	}
	if features := first.Features(); features[CategoryFeature] != 1 || features[CategoryBugfix] != 1 || features[CategoryDocs] != 1 {
		t.Errorf("Features() = %v, want one of each", features)
	}

	second := result.Forks[1]
	if !second.Skipped {
		t.Error("inaccessible fork should be a skipped entry")
	}
	if second.SkipReason == "" {
		t.Error("skipped fork should carry a reason")
	}
}

func TestScanner_Scan_IncludeStale(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	mock.SetResponse("/repos/octocat/hello", testutil.NewJSONResponse(upstreamJSON))
	mock.SetResponse("/repos/octocat/hello/forks", testutil.NewJSONResponse(
		"["+forkJSON("carol", 0, "2024-06-01T00:00:00Z", "2024-06-01T00:00:00Z")+"]"))
	mock.SetResponse("/repos/octocat/hello/compare/main...carol:main", testutil.NewJSONResponse(
		`{"ahead_by": 0, "behind_by": 42, "commits": []}`))

	cfg := DefaultScanConfig()
	cfg.IncludeStale = true
	scanner := NewScanner(newTestClient(t, mock), cfg)

	result, err := scanner.Scan(context.Background(), "octocat/hello")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if result.Compared != 1 {
		t.Errorf("Compared = %d, want 1 (stale fork included)", result.Compared)
	}
}

func TestScanner_Scan_AuthFailureAborts(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetResponse("/repos/octocat/hello", testutil.NewAuthFailureResponse())

	scanner := NewScanner(newTestClient(t, mock), DefaultScanConfig())

	_, err := scanner.Scan(context.Background(), "octocat/hello")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if github.KindOf(err) != github.KindAuthentication {
		t.Errorf("kind = %q, want authentication", github.KindOf(err))
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (no retry on auth failure)", mock.GetRequestCount())
	}
}

func TestScanner_Scan_AuthFailureDuringCompare(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	mock.SetResponse("/repos/octocat/hello", testutil.NewJSONResponse(upstreamJSON))
	mock.SetResponse("/repos/octocat/hello/forks", testutil.NewJSONResponse("["+strings.Join([]string{
		forkJSON("alice", 12, "2024-06-01T00:00:00Z", "2025-06-01T00:00:00Z"),
		forkJSON("bob", 3, "2024-06-01T00:00:00Z", "2025-03-01T00:00:00Z"),
	}, ",")+"]"))
	// Token revoked mid-scan: the first compare call comes back 401.
	mock.SetResponse("/repos/octocat/hello/compare/main...alice:main", testutil.NewAuthFailureResponse())

	cfg := DefaultScanConfig()
	cfg.Concurrency = 1
	scanner := NewScanner(newTestClient(t, mock), cfg)

	result, err := scanner.Scan(context.Background(), "octocat/hello")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if github.KindOf(err) != github.KindAuthentication {
		t.Errorf("kind = %q, want authentication", github.KindOf(err))
	}
	// Upstream, fork listing, and one compare. The remaining fork drains
	// without spending an API call.
	if mock.GetRequestCount() != 3 {
		t.Errorf("requests = %d, want 3", mock.GetRequestCount())
	}
	if result == nil {
		t.Fatal("expected partial results alongside the error")
	}
	drained := 0
	for _, fork := range result.Forks {
		if fork.SkipReason == "scan aborted" {
			drained++
		}
	}
	if drained != 1 {
		t.Errorf("drained forks = %d, want 1", drained)
	}
}

func TestScanner_Scan_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetResponse("/repos/octocat/hello", testutil.NewJSONResponse(upstreamJSON))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewScanner(newTestClient(t, mock), DefaultScanConfig())

	_, err := scanner.Scan(ctx, "octocat/hello")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
