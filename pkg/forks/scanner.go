package forks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Romamo/forkscout-sub000/pkg/github"
)

// perPage is the page size for fork listing.
const perPage = 100

// ScanConfig holds scanner configuration.
type ScanConfig struct {
	// MaxForks caps how many forks are compared. 0 means no cap.
	MaxForks int

	// Concurrency is the number of parallel comparison workers.
	Concurrency int

	// CompareTimeout bounds one fork comparison.
	CompareTimeout time.Duration

	// IncludeStale also compares forks with no pushes after creation.
	IncludeStale bool
}

// DefaultScanConfig returns safe defaults.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxForks:       200,
		Concurrency:    5,
		CompareTimeout: 30 * time.Second,
	}
}

// Scanner discovers and compares forks through the resilient client.
type Scanner struct {
	client *github.Client
	config ScanConfig
	logger zerolog.Logger
}

// NewScanner creates a scanner.
func NewScanner(client *github.Client, cfg ScanConfig) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.CompareTimeout <= 0 {
		cfg.CompareTimeout = 30 * time.Second
	}
	return &Scanner{
		client: client,
		config: cfg,
		logger: log.With().Str("component", "scanner").Logger(),
	}
}

// Repository fetches one repository by owner/name.
func (s *Scanner) Repository(ctx context.Context, fullName string) (*Repository, error) {
	raw, err := s.client.Get(ctx, "/repos/"+fullName, github.AccessRepository)
	if err != nil {
		return nil, github.HandleRepositoryAccessError(err, fullName)
	}

	var repo Repository
	if err := json.Unmarshal(raw, &repo); err != nil {
		return nil, fmt.Errorf("decode repository %s: %w", fullName, err)
	}
	return &repo, nil
}

// ListForks pages through the fork listing of a repository, newest
// pushes first, up to MaxForks.
func (s *Scanner) ListForks(ctx context.Context, fullName string) ([]Repository, error) {
	var forks []Repository

	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/forks?sort=newest&per_page=%d&page=%d", fullName, perPage, page)
		raw, err := s.client.Get(ctx, path, github.AccessRepository)
		if err != nil {
			return nil, github.HandleRepositoryAccessError(err, fullName)
		}

		var batch []Repository
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("decode forks page %d of %s: %w", page, fullName, err)
		}

		forks = append(forks, batch...)
		s.logger.Debug().
			Str("repository", fullName).
			Int("page", page).
			Int("forks", len(forks)).
			Msg("Fork page fetched")

		if len(batch) < perPage {
			break
		}
		if s.config.MaxForks > 0 && len(forks) >= s.config.MaxForks {
			forks = forks[:s.config.MaxForks]
			break
		}
	}

	return forks, nil
}

// comparePayload is the subset of the GitHub compare response we decode.
type comparePayload struct {
	AheadBy  int `json:"ahead_by"`
	BehindBy int `json:"behind_by"`
	Commits  []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string    `json:"name"`
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	} `json:"commits"`
}

// Compare compares a fork head against the upstream default branch and
// categorizes the commits the fork is ahead by.
func (s *Scanner) Compare(ctx context.Context, upstream Repository, fork Repository) (*Comparison, error) {
	base := upstream.DefaultBranch
	head := fork.Owner.Login + ":" + fork.DefaultBranch

	path := fmt.Sprintf("/repos/%s/compare/%s...%s",
		upstream.FullName, url.PathEscape(base), url.PathEscape(head))

	raw, err := s.client.Get(ctx, path, github.AccessCommits)
	if err != nil {
		return nil, github.HandleCommitAccessError(err, fork.FullName)
	}

	var payload comparePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode comparison for %s: %w", fork.FullName, err)
	}

	cmp := &Comparison{
		AheadBy:  payload.AheadBy,
		BehindBy: payload.BehindBy,
		Commits:  make([]Commit, 0, len(payload.Commits)),
	}
	for _, c := range payload.Commits {
		cmp.Commits = append(cmp.Commits, Commit{
			SHA:      c.SHA,
			Message:  c.Commit.Message,
			Author:   c.Commit.Author.Name,
			Date:     c.Commit.Author.Date,
			Category: Categorize(c.Commit.Message),
		})
	}
	return cmp, nil
}

// Scan runs a full fork scan: fetch the upstream, list its forks, and
// compare each one through a bounded worker pool. Per-fork failures are
// absorbed as skipped entries; only authentication failures and
// cancellation abort the scan.
func (s *Scanner) Scan(ctx context.Context, fullName string) (*ScanResult, error) {
	start := time.Now()

	upstream, err := s.Repository(ctx, fullName)
	if err != nil {
		return nil, err
	}

	candidates, err := s.ListForks(ctx, fullName)
	if err != nil {
		return nil, err
	}

	total := len(candidates)
	if !s.config.IncludeStale {
		active := candidates[:0]
		for _, fork := range candidates {
			if fork.HasNewCommits() {
				active = append(active, fork)
			}
		}
		candidates = active
	}

	s.logger.Info().
		Str("repository", fullName).
		Int("total_forks", total).
		Int("to_compare", len(candidates)).
		Msg("Starting fork comparison")

	queue := make(chan Repository)
	results := make(chan Fork, len(candidates))

	// Tripped when a worker sees a fatal error; remaining forks drain as
	// skipped entries without spending more API calls.
	var abort scanAbort

	var wg sync.WaitGroup
	for i := 0; i < s.config.Concurrency; i++ {
		wg.Add(1)
		go s.worker(ctx, *upstream, queue, results, &wg, &abort, i)
	}

	go func() {
		defer close(queue)
		for _, fork := range candidates {
			select {
			case queue <- fork:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	result := &ScanResult{
		Upstream:  *upstream,
		Total:     total,
		StartedAt: start,
	}
	for fork := range results {
		if fork.Skipped {
			result.Skipped++
		} else {
			result.Compared++
		}
		result.Forks = append(result.Forks, fork)

		done := result.Compared + result.Skipped
		if done%25 == 0 {
			s.logger.Info().
				Int("done", done).
				Int("total", len(candidates)).
				Msg("Scan progress")
		}
	}

	if err := abort.reason(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	Rank(result.Forks)
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("repository", fullName).
		Int("compared", result.Compared).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("Scan complete")

	return result, nil
}

// scanAbort records the first fatal error a worker observes. Once
// tripped, the remaining queue drains as skipped entries.
type scanAbort struct {
	tripped atomic.Bool

	mu  sync.Mutex
	err error
}

func (a *scanAbort) trip(err error) {
	a.mu.Lock()
	if a.err == nil {
		a.err = err
	}
	a.mu.Unlock()
	a.tripped.Store(true)
}

func (a *scanAbort) reason() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// worker compares forks from the queue. Each comparison runs under the
// safe wrapper so a private or empty fork becomes a skipped entry
// instead of killing the scan.
func (s *Scanner) worker(ctx context.Context, upstream Repository, queue <-chan Repository, results chan<- Fork, wg *sync.WaitGroup, abort *scanAbort, workerID int) {
	defer wg.Done()

	for fork := range queue {
		select {
		case <-ctx.Done():
			s.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		skipped := Fork{Repository: fork, Skipped: true}
		if abort.tripped.Load() {
			skipped.SkipReason = "scan aborted"
			results <- skipped
			continue
		}
		cmp, err := github.Safe(ctx, fork.FullName, "compare-fork", (*Comparison)(nil), s.config.CompareTimeout,
			func(ctx context.Context) (*Comparison, error) {
				return s.Compare(ctx, upstream, fork)
			})
		if err != nil {
			// Safe re-raises only rate limits (already waited out by the
			// retry layer), authentication failures, and cancellation.
			// Nothing useful is left to do with this fork.
			skipped.SkipReason = github.UserFriendlyMessage(err)
			s.logger.Warn().
				Str("fork", fork.FullName).
				Err(err).
				Msg("Fork comparison failed")
			results <- skipped
			if !github.ShouldContinueProcessing(err) {
				abort.trip(err)
			}
			continue
		}
		if cmp == nil {
			skipped.SkipReason = "not accessible"
			results <- skipped
			continue
		}

		results <- Fork{
			Repository: fork,
			AheadBy:    cmp.AheadBy,
			BehindBy:   cmp.BehindBy,
			Commits:    cmp.Commits,
		}
	}
}

// Rank orders forks by commits ahead, then stars, then push recency.
func Rank(forks []Fork) {
	sort.SliceStable(forks, func(i, j int) bool {
		if forks[i].AheadBy != forks[j].AheadBy {
			return forks[i].AheadBy > forks[j].AheadBy
		}
		if forks[i].Repository.Stars != forks[j].Repository.Stars {
			return forks[i].Repository.Stars > forks[j].Repository.Stars
		}
		return forks[i].Repository.PushedAt.After(forks[j].Repository.PushedAt)
	})
}
