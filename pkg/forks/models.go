// Package forks discovers forks of a GitHub repository, compares their
// commit history against the upstream, and ranks the results.
package forks

import (
	"time"
)

// Owner is the account a repository belongs to.
type Owner struct {
	Login string `json:"login"`
}

// Repository is the subset of the GitHub repository payload the scanner
// consumes.
type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Owner         Owner     `json:"owner"`
	Private       bool      `json:"private"`
	Fork          bool      `json:"fork"`
	HTMLURL       string    `json:"html_url"`
	Description   string    `json:"description"`
	DefaultBranch string    `json:"default_branch"`
	Stars         int       `json:"stargazers_count"`
	ForksCount    int       `json:"forks_count"`
	OpenIssues    int       `json:"open_issues_count"`
	Archived      bool      `json:"archived"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PushedAt      time.Time `json:"pushed_at"`
}

// HasNewCommits is the cheap pre-filter for fork discovery: a fork whose
// last push predates (or equals) its creation never diverged from the
// parent, so a compare call would be wasted quota.
func (r Repository) HasNewCommits() bool {
	if r.PushedAt.IsZero() || r.CreatedAt.IsZero() {
		return true
	}
	return r.PushedAt.After(r.CreatedAt)
}

// Commit is one commit from a comparison, flattened from the nested
// GitHub payload.
type Commit struct {
	SHA      string
	Message  string
	Author   string
	Date     time.Time
	Category Category
}

// Comparison is the result of comparing a fork head against upstream.
type Comparison struct {
	AheadBy  int
	BehindBy int
	Commits  []Commit
}

// Fork pairs a fork repository with its comparison against upstream.
// Skipped forks carry a reason and zero comparison data.
type Fork struct {
	Repository Repository
	AheadBy    int
	BehindBy   int
	Commits    []Commit
	Skipped    bool
	SkipReason string
}

// Features summarizes the commit categories of a fork's unique commits.
func (f Fork) Features() map[Category]int {
	features := make(map[Category]int)
	for _, c := range f.Commits {
		features[c.Category]++
	}
	return features
}

// ScanResult is the outcome of one full fork scan. Partial by design:
// inaccessible forks appear as skipped entries rather than failing the
// whole scan.
type ScanResult struct {
	Upstream  Repository
	Forks     []Fork
	Total     int
	Compared  int
	Skipped   int
	StartedAt time.Time
	Duration  time.Duration
}
