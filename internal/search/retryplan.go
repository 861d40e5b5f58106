package search

import "trackmeta/searchservice/internal/domain"

// Default thresholds for the remix-stripped retry pass.
const (
	DefaultRetryScoreThreshold = 78.0
	DefaultRetrySufficientHits = 3
)

// RetryPlanner decides whether a source's first pass warrants a second search
// with the remix descriptor stripped from the query.
type RetryPlanner struct {
	// ScoreThreshold is the first-pass best score at or above which the
	// results are considered good enough to skip the retry.
	ScoreThreshold float64
	// SufficientHits is the first-pass structured hit count at or above
	// which the results are considered populated enough to skip the retry.
	SufficientHits int
}

// NewRetryPlanner returns a planner with the default thresholds.
func NewRetryPlanner() RetryPlanner {
	return RetryPlanner{
		ScoreThreshold: DefaultRetryScoreThreshold,
		SufficientHits: DefaultRetrySufficientHits,
	}
}

// ShouldRetry reports whether the remix-stripped retry search should run
// after a first pass that produced firstCount structured candidates with
// firstBest as the highest score. Retry only when stripping the remix is a
// genuinely different query AND the first pass is both low quality and
// insufficiently populated.
func (p RetryPlanner) ShouldRetry(q domain.Query, firstBest float64, firstCount int) bool {
	if !q.RetryMeaningful || q.RetryText == "" || q.RetryText == q.SearchText {
		return false
	}
	if firstCount >= p.SufficientHits {
		return false
	}
	return firstBest < p.ScoreThreshold
}
