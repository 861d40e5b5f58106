package search

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"trackmeta/searchservice/internal/domain"
)

// Scoring weights and thresholds. These mirror the values the matching model
// was calibrated with; they are deliberately plain constants so they can be
// tuned in one place.
const (
	titlePenaltyWeight  = 60.0
	artistPenaltyWeight = 40.0
	datePenaltyWeight   = 10.0
	yearPenaltyWeight   = 5.0
	remixMissPenalty    = 8.0
	remixPartialPenalty = 4.0
	remixKeywordBoost   = 3.0
	remixesExtraBoost   = 2.0
	bandcampBoost       = 3.0
	dateProximityMax    = 10.0

	compilationPenalty      = 15.0
	compilationLargeExtra   = 5.0
	compilationMediumExtra  = 2.0
	oversizedTrackCountOnly = 5.0

	maxDateDistanceDays = 10 * 365.25
)

var compilationArtistPattern = regexp.MustCompile(`(?i)\bvarious(\s+artists?)?\b|\bv\.?/a\.?\b`)

var levenshteinMetric = metrics.NewLevenshtein()

// similarity is a case- and diacritic-insensitive normalized similarity ratio
// in [0,1]. Empty input on either side scores 0.
func similarity(a, b string) float64 {
	a = foldForComparison(a)
	b = foldForComparison(b)
	if a == "" || b == "" {
		return 0
	}
	return strutil.Similarity(a, b, levenshteinMetric)
}

// titleSimilarity compares the query title against the candidate title both
// as-is and with bracketed segments removed, keeping the better match. The
// query title already had its brackets stripped during normalization, so a
// candidate's "(Jitwam Remix)" suffix must not count as a title mismatch;
// remix intent is judged separately by the remix penalty and boost.
func titleSimilarity(queryTitle, candidateTitle string) float64 {
	best := similarity(queryTitle, candidateTitle)
	stripped := strings.Trim(whitespacePattern.ReplaceAllString(bracketPattern.ReplaceAllString(candidateTitle, " "), " "), " -,")
	if stripped != "" && stripped != candidateTitle {
		if s := similarity(queryTitle, stripped); s > best {
			best = s
		}
	}
	return best
}

// ScoreCandidate scores one candidate against the query on a 0-100 scale.
// Penalty based: start at 100, subtract for title/artist/date/remix
// mismatches, apply the source's compilation penalty and (for Beatport) the
// date-proximity bonus. Fallback candidates are never scored.
func ScoreCandidate(q domain.Query, c domain.Candidate) float64 {
	if q.Title == "" && q.Artist == "" {
		return 0
	}

	score := 100.0

	if q.Title != "" {
		score -= (1.0 - titleSimilarity(q.Title, c.Title)) * titlePenaltyWeight
	}
	if q.Artist != "" {
		score -= (1.0 - similarity(normalizeHandle(q.Artist), normalizeHandle(c.Artist))) * artistPenaltyWeight
	}

	score -= datePenalty(q, c)
	score -= remixPenalty(q.RemixTokens, c.Title)
	score += remixBoost(c.Title)
	score += compilationAdjustment(c.Artist, c.ReleaseType, c.TrackCount)

	decimals := 1
	if c.Source == domain.SourceBeatport {
		decimals = 2
		bonus, perfect := dateProximity(q.Date, c.ReleaseDate)
		score += bonus
		// A true 100.0 requires a same-day release-date match.
		if !perfect {
			score = math.Min(score, 99.9)
		}
	}
	if c.Source == domain.SourceBandcamp {
		score += bandcampBoost
	}

	return roundTo(clampScore(score), decimals)
}

// datePenalty subtracts up to 10 points by day distance when the query
// carries a date (or a bare year, expanded to its June 15 midpoint), or up to
// 5 points by year distance when only years are available on both sides.
func datePenalty(q domain.Query, c domain.Candidate) float64 {
	effectiveDate := expandYearOnlyDate(q.Date)
	if effectiveDate != "" {
		candidateDate := expandYearOnlyDate(c.ReleaseDate)
		if candidateDate == "" {
			return 0
		}
		queryDay, err := parseISODate(effectiveDate)
		if err != nil {
			return 0
		}
		candidateDay, err := parseISODate(candidateDate)
		if err != nil {
			return 0
		}
		diffDays := math.Abs(queryDay.Sub(candidateDay).Hours() / 24)
		return math.Min(1.0, diffDays/maxDateDistanceDays) * datePenaltyWeight
	}

	queryYear, okQ := parseYear(q.Year)
	candidateYear, okC := parseYear(candidateYearOf(c))
	if okQ && okC {
		diff := math.Abs(float64(queryYear - candidateYear))
		return math.Min(1.0, diff/10.0) * yearPenaltyWeight
	}
	return 0
}

func candidateYearOf(c domain.Candidate) string {
	if len(c.ReleaseDate) >= 4 {
		year := c.ReleaseDate[:4]
		if yearOnlyPattern.MatchString(year) {
			return year
		}
	}
	return ""
}

func remixPenalty(remixTokens []string, candidateTitle string) float64 {
	if len(remixTokens) == 0 || candidateTitle == "" {
		return 0
	}
	switch remixMatchLevel(remixTokens, strings.ToLower(candidateTitle)) {
	case 0:
		return remixMissPenalty
	case 1:
		return remixPartialPenalty
	default:
		return 0
	}
}

// remixBoost rewards candidate titles that carry remix-family terms;
// "remixes" gets an extra bump so compilation pages rank competitively in
// remix-aware searches.
func remixBoost(candidateTitle string) float64 {
	if candidateTitle == "" {
		return 0
	}
	boost := 0.0
	hasRemixes := remixesPattern.MatchString(candidateTitle)
	if hasRemixes || remixKeywordPattern.MatchString(candidateTitle) {
		boost += remixKeywordBoost
	}
	if hasRemixes {
		boost += remixesExtraBoost
	}
	return boost
}

// compilationAdjustment returns a non-positive adjustment when the candidate
// looks like a compilation: a "Various Artists"/"V/A" artist or an explicit
// compilation release type costs 15 points, with extra 5/2 depending on track
// count; a very large track count alone costs 5.
func compilationAdjustment(artist, releaseType string, trackCount int) float64 {
	trimmed := strings.TrimSpace(artist)
	isCompilation := compilationArtistPattern.MatchString(trimmed) ||
		strings.EqualFold(trimmed, "va") ||
		strings.Contains(strings.ToLower(releaseType), "compilation")
	if isCompilation {
		penalty := -compilationPenalty
		if trackCount > 20 {
			penalty -= compilationLargeExtra
		} else if trackCount > 10 {
			penalty -= compilationMediumExtra
		}
		return penalty
	}
	if trackCount > 30 {
		return -oversizedTrackCountOnly
	}
	return 0
}

// dateProximity maps the day distance between the query date and a release
// date onto [0,10], linear to zero at ten years. A same-day match reports
// perfect=true, which is what unlocks a 100.0 Beatport score.
func dateProximity(queryDate, releaseDate string) (bonus float64, perfect bool) {
	if queryDate == "" || releaseDate == "" {
		return 0, false
	}
	queryDay, err := parseISODate(expandYearOnlyDate(queryDate))
	if err != nil {
		return 0, false
	}
	releaseDay, err := parseISODate(releaseDate)
	if err != nil {
		return 0, false
	}
	diffDays := math.Abs(queryDay.Sub(releaseDay).Hours() / 24)
	bonus = math.Max(0, dateProximityMax*(1.0-diffDays/maxDateDistanceDays))
	return bonus, diffDays == 0
}

// expandYearOnlyDate expands a bare "YYYY" to "YYYY-06-15" (the year's
// midpoint) so year-only inputs can take part in day-distance comparison.
func expandYearOnlyDate(s string) string {
	trimmed := strings.TrimSpace(s)
	if yearOnlyPattern.MatchString(trimmed) {
		return trimmed + "-06-15"
	}
	return trimmed
}

func parseISODate(s string) (time.Time, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}

func parseYear(s string) (int, bool) {
	trimmed := strings.TrimSpace(s)
	if !yearOnlyPattern.MatchString(trimmed) {
		return 0, false
	}
	year, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return year, true
}

func clampScore(score float64) float64 {
	return math.Min(100.0, math.Max(0.0, score))
}

func roundTo(value float64, decimals int) float64 {
	shift := math.Pow(10, float64(decimals))
	return math.Round(value*shift) / shift
}
