// Package musicbrainz queries the MusicBrainz recording search API and
// decorates hits with Cover Art Archive artwork when a front image exists.
package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"trackmeta/searchservice/internal/cache"
	"trackmeta/searchservice/internal/domain"
	"trackmeta/searchservice/internal/search"
)

const (
	defaultEndpoint     = "https://musicbrainz.org"
	defaultCoverArtBase = "https://coverartarchive.org"
	defaultUserAgent    = "trackmeta-search/1.0 (+https://github.com/trackmeta/searchservice)"
	searchLimit         = 10
)

type Config struct {
	Endpoint     string
	CoverArtBase string
	UserAgent    string
	Client       *http.Client
	// CoverArtCache remembers which release IDs have front images. Optional.
	CoverArtCache *cache.Cache
	// RequestsPerSecond relaxes the API throttle, for tests. Zero keeps the
	// 1 req/s limit MusicBrainz requires.
	RequestsPerSecond float64
}

type Adapter struct {
	rest          *resty.Client
	coverRest     *resty.Client
	endpoint      string
	coverArtBase  string
	limiter       *rate.Limiter
	coverArtCache *cache.Cache
	coverArtGroup singleflight.Group
}

func New(cfg Config) *Adapter {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	coverArtBase := strings.TrimSpace(cfg.CoverArtBase)
	if coverArtBase == "" {
		coverArtBase = defaultCoverArtBase
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	newRest := func(base string) *resty.Client {
		client := resty.New()
		if cfg.Client != nil {
			client = resty.NewWithClient(cfg.Client)
		}
		return client.SetBaseURL(base).SetHeader("User-Agent", userAgent)
	}

	return &Adapter{
		rest:         newRest(endpoint),
		coverRest:    newRest(coverArtBase),
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		coverArtBase: strings.TrimSuffix(coverArtBase, "/"),
		// MusicBrainz enforces one request per second per client.
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		coverArtCache: cfg.CoverArtCache,
	}
}

func (a *Adapter) Name() domain.Source {
	return domain.SourceMusicBrainz
}

func (a *Adapter) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    domain.SourceMusicBrainz,
		Label:   "MusicBrainz",
		Kind:    "api",
		Enabled: true,
	}
}

func (a *Adapter) SearchURL(text string) string {
	return a.endpoint + "/search?type=recording&query=" + strings.ReplaceAll(text, " ", "+")
}

// recordingsResponse mirrors the ws/2 JSON shape, reduced to the consumed
// fields.
type recordingsResponse struct {
	Recordings []struct {
		ID               string `json:"id"`
		Title            string `json:"title"`
		FirstReleaseDate string `json:"first-release-date"`
		ArtistCredit     []struct {
			Name string `json:"name"`
		} `json:"artist-credit"`
		Releases []struct {
			ID           string `json:"id"`
			Title        string `json:"title"`
			ArtistCredit []struct {
				Name string `json:"name"`
			} `json:"artist-credit"`
		} `json:"releases"`
	} `json:"recordings"`
}

func (a *Adapter) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	query := luceneQuery(request.Query)
	if query == "" {
		return nil, nil
	}

	var payload recordingsResponse
	err := search.RetryWithBackoff(ctx, search.DefaultRetryConfig(), func() error {
		if waitErr := a.limiter.Wait(ctx); waitErr != nil {
			return waitErr
		}
		resp, reqErr := a.rest.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"query": query,
				"fmt":   "json",
				"limit": fmt.Sprintf("%d", searchLimit),
			}).
			SetResult(&payload).
			Get("/ws/2/recording")
		if reqErr != nil {
			return reqErr
		}
		if resp.IsError() {
			return &domain.StatusError{Source: domain.SourceMusicBrainz, Code: resp.StatusCode()}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(payload.Recordings))
	for _, rec := range payload.Recordings {
		if rec.Title == "" || rec.ID == "" {
			continue
		}
		artist := ""
		if len(rec.ArtistCredit) > 0 {
			artist = rec.ArtistCredit[0].Name
		}
		candidate := domain.Candidate{
			Source:      domain.SourceMusicBrainz,
			Title:       rec.Title,
			Artist:      artist,
			URL:         "https://musicbrainz.org/recording/" + rec.ID,
			DirectURL:   true,
			ReleaseDate: rec.FirstReleaseDate,
		}
		if len(rec.Releases) > 0 {
			release := rec.Releases[0]
			candidate.Album = release.Title
			if len(release.ArtistCredit) > 0 {
				candidate.AlbumArtist = release.ArtistCredit[0].Name
			}
			if thumb := a.coverArtThumb(ctx, release.ID); thumb != "" {
				candidate.ThumbnailURL = thumb
			}
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// luceneQuery builds the fielded recording search expression. Quotes inside
// values are dropped rather than escaped; MusicBrainz treats them as syntax.
func luceneQuery(q domain.Query) string {
	var parts []string
	if q.Title != "" {
		parts = append(parts, fmt.Sprintf("recording:%q", stripQuotes(q.Title)))
	}
	if q.Artist != "" {
		parts = append(parts, fmt.Sprintf("artist:%q", stripQuotes(q.Artist)))
	}
	if q.Year != "" && isDigits(q.Year) {
		parts = append(parts, "date:"+q.Year)
	}
	return strings.Join(parts, " AND ")
}

// coverArtThumb returns the front-250 artwork URL when the Cover Art Archive
// has a front image for the release. The HEAD probe result is cached and
// deduplicated across concurrent searches; probe failures just mean no
// artwork.
func (a *Adapter) coverArtThumb(ctx context.Context, releaseID string) string {
	releaseID = strings.TrimSpace(releaseID)
	if releaseID == "" {
		return ""
	}

	if a.coverArtCache != nil {
		if value, ok := a.coverArtCache.Get(ctx, releaseID); ok {
			if string(value) == "y" {
				return a.thumbURL(releaseID)
			}
			return ""
		}
	}

	exists, _, _ := a.coverArtGroup.Do(releaseID, func() (interface{}, error) {
		resp, err := a.coverRest.R().SetContext(ctx).Head("/release/" + releaseID + "/front-250")
		ok := err == nil && resp.StatusCode() < 400 &&
			strings.Contains(strings.ToLower(resp.Header().Get("Content-Type")), "image")
		if a.coverArtCache != nil {
			flag := []byte("n")
			if ok {
				flag = []byte("y")
			}
			a.coverArtCache.Set(ctx, releaseID, flag)
		}
		return ok, nil
	})
	if exists == true {
		return a.thumbURL(releaseID)
	}
	return ""
}

func (a *Adapter) thumbURL(releaseID string) string {
	return a.coverArtBase + "/release/" + releaseID + "/front-250"
}

func stripQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, "")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
