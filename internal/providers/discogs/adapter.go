// Package discogs queries the Discogs database search API. Requests require a
// personal access token; without one the adapter reports itself disabled.
package discogs

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"trackmeta/searchservice/internal/domain"
)

const defaultEndpoint = "https://api.discogs.com"

// ErrNoToken is returned when a search runs without a configured token.
var ErrNoToken = errors.New("discogs token not configured")

type Config struct {
	Endpoint  string
	Token     string
	UserAgent string
	Client    *http.Client
}

type Adapter struct {
	rest  *resty.Client
	token string
}

func New(cfg Config) *Adapter {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client := resty.New()
	if cfg.Client != nil {
		client = resty.NewWithClient(cfg.Client)
	}
	client.SetBaseURL(endpoint)
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		client.SetHeader("User-Agent", ua)
	}
	token := strings.TrimSpace(cfg.Token)
	if token != "" {
		client.SetHeader("Authorization", "Discogs token="+token)
	}
	return &Adapter{rest: client, token: token}
}

func (a *Adapter) Name() domain.Source {
	return domain.SourceDiscogs
}

func (a *Adapter) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    domain.SourceDiscogs,
		Label:   "Discogs",
		Kind:    "api",
		Enabled: a.token != "",
	}
}

func (a *Adapter) SearchURL(text string) string {
	return "https://www.discogs.com/search/?q=" + url.QueryEscape(text) + "&type=release"
}

type searchResponse struct {
	Results []struct {
		ID         int64    `json:"id"`
		Title      string   `json:"title"`
		Year       string   `json:"year"`
		Thumb      string   `json:"thumb"`
		CoverImage string   `json:"cover_image"`
		CatNo      string   `json:"catno"`
		Label      []string `json:"label"`
	} `json:"results"`
}

func (a *Adapter) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	if a.token == "" {
		return nil, ErrNoToken
	}

	params := map[string]string{
		"q":        request.Text(),
		"type":     "release",
		"per_page": "10",
	}
	if artist := request.Query.Artist; artist != "" {
		params["artist"] = artist
	}

	var payload searchResponse
	resp, err := a.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&payload).
		Get("/database/search")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &domain.StatusError{Source: domain.SourceDiscogs, Code: resp.StatusCode()}
	}

	candidates := make([]domain.Candidate, 0, len(payload.Results))
	for _, result := range payload.Results {
		if result.Title == "" || result.ID == 0 {
			continue
		}
		// Discogs search titles come as "Artist - Release".
		artist, title := splitResultTitle(result.Title)

		thumb := result.Thumb
		if thumb == "" {
			thumb = result.CoverImage
		}
		label := ""
		if len(result.Label) > 0 {
			label = result.Label[0]
		}

		candidates = append(candidates, domain.Candidate{
			Source:       domain.SourceDiscogs,
			Title:        title,
			Artist:       artist,
			URL:          releaseURL(result.ID),
			DirectURL:    true,
			Label:        label,
			CatalogNo:    result.CatNo,
			ReleaseDate:  result.Year,
			ThumbnailURL: thumb,
		})
	}
	return candidates, nil
}

func splitResultTitle(raw string) (artist, title string) {
	if idx := strings.Index(raw, " - "); idx >= 0 {
		return strings.TrimSpace(raw[:idx]), strings.TrimSpace(raw[idx+3:])
	}
	return "", strings.TrimSpace(raw)
}

func releaseURL(id int64) string {
	return "https://www.discogs.com/release/" + strconv.FormatInt(id, 10)
}
