// Package beatport extracts track search results from beatport.com.
//
// Beatport is a Next.js app: the usable data lives in the embedded
// __NEXT_DATA__ JSON, not the rendered markup. Three extraction strategies
// run in order: the dehydrated react-query state, a raw scan for the
// "data":[...] track array, and finally the og:title meta tag.
package beatport

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"

	"trackmeta/searchservice/internal/domain"
	"trackmeta/searchservice/internal/providers/common"
	"trackmeta/searchservice/internal/search"
)

const (
	defaultEndpoint = "https://www.beatport.com"
	trackOrigin     = "https://www.beatport.com"

	// Raw-scan entries are untrusted enough to cap.
	maxRawScanTracks = 10
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

type Adapter struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

func New(cfg Config) *Adapter {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Adapter{
		client:    client,
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		userAgent: strings.TrimSpace(cfg.UserAgent),
	}
}

func (a *Adapter) Name() domain.Source {
	return domain.SourceBeatport
}

func (a *Adapter) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    domain.SourceBeatport,
		Label:   "Beatport",
		Kind:    "scrape",
		Enabled: true,
	}
}

func (a *Adapter) SearchURL(text string) string {
	return fmt.Sprintf("%s/search/tracks?q=%s", a.endpoint, url.QueryEscape(text))
}

func (a *Adapter) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	searchURL := a.SearchURL(request.Text())
	page, err := common.FetchHTML(ctx, a.client, domain.SourceBeatport, searchURL, a.userAgent, nil)
	if err != nil {
		return nil, err
	}
	return a.parsePage(searchURL, page, request)
}

func (a *Adapter) parsePage(searchURL, page string, request domain.SearchRequest) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	candidates := parseNextData(doc.Find("script#__NEXT_DATA__").First().Text())
	if len(candidates) == 0 {
		candidates = parseRawDataArray(page, searchURL)
	}
	if len(candidates) == 0 {
		if fallback, ok := ogTitleFallback(doc, searchURL, request.Query); ok {
			candidates = append(candidates, fallback)
		}
	}

	limit := request.Limit
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// parseNextData walks the dehydrated react-query cache for track lists.
func parseNextData(payload string) []domain.Candidate {
	if strings.TrimSpace(payload) == "" {
		return nil
	}
	var candidates []domain.Candidate

	queries := jsoniter.Get([]byte(payload), "props", "pageProps", "dehydratedState", "queries")
	for i := 0; i < queries.Size(); i++ {
		tracks := queries.Get(i, "state", "data", "tracks", "data")
		for j := 0; j < tracks.Size(); j++ {
			track := tracks.Get(j)
			title := track.Get("name").ToString()
			slug := track.Get("slug").ToString()
			if title == "" || slug == "" {
				continue
			}
			release := track.Get("release")

			releaseDate := release.Get("new_release_date").ToString()
			if releaseDate == "" {
				releaseDate = track.Get("new_release_date").ToString()
			}

			label := release.Get("label", "name").ToString()
			if label == "" {
				label = track.Get("label", "name").ToString()
			}

			thumb := imageURI(track.Get("images"))
			if thumb == "" {
				thumb = imageURI(release.Get("images"))
			}
			if thumb == "" {
				thumb = firstNonEmpty(
					track.Get("release_image_uri").ToString(),
					release.Get("release_image_uri").ToString(),
					track.Get("image_uri").ToString(),
				)
			}

			candidates = append(candidates, domain.Candidate{
				Source:       domain.SourceBeatport,
				Title:        title,
				Artist:       joinNames(track.Get("artists"), "name"),
				URL:          fmt.Sprintf("%s/track/%s/%s", trackOrigin, slug, track.Get("id").ToString()),
				DirectURL:    true,
				Label:        label,
				Genre:        joinNames(track.Get("genres"), "name"),
				BPM:          track.Get("bpm").ToString(),
				Key:          keyName(track.Get("key")),
				ReleaseDate:  releaseDate,
				ThumbnailURL: thumb,
				Remixers:     joinNames(track.Get("remixers"), "name"),
				ReleaseType:  release.Get("type").ToString(),
				TrackCount:   release.Get("track_count").ToInt(),
			})
		}
	}
	return candidates
}

// parseRawDataArray scans the page for a bracket-balanced "data":[...] array,
// the shape Beatport has shipped when the dehydrated cache layout shifted.
func parseRawDataArray(page, searchURL string) []domain.Candidate {
	raw, ok := common.ExtractJSONArray(page, `"data":[`)
	if !ok {
		return nil
	}
	arr := jsoniter.Get([]byte(raw))
	if arr.ValueType() != jsoniter.ArrayValue {
		return nil
	}

	var candidates []domain.Candidate
	for i := 0; i < arr.Size() && i < maxRawScanTracks; i++ {
		track := arr.Get(i)
		title := track.Get("track_name").ToString()
		if title == "" {
			continue
		}

		trackID := firstNonEmpty(track.Get("track_id").ToString(), track.Get("id").ToString())
		slug := track.Get("slug").ToString()
		trackURL := searchURL
		direct := false
		switch {
		case trackID != "" && slug != "":
			trackURL = fmt.Sprintf("%s/track/%s/%s", trackOrigin, slug, trackID)
			direct = true
		case trackID != "":
			trackURL = fmt.Sprintf("%s/track/-/%s", trackOrigin, trackID)
			direct = true
		}

		key := track.Get("key_name").ToString()
		if key == "" {
			key = keyName(track.Get("key"))
		}

		genre := joinNames(track.Get("genre"), "genre_name", "name")
		if genre == "" {
			genre = joinNames(track.Get("genres"), "genre_name", "name")
		}

		thumb := imageURI(track.Get("images"))
		if thumb == "" {
			thumb = imageURI(track.Get("release", "images"))
		}
		if thumb == "" {
			thumb = firstNonEmpty(
				track.Get("release_image_uri").ToString(),
				track.Get("release", "release_image_uri").ToString(),
				track.Get("image_uri").ToString(),
			)
		}

		candidates = append(candidates, domain.Candidate{
			Source:       domain.SourceBeatport,
			Title:        title,
			Artist:       joinNames(track.Get("artists"), "artist_name"),
			URL:          trackURL,
			DirectURL:    direct,
			Label:        firstNonEmpty(track.Get("label", "label_name").ToString(), track.Get("label", "name").ToString()),
			Genre:        genre,
			BPM:          track.Get("bpm").ToString(),
			Key:          key,
			ReleaseDate:  firstNonEmpty(track.Get("release_date").ToString(), track.Get("release", "release_date").ToString()),
			ThumbnailURL: thumb,
		})
	}
	return candidates
}

// ogTitleFallback turns the og:title meta tag into a scored fallback entry
// pointing at the search page. Without a release date the proximity rule
// already forbids a perfect score, so the cap stays just below it.
func ogTitleFallback(doc *goquery.Document, searchURL string, q domain.Query) (domain.Candidate, bool) {
	title := common.MetaContent(doc, "og:title")
	if title == "" {
		return domain.Candidate{}, false
	}
	c := domain.Candidate{
		Source:     domain.SourceBeatport,
		Title:      title,
		URL:        searchURL,
		IsFallback: true,
		Note:       "Parsed from og:title; click to search manually.",
	}
	c.Score = math.Min(99.0, search.ScoreCandidate(q, c))
	return c, true
}

// joinNames collects the first non-empty of the given name keys from each
// element of an array (or a single object) into a comma-joined string.
func joinNames(node jsoniter.Any, keys ...string) string {
	pick := func(el jsoniter.Any) string {
		for _, key := range keys {
			if name := el.Get(key).ToString(); name != "" {
				return name
			}
		}
		return ""
	}

	switch node.ValueType() {
	case jsoniter.ArrayValue:
		var names []string
		for i := 0; i < node.Size(); i++ {
			if name := pick(node.Get(i)); name != "" {
				names = append(names, name)
			}
		}
		return strings.Join(names, ", ")
	case jsoniter.ObjectValue:
		return pick(node)
	default:
		return ""
	}
}

func keyName(node jsoniter.Any) string {
	switch node.ValueType() {
	case jsoniter.ObjectValue:
		return firstNonEmpty(node.Get("name").ToString(), node.Get("camelot").ToString())
	case jsoniter.StringValue:
		return node.ToString()
	default:
		return ""
	}
}

func imageURI(node jsoniter.Any) string {
	if node.ValueType() != jsoniter.ObjectValue {
		return ""
	}
	return firstNonEmpty(
		node.Get("small", "uri").ToString(),
		node.Get("medium", "uri").ToString(),
		node.Get("uri").ToString(),
	)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
