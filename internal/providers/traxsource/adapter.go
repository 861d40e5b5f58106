// Package traxsource scrapes track search results from traxsource.com.
package traxsource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"trackmeta/searchservice/internal/domain"
	"trackmeta/searchservice/internal/providers/common"
)

const defaultEndpoint = "https://www.traxsource.com"

// Trailing "(4:38)" style durations inside the version span.
var durationSuffixPattern = regexp.MustCompile(`\s*\(\d+:\d+\)\s*$`)

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
	return domain.SourceTraxsource
}

func (a *Adapter) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    domain.SourceTraxsource,
		Label:   "Traxsource",
		Kind:    "scrape",
		Enabled: true,
	}
}

func (a *Adapter) SearchURL(text string) string {
	return fmt.Sprintf("%s/search?term=%s&page=1&type=tracks", a.endpoint, url.QueryEscape(text))
}

func (a *Adapter) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	searchURL := a.SearchURL(request.Text())
	page, err := common.FetchHTML(ctx, a.client, domain.SourceTraxsource, searchURL, a.userAgent, nil)
	if err != nil {
		return nil, err
	}
	return a.ParsePage(searchURL, page, request)
}

// ParsePage extracts track rows from a search results page. It also serves
// rendered HTML when the plain fetch came back empty or blocked.
func (a *Adapter) ParsePage(_ string, page string, request domain.SearchRequest) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 50
	}

	candidates := make([]domain.Candidate, 0, 16)
	doc.Find("div.trk-row.play-trk").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		titleCell := row.Find("div.title").First()
		link := titleCell.Find("a[href]").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}

		versionSpan := titleCell.Find("span.version").First()
		versionRaw := strings.TrimSpace(versionSpan.Text())
		version := strings.TrimSpace(durationSuffixPattern.ReplaceAllString(versionRaw, ""))

		title := strings.TrimSpace(link.Text())
		if versionRaw != "" && strings.HasSuffix(title, versionRaw) {
			title = strings.TrimSpace(strings.TrimSuffix(title, versionRaw))
		}
		if version != "" {
			title = fmt.Sprintf("%s (%s)", title, version)
		}
		if title == "" {
			return true
		}

		var artists []string
		row.Find("div.artists a").Each(func(_ int, el *goquery.Selection) {
			if name := strings.TrimSpace(el.Text()); name != "" {
				artists = append(artists, name)
			}
		})

		genre := strings.TrimSpace(row.Find("div.genre a").First().Text())
		if idx := strings.Index(genre, " / "); idx >= 0 {
			genre = genre[:idx]
		}

		candidates = append(candidates, domain.Candidate{
			Source:       domain.SourceTraxsource,
			Title:        title,
			Artist:       strings.Join(artists, ", "),
			URL:          common.AbsoluteURL(a.endpoint, href),
			DirectURL:    true,
			Label:        strings.TrimSpace(row.Find("div.label a").First().Text()),
			Genre:        genre,
			ReleaseDate:  strings.TrimSpace(row.Find("div.r-date").First().Text()),
			ThumbnailURL: common.ImageSrc(row.Find("div.thumb img").First()),
		})
		return len(candidates) < limit
	})

	return candidates, nil
}
