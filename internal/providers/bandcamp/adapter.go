// Package bandcamp scrapes track search results from bandcamp.com.
package bandcamp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"trackmeta/searchservice/internal/domain"
	"trackmeta/searchservice/internal/providers/common"
)

const defaultEndpoint = "https://bandcamp.com"

var (
	thumbSizePattern = regexp.MustCompile(`_\d+\.jpg$`)
	releasedPattern  = regexp.MustCompile(`(?i)^released\s+(.+)$`)
)

// Selectors probed when li.searchresult matches nothing, to tell a markup
// change apart from a genuinely empty result set.
var altSelectors = []string{
	"li[class*=result]",
	"div.result-info",
	"div.heading",
	`a[href*="bandcamp.com/track/"]`,
	".item-list li",
}

// Page markers whose presence (or absence) explains why a fetch produced no
// structured results.
var pageMarkers = []string{
	"searchresult",
	"itemurl",
	"bandcamp.com/track/",
	"captcha",
	"cloudflare",
	"enable javascript",
}

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Logger    *slog.Logger
}

type Adapter struct {
	client    *http.Client
	endpoint  string
	userAgent string
	logger    *slog.Logger
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
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:    client,
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		userAgent: strings.TrimSpace(cfg.UserAgent),
		logger:    logger,
	}
}

func (a *Adapter) Name() domain.Source {
	return domain.SourceBandcamp
}

func (a *Adapter) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    domain.SourceBandcamp,
		Label:   "Bandcamp",
		Kind:    "scrape",
		Enabled: true,
	}
}

func (a *Adapter) SearchURL(text string) string {
	return fmt.Sprintf("%s/search?q=%s&item_type=t", a.endpoint, url.QueryEscape(text))
}

// browserHeaders mimics a top-level browser navigation. Bandcamp serves 403s
// to requests with sparse fetch metadata.
func browserHeaders(origin string) map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9",
		"Referer":                   origin + "/",
		"Origin":                    origin,
		"DNT":                       "1",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
	}
}

func (a *Adapter) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	searchURL := a.SearchURL(request.Text())
	page, err := common.FetchHTML(ctx, a.client, domain.SourceBandcamp, searchURL, a.userAgent, browserHeaders(defaultEndpoint))
	if err != nil {
		return nil, err
	}
	return a.ParsePage(searchURL, page, request)
}

// ParsePage extracts li.searchresult entries. On an empty match it logs
// alternative selector counts and page markers so a markup change or bot wall
// is visible in the search log without re-fetching.
func (a *Adapter) ParsePage(_ string, page string, request domain.SearchRequest) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 50
	}

	items := doc.Find("li[class*=searchresult]")
	if items.Length() == 0 {
		a.logDiagnostics(doc, page)
	}

	candidates := make([]domain.Candidate, 0, 16)
	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		heading := item.Find(".heading").First()
		title := strings.TrimSpace(heading.Text())
		if title == "" {
			return true
		}

		itemURL, _ := item.Find(".itemurl a").First().Attr("href")
		if itemURL == "" {
			itemURL, _ = heading.Find("a").First().Attr("href")
		}
		if itemURL == "" {
			return true
		}

		artist := strings.Join(strings.Fields(item.Find(".subhead").First().Text()), " ")
		artist = strings.TrimSpace(strings.TrimPrefix(artist, "by "))

		img := item.Find(".art img").First()
		if img.Length() == 0 {
			img = item.Find("img").First()
		}

		candidates = append(candidates, domain.Candidate{
			Source:       domain.SourceBandcamp,
			Title:        title,
			Artist:       artist,
			URL:          itemURL,
			DirectURL:    true,
			ReleaseDate:  releasedDate(item.Find(".released").First().Text()),
			ThumbnailURL: thumbToFull(common.ImageSrc(img)),
		})
		return len(candidates) < limit
	})

	return candidates, nil
}

func (a *Adapter) logDiagnostics(doc *goquery.Document, page string) {
	counts := make([]string, 0, len(altSelectors))
	for _, selector := range altSelectors {
		counts = append(counts, fmt.Sprintf("%s:%d", selector, doc.Find(selector).Length()))
	}
	lower := strings.ToLower(page)
	markers := make([]string, 0, len(pageMarkers))
	for _, marker := range pageMarkers {
		flag := "N"
		if strings.Contains(lower, marker) {
			flag = "Y"
		}
		markers = append(markers, marker+"="+flag)
	}
	a.logger.Info("bandcamp parser matched nothing",
		slog.String("alt_selectors", strings.Join(counts, ", ")),
		slog.String("markers", strings.Join(markers, " ")),
		slog.Int("page_len", len(page)),
	)
}

// releasedDate normalizes the ".released" cell ("released May 12, 2017") to
// ISO form, keeping the raw text when the date doesn't parse.
func releasedDate(raw string) string {
	m := releasedPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ""
	}
	value := strings.TrimSpace(m[1])
	if parsed, err := time.Parse("January 2, 2006", value); err == nil {
		return parsed.Format("2006-01-02")
	}
	return value
}

// thumbToFull swaps the small-size art suffix (_7.jpg and friends) for the
// large _16 variant.
func thumbToFull(src string) string {
	if src == "" {
		return ""
	}
	return thumbSizePattern.ReplaceAllString(src, "_16.jpg")
}
