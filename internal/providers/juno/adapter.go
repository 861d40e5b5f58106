// Package juno scrapes track search results from junodownload.com.
package juno

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

const defaultEndpoint = "https://www.junodownload.com"

var (
	thumbPattern       = regexp.MustCompile(`/150/([A-Za-z0-9-]+)\.jpg$`)
	bpmPattern         = regexp.MustCompile(`(?i)(\d{2,3})\s*BPM`)
	trackNumberPattern = regexp.MustCompile(`track_number\s*:\s*'(\d+)'`)
	addToCartPattern   = regexp.MustCompile(`addToCart\(\s*\d+\s*,\s*\d+\s*,\s*(\d+)\s*\)`)
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
	return domain.SourceJuno
}

func (a *Adapter) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    domain.SourceJuno,
		Label:   "Juno Download",
		Kind:    "scrape",
		Enabled: true,
	}
}

// FallbackWhenAllZero marks Juno batches that parse but score uniformly zero
// as suspect; the site periodically reshuffles listing markup and the old
// selectors then extract navigation text instead of tracks.
func (a *Adapter) FallbackWhenAllZero() bool {
	return true
}

func (a *Adapter) SearchURL(text string) string {
	return fmt.Sprintf("%s/search/?solrorder=relevancy&q%%5Btitle%%5D%%5B0%%5D=%s", a.endpoint, url.QueryEscape(text))
}

func (a *Adapter) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	searchURL := a.SearchURL(request.Text())
	page, err := common.FetchHTML(ctx, a.client, domain.SourceJuno, searchURL, a.userAgent, nil)
	if err != nil {
		return nil, err
	}
	return a.ParsePage(searchURL, page, request)
}

// ParsePage runs two extraction passes: the compact product widgets, then the
// listing items that carry label/genre/BPM/track-number metadata. Both run on
// every page since Juno serves either layout depending on result count.
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

	doc.Find(`div[class*="productlist_widget_container"]`).Each(func(_ int, container *goquery.Selection) {
		titleEl := container.Find(`div[class*="productlist_widget_product_title"]`).First()
		link := titleEl.Find("a[href]").First()
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		if title == "" {
			title = strings.TrimSpace(titleEl.Text())
		}
		if title == "" || href == "" {
			return
		}
		candidates = append(candidates, domain.Candidate{
			Source:       domain.SourceJuno,
			Title:        title,
			Artist:       strings.TrimSpace(container.Find(`div[class*="productlist_widget_product_artists"]`).First().Text()),
			URL:          common.AbsoluteURL(a.endpoint, href),
			DirectURL:    true,
			Label:        strings.TrimSpace(container.Find(`div[class*="productlist_widget_product_label"]`).First().Text()),
			ThumbnailURL: thumbToFull(common.ImageSrc(container.Find("img").First())),
		})
	})

	doc.Find(`div[class*="jd-listing-item"], div[class*="track_search_results"]`).Each(func(_ int, item *goquery.Selection) {
		titleLink := item.Find(`a[class*="juno-title"]`).First()
		link := titleLink
		if link.Length() == 0 {
			link = item.Find("a[href]").First()
		}
		href, _ := link.Attr("href")
		title := strings.TrimSpace(titleLink.Text())
		if title == "" || href == "" {
			return
		}

		artistWrap := item.Find(`[class*="juno-artist"]`).First()
		artist := strings.TrimSpace(artistWrap.Find("a").First().Text())
		if artist == "" {
			artist = strings.TrimSpace(artistWrap.Text())
		}

		label := strings.TrimSpace(item.Find(`a[class*="juno-label"], a[class*="label"]`).First().Text())
		label, genre := splitLabelGenre(label, item.Find(`[class*="lit-label-genre"], [class*="genre"]`).First())

		bpm := ""
		if m := bpmPattern.FindStringSubmatch(item.Find(`[class*="lit-date-length-tempo"], [class*="tempo"]`).First().Text()); m != nil {
			bpm = m[1]
		}

		candidates = append(candidates, domain.Candidate{
			Source:       domain.SourceJuno,
			Title:        title,
			Artist:       artist,
			URL:          common.AbsoluteURL(a.endpoint, href),
			DirectURL:    true,
			Label:        label,
			Genre:        genre,
			BPM:          bpm,
			TrackNumber:  trackNumber(titleLink, item),
			ThumbnailURL: thumbToFull(common.ImageSrc(item.Find("img").First())),
		})
	})

	if len(candidates) == 0 {
		doc.Find(`div[class*="product"], div[class*="juno-track"]`).Each(func(_ int, item *goquery.Selection) {
			link := item.Find(`a[href*="/products/"]`).First()
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			title := strings.TrimSpace(item.Find(`span[class*="title"]`).First().Text())
			if title == "" {
				return
			}
			candidates = append(candidates, domain.Candidate{
				Source:       domain.SourceJuno,
				Title:        title,
				Artist:       strings.TrimSpace(item.Find(`span[class*="artist"]`).First().Text()),
				URL:          common.AbsoluteURL(a.endpoint, href),
				DirectURL:    true,
				ThumbnailURL: thumbToFull(common.ImageSrc(item.Find("img").First())),
			})
		})
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// thumbToFull rewrites a 150px CDN thumbnail URL into its full-size cover URL.
func thumbToFull(src string) string {
	if src == "" {
		return ""
	}
	return thumbPattern.ReplaceAllString(src, "/full/$1-BIG.jpg")
}

// splitLabelGenre untangles the combined "Label | Genre" listing cell. When no
// separate label anchor matched, the first segment without a slash is treated
// as the label.
func splitLabelGenre(label string, metaEl *goquery.Selection) (string, string) {
	metaText := strings.TrimSpace(strings.Join(strings.Fields(metaEl.Text()), " "))
	if metaText == "" {
		return label, ""
	}
	if label != "" && strings.HasPrefix(metaText, label) {
		metaText = strings.Trim(strings.TrimPrefix(metaText, label), " -|/")
	}
	var parts []string
	for _, part := range strings.Split(metaText, "|") {
		if p := strings.TrimSpace(part); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return label, ""
	}
	if label == "" && !strings.Contains(parts[0], "/") {
		label = parts[0]
	}
	genre := parts[len(parts)-1]
	if genre == label {
		genre = ""
	}
	return label, genre
}

// trackNumber digs the track number out of the title link's query string, its
// onclick handler, or the add-to-cart button as a last resort.
func trackNumber(titleLink, item *goquery.Selection) string {
	if href, ok := titleLink.Attr("href"); ok {
		if parsed, err := url.Parse(href); err == nil {
			if tn := parsed.Query().Get("track_number"); tn != "" {
				return tn
			}
		}
	}
	if onclick, ok := titleLink.Attr("onclick"); ok {
		if m := trackNumberPattern.FindStringSubmatch(onclick); m != nil {
			return m[1]
		}
	}
	if onclick, ok := item.Find(`button[class*="btn-widget-atc"]`).First().Attr("onclick"); ok {
		if m := addToCartPattern.FindStringSubmatch(onclick); m != nil {
			return m[1]
		}
	}
	return ""
}
