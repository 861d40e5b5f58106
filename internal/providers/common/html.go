package common

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ImageSrc pulls a usable image URL from an <img> selection. Lazy-loading
// markup hides the real URL behind data-src/data-original or srcset, and
// inline data: URIs are placeholders, never the artwork.
func ImageSrc(sel *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-original"} {
		if value, ok := sel.Attr(attr); ok {
			value = strings.TrimSpace(value)
			if value != "" && !strings.HasPrefix(value, "data:") {
				return value
			}
		}
	}
	if srcset, ok := sel.Attr("srcset"); ok {
		first := strings.TrimSpace(strings.Split(srcset, ",")[0])
		if first != "" {
			return strings.Fields(first)[0]
		}
	}
	return ""
}

// MetaContent returns the content attribute of the first matching
// <meta property="..."> or <meta name="..."> element.
func MetaContent(doc *goquery.Document, key string) string {
	var content string
	doc.Find("meta").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		prop, _ := sel.Attr("property")
		name, _ := sel.Attr("name")
		if prop != key && name != key {
			return true
		}
		content, _ = sel.Attr("content")
		content = strings.TrimSpace(content)
		return content == ""
	})
	return content
}

// AbsoluteURL prefixes site-relative hrefs with the catalog's origin.
func AbsoluteURL(origin, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return strings.TrimSuffix(origin, "/") + href
}
