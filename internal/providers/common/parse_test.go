package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"trackmeta/searchservice/internal/domain"
)

func TestCleanHTMLText(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"<b>Deep</b> &amp; <i>Dark</i>", "Deep & Dark"},
		{"  plain\n\ttext  ", "plain text"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanHTMLText(tc.raw); got != tc.want {
			t.Errorf("CleanHTMLText(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestCompactSnippet(t *testing.T) {
	if got := CompactSnippet("", 100); got != "empty response body" {
		t.Errorf("empty body snippet = %q", got)
	}
	got := CompactSnippet(strings.Repeat("x", 300), 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet = %q, want 20 chars ending in ellipsis", got)
	}
}

func TestExtractJSONArray(t *testing.T) {
	payload := `window.state = {"tracks":{"data":[{"name":"a]b","ids":[1,2]},{"name":"c"}],"count":2}};`
	got, ok := ExtractJSONArray(payload, `"data":[`)
	if !ok {
		t.Fatal("marker not found")
	}
	want := `[{"name":"a]b","ids":[1,2]},{"name":"c"}]`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractJSONArrayMissing(t *testing.T) {
	if _, ok := ExtractJSONArray(`{"other":1}`, `"data":[`); ok {
		t.Error("found array where none exists")
	}
	if _, ok := ExtractJSONArray(`{"data":[1,2`, `"data":[`); ok {
		t.Error("accepted unterminated array")
	}
}

func TestFetchHTMLStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := FetchHTML(context.Background(), server.Client(), domain.SourceBeatport, server.URL, "", nil)
	var statusErr *domain.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusForbidden || !statusErr.Blocking() {
		t.Errorf("unexpected status error: %+v", statusErr)
	}
}

func TestFetchHTMLSendsHeaders(t *testing.T) {
	var gotUA, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	body, err := FetchHTML(context.Background(), server.Client(), domain.SourceBandcamp, server.URL, "custom-agent/1.0", map[string]string{"Accept-Language": "en-US"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "ok") {
		t.Errorf("body = %q", body)
	}
	if gotUA != "custom-agent/1.0" || gotLang != "en-US" {
		t.Errorf("headers not forwarded: UA=%q lang=%q", gotUA, gotLang)
	}
}

func TestImageSrc(t *testing.T) {
	html := `<div>
		<img id="plain" src="https://a.example/x.jpg">
		<img id="lazy" src="data:image/gif;base64,AAAA" data-src="https://a.example/real.jpg">
		<img id="set" srcset="https://a.example/s1.jpg 1x, https://a.example/s2.jpg 2x">
	</div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	if got := ImageSrc(doc.Find("#plain")); got != "https://a.example/x.jpg" {
		t.Errorf("plain src = %q", got)
	}
	if got := ImageSrc(doc.Find("#lazy")); got != "https://a.example/real.jpg" {
		t.Errorf("lazy src = %q", got)
	}
	if got := ImageSrc(doc.Find("#set")); got != "https://a.example/s1.jpg" {
		t.Errorf("srcset src = %q", got)
	}
}

func TestMetaContent(t *testing.T) {
	html := `<head><meta property="og:title" content="Track — Artist"><meta name="description" content="blurb"></head>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	if got := MetaContent(doc, "og:title"); got != "Track — Artist" {
		t.Errorf("og:title = %q", got)
	}
	if got := MetaContent(doc, "description"); got != "blurb" {
		t.Errorf("description = %q", got)
	}
	if got := MetaContent(doc, "missing"); got != "" {
		t.Errorf("missing = %q", got)
	}
}

func TestAbsoluteURL(t *testing.T) {
	origin := "https://www.junodownload.com"
	if got := AbsoluteURL(origin, "/products/x/1"); got != "https://www.junodownload.com/products/x/1" {
		t.Errorf("relative = %q", got)
	}
	if got := AbsoluteURL(origin, "https://other.example/y"); got != "https://other.example/y" {
		t.Errorf("absolute = %q", got)
	}
	if got := AbsoluteURL(origin, ""); got != "" {
		t.Errorf("empty = %q", got)
	}
}
