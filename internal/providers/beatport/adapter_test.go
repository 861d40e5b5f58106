package beatport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trackmeta/searchservice/internal/domain"
)

func nextDataPage(inner string) string {
	return fmt.Sprintf(`<html><head></head><body>
<script id="__NEXT_DATA__" type="application/json">%s</script>
</body></html>`, inner)
}

const nextDataJSON = `{
  "props": {"pageProps": {"dehydratedState": {"queries": [
    {"state": {"data": {"tracks": {"data": [
      {
        "name": "Dumpalltheguns (Jitwam Remix)",
        "slug": "dumpalltheguns-jitwam-remix",
        "id": 17890123,
        "artists": [{"name": "Adi Oasis"}, {"name": "Jitwam"}],
        "bpm": 118,
        "key": {"name": "A Minor", "camelot": "8A"},
        "genres": [{"name": "Indie Dance"}],
        "remixers": [{"name": "Jitwam"}],
        "new_release_date": "2023-11-10",
        "release": {
          "new_release_date": "2023-11-10",
          "type": "Release",
          "track_count": 4,
          "label": {"name": "Unity Records"},
          "images": {"small": {"uri": "https://geo-media.beatport.com/image_size/95x95/a.jpg"}}
        }
      },
      {
        "name": "No Slug Track",
        "slug": "",
        "id": 1
      }
    ]}}}}
  ]}}}
}`

func TestParseNextData(t *testing.T) {
	a := New(Config{})
	request := domain.SearchRequest{Query: domain.Query{SearchText: "adi oasis dumpalltheguns jitwam"}}

	got, err := a.parsePage("https://www.beatport.com/search/tracks?q=x", nextDataPage(nextDataJSON), request)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1 (slug-less track skipped)", len(got))
	}

	c := got[0]
	if c.Title != "Dumpalltheguns (Jitwam Remix)" {
		t.Errorf("title = %q", c.Title)
	}
	if c.Artist != "Adi Oasis, Jitwam" {
		t.Errorf("artist = %q", c.Artist)
	}
	if c.URL != "https://www.beatport.com/track/dumpalltheguns-jitwam-remix/17890123" {
		t.Errorf("url = %q", c.URL)
	}
	if c.BPM != "118" || c.Key != "A Minor" || c.Genre != "Indie Dance" {
		t.Errorf("metadata = bpm %q key %q genre %q", c.BPM, c.Key, c.Genre)
	}
	if c.Label != "Unity Records" || c.Remixers != "Jitwam" {
		t.Errorf("label = %q remixers = %q", c.Label, c.Remixers)
	}
	if c.ReleaseDate != "2023-11-10" {
		t.Errorf("releaseDate = %q", c.ReleaseDate)
	}
	if c.ReleaseType != "Release" || c.TrackCount != 4 {
		t.Errorf("release hints = %q/%d", c.ReleaseType, c.TrackCount)
	}
	if c.ThumbnailURL != "https://geo-media.beatport.com/image_size/95x95/a.jpg" {
		t.Errorf("thumb = %q", c.ThumbnailURL)
	}
	if !c.DirectURL || c.IsFallback || c.Score != 0 {
		t.Errorf("structured candidate flags wrong: %+v", c)
	}
}

const rawArrayPage = `<html><body><script>
window.__routeData = {"tracks":{"data":[
  {"track_name":"Raw Track","artists":[{"artist_name":"Someone"}],
   "track_id":555,"slug":"raw-track","release_date":"2022-01-01",
   "bpm":124,"key_name":"F Major","genre":[{"genre_name":"Tech House"}],
   "label":{"label_name":"Hot Creations"}},
  {"track_name":"ID Only","id":777,"bpm":120},
  {"track_name":"No ID At All"}
],"count":3}};
</script></body></html>`

func TestParseRawDataArrayFallback(t *testing.T) {
	a := New(Config{})
	searchURL := "https://www.beatport.com/search/tracks?q=raw"

	got, err := a.parsePage(searchURL, rawArrayPage, domain.SearchRequest{Query: domain.Query{SearchText: "raw"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}

	first := got[0]
	if first.URL != "https://www.beatport.com/track/raw-track/555" || !first.DirectURL {
		t.Errorf("first url = %q direct=%v", first.URL, first.DirectURL)
	}
	if first.Key != "F Major" || first.Genre != "Tech House" || first.Label != "Hot Creations" {
		t.Errorf("metadata = key %q genre %q label %q", first.Key, first.Genre, first.Label)
	}

	if got[1].URL != "https://www.beatport.com/track/-/777" || !got[1].DirectURL {
		t.Errorf("id-only url = %q direct=%v", got[1].URL, got[1].DirectURL)
	}

	if got[2].URL != searchURL || got[2].DirectURL {
		t.Errorf("no-id entry should point at the search page: %+v", got[2])
	}
}

func TestOGTitleFinalFallback(t *testing.T) {
	page := `<html><head><meta property="og:title" content="Search results for glue"></head><body></body></html>`
	a := New(Config{})
	searchURL := "https://www.beatport.com/search/tracks?q=glue"

	got, err := a.parsePage(searchURL, page, domain.SearchRequest{Query: domain.Query{Title: "glue", SearchText: "glue"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	c := got[0]
	if !c.IsFallback || c.DirectURL {
		t.Errorf("og:title entry flags wrong: %+v", c)
	}
	if c.URL != searchURL {
		t.Errorf("url = %q", c.URL)
	}
	if c.Note != "Parsed from og:title; click to search manually." {
		t.Errorf("note = %q", c.Note)
	}
	if c.Score <= 0 || c.Score > 99.0 {
		t.Errorf("score = %v, want (0, 99]", c.Score)
	}
}

func TestParsePageNothingExtractable(t *testing.T) {
	a := New(Config{})
	got, err := a.parsePage("u", "<html><body>empty shell</body></html>", domain.SearchRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d candidates, want 0 (aggregator synthesizes the fallback)", len(got))
	}
}

func TestSearchURL(t *testing.T) {
	a := New(Config{})
	got := a.SearchURL("adi oasis dumpalltheguns")
	want := "https://www.beatport.com/search/tracks?q=adi+oasis+dumpalltheguns"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSearchFetchesEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/search/tracks") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(nextDataPage(nextDataJSON)))
	}))
	defer server.Close()

	a := New(Config{Endpoint: server.URL, Client: server.Client()})
	got, err := a.Search(context.Background(), domain.SearchRequest{Query: domain.Query{SearchText: "dumpalltheguns"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates", len(got))
	}
}
