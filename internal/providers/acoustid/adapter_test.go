package acoustid

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"trackmeta/searchservice/internal/domain"
)

const lookupJSON = `{
  "status": "ok",
  "results": [
    {
      "score": 0.987,
      "recordings": [
        {
          "id": "rec-1",
          "title": "Glue",
          "artists": [{"name": "Bicep"}],
          "releases": [
            {"title": "Bicep", "artists": [{"name": "Bicep"}], "date": {"year": 2017, "month": 9}}
          ]
        },
        {"id": "", "title": "no id"}
      ]
    },
    {
      "score": 0.41,
      "recordings": [{"id": "rec-2", "title": "Glue (Live)"}]
    }
  ]
}`

func fixedFingerprint(_ context.Context, _ string) (string, int, error) {
	return "AQADtEmUaEkSRZEG", 269, nil
}

func TestSearchFingerprintLookup(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/lookup" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(lookupJSON))
	}))
	defer server.Close()

	a := New(Config{Endpoint: server.URL, APIKey: "key1", Client: server.Client(), Fingerprint: fixedFingerprint})
	request := domain.SearchRequest{Query: domain.Query{FilePath: "/music/bicep-glue.mp3"}}

	got, err := a.Search(context.Background(), request)
	if err != nil {
		t.Fatal(err)
	}

	if gotForm.Get("client") != "key1" || gotForm.Get("meta") != "recordings releases" {
		t.Errorf("form = %v", gotForm)
	}
	if gotForm.Get("fingerprint") != "AQADtEmUaEkSRZEG" || gotForm.Get("duration") != "269" {
		t.Errorf("fingerprint form = %v", gotForm)
	}

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 (id-less recording skipped)", len(got))
	}

	first := got[0]
	if first.Title != "Glue" || first.Artist != "Bicep" {
		t.Errorf("candidate = %+v", first)
	}
	if first.URL != "https://musicbrainz.org/recording/rec-1" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Score != 98.7 || first.MatchConfidence != 0.987 {
		t.Errorf("score = %v confidence = %v", first.Score, first.MatchConfidence)
	}
	if first.Album != "Bicep" || first.AlbumArtist != "Bicep" || first.ReleaseDate != "2017" {
		t.Errorf("release fields = %q/%q/%q", first.Album, first.AlbumArtist, first.ReleaseDate)
	}

	if got[1].Score != 41.0 || got[1].Album != "" {
		t.Errorf("second candidate = %+v", got[1])
	}
}

func TestSearchWithoutKey(t *testing.T) {
	a := New(Config{Fingerprint: fixedFingerprint})
	_, err := a.Search(context.Background(), domain.SearchRequest{Query: domain.Query{FilePath: "/x.mp3"}})
	if !errors.Is(err, ErrNoKey) {
		t.Fatalf("want ErrNoKey, got %v", err)
	}
	if a.Info().Enabled {
		t.Error("key-less adapter should report disabled")
	}
}

func TestAppliesRequiresFilePath(t *testing.T) {
	a := New(Config{APIKey: "k", Fingerprint: fixedFingerprint})
	if a.Applies(domain.Query{Title: "glue"}) {
		t.Error("applies without file path")
	}
	if !a.Applies(domain.Query{FilePath: "/music/x.flac"}) {
		t.Error("does not apply with file path")
	}
}

func TestSearchFingerprintFailure(t *testing.T) {
	a := New(Config{APIKey: "k", Fingerprint: func(context.Context, string) (string, int, error) {
		return "", 0, errors.New("decode failed")
	}})
	_, err := a.Search(context.Background(), domain.SearchRequest{Query: domain.Query{FilePath: "/x.mp3"}})
	if err == nil || !strings.Contains(err.Error(), "fingerprint") {
		t.Fatalf("want wrapped fingerprint error, got %v", err)
	}
}

func TestSearchStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	a := New(Config{Endpoint: server.URL, APIKey: "k", Client: server.Client(), Fingerprint: fixedFingerprint})
	_, err := a.Search(context.Background(), domain.SearchRequest{Query: domain.Query{FilePath: "/x.mp3"}})
	var statusErr *domain.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway {
		t.Fatalf("want 502 StatusError, got %v", err)
	}
}
