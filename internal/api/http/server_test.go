package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"trackmeta/searchservice/internal/domain"
	"trackmeta/searchservice/internal/search"
	"trackmeta/searchservice/internal/tags"
)

type fakeSearchService struct {
	response  domain.SearchResponse
	err       error
	events    []domain.SearchEvent
	lastQuery domain.Query
	sources   []string
}

func (f *fakeSearchService) Search(_ context.Context, q domain.Query, sources []string) (domain.SearchResponse, error) {
	f.lastQuery = q
	f.sources = sources
	return f.response, f.err
}

func (f *fakeSearchService) SearchStream(_ context.Context, q domain.Query, sources []string) <-chan domain.SearchEvent {
	f.lastQuery = q
	f.sources = sources
	ch := make(chan domain.SearchEvent, len(f.events))
	for _, event := range f.events {
		ch <- event
	}
	close(ch)
	return ch
}

func (f *fakeSearchService) Sources() []domain.SourceInfo {
	return []domain.SourceInfo{
		{Name: domain.SourceBeatport, Label: "Beatport", Kind: "scrape", Enabled: true},
		{Name: domain.SourceDiscogs, Label: "Discogs", Kind: "api", Enabled: false},
	}
}

type fakeTagStore struct {
	snapshot domain.TagSnapshot
	readErr  error
	writeErr error
	written  *domain.TagUpdate
}

func (f *fakeTagStore) Read(_ context.Context, path string) (domain.TagSnapshot, error) {
	if f.readErr != nil {
		return domain.TagSnapshot{}, f.readErr
	}
	snapshot := f.snapshot
	snapshot.Path = path
	return snapshot, nil
}

func (f *fakeTagStore) Write(update domain.TagUpdate) error {
	f.written = &update
	return f.writeErr
}

func newTestServer(svc *fakeSearchService, options ...ServerOption) http.Handler {
	return NewServer(svc, options...).Handler()
}

func TestHealth(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestServer(&fakeSearchService{}).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestServer(&fakeSearchService{}).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
	}
}

func TestSearchRejectsOversizedQuery(t *testing.T) {
	recorder := httptest.NewRecorder()
	long := strings.Repeat("a", maxQueryLength+1)
	req := httptest.NewRequest(http.MethodGet, "/search?q="+long, nil)
	newTestServer(&fakeSearchService{}).ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestSearchPassesNormalizedQueryAndSources(t *testing.T) {
	svc := &fakeSearchService{
		response: domain.SearchResponse{
			Query:           "bicep glue",
			ResultsBySource: map[domain.Source][]domain.Candidate{},
		},
	}
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search?q=Bicep+-+Glue&sources=Beatport,beatport,juno", nil)
	newTestServer(svc).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
	}
	if svc.lastQuery.SearchText == "" {
		t.Error("query was not normalized before the service call")
	}
	if len(svc.sources) != 2 || svc.sources[0] != "beatport" || svc.sources[1] != "juno" {
		t.Errorf("sources = %v, want lowercase dedup", svc.sources)
	}
}

func TestSearchErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid query", search.ErrInvalidQuery, http.StatusBadRequest},
		{"unknown source", search.ErrUnknownSource, http.StatusBadRequest},
		{"no sources", search.ErrNoSources, http.StatusServiceUnavailable},
		{"other", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/search?q=test", nil)
			newTestServer(&fakeSearchService{err: tc.err}).ServeHTTP(recorder, req)
			if recorder.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", recorder.Code, tc.wantStatus)
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
				t.Fatalf("body not json: %v", err)
			}
			if body.Error.Code == "" {
				t.Error("error code missing")
			}
		})
	}
}

func TestSources(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestServer(&fakeSearchService{}).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/sources", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var body struct {
		Items []domain.SourceInfo `json:"items"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 2 || body.Items[0].Name != domain.SourceBeatport {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestSearchStreamFraming(t *testing.T) {
	svc := &fakeSearchService{
		events: []domain.SearchEvent{
			{Kind: domain.EventLog, Message: "Beatport: 3 results\nsecond line"},
			{Kind: domain.EventResult, Result: &domain.SearchResponse{
				Query: "bicep glue",
				ResultsBySource: map[domain.Source][]domain.Candidate{
					domain.SourceBeatport: {{Source: domain.SourceBeatport, Title: "Glue", Artist: "Bicep"}},
				},
			}},
		},
	}
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search/stream?q=bicep+glue", nil)
	newTestServer(svc).ServeHTTP(recorder, req)

	if got := recorder.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("content type = %q", got)
	}
	body := recorder.Body.String()

	// Multi-line log messages become one event with multiple data lines.
	if !strings.Contains(body, "event: log\ndata: Beatport: 3 results\ndata: second line\n\n") {
		t.Errorf("log framing wrong:\n%s", body)
	}
	if !strings.Contains(body, "event: result\ndata: {") {
		t.Errorf("result event missing:\n%s", body)
	}
	if !strings.HasSuffix(body, "event: done\ndata: \n\n") {
		t.Errorf("stream not terminated with done:\n%s", body)
	}

	// The result payload stays valid JSON.
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: {") {
			var response domain.SearchResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &response); err != nil {
				t.Fatalf("result payload not json: %v", err)
			}
			if response.ResultsBySource[domain.SourceBeatport][0].Title != "Glue" {
				t.Errorf("result = %+v", response)
			}
		}
	}
}

func TestSearchStreamTruncatesLogsNotResults(t *testing.T) {
	longMessage := strings.Repeat("x", maxSSELogLength+100)
	longURL := "https://example.com/" + strings.Repeat("y", maxResultFieldLen+100)
	svc := &fakeSearchService{
		events: []domain.SearchEvent{
			{Kind: domain.EventLog, Message: longMessage},
			{Kind: domain.EventResult, Result: &domain.SearchResponse{
				ResultsBySource: map[domain.Source][]domain.Candidate{
					domain.SourceJuno: {{Source: domain.SourceJuno, Title: "T", URL: longURL}},
				},
			}},
		},
	}
	recorder := httptest.NewRecorder()
	newTestServer(svc).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/stream?q=test", nil))
	body := recorder.Body.String()

	if strings.Contains(body, longMessage) {
		t.Error("oversized log message was not truncated")
	}
	if !strings.Contains(body, strings.Repeat("x", maxSSELogLength)+"…") {
		t.Error("truncated log missing ellipsis")
	}

	var response domain.SearchResponse
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: {") {
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &response); err != nil {
				t.Fatalf("result payload corrupted by truncation: %v", err)
			}
		}
	}
	got := response.ResultsBySource[domain.SourceJuno][0].URL
	if !strings.HasSuffix(got, "…") || len(got) > maxResultFieldLen+len("…") {
		t.Errorf("url field not capped: len=%d", len(got))
	}
}

func TestSearchStreamTruncationKeepsValidUTF8(t *testing.T) {
	// One leading ASCII byte misaligns the two-byte runes against the caps,
	// so a byte-offset cut would land inside a rune.
	longMessage := "a" + strings.Repeat("é", maxSSELogLength)
	longTitle := "a" + strings.Repeat("é", maxResultFieldLen)
	svc := &fakeSearchService{
		events: []domain.SearchEvent{
			{Kind: domain.EventLog, Message: longMessage},
			{Kind: domain.EventResult, Result: &domain.SearchResponse{
				ResultsBySource: map[domain.Source][]domain.Candidate{
					domain.SourceBandcamp: {{Source: domain.SourceBandcamp, Title: longTitle}},
				},
			}},
		},
	}
	recorder := httptest.NewRecorder()
	newTestServer(svc).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/stream?q=test", nil))
	body := recorder.Body.String()

	if !utf8.ValidString(body) {
		t.Fatal("stream contains broken utf-8")
	}
	var response domain.SearchResponse
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: {") {
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &response); err != nil {
				t.Fatal(err)
			}
		}
	}
	title := response.ResultsBySource[domain.SourceBandcamp][0].Title
	if !utf8.ValidString(title) || strings.ContainsRune(title, utf8.RuneError) {
		t.Error("capped title carries a replacement rune")
	}
	if !strings.HasSuffix(title, "…") {
		t.Errorf("capped title missing ellipsis")
	}
}

func TestSearchStreamErrorEvent(t *testing.T) {
	svc := &fakeSearchService{
		events: []domain.SearchEvent{
			{Kind: domain.EventError, Message: "all sources failed"},
		},
	}
	recorder := httptest.NewRecorder()
	newTestServer(svc).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/stream?q=test", nil))
	body := recorder.Body.String()
	if !strings.Contains(body, "event: error\ndata: all sources failed\n\n") {
		t.Errorf("error event missing:\n%s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("done event missing after error:\n%s", body)
	}
}

func TestTagsNotConfigured(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestServer(&fakeSearchService{}).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/tags?path=/music/a.mp3", nil))
	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestTagsReadAndPathChecks(t *testing.T) {
	store := &fakeTagStore{snapshot: domain.TagSnapshot{Title: "Glue", Artist: "Bicep"}}
	handler := newTestServer(&fakeSearchService{}, WithTags(store, store), WithMusicDir("/music"))

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"ok", "/tags?path=/music/bicep/glue.mp3", http.StatusOK},
		{"missing path", "/tags", http.StatusBadRequest},
		{"relative path", "/tags?path=glue.mp3", http.StatusBadRequest},
		{"traversal", "/tags?path=/music/../etc/passwd", http.StatusBadRequest},
		{"outside music dir", "/tags?path=/etc/passwd", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if recorder.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", recorder.Code, tc.wantStatus, recorder.Body)
			}
		})
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/tags?path=/music/a.mp3", nil))
	var snapshot domain.TagSnapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.Title != "Glue" {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestTagsReadMissingFile(t *testing.T) {
	store := &fakeTagStore{readErr: os.ErrNotExist}
	recorder := httptest.NewRecorder()
	newTestServer(&fakeSearchService{}, WithTags(store, store)).
		ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/tags?path=/music/gone.mp3", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestTagsWrite(t *testing.T) {
	store := &fakeTagStore{}
	handler := newTestServer(&fakeSearchService{}, WithTags(store, store))

	payload := `{"path":"/music/glue.mp3","title":"Glue","artist":"Bicep","label":"Ninja Tune"}`
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tags", strings.NewReader(payload))
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
	}
	if store.written == nil || store.written.Label != "Ninja Tune" {
		t.Errorf("written = %+v", store.written)
	}
}

func TestTagsWriteUnsupportedFormat(t *testing.T) {
	store := &fakeTagStore{writeErr: tags.ErrUnsupportedFormat}
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tags", strings.NewReader(`{"path":"/music/a.flac","title":"x"}`))
	newTestServer(&fakeSearchService{}, WithTags(store, store)).ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestTagsWriteRejectsUnknownFields(t *testing.T) {
	store := &fakeTagStore{}
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tags", strings.NewReader(`{"path":"/music/a.mp3","bogus":1}`))
	newTestServer(&fakeSearchService{}, WithTags(store, store)).ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestImageProxyValidation(t *testing.T) {
	handler := newTestServer(&fakeSearchService{})
	tests := []struct {
		name   string
		target string
	}{
		{"missing url", "/search/image"},
		{"bad scheme", "/search/image?url=file:///etc/passwd"},
		{"blocked host", "/search/image?url=http://flaresolverr:8191/x.jpg"},
		{"loopback ip", "/search/image?url=http://127.0.0.1/x.jpg"},
		{"local suffix", "/search/image?url=http://nas.local/x.jpg"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if recorder.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", recorder.Code)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestServer(&fakeSearchService{}).ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/search", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	if got := normalizeRoute("/search/stream"); got != "/search/stream" {
		t.Errorf("got %q", got)
	}
	if got := normalizeRoute("/favicon.ico"); got != "/other" {
		t.Errorf("got %q", got)
	}
}
