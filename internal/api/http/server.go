package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"trackmeta/searchservice/internal/domain"
	"trackmeta/searchservice/internal/search"
	"trackmeta/searchservice/internal/tags"
)

const (
	maxQueryLength = 500
	// SSE log lines are capped; result payloads are never cut mid-JSON,
	// instead their string fields are capped individually.
	maxSSELogLength   = 3000
	maxResultFieldLen = 500
)

type SearchService interface {
	Search(ctx context.Context, q domain.Query, sources []string) (domain.SearchResponse, error)
	SearchStream(ctx context.Context, q domain.Query, sources []string) <-chan domain.SearchEvent
	Sources() []domain.SourceInfo
}

type TagReader interface {
	Read(ctx context.Context, path string) (domain.TagSnapshot, error)
}

type TagWriter interface {
	Write(update domain.TagUpdate) error
}

type Server struct {
	search    SearchService
	tagReader TagReader
	tagWriter TagWriter
	musicDir  string
	logger    *slog.Logger
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithTags(reader TagReader, writer TagWriter) ServerOption {
	return func(s *Server) {
		s.tagReader = reader
		s.tagWriter = writer
	}
}

// WithMusicDir restricts tag operations to files under dir.
func WithMusicDir(dir string) ServerOption {
	return func(s *Server) {
		s.musicDir = strings.TrimSpace(dir)
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search: searchService,
		logger: slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search/sources", s.handleSources)
	mux.HandleFunc("/search/stream", s.handleSearchStream)
	mux.HandleFunc("/search/image", s.handleImageProxy)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/tags", s.handleTags)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "metadata-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// queryFromRequest builds the normalized query from request parameters.
// Explicit artist/title fields win over the free-form q for scoring; q (when
// present) remains the raw input for splitting.
func queryFromRequest(r *http.Request) (domain.Query, error) {
	params := r.URL.Query()
	raw := strings.TrimSpace(params.Get("q"))
	title := strings.TrimSpace(params.Get("title"))
	artist := strings.TrimSpace(params.Get("artist"))
	for _, value := range []string{raw, title, artist} {
		if len(value) > maxQueryLength {
			return domain.Query{}, fmt.Errorf("query too long (max %d characters)", maxQueryLength)
		}
	}

	q := search.NormalizeQuery(
		raw,
		title,
		artist,
		strings.TrimSpace(params.Get("year")),
		strings.TrimSpace(params.Get("date")),
		strings.TrimSpace(params.Get("path")),
	)
	if q.Empty() {
		return domain.Query{}, errors.New("provide q or artist/title")
	}
	return q, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sources := parseCSV(r.URL.Query().Get("sources"))

	response, err := s.search.Search(r.Context(), q, sources)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(q.SearchText, 80)),
			slog.Any("sources", sources),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, search.ErrInvalidQuery), errors.Is(err, search.ErrUnknownSource):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, search.ErrNoSources):
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		}
		return
	}

	failed := make([]string, 0, len(response.Sources))
	for _, status := range response.Sources {
		if !status.OK {
			failed = append(failed, string(status.Name))
		}
	}
	s.logger.Info("search completed",
		slog.String("query", truncate(q.SearchText, 80)),
		slog.Int("sources", len(response.Sources)),
		slog.Int64("elapsedMs", response.ElapsedMS),
		slog.Any("failedSources", failed),
	)

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sources := parseCSV(r.URL.Query().Get("sources"))

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for event := range s.search.SearchStream(r.Context(), q, sources) {
		select {
		case <-r.Context().Done():
			return // Client disconnected
		default:
		}
		switch event.Kind {
		case domain.EventLog:
			if writeSSEText(w, flusher, "log", event.Message) != nil {
				return
			}
		case domain.EventError:
			_ = writeSSEText(w, flusher, "error", event.Message)
			_ = writeSSEText(w, flusher, "done", "")
			return
		case domain.EventResult:
			if event.Result == nil {
				continue
			}
			if writeSSEJSON(w, flusher, "result", capResultFields(*event.Result)) != nil {
				return
			}
		}
	}
	_ = writeSSEText(w, flusher, "done", "")
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/sources" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.search.Sources(),
	})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/tags" {
		http.NotFound(w, r)
		return
	}
	if s.tagReader == nil || s.tagWriter == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "tag service is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		path := strings.TrimSpace(r.URL.Query().Get("path"))
		if err := s.checkTagPath(path); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		snapshot, err := s.tagReader.Read(r.Context(), path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				writeError(w, http.StatusNotFound, "not_found", "file not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to read tags")
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case http.MethodPost:
		var update domain.TagUpdate
		if err := decodeJSONBody(r, &update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := s.checkTagPath(update.Path); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := s.tagWriter.Write(update); err != nil {
			switch {
			case errors.Is(err, tags.ErrUnsupportedFormat):
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			case errors.Is(err, os.ErrNotExist):
				writeError(w, http.StatusNotFound, "not_found", "file not found")
			default:
				s.logger.Warn("tag write failed",
					slog.String("path", truncate(update.Path, 200)),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusInternalServerError, "internal_error", "failed to write tags")
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// checkTagPath confines tag operations to the configured music directory.
func (s *Server) checkTagPath(path string) error {
	if path == "" {
		return errors.New("path is required")
	}
	if !filepath.IsAbs(path) {
		return errors.New("path must be absolute")
	}
	cleaned := filepath.Clean(path)
	if cleaned != path && cleaned+string(filepath.Separator) != path {
		return errors.New("path must be canonical")
	}
	if s.musicDir != "" {
		root := filepath.Clean(s.musicDir)
		if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
			return errors.New("path is outside the music directory")
		}
	}
	return nil
}

// capResultFields caps candidate string fields so one oversized scraped value
// cannot bloat the stream. The response copy keeps the payload valid JSON.
func capResultFields(response domain.SearchResponse) domain.SearchResponse {
	capped := response
	capped.ResultsBySource = make(map[domain.Source][]domain.Candidate, len(response.ResultsBySource))
	for source, candidates := range response.ResultsBySource {
		out := make([]domain.Candidate, len(candidates))
		for i, c := range candidates {
			for _, field := range []*string{
				&c.Title, &c.Artist, &c.URL, &c.Label, &c.Genre, &c.BPM, &c.Key,
				&c.ReleaseDate, &c.TrackNumber, &c.ThumbnailURL, &c.Remixers,
				&c.Album, &c.AlbumArtist, &c.CatalogNo, &c.Note,
			} {
				*field = capString(*field, maxResultFieldLen)
			}
			out[i] = c
		}
		capped.ResultsBySource[source] = out
	}
	return capped
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.ToLower(strings.TrimSpace(part))
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeSSEText frames a plain-text event, splitting embedded newlines into
// multiple data: lines per the SSE spec.
func writeSSEText(w http.ResponseWriter, flusher http.Flusher, event, text string) error {
	text = capString(text, maxSSELogLength)
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err // Client disconnected
	}
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// capString shortens s to at most max bytes, backing off to a rune boundary
// so the cut never leaves a broken UTF-8 sequence behind.
func capString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "…"
}

func writeSSEJSON(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
