package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"trackmeta/searchservice/internal/domain"
	"trackmeta/searchservice/internal/metrics"
)

// Search runs the aggregate search across the selected sources and returns
// the terminal payload. Progress events go to the service logger only.
func (s *Service) Search(ctx context.Context, q domain.Query, sourceNames []string) (domain.SearchResponse, error) {
	adapters, err := s.resolveAdapters(sourceNames)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if q.Empty() {
		return domain.SearchResponse{}, ErrInvalidQuery
	}
	return s.execute(ctx, q, adapters, func(domain.SearchEvent) {})
}

// SearchStream runs the same aggregate search and emits progress events. The
// channel carries zero or more log events followed by exactly one terminal
// event, either a result or an error, and is then closed.
func (s *Service) SearchStream(ctx context.Context, q domain.Query, sourceNames []string) <-chan domain.SearchEvent {
	ch := make(chan domain.SearchEvent, 16)
	go func() {
		defer close(ch)
		emit := func(ev domain.SearchEvent) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}

		if q.Empty() {
			emit(domain.SearchEvent{Kind: domain.EventError, Message: "Provide a query."})
			return
		}
		adapters, err := s.resolveAdapters(sourceNames)
		if err != nil {
			emit(domain.SearchEvent{Kind: domain.EventError, Message: err.Error()})
			return
		}

		response, err := s.execute(ctx, q, adapters, emit)
		if err != nil {
			emit(domain.SearchEvent{Kind: domain.EventError, Message: err.Error()})
			return
		}
		emit(domain.SearchEvent{Kind: domain.EventResult, Result: &response})
	}()
	return ch
}

// execute walks the sources sequentially. Any panic escaping a source run is
// converted into the single aggregate error; the shared render session is
// closed in either case.
func (s *Service) execute(ctx context.Context, q domain.Query, adapters []Adapter, emit func(domain.SearchEvent)) (response domain.SearchResponse, err error) {
	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout*time.Duration(len(adapters)))
		defer cancel()
	}

	startedAt := time.Now()
	session := &lazySession{renderer: s.renderer}
	defer session.close(context.WithoutCancel(ctx))

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("search pipeline panic", slog.Any("panic", r))
			err = fmt.Errorf("search failed: %v", r)
		}
	}()

	logf := func(format string, args ...any) {
		emit(domain.SearchEvent{Kind: domain.EventLog, Message: fmt.Sprintf(format, args...)})
	}
	logf("Query: %q → search text %q", q.Raw, q.SearchText)

	resultsBySource := make(map[domain.Source][]domain.Candidate, len(adapters))
	statuses := make([]domain.SourceStatus, 0, len(adapters))

	for _, adapter := range adapters {
		select {
		case <-runCtx.Done():
			return domain.SearchResponse{}, runCtx.Err()
		default:
		}

		if gated, ok := adapter.(Gated); ok && !gated.Applies(q) {
			logf("%s: skipped (not applicable to this query)", adapter.Name())
			continue
		}

		candidates, status := s.searchSource(runCtx, adapter, q, session, logf)
		resultsBySource[adapter.Name()] = candidates
		statuses = append(statuses, status)
	}

	response = domain.SearchResponse{
		Query:           q.Raw,
		ResultsBySource: resultsBySource,
		Sources:         statuses,
		ElapsedMS:       time.Since(startedAt).Milliseconds(),
	}

	failed := 0
	for _, st := range statuses {
		if !st.OK {
			failed++
		}
	}
	s.logger.Info("aggregate search completed",
		slog.String("query", q.SearchText),
		slog.Int("sources", len(statuses)),
		slog.Int("failed", failed),
		slog.Int64("elapsedMs", response.ElapsedMS),
	)
	return response, nil
}

// searchSource runs one source end to end: plain fetch, headless escalation,
// remix retry, scoring, merge and ranking. It never fails the aggregate run;
// a source that produced nothing usable degrades to its fallback candidate.
func (s *Service) searchSource(ctx context.Context, adapter Adapter, q domain.Query, session *lazySession, logf func(string, ...any)) ([]domain.Candidate, domain.SourceStatus) {
	source := adapter.Name()
	searchURL := adapter.SearchURL(q.SearchText)
	status := domain.SourceStatus{Name: source}

	now := time.Now()
	if blocked, until, lastErr := s.health.isBlocked(source, now); blocked {
		logf("%s: temporarily skipped until %s — %s", source, until.UTC().Format(time.RFC3339), truncate(lastErr, 80))
		status.Error = fmt.Sprintf("temporarily unhealthy until %s", until.UTC().Format(time.RFC3339))
		return []domain.Candidate{FallbackCandidate(source, searchURL)}, status
	}

	logf("Searching %s…", source)
	request := domain.SearchRequest{Query: q}

	startedAt := time.Now()
	found, rendered, err := s.fetchPass(ctx, adapter, request, session, logf)
	s.health.record(source, err, time.Since(startedAt), time.Now())
	status.Rendered = rendered

	if err != nil {
		logf("%s: error — %s", source, truncate(err.Error(), 120))
		status.Error = truncate(err.Error(), 200)
		fb := FallbackCandidate(source, searchURL)
		status.Count = 1
		return []domain.Candidate{fb}, status
	}

	s.scoreCandidates(q, found)
	structured, fallbacks := splitStructured(found)

	firstBest := 0.0
	for _, c := range structured {
		if c.Score > firstBest {
			firstBest = c.Score
		}
	}

	if s.planner.ShouldRetry(q, firstBest, len(structured)) {
		logf("%s: retrying without remix descriptor: %q", source, q.RetryText)
		metrics.RetrySearchesTotal.WithLabelValues(string(source)).Inc()
		retryRequest := domain.SearchRequest{Query: q, SearchText: q.RetryText}
		retryFound, retryRendered, retryErr := s.fetchPass(ctx, adapter, retryRequest, session, logf)
		if retryErr != nil {
			logf("%s: retry failed — %s", source, truncate(retryErr.Error(), 80))
		} else {
			status.Retried = true
			status.Rendered = status.Rendered || retryRendered
			s.scoreCandidates(q, retryFound)
			retryStructured, _ := splitStructured(retryFound)
			merged := DeduplicateByURL(append(structured, retryStructured...))
			logf("%s: retry added %d result(s); merged total %d structured result(s)",
				source, len(retryStructured), len(merged))
			structured = merged
		}
	}

	// Some catalogs keep serving parseable markup whose extracted rows are
	// garbage; a batch that scored uniformly zero is such a case.
	if guard, ok := adapter.(SuspiciousWhenEmpty); ok && guard.FallbackWhenAllZero() && allZeroScore(structured) {
		logf("%s: structured matches scored 0; returning search-page link instead", source)
		structured = nil
	}

	found = DropZeroScoreStructured(append(structured, fallbacks...), source, searchURL)
	structured, _ = splitStructured(found)
	logf("%s: %d result(s)", source, len(found))

	deduped := DeduplicateByURL(structured)
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})
	if len(deduped) > s.topN {
		deduped = deduped[:s.topN]
	}

	if len(deduped) == 0 {
		deduped = found[:1]
	}
	status.OK = true
	status.Count = len(deduped)
	return deduped, status
}

// fetchPass performs one plain fetch and, when the source supports it and
// the response warrants it (blocking status, transport failure, or zero
// structured rows), one headless render reusing the adapter's page parser.
func (s *Service) fetchPass(ctx context.Context, adapter Adapter, request domain.SearchRequest, session *lazySession, logf func(string, ...any)) ([]domain.Candidate, bool, error) {
	candidates, err := adapter.Search(ctx, request)

	parser, renderable := adapter.(PageParser)
	if s.renderer == nil || !renderable {
		return candidates, false, err
	}

	reason := ""
	if err != nil {
		var statusErr *domain.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.Blocking() {
				reason = fmt.Sprintf("HTTP %d", statusErr.Code)
			}
		} else {
			reason = "error — " + truncate(err.Error(), 60)
		}
	} else if countStructured(candidates) == 0 {
		reason = "no structured results"
	}
	if reason == "" {
		return candidates, false, err
	}

	source := adapter.Name()
	searchURL := adapter.SearchURL(request.Text())
	logf("%s: attempting headless fallback (%s)…", source, reason)
	metrics.RenderEscalationsTotal.WithLabelValues(string(source)).Inc()

	sess, sessionErr := session.get(ctx)
	if sessionErr != nil {
		logf("%s: headless unavailable — %s", source, truncate(sessionErr.Error(), 80))
		return candidates, false, err
	}
	html, renderErr := sess.Render(ctx, searchURL)
	if renderErr != nil {
		logf("%s: headless render failed — %s", source, truncate(renderErr.Error(), 80))
		return candidates, false, err
	}
	parsed, parseErr := parser.ParsePage(searchURL, html, request)
	if parseErr != nil || countStructured(parsed) == 0 {
		logf("%s: headless parse extracted nothing", source)
		return candidates, false, err
	}

	structured, fallbacks := splitStructured(parsed)
	if len(structured) > s.headlessMaxResults {
		structured = structured[:s.headlessMaxResults]
	}
	logf("%s: headless recovered %d structured result(s)", source, len(structured))
	return append(structured, fallbacks...), true, nil
}

// scoreCandidates fills in match scores for structured candidates the
// adapter did not score itself.
func (s *Service) scoreCandidates(q domain.Query, candidates []domain.Candidate) {
	for i := range candidates {
		if candidates[i].IsFallback || candidates[i].Score != 0 {
			continue
		}
		candidates[i].Score = ScoreCandidate(q, candidates[i])
	}
}

func splitStructured(candidates []domain.Candidate) (structured, fallbacks []domain.Candidate) {
	for _, c := range candidates {
		if c.IsFallback {
			fallbacks = append(fallbacks, c)
		} else {
			structured = append(structured, c)
		}
	}
	return structured, fallbacks
}

func countStructured(candidates []domain.Candidate) int {
	n := 0
	for _, c := range candidates {
		if !c.IsFallback {
			n++
		}
	}
	return n
}

func allZeroScore(candidates []domain.Candidate) bool {
	if len(candidates) == 0 {
		return false
	}
	for _, c := range candidates {
		if c.Score > 0 {
			return false
		}
	}
	return true
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// lazySession defers creating the headless browser context until a source
// actually needs it, then shares it for the rest of the request.
type lazySession struct {
	renderer Renderer

	mu   sync.Mutex
	sess RenderSession
	err  error
}

func (l *lazySession) get(ctx context.Context) (RenderSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess != nil || l.err != nil {
		return l.sess, l.err
	}
	if l.renderer == nil {
		l.err = errors.New("no renderer configured")
		return nil, l.err
	}
	l.sess, l.err = l.renderer.NewSession(ctx)
	return l.sess, l.err
}

func (l *lazySession) close(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess == nil {
		return
	}
	if err := l.sess.Close(ctx); err != nil {
		slog.Debug("render session close failed", slog.String("error", err.Error()))
	}
	l.sess = nil
}
