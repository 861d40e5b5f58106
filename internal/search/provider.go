package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"trackmeta/searchservice/internal/domain"
)

var (
	ErrInvalidQuery  = errors.New("query is required")
	ErrNoSources     = errors.New("no search sources configured")
	ErrUnknownSource = errors.New("unknown source")
)

// Adapter is one catalog connector: it builds the search URL for a query and
// turns the upstream's response into candidates. Candidates come back
// unscored (Score zero) unless the catalog supplies its own confidence.
type Adapter interface {
	Name() domain.Source
	Info() domain.SourceInfo
	SearchURL(text string) string
	Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error)
}

// PageParser is implemented by scrape adapters whose parsing can run against
// HTML obtained elsewhere, which is what lets a headless render reuse the
// same extraction path as a plain fetch.
type PageParser interface {
	ParsePage(searchURL, html string, request domain.SearchRequest) ([]domain.Candidate, error)
}

// Gated is implemented by adapters that only apply to some queries, such as
// fingerprint lookup needing a local file.
type Gated interface {
	Applies(q domain.Query) bool
}

// SuspiciousWhenEmpty is implemented by adapters whose structured results
// sometimes parse but score uniformly zero (stale markup extracting garbage);
// the aggregator replaces such a batch with the search-page fallback.
type SuspiciousWhenEmpty interface {
	FallbackWhenAllZero() bool
}

// RenderSession is one headless browser context, shared across the sources of
// a single aggregate search and closed exactly once when the search ends.
type RenderSession interface {
	Render(ctx context.Context, url string) (string, error)
	Close(ctx context.Context) error
}

// Renderer creates render sessions on demand.
type Renderer interface {
	NewSession(ctx context.Context) (RenderSession, error)
}

// Service runs an aggregate search across the configured source adapters.
type Service struct {
	adapters []Adapter
	byName   map[domain.Source]Adapter
	timeout  time.Duration
	planner  RetryPlanner
	renderer Renderer
	// headlessMaxResults caps how many candidates a rendered page may
	// contribute; rendered pages tend to include endless-scroll filler.
	headlessMaxResults int
	topN               int
	logger             *slog.Logger
	health             *sourceHealth
}

type ServiceOption func(*Service)

// WithRenderer enables headless escalation through the given renderer.
func WithRenderer(r Renderer) ServiceOption {
	return func(s *Service) {
		s.renderer = r
	}
}

// WithRetryPlanner overrides the remix-retry thresholds.
func WithRetryPlanner(p RetryPlanner) ServiceOption {
	return func(s *Service) {
		s.planner = p
	}
}

// WithHeadlessMaxResults caps per-source candidates taken from a rendered page.
func WithHeadlessMaxResults(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.headlessMaxResults = n
		}
	}
}

// WithLogger sets the service logger; defaults to slog.Default.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(adapters []Adapter, timeout time.Duration, opts ...ServiceOption) *Service {
	byName := make(map[domain.Source]Adapter, len(adapters))
	ordered := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if a == nil {
			continue
		}
		name := a.Name()
		if name == "" {
			continue
		}
		if _, exists := byName[name]; exists {
			continue
		}
		byName[name] = a
		ordered = append(ordered, a)
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	svc := &Service{
		adapters:           ordered,
		byName:             byName,
		timeout:            timeout,
		planner:            NewRetryPlanner(),
		headlessMaxResults: 10,
		topN:               5,
		logger:             slog.Default(),
		health:             newSourceHealth(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Sources lists the configured adapters for diagnostics, sorted by name.
func (s *Service) Sources() []domain.SourceInfo {
	if len(s.adapters) == 0 {
		return nil
	}
	items := make([]domain.SourceInfo, 0, len(s.adapters))
	for _, a := range s.adapters {
		info := a.Info()
		if info.Name == "" {
			info.Name = a.Name()
		}
		if info.Label == "" {
			info.Label = string(info.Name)
		}
		items = append(items, info)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

// resolveAdapters maps the optional CSV-style source selection onto adapters,
// keeping the configured order. An empty selection means all sources.
func (s *Service) resolveAdapters(names []string) ([]Adapter, error) {
	if len(s.adapters) == 0 {
		return nil, ErrNoSources
	}
	if len(names) == 0 {
		return s.adapters, nil
	}

	wanted := make(map[domain.Source]struct{}, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		matched := false
		for source := range s.byName {
			if strings.EqualFold(string(source), name) {
				wanted[source] = struct{}{}
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
	}
	if len(wanted) == 0 {
		return nil, ErrNoSources
	}

	selected := make([]Adapter, 0, len(wanted))
	for _, a := range s.adapters {
		if _, ok := wanted[a.Name()]; ok {
			selected = append(selected, a)
		}
	}
	return selected, nil
}
