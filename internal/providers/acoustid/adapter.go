// Package acoustid resolves local audio files to MusicBrainz recordings by
// acoustic fingerprint. It shells out to fpcalc for the fingerprint and posts
// it to the AcoustID lookup API.
package acoustid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"

	"trackmeta/searchservice/internal/domain"
)

const (
	defaultEndpoint = "https://api.acoustid.org"
	defaultFpcalc   = "fpcalc"
	maxResults      = 10
)

// ErrNoKey is returned when a lookup runs without a configured API key.
var ErrNoKey = errors.New("acoustid api key not configured")

type Config struct {
	Endpoint   string
	APIKey     string
	FpcalcPath string
	Client     *http.Client
	// Fingerprint overrides the fpcalc invocation, for tests.
	Fingerprint func(ctx context.Context, path string) (fp string, durationSecs int, err error)
}

type Adapter struct {
	rest        *resty.Client
	apiKey      string
	fingerprint func(ctx context.Context, path string) (string, int, error)
}

func New(cfg Config) *Adapter {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client := resty.New()
	if cfg.Client != nil {
		client = resty.NewWithClient(cfg.Client)
	}
	client.SetBaseURL(endpoint)

	fingerprint := cfg.Fingerprint
	if fingerprint == nil {
		fpcalcPath := strings.TrimSpace(cfg.FpcalcPath)
		if fpcalcPath == "" {
			fpcalcPath = defaultFpcalc
		}
		fingerprint = func(ctx context.Context, path string) (string, int, error) {
			return runFpcalc(ctx, fpcalcPath, path)
		}
	}

	return &Adapter{
		rest:        client,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		fingerprint: fingerprint,
	}
}

func (a *Adapter) Name() domain.Source {
	return domain.SourceAcoustID
}

func (a *Adapter) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:    domain.SourceAcoustID,
		Label:   "AcoustID",
		Kind:    "api",
		Enabled: a.apiKey != "",
	}
}

// Applies gates fingerprint lookup on having a local file to fingerprint.
func (a *Adapter) Applies(q domain.Query) bool {
	return strings.TrimSpace(q.FilePath) != ""
}

func (a *Adapter) SearchURL(string) string {
	return "https://acoustid.org/"
}

func (a *Adapter) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	if a.apiKey == "" {
		return nil, ErrNoKey
	}
	path := strings.TrimSpace(request.Query.FilePath)
	if path == "" {
		return nil, nil
	}

	fp, duration, err := a.fingerprint(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	resp, err := a.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client":      a.apiKey,
			"meta":        "recordings releases",
			"fingerprint": fp,
			"duration":    strconv.Itoa(duration),
		}).
		Post("/v2/lookup")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &domain.StatusError{Source: domain.SourceAcoustID, Code: resp.StatusCode()}
	}

	return parseLookup(resp.Body()), nil
}

// parseLookup flattens results×recordings into candidates. The AcoustID match
// confidence is source-native, so candidates arrive pre-scored on the same
// 0-100 scale the text sources use.
func parseLookup(body []byte) []domain.Candidate {
	var candidates []domain.Candidate

	results := jsoniter.Get(body, "results")
	for i := 0; i < results.Size(); i++ {
		result := results.Get(i)
		confidence := result.Get("score").ToFloat64()
		recordings := result.Get("recordings")
		for j := 0; j < recordings.Size(); j++ {
			rec := recordings.Get(j)
			recordingID := rec.Get("id").ToString()
			title := rec.Get("title").ToString()
			if recordingID == "" || title == "" {
				continue
			}

			candidate := domain.Candidate{
				Source:          domain.SourceAcoustID,
				Title:           title,
				Artist:          rec.Get("artists", 0, "name").ToString(),
				URL:             "https://musicbrainz.org/recording/" + recordingID,
				Score:           roundToTenth(confidence * 100),
				DirectURL:       true,
				MatchConfidence: confidence,
			}
			release := rec.Get("releases", 0)
			if release.ValueType() == jsoniter.ObjectValue {
				candidate.Album = release.Get("title").ToString()
				candidate.AlbumArtist = release.Get("artists", 0, "name").ToString()
				if year := release.Get("date", "year").ToInt(); year > 0 {
					candidate.ReleaseDate = strconv.Itoa(year)
				}
			}
			candidates = append(candidates, candidate)
			if len(candidates) >= maxResults {
				return candidates
			}
		}
	}
	return candidates
}

// runFpcalc invokes Chromaprint's fpcalc with JSON output.
func runFpcalc(ctx context.Context, fpcalcPath, audioPath string) (string, int, error) {
	out, err := exec.CommandContext(ctx, fpcalcPath, "-json", audioPath).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", 0, fmt.Errorf("fpcalc: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", 0, err
	}

	fp := jsoniter.Get(out, "fingerprint").ToString()
	if fp == "" {
		return "", 0, errors.New("fpcalc produced no fingerprint")
	}
	duration := int(jsoniter.Get(out, "duration").ToFloat64())
	return fp, duration, nil
}

func roundToTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
