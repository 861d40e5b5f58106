// Package app holds process-level wiring: configuration from the environment
// and the defaults shared by the server binary.
package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	UserAgent      string

	TraxsourceEndpoint  string
	JunoEndpoint        string
	BandcampEndpoint    string
	BeatportEndpoint    string
	MusicBrainzEndpoint string
	CoverArtEndpoint    string
	DiscogsEndpoint     string
	AcoustIDEndpoint    string

	DiscogsToken   string
	AcoustIDKey    string
	FpcalcPath     string
	MusicBrainzRPS float64

	RendererURL        string
	HeadlessEnabled    bool
	HeadlessTimeout    time.Duration
	HeadlessMaxResults int

	RetryScoreThreshold float64
	RetrySufficientHits int

	RedisURL string
	CacheTTL time.Duration
	MusicDir string

	SearchDebug bool
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8090"),
		RequestTimeout: time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("SEARCH_USER_AGENT", ""),

		TraxsourceEndpoint:  getEnv("SOURCE_TRAXSOURCE_ENDPOINT", "https://www.traxsource.com"),
		JunoEndpoint:        getEnv("SOURCE_JUNO_ENDPOINT", "https://www.junodownload.com"),
		BandcampEndpoint:    getEnv("SOURCE_BANDCAMP_ENDPOINT", "https://bandcamp.com"),
		BeatportEndpoint:    getEnv("SOURCE_BEATPORT_ENDPOINT", "https://www.beatport.com"),
		MusicBrainzEndpoint: getEnv("SOURCE_MUSICBRAINZ_ENDPOINT", "https://musicbrainz.org"),
		CoverArtEndpoint:    getEnv("SOURCE_COVERART_ENDPOINT", "https://coverartarchive.org"),
		DiscogsEndpoint:     getEnv("SOURCE_DISCOGS_ENDPOINT", "https://api.discogs.com"),
		AcoustIDEndpoint:    getEnv("SOURCE_ACOUSTID_ENDPOINT", "https://api.acoustid.org"),

		DiscogsToken:   strings.TrimSpace(os.Getenv("DISCOGS_TOKEN")),
		AcoustIDKey:    strings.TrimSpace(os.Getenv("ACOUSTID_API_KEY")),
		FpcalcPath:     getEnv("FPCALC_PATH", "fpcalc"),
		MusicBrainzRPS: getEnvFloat("MUSICBRAINZ_RATE_LIMIT", 1),

		RendererURL:        normalizeRendererURL(getEnv("RENDERER_URL", "")),
		HeadlessEnabled:    getEnvBool("HEADLESS_ENABLED", true),
		HeadlessTimeout:    time.Duration(getEnvInt("HEADLESS_TIMEOUT_SECONDS", 15)) * time.Second,
		HeadlessMaxResults: getEnvInt("HEADLESS_MAX_RESULTS", 10),

		RetryScoreThreshold: getEnvFloat("RETRY_SCORE_THRESHOLD", 78),
		RetrySufficientHits: getEnvInt("RETRY_SUFFICIENT_HITS", 3),

		RedisURL: getEnv("REDIS_URL", ""),
		CacheTTL: time.Duration(getEnvInt("CACHE_TTL_HOURS", 6)) * time.Hour,
		MusicDir: strings.TrimSpace(os.Getenv("MUSIC_DIR")),

		SearchDebug: getEnvBool("SEARCH_DEBUG", false),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// normalizeRendererURL accepts a bare host:port and defaults the scheme.
func normalizeRendererURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		value = "http://" + value
	}
	return strings.TrimSuffix(value, "/")
}
