package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "trackmeta/searchservice/internal/api/http"
	"trackmeta/searchservice/internal/app"
	"trackmeta/searchservice/internal/cache"
	"trackmeta/searchservice/internal/metrics"
	"trackmeta/searchservice/internal/providers/acoustid"
	"trackmeta/searchservice/internal/providers/bandcamp"
	"trackmeta/searchservice/internal/providers/beatport"
	"trackmeta/searchservice/internal/providers/discogs"
	"trackmeta/searchservice/internal/providers/juno"
	"trackmeta/searchservice/internal/providers/musicbrainz"
	"trackmeta/searchservice/internal/providers/traxsource"
	"trackmeta/searchservice/internal/render"
	"trackmeta/searchservice/internal/search"
	"trackmeta/searchservice/internal/tags"
	"trackmeta/searchservice/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, cfg.SearchDebug)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "metadata-search")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "metadata-search"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.Bool("hasDiscogsToken", cfg.DiscogsToken != ""),
		slog.Bool("hasAcoustIDKey", cfg.AcoustIDKey != ""),
		slog.Bool("headlessEnabled", cfg.HeadlessEnabled && cfg.RendererURL != ""),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.String("musicDir", cfg.MusicDir),
	)

	redisClient := newRedisClient(cfg, logger)
	newCache := func(name string) *cache.Cache {
		opts := []cache.Option{cache.WithTTL(cfg.CacheTTL)}
		if redisClient != nil {
			opts = append(opts, cache.WithBackend(cache.NewRedisBackend(redisClient, name)))
		}
		return cache.New(name, opts...)
	}

	newHTTPClient := func() *http.Client {
		return &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	adapters := []search.Adapter{
		traxsource.New(traxsource.Config{
			Endpoint:  cfg.TraxsourceEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    newHTTPClient(),
		}),
		juno.New(juno.Config{
			Endpoint:  cfg.JunoEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    newHTTPClient(),
		}),
		bandcamp.New(bandcamp.Config{
			Endpoint:  cfg.BandcampEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    newHTTPClient(),
			Logger:    logger,
		}),
		beatport.New(beatport.Config{
			Endpoint:  cfg.BeatportEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    newHTTPClient(),
		}),
		musicbrainz.New(musicbrainz.Config{
			Endpoint:          cfg.MusicBrainzEndpoint,
			CoverArtBase:      cfg.CoverArtEndpoint,
			UserAgent:         cfg.UserAgent,
			Client:            newHTTPClient(),
			CoverArtCache:     newCache("coverart"),
			RequestsPerSecond: cfg.MusicBrainzRPS,
		}),
		discogs.New(discogs.Config{
			Endpoint:  cfg.DiscogsEndpoint,
			Token:     cfg.DiscogsToken,
			UserAgent: cfg.UserAgent,
			Client:    newHTTPClient(),
		}),
		// Always registered; it gates itself on queries that carry a file path.
		acoustid.New(acoustid.Config{
			Endpoint:   cfg.AcoustIDEndpoint,
			APIKey:     cfg.AcoustIDKey,
			FpcalcPath: cfg.FpcalcPath,
			Client:     newHTTPClient(),
		}),
	}

	searchService := search.NewService(adapters, cfg.RequestTimeout, buildServiceOptions(cfg, logger)...)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithTags(tags.NewReader(newCache("tags")), tags.NewWriter()),
	}
	if cfg.MusicDir != "" {
		serverOpts = append(serverOpts, apihttp.WithMusicDir(cfg.MusicDir))
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apihttp.NewServer(searchService, serverOpts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// The SSE stream (/search/stream) outlives any sensible write timeout;
		// per-source timeouts bound the work instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("metadata search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("sources", len(adapters)),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("metadata search service stopped")
}

func buildServiceOptions(cfg app.Config, logger *slog.Logger) []search.ServiceOption {
	opts := []search.ServiceOption{
		search.WithLogger(logger),
		search.WithRetryPlanner(search.RetryPlanner{
			ScoreThreshold: cfg.RetryScoreThreshold,
			SufficientHits: cfg.RetrySufficientHits,
		}),
		search.WithHeadlessMaxResults(cfg.HeadlessMaxResults),
	}

	if cfg.HeadlessEnabled && cfg.RendererURL != "" {
		renderer, err := render.NewClient(render.Config{
			URL:        cfg.RendererURL,
			MaxTimeout: cfg.HeadlessTimeout,
		})
		if err != nil {
			logger.Warn("headless renderer disabled", slog.String("error", err.Error()))
		} else {
			opts = append(opts, search.WithRenderer(renderer))
			logger.Info("headless renderer configured", slog.String("url", cfg.RendererURL))
		}
	}
	return opts
}

func newRedisClient(cfg app.Config, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory caches only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory caches only", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

func newLogger(levelRaw, formatRaw string, debug bool) *slog.Logger {
	level := parseLogLevel(levelRaw)
	if debug {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
