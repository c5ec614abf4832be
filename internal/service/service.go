package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"tripresence/internal/auth"
	"tripresence/internal/cache"
	"tripresence/internal/config"
	"tripresence/internal/directory"
	"tripresence/internal/registry"
	"tripresence/internal/trips"
	"tripresence/internal/ws"
)

// Service bundles the wired components of the location service.
type Service struct {
	Registry  *registry.Registry
	Hub       *ws.Hub
	Binder    *auth.Binder
	Oracle    trips.Oracle
	Directory directory.Directory
	Cache     cache.MemoryCache
	WSOptions ws.Options
	Logger    *slog.Logger
}

// Ready checks whether dependencies are available
func (s *Service) Ready(ctx context.Context) error {
	return s.Directory.Ready(ctx)
}

// Close closes the service and its dependencies
func (s *Service) Close() error {
	if err := s.Directory.Close(); err != nil {
		return fmt.Errorf("failed to close directory: %w", err)
	}
	s.Cache.Clear()
	return nil
}

// ServiceBuilder helps build a complete location service
type ServiceBuilder struct {
	config *config.Config
}

// NewServiceBuilder creates a new service builder
func NewServiceBuilder(config *config.Config) *ServiceBuilder {
	return &ServiceBuilder{config: config}
}

// Build builds and configures all service components
func (b *ServiceBuilder) Build() (*Service, error) {
	logger := newLogger(b.config.Logging)

	cacheTTL, err := b.config.Cache.GetTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}
	memCache, err := cache.New(cache.Config{
		MaxCost:     b.config.Cache.MaxCost,
		NumCounters: b.config.Cache.NumCounters,
		BufferItems: b.config.Cache.BufferItems,
		Metrics:     b.config.Cache.Metrics,
		TTL:         cacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	requestTimeout, err := b.config.Directory.GetRequestTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid directory request timeout: %w", err)
	}
	dir, err := directory.NewClient(directory.Config{
		ServerURL:      b.config.Directory.ServerURL,
		SubjectPrefix:  b.config.Directory.SubjectPrefix,
		Embedded:       b.config.Directory.Embedded,
		DataDir:        b.config.Directory.DataDir,
		RequestTimeout: requestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}

	oracle := trips.NewCachedOracle(dir, memCache)
	users := directory.NewCachedUsers(dir, memCache)
	binder := auth.NewBinder(b.config.Auth.JWTSecret, b.config.Auth.JWTIssuer, users)

	hub := ws.NewHub(logger)
	reg := registry.New(oracle, hub, logger)

	wsOpts, err := wsOptions(b.config.WS)
	if err != nil {
		dir.Close()
		return nil, err
	}

	return &Service{
		Registry:  reg,
		Hub:       hub,
		Binder:    binder,
		Oracle:    oracle,
		Directory: dir,
		Cache:     memCache,
		WSOptions: wsOpts,
		Logger:    logger,
	}, nil
}

func wsOptions(cfg config.WSConfig) (ws.Options, error) {
	opts := ws.DefaultOptions()

	writeTimeout, err := cfg.GetWriteTimeout()
	if err != nil {
		return opts, fmt.Errorf("invalid ws write timeout: %w", err)
	}
	pongTimeout, err := cfg.GetPongTimeout()
	if err != nil {
		return opts, fmt.Errorf("invalid ws pong timeout: %w", err)
	}
	pingInterval, err := cfg.GetPingInterval()
	if err != nil {
		return opts, fmt.Errorf("invalid ws ping interval: %w", err)
	}

	opts.WriteTimeout = writeTimeout
	opts.PongTimeout = pongTimeout
	opts.PingInterval = pingInterval
	opts.MaxMessageSize = cfg.MaxMessageSize
	opts.SendBuffer = cfg.SendBuffer
	return opts, nil
}

// newLogger builds the process logger from the logging config
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
}
