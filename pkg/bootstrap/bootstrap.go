// Package bootstrap loads configuration from the environment, configures
// structured logging and assembles the service's dependency graph.
package bootstrap

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"

	"github.com/prospectly/server/pkg/cache"
	"github.com/prospectly/server/pkg/credentials"
	"github.com/prospectly/server/pkg/dispatch"
	"github.com/prospectly/server/pkg/infrastructure/database"
	infrapubsub "github.com/prospectly/server/pkg/infrastructure/pubsub"
	infrasentry "github.com/prospectly/server/pkg/infrastructure/sentry"
	"github.com/prospectly/server/pkg/jobs"
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/providers/catalog"
)

// Config holds the service's environment-driven settings.
type Config struct {
	ProjectID     string
	DatabaseURL   string
	DataDir       string
	EncryptionKey []byte
	RedisAddr     string
	EnablePublish bool
	ProgressTopic string
	SentryDSN     string
	Environment   string
	Port          string

	WorkerConcurrency int

	// Global inbound throttle for the HTTP edge.
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// LoadConfig reads configuration from environment variables. ENCRYPTION_KEY
// is required and must be 32 bytes, given raw or hex-encoded.
func LoadConfig() (*Config, error) {
	key, err := loadEncryptionKey(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:         envOr("GOOGLE_CLOUD_PROJECT", "prospectly-project"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DataDir:           envOr("DATA_DIR", "."),
		EncryptionKey:     key,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		EnablePublish:     os.Getenv("ENABLE_PUBLISH") == "true",
		ProgressTopic:     envOr("PROGRESS_TOPIC", infrapubsub.TopicJobEvents),
		SentryDSN:         os.Getenv("SENTRY_DSN"),
		Environment:       envOr("ENVIRONMENT", "development"),
		Port:              envOr("PORT", "8080"),
		WorkerConcurrency: envInt("WORKER_CONCURRENCY", jobs.DefaultConcurrency),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW_MS", 60000)) * time.Millisecond,
		RateLimitMax:      envInt("RATE_LIMIT_MAX_REQUESTS", 100),
	}
	return cfg, nil
}

func loadEncryptionKey(raw string) ([]byte, error) {
	switch len(raw) {
	case 0:
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	case 32:
		return []byte(raw), nil
	case 64:
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 32 bytes, raw or hex-encoded")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// GetSlogHandlerOptions returns standard handler options with Cloud Logging
// compatible keys.
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message.
type ComponentHandler struct {
	slog.Handler
	component string
}

// WithGroup implements slog.Handler.
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

// WithAttrs implements slog.Handler.
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newComp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			newComp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: newComp,
	}
}

// Handle implements slog.Handler.
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false
		}
		return true
	})

	if comp != "" {
		newMsg := fmt.Sprintf("[%s] %s", comp, r.Message)
		newRecord := slog.NewRecord(r.Time, r.Level, newMsg, r.PC)
		// The component attr stays in the structured payload; only the
		// message gets the prefix.
		r.Attrs(func(a slog.Attr) bool {
			newRecord.AddAttrs(a)
			return true
		})
		r = newRecord
	}

	return h.Handler.Handle(ctx, r)
}

// NewLogger creates a configured JSON logger. LOG_LEVEL selects the level.
func NewLogger(serviceName string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := GetSlogHandlerOptions(level)
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// Service holds the initialized dependency graph.
type Service struct {
	Config *Config
	Logger *slog.Logger

	DB          *database.DB
	Descriptors *database.DescriptorStore
	Credentials *credentials.Store
	Cache       cache.Cache
	Registry    *providers.Registry
	Dispatcher  *dispatch.Dispatcher
	JobStore    *jobs.Store
	Queue       *jobs.Queue
	Submitter   *jobs.Submitter
	Worker      *jobs.Worker
	Emitter     *infrapubsub.Emitter
}

// NewService initializes all standard dependencies.
func NewService(ctx context.Context, serviceName string) (*Service, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(serviceName)
	slog.SetDefault(logger)

	if err := infrasentry.Init(infrasentry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		ServerName:  serviceName,
	}, logger); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}
	if err := database.Seed(ctx, db, logger); err != nil {
		return nil, err
	}

	var responseCache cache.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		responseCache = cache.NewRedis(client, logger)
		logger.Info("cache: redis", "addr", cfg.RedisAddr)
	} else {
		responseCache = cache.NewMemory()
		logger.Info("cache: in-memory")
	}

	var publisher infrapubsub.Publisher
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub init: %w", err)
		}
		publisher = &infrapubsub.PubSubAdapter{Client: psClient}
		logger.Info("pubsub: real (ENABLE_PUBLISH=true)")
	} else {
		publisher = &infrapubsub.LogPublisher{Logger: logger}
		logger.Info("pubsub: mock (LogPublisher)")
	}
	emitter := infrapubsub.NewEmitter(publisher, cfg.ProgressTopic, logger)

	credStore, err := credentials.NewStore(db.DB, cfg.EncryptionKey, logger)
	if err != nil {
		return nil, err
	}

	descriptors := database.NewDescriptorStore(db)
	registry := providers.NewRegistry(descriptors, providers.Deps{
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		Credentials: credStore,
	}, logger)
	catalog.Register(registry)
	credStore.SetInvalidator(registry.Invalidate)

	jobStore := jobs.NewStore(db)
	dispatcher := dispatch.New(responseCache, jobStore, logger)
	queue := jobs.NewQueue(db, logger)
	submitter := jobs.NewSubmitter(jobStore, queue, registry, descriptors, logger)
	worker := jobs.NewWorker(jobStore, queue, registry, dispatcher, emitter, cfg.WorkerConcurrency, logger)

	logger.Info("service initialized",
		"environment", cfg.Environment, "dialect", string(db.Dialect),
		"worker_concurrency", cfg.WorkerConcurrency)

	return &Service{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Descriptors: descriptors,
		Credentials: credStore,
		Cache:       responseCache,
		Registry:    registry,
		Dispatcher:  dispatcher,
		JobStore:    jobStore,
		Queue:       queue,
		Submitter:   submitter,
		Worker:      worker,
		Emitter:     emitter,
	}, nil
}

// Close releases held resources.
func (s *Service) Close() {
	if m, ok := s.Cache.(*cache.Memory); ok {
		m.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
