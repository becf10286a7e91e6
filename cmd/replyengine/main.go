package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/gulfdesk/replyengine/internal/api"
	"github.com/gulfdesk/replyengine/internal/engine"
	"github.com/gulfdesk/replyengine/internal/fsm"
	"github.com/gulfdesk/replyengine/internal/genai"
	"github.com/gulfdesk/replyengine/internal/store"
	"github.com/gulfdesk/replyengine/internal/templates"
	"github.com/gulfdesk/replyengine/internal/util"
)

// Default configuration constants
const (
	// DefaultDBDriver selects the storage backend when none is configured.
	DefaultDBDriver = "sqlite"
	// DefaultSQLitePath is the default SQLite database location.
	DefaultSQLitePath = "/var/lib/replyengine/replyengine.db"
	// DefaultAPIAddr is the default listen address for the HTTP API.
	DefaultAPIAddr = ":8080"
)

// Config holds environment configuration.
type Config struct {
	DBDriver  string
	DBDSN     string
	RedisAddr string
	APIAddr   string
	OpenAIKey string
	UseLLM    bool
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	st, stateStore, err := buildStores(flags)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	polisher := buildPolisher(flags)

	eng := engine.New(fsm.NewManager(stateStore), st, st, templates.BuiltinCatalog{}, polisher)
	server := api.NewServer(eng, st)

	slog.Info("Reply engine listening", "addr", *flags.apiAddr, "db_driver", *flags.dbDriver, "redis_state", *flags.redisAddr != "", "polish_enabled", polisher != nil)
	if err := http.ListenAndServe(*flags.apiAddr, server.Routes()); err != nil {
		slog.Error("Reply engine HTTP server failed", "error", err)
		os.Exit(1)
	}
}

// initializeLogger sets up structured logging with the level from LOG_LEVEL.
func initializeLogger() {
	level := util.ParseLogLevel(os.Getenv("LOG_LEVEL"))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	return Config{
		DBDriver:  util.EnvOrDefault("DB_DRIVER", DefaultDBDriver),
		DBDSN:     os.Getenv("DB_DSN"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		APIAddr:   util.EnvOrDefault("API_ADDR", DefaultAPIAddr),
		OpenAIKey: os.Getenv("OPENAI_API_KEY"),
		UseLLM:    util.ParseBoolEnv("USE_LLM", false),
	}
}

// Flags holds command line flag values.
type Flags struct {
	dbDriver  *string
	dbDSN     *string
	redisAddr *string
	apiAddr   *string
	openaiKey *string
	useLLM    *bool
}

// parseCommandLineFlags parses flags, defaulting each to its environment value.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDriver:  flag.String("db-driver", config.DBDriver, "storage backend: sqlite, postgres, or memory"),
		dbDSN:     flag.String("db-dsn", config.DBDSN, "database connection string (file path for sqlite)"),
		redisAddr: flag.String("redis-addr", config.RedisAddr, "optional Redis address for the conversation state store"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "HTTP API listen address"),
		openaiKey: flag.String("openai-key", config.OpenAIKey, "OpenAI API key for the polish gateway"),
		useLLM:    flag.Bool("use-llm", config.UseLLM, "enable the LLM polish gateway"),
	}
	flag.Parse()
	return flags
}

// buildStores constructs the combined store and the state store. The state
// store is split out so Redis can serve state while SQL serves log/history.
func buildStores(flags Flags) (store.Store, store.StateStore, error) {
	var st store.Store
	switch *flags.dbDriver {
	case "postgres":
		pg, err := store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
		if err != nil {
			return nil, nil, err
		}
		st = pg
	case "memory":
		slog.Warn("Using in-memory store; all conversation state is lost on restart")
		st = store.NewInMemoryStore()
	default:
		dsn := *flags.dbDSN
		if dsn == "" {
			dsn = DefaultSQLitePath
			slog.Debug("No DB_DSN set, using default SQLite path", "path", dsn)
		}
		sq, err := store.NewSQLiteStore(store.WithDSN(dsn))
		if err != nil {
			return nil, nil, err
		}
		st = sq
	}

	if *flags.redisAddr != "" {
		rs, err := store.NewRedisStateStore(store.WithRedisAddr(*flags.redisAddr))
		if err != nil {
			return nil, nil, err
		}
		return st, rs, nil
	}
	return st, st, nil
}

// buildPolisher constructs the LLM polish gateway when enabled. Failure to
// construct it downgrades to verbatim templates rather than aborting startup.
func buildPolisher(flags Flags) templates.Polisher {
	if !*flags.useLLM {
		return nil
	}
	client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		slog.Warn("Polish gateway unavailable, replies will use verbatim templates", "error", err)
		return nil
	}
	return client
}
