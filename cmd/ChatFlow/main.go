package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/ChatFlow/internal/api"
	"github.com/BTreeMap/ChatFlow/internal/engine"
	"github.com/BTreeMap/ChatFlow/internal/intent"
	"github.com/BTreeMap/ChatFlow/internal/lockfile"
	"github.com/BTreeMap/ChatFlow/internal/registry"
	"github.com/BTreeMap/ChatFlow/internal/store"
	"github.com/BTreeMap/ChatFlow/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ChatFlow state data
	DefaultStateDir = "/var/lib/chatflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "chatflow.db"
	// DefaultScriptFileName is the default dialogue script filename
	DefaultScriptFileName = "script.yaml"
)

// Store backend names resolved from the DSN.
const (
	backendMemory   = "memory"
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	// SQLite keeps state on local disk, so fence off the state directory
	// before opening it. The shared backends coordinate writers themselves.
	if storeBackend(*flags.dbDSN) == backendSQLite {
		lock, err := lockfile.Acquire(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	st, err := buildStateStore(*flags.dbDSN)
	if err != nil {
		slog.Error("Failed to initialize state store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	script, err := registry.LoadScript(*flags.scriptPath)
	if err != nil {
		slog.Error("Failed to load dialogue script", "error", err)
		os.Exit(1)
	}

	instrReg, modReg, err := registry.BuildFromScript(script, registry.NewHookRegistry(), st)
	if err != nil {
		slog.Error("Failed to build registries", "error", err)
		os.Exit(1)
	}

	router, err := buildIntentRouter(script, st)
	if err != nil {
		slog.Error("Failed to build intent router", "error", err)
		os.Exit(1)
	}

	engineCfg := engine.Config{
		EntryModuleID:        script.EntryModule,
		EntryInstructionID:   script.EntryInstructionID(),
		DefaultInstructionID: script.DefaultInstruction,
		MaxWriteRetries:      *flags.maxRetries,
	}
	eng := engine.New(instrReg, modReg, router, st, engineCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping ChatFlow",
		"script", *flags.scriptPath,
		"storeBackend", storeBackend(*flags.dbDSN),
		"apiAddr", *flags.apiAddr)
	server := api.NewServer(eng, st, engineCfg, api.WithAddr(*flags.apiAddr))
	if err := server.Run(ctx); err != nil {
		slog.Error("ChatFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ChatFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	ScriptPath  string
	APIAddr     string
	MaxRetries  int
	Debug       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDSN      *string
	scriptPath *string
	apiAddr    *string
	maxRetries *int
}

// initializeLogger sets up structured logging; CHATFLOW_DEBUG raises the level to debug.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CHATFLOW_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("CHATFLOW_STATE_DIR"),
		ScriptPath:  os.Getenv("CHATFLOW_SCRIPT"),
		APIAddr:     os.Getenv("API_ADDR"),
		MaxRetries:  util.ParseIntEnv("CHATFLOW_MAX_WRITE_RETRIES", engine.DefaultMaxWriteRetries),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CHATFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	if config.ScriptPath == "" {
		config.ScriptPath = filepath.Join(config.StateDir, DefaultScriptFileName)
		slog.Debug("No CHATFLOW_SCRIPT set, using default", "script_path", config.ScriptPath)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"CHATFLOW_STATE_DIR", config.StateDir,
		"CHATFLOW_SCRIPT", config.ScriptPath,
		"API_ADDR", config.APIAddr,
		"CHATFLOW_MAX_WRITE_RETRIES", config.MaxRetries)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for ChatFlow data (overrides $CHATFLOW_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "state store DSN: sqlite path, postgres:// URL, redis:// URL, or 'memory' (overrides $DATABASE_URL)"),
		scriptPath: flag.String("script", config.ScriptPath, "path to the dialogue script YAML (overrides $CHATFLOW_SCRIPT)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		maxRetries: flag.Int("max-write-retries", config.MaxRetries, "bounded retry count for optimistic state writes (overrides $CHATFLOW_MAX_WRITE_RETRIES)"),
	}
	flag.Parse()
	return flags
}

// storeBackend resolves the store backend name from a DSN.
func storeBackend(dsn string) string {
	switch {
	case dsn == backendMemory || dsn == ":memory:":
		return backendMemory
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return backendPostgres
	case strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://"):
		return backendRedis
	default:
		return backendSQLite
	}
}

// buildStateStore constructs the state store selected by the DSN.
func buildStateStore(dsn string) (store.StateStore, error) {
	switch storeBackend(dsn) {
	case backendMemory:
		return store.NewInMemoryStore(), nil
	case backendPostgres:
		return store.NewPostgresStore(store.WithDSN(dsn))
	case backendRedis:
		return store.NewRedisStore(store.WithDSN(dsn))
	default:
		return store.NewSQLiteStore(store.WithDSN(dsn))
	}
}

// buildIntentRouter constructs the intent router from the script's intent table.
func buildIntentRouter(script *registry.Script, resetter intent.StateResetter) (*intent.Router, error) {
	defs := make([]intent.Definition, 0, len(script.Intents))
	for _, si := range script.Intents {
		defs = append(defs, intent.Definition{
			ID:            si.ID,
			Keywords:      si.Keywords,
			InstructionID: si.Instruction,
			Action:        si.Action,
		})
	}
	return intent.NewRouter(defs, resetter)
}
