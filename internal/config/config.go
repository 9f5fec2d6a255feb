package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/cheese-repertoire/internal/domain"
)

const (
	defaultSQLitePath   = "data/trainer.db"
	defaultConfigPath   = "trainer.toml"
	defaultSessionTTL   = 24 * time.Hour
	defaultHistoryLimit = 10
)

type AppConfig struct {
	UserID string

	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	SessionTTL  time.Duration

	RepertoireDir string

	StockfishPath      string
	AnalysisDepth      int
	AnalysisMoveTimeMS int
	AnalysisCacheSize  int
	AnalysisThreads    int

	PolyglotBookPath  string
	PolyglotMinWeight int

	ExplorerURL      string
	ExplorerMinGames int

	FeedAddr string

	Categorizer             string
	Practice                domain.PracticeConfig
	StopWhenPlayerOutOfBook bool
	EngineFallback          bool
	HistoryLimit            int

	MessagesDir string
	ConfigPath  string
}

// Load reads .env (when present), then the TOML file named by
// TRAINER_CONFIG, then the environment. Later sources win.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &AppConfig{
		UserID:            defaultUser(),
		SQLitePath:        defaultSQLitePath,
		SessionTTL:        defaultSessionTTL,
		AnalysisDepth:     14,
		AnalysisCacheSize: 4096,
		AnalysisThreads:   1,
		ExplorerMinGames:  50,
		Categorizer:       "binary",
		Practice:          domain.DefaultPracticeConfig(),
		HistoryLimit:      defaultHistoryLimit,
		ConfigPath:        defaultConfigPath,
	}

	if v := strings.TrimSpace(os.Getenv("TRAINER_CONFIG")); v != "" {
		cfg.ConfigPath = v
	}
	file, err := LoadFile(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	file.apply(cfg)

	if v := strings.TrimSpace(os.Getenv("TRAINER_USER")); v != "" {
		cfg.UserID = v
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" {
		ttl, err := parseDuration(v)
		if err != nil || ttl <= 0 {
			return nil, errors.New("SESSION_TTL is invalid")
		}
		cfg.SessionTTL = ttl
	}
	if v := strings.TrimSpace(os.Getenv("REPERTOIRE_DIR")); v != "" {
		cfg.RepertoireDir = v
	}

	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); v != "" {
		cfg.StockfishPath = v
	}
	if err := intEnv("ANALYSIS_DEPTH", &cfg.AnalysisDepth, 0); err != nil {
		return nil, err
	}
	if err := intEnv("ANALYSIS_MOVETIME_MS", &cfg.AnalysisMoveTimeMS, 0); err != nil {
		return nil, err
	}
	if err := intEnv("ANALYSIS_CACHE_SIZE", &cfg.AnalysisCacheSize, 1); err != nil {
		return nil, err
	}
	if err := intEnv("ANALYSIS_THREADS", &cfg.AnalysisThreads, 1); err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(os.Getenv("POLYGLOT_BOOK_PATH")); v != "" {
		cfg.PolyglotBookPath = v
	}
	if err := intEnv("POLYGLOT_MIN_WEIGHT", &cfg.PolyglotMinWeight, 0); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv("EXPLORER_URL")); v != "" {
		cfg.ExplorerURL = v
	}
	if err := intEnv("EXPLORER_MIN_GAMES", &cfg.ExplorerMinGames, 1); err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(os.Getenv("FEED_ADDR")); v != "" {
		cfg.FeedAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("TRAINER_CATEGORIZER")); v != "" {
		cfg.Categorizer = v
	}
	if err := intEnv("PRACTICE_MAX_MOVES", &cfg.Practice.MaxMoves, 0); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv("PRACTICE_STRICTNESS")); v != "" {
		cfg.Practice.Strictness = domain.Strictness(strings.ToLower(v))
	}
	if err := boolEnv("PRACTICE_ALLOW_VARIATIONS", &cfg.Practice.AllowVariations); err != nil {
		return nil, err
	}
	if err := boolEnv("PRACTICE_STOP_OUT_OF_BOOK", &cfg.StopWhenPlayerOutOfBook); err != nil {
		return nil, err
	}
	if err := boolEnv("PRACTICE_ENGINE_FALLBACK", &cfg.EngineFallback); err != nil {
		return nil, err
	}
	if err := intEnv("HISTORY_LIMIT", &cfg.HistoryLimit, 1); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv("MESSAGES_DIR")); v != "" {
		cfg.MessagesDir = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("TRAINER_USER is required")
	}
	if err := c.Practice.Validate(); err != nil {
		return fmt.Errorf("practice config is invalid: %w", err)
	}
	switch c.Categorizer {
	case "binary":
	case "quality":
		if c.StockfishPath == "" {
			return errors.New("STOCKFISH_PATH is required for the quality categorizer")
		}
	default:
		return errors.New("TRAINER_CATEGORIZER is invalid")
	}
	if c.EngineFallback && c.StockfishPath == "" {
		return errors.New("STOCKFISH_PATH is required for engine fallback")
	}
	if c.AnalysisDepth == 0 && c.AnalysisMoveTimeMS == 0 {
		return errors.New("ANALYSIS_DEPTH or ANALYSIS_MOVETIME_MS is required")
	}
	return nil
}

func defaultUser() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return "local"
}

func intEnv(key string, dst *int, min int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return fmt.Errorf("%s is invalid", key)
	}
	*dst = n
	return nil
}

func boolEnv(key string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s is invalid", key)
	}
	*dst = b
	return nil
}

// parseDuration accepts Go durations ("90m") and bare seconds ("3600").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
