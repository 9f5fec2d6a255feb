package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/park285/cheese-repertoire/internal/domain"
)

// FileConfig is the optional TOML file. Unset keys keep the defaults.
type FileConfig struct {
	Practice PracticeFile `toml:"practice"`
	Analysis AnalysisFile `toml:"analysis"`
	Book     BookFile     `toml:"book"`
	Explorer ExplorerFile `toml:"explorer"`
	Storage  StorageFile  `toml:"storage"`
}

type PracticeFile struct {
	MaxMoves        *int    `toml:"max_moves"`
	Strictness      *string `toml:"strictness"`
	AllowVariations *bool   `toml:"allow_variations"`
	Categorizer     *string `toml:"categorizer"`
	StopOutOfBook   *bool   `toml:"stop_out_of_book"`
	EngineFallback  *bool   `toml:"engine_fallback"`
	HistoryLimit    *int    `toml:"history_limit"`
}

type AnalysisFile struct {
	Stockfish  *string `toml:"stockfish"`
	Depth      *int    `toml:"depth"`
	MoveTimeMS *int    `toml:"movetime_ms"`
	CacheSize  *int    `toml:"cache_size"`
	Threads    *int    `toml:"threads"`
}

type BookFile struct {
	Path      *string `toml:"path"`
	MinWeight *int    `toml:"min_weight"`
}

type ExplorerFile struct {
	URL      *string `toml:"url"`
	MinGames *int    `toml:"min_games"`
}

type StorageFile struct {
	SQLitePath    *string `toml:"sqlite_path"`
	RepertoireDir *string `toml:"repertoire_dir"`
	MessagesDir   *string `toml:"messages_dir"`
	FeedAddr      *string `toml:"feed_addr"`
}

// LoadFile decodes path. A missing file is an empty config; unknown keys are
// errors so typos do not go unnoticed.
func LoadFile(path string) (FileConfig, error) {
	if strings.TrimSpace(path) == "" {
		return FileConfig{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}
	return cfg, nil
}

func (f FileConfig) apply(cfg *AppConfig) {
	p := f.Practice
	setInt(&cfg.Practice.MaxMoves, p.MaxMoves)
	if p.Strictness != nil {
		cfg.Practice.Strictness = domain.Strictness(strings.ToLower(strings.TrimSpace(*p.Strictness)))
	}
	setBool(&cfg.Practice.AllowVariations, p.AllowVariations)
	setString(&cfg.Categorizer, p.Categorizer)
	setBool(&cfg.StopWhenPlayerOutOfBook, p.StopOutOfBook)
	setBool(&cfg.EngineFallback, p.EngineFallback)
	setInt(&cfg.HistoryLimit, p.HistoryLimit)

	a := f.Analysis
	setString(&cfg.StockfishPath, a.Stockfish)
	setInt(&cfg.AnalysisDepth, a.Depth)
	setInt(&cfg.AnalysisMoveTimeMS, a.MoveTimeMS)
	setInt(&cfg.AnalysisCacheSize, a.CacheSize)
	setInt(&cfg.AnalysisThreads, a.Threads)

	setString(&cfg.PolyglotBookPath, f.Book.Path)
	setInt(&cfg.PolyglotMinWeight, f.Book.MinWeight)
	setString(&cfg.ExplorerURL, f.Explorer.URL)
	setInt(&cfg.ExplorerMinGames, f.Explorer.MinGames)

	s := f.Storage
	setString(&cfg.SQLitePath, s.SQLitePath)
	setString(&cfg.RepertoireDir, s.RepertoireDir)
	setString(&cfg.MessagesDir, s.MessagesDir)
	setString(&cfg.FeedAddr, s.FeedAddr)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		if s := strings.TrimSpace(*v); s != "" {
			*dst = s
		}
	}
}
