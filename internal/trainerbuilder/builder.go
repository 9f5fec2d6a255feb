package trainerbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/chess/openingbook"
	"github.com/park285/cheese-repertoire/internal/chess/uci"
	"github.com/park285/cheese-repertoire/internal/config"
	"github.com/park285/cheese-repertoire/internal/eventfeed"
	"github.com/park285/cheese-repertoire/internal/explorer"
	"github.com/park285/cheese-repertoire/internal/msgcat"
	"github.com/park285/cheese-repertoire/internal/practice"
	svc "github.com/park285/cheese-repertoire/internal/service/trainer"
	"github.com/park285/cheese-repertoire/internal/sessionstore"
	"github.com/park285/cheese-repertoire/internal/storage"
	"go.uber.org/zap"
)

const persistTimeout = 5 * time.Second

// Repository is the durable store plus its connection lifecycle.
type Repository interface {
	storage.Repository
	Close() error
}

type Deps struct {
	Service  *svc.Service
	Repo     Repository
	Live     *sessionstore.Store
	Analyzer *corechess.Analyzer
	Catalog  *msgcat.Catalog
	Hub      *eventfeed.Hub
	Feed     *eventfeed.Server

	closers []func() error
}

// Options replace pieces New would otherwise open from the config. Tests use
// them to run without a database file.
type Options struct {
	Repo   Repository
	Clock  func() time.Time
	NewID  func() string
	NoFeed bool
}

// New opens every backend the config names and assembles the trainer
// service. Optional backends (Redis, Stockfish, book, explorer, event feed)
// are skipped when unset. Close releases whatever was opened.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, opts ...Options) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	deps := &Deps{}
	ready := false
	defer func() {
		if !ready {
			_ = deps.closeAll()
		}
	}()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	deps.Catalog = catalog

	repo := o.Repo
	if repo == nil {
		repo, err = openRepository(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	deps.Repo = repo
	deps.closers = append(deps.closers, repo.Close)

	serviceDeps := svc.Deps{
		Repo:  repo,
		Rules: corechess.NewRules(),
		Clock: o.Clock,
		NewID: o.NewID,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		live, err := sessionstore.Open(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("init live sessions: %w", err)
		}
		deps.Live = live
		deps.closers = append(deps.closers, live.Close)
		serviceDeps.Live = live
	}

	if strings.TrimSpace(cfg.StockfishPath) != "" {
		analyzer, searcher, err := openAnalyzer(cfg, logger)
		if err != nil {
			return nil, err
		}
		deps.Analyzer = analyzer
		deps.closers = append(deps.closers, searcher.Close)
		serviceDeps.Evaluator = analyzer
		serviceDeps.Engine = analyzer
	}

	books, err := openBooks(cfg, logger)
	if err != nil {
		return nil, err
	}
	serviceDeps.Books = books

	if !o.NoFeed && strings.TrimSpace(cfg.FeedAddr) != "" {
		deps.Hub = eventfeed.NewHub(eventfeed.WithLogger(logger))
		deps.Feed = eventfeed.NewServer(cfg.FeedAddr, deps.Hub, logger)
		addr, err := deps.Feed.Start()
		if err != nil {
			return nil, fmt.Errorf("start event feed: %w", err)
		}
		feed := deps.Feed
		deps.closers = append(deps.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return feed.Shutdown(sctx)
		})
		serviceDeps.Observer = deps.Hub.Observer()
		logger.Info("event_feed_listening", zap.String("addr", addr.String()))
	}

	service, err := svc.NewService(serviceDeps, svc.Config{
		Practice:                cfg.Practice,
		Categorizer:             cfg.Categorizer,
		StopWhenPlayerOutOfBook: cfg.StopWhenPlayerOutOfBook,
		EngineFallback:          cfg.EngineFallback,
		HistoryLimit:            cfg.HistoryLimit,
		PersistTimeout:          persistTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	deps.Service = service

	if dir := strings.TrimSpace(cfg.RepertoireDir); dir != "" {
		if _, err := deps.ImportDir(ctx, cfg.UserID, dir); err != nil {
			return nil, err
		}
	}
	ready = true
	return deps, nil
}

// ImportDir validates and stores every repertoire file in dir.
func (d *Deps) ImportDir(ctx context.Context, userID, dir string) ([]*svc.RepertoireReport, error) {
	reps, err := storage.DirRepertoires(dir)
	if err != nil {
		return nil, err
	}
	reports := make([]*svc.RepertoireReport, 0, len(reps))
	for _, rep := range reps {
		report, err := d.Service.ImportRepertoire(ctx, svc.SessionMeta{UserID: userID}, rep)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", rep.ID, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Close ends running sessions, then releases backends in reverse order.
func (d *Deps) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	if d.Service != nil {
		d.Service.Close(ctx)
	}
	return d.closeAll()
}

func (d *Deps) closeAll() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func openRepository(ctx context.Context, cfg *config.AppConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return storage.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return storage.OpenSQLite(ctx, cfg.SQLitePath)
}

func openAnalyzer(cfg *config.AppConfig, logger *zap.Logger) (*corechess.Analyzer, *corechess.PoolSearcher, error) {
	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.StockfishPath,
		Options:    uci.Options{Threads: cfg.AnalysisThreads},
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init engine pool: %w", err)
	}
	limits := uci.Limits{Depth: cfg.AnalysisDepth, MoveTimeMillis: cfg.AnalysisMoveTimeMS}
	goCmd, err := corechess.FormatGoCommand(limits)
	if err != nil {
		return nil, nil, fmt.Errorf("analysis limits: %w", err)
	}
	searcher := corechess.NewPoolSearcher(pool)
	analyzer, err := corechess.NewAnalyzer(searcher, corechess.AnalyzerConfig{
		Limits:    limits,
		CacheSize: cfg.AnalysisCacheSize,
		Logger:    logger,
	})
	if err != nil {
		_ = searcher.Close()
		return nil, nil, err
	}
	logger.Info("analysis_ready",
		zap.String("stockfish", cfg.StockfishPath),
		zap.String("search", goCmd),
		zap.Int("threads", cfg.AnalysisThreads),
	)
	return analyzer, searcher, nil
}

// openBooks returns the external oracles in lookup order: the local
// Polyglot book first, the explorer second.
func openBooks(cfg *config.AppConfig, logger *zap.Logger) ([]practice.BookOracle, error) {
	var books []practice.BookOracle
	path, err := openingbook.ResolvePath(cfg.PolyglotBookPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		book, err := openingbook.Open(path, cfg.PolyglotMinWeight)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
		logger.Info("polyglot_book_loaded", zap.String("path", path))
	}
	if url := strings.TrimSpace(cfg.ExplorerURL); url != "" {
		books = append(books, explorer.NewClient(url,
			explorer.WithMinGames(cfg.ExplorerMinGames),
			explorer.WithLogger(logger),
		))
	}
	return books, nil
}
