package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

const defaultPoolHashMB = 64

var ErrPoolClosed = errors.New("engine pool closed")

// Engine is one warm analysis process.
type Engine interface {
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	EnsureReady(ctx context.Context) error
	Close() error
}

// SpawnFunc starts a new engine process.
type SpawnFunc func(ctx context.Context) (Engine, error)

type PoolConfig struct {
	BinaryPath string
	Options    Options
	// Capacity bounds live engine processes. Zero picks a value from the CPU count.
	Capacity int
	Logger   *zap.Logger
	// Spawn overrides process creation; BinaryPath is then not checked.
	Spawn SpawnFunc
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Capacity int
	Live     int
	Idle     int
	Spawned  int
	Dropped  int
}

// Pool lends analysis engines that all share one option set. Idle engines
// are reused newest first; a stale one is replaced transparently.
type Pool struct {
	spawn  SpawnFunc
	key    string
	logger *zap.Logger

	slots chan struct{}

	mu      sync.Mutex
	idle    []Engine
	lent    map[Engine]struct{}
	closed  bool
	spawned int
	dropped int
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opt := cfg.Options
	if opt.HashMB <= 0 {
		opt.HashMB = defaultPoolHashMB
	}
	if opt.MultiPV <= 0 {
		opt.MultiPV = 1
	}
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	spawn := cfg.Spawn
	if spawn == nil {
		if cfg.BinaryPath == "" {
			return nil, fmt.Errorf("binary path required")
		}
		if _, err := os.Stat(cfg.BinaryPath); err != nil {
			return nil, fmt.Errorf("stockfish binary check: %w", err)
		}
		path := cfg.BinaryPath
		spawn = func(ctx context.Context) (Engine, error) {
			return NewSession(ctx, path, opt, logger)
		}
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		spawn:  spawn,
		key:    optionsKey(opt),
		logger: logger,
		slots:  make(chan struct{}, capacity),
		lent:   make(map[Engine]struct{}),
	}, nil
}

// Acquire returns a ready engine, waiting for a free slot when every
// engine is lent out.
func (p *Pool) Acquire(ctx context.Context) (Engine, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			<-p.slots
			return nil, ErrPoolClosed
		}
		var eng Engine
		if n := len(p.idle); n > 0 {
			eng = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.mu.Unlock()

		if eng == nil {
			break
		}
		if err := eng.EnsureReady(ctx); err != nil {
			p.logger.Warn("uci_engine_stale", zap.String("options", p.key), zap.Error(err))
			p.drop(eng)
			if ctx.Err() != nil {
				<-p.slots
				return nil, ctx.Err()
			}
			continue
		}
		p.lend(eng)
		return eng, nil
	}

	eng, err := p.spawn(ctx)
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("start engine: %w", err)
	}
	p.mu.Lock()
	p.spawned++
	p.mu.Unlock()
	p.lend(eng)
	return eng, nil
}

// Release hands eng back. An engine that failed a search is closed rather
// than reused.
func (p *Pool) Release(eng Engine, searchErr error) {
	if eng == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.lent[eng]; !ok {
		p.mu.Unlock()
		_ = eng.Close()
		return
	}
	delete(p.lent, eng)
	if searchErr == nil && !p.closed {
		p.idle = append(p.idle, eng)
		p.mu.Unlock()
		<-p.slots
		return
	}
	p.mu.Unlock()
	p.drop(eng)
	<-p.slots
}

// Close shuts idle engines down. Lent engines are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	stats := p.Stats()
	p.logger.Info("uci_pool_closed",
		zap.String("options", p.key),
		zap.Int("spawned", stats.Spawned),
		zap.Int("dropped", stats.Dropped),
		zap.Int("lent", stats.Live),
	)

	var errs []error
	for _, eng := range idle {
		if err := eng.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity: cap(p.slots),
		Live:     len(p.lent) + len(p.idle),
		Idle:     len(p.idle),
		Spawned:  p.spawned,
		Dropped:  p.dropped,
	}
}

func (p *Pool) lend(eng Engine) {
	p.mu.Lock()
	p.lent[eng] = struct{}{}
	p.mu.Unlock()
}

func (p *Pool) drop(eng Engine) {
	p.mu.Lock()
	p.dropped++
	p.mu.Unlock()
	_ = eng.Close()
}

func optionsKey(opt Options) string {
	return fmt.Sprintf("thr=%d|hash=%d|multipv=%d", opt.Threads, opt.HashMB, opt.MultiPV)
}

// defaultCapacity is the CPU count clamped to [2, 4].
func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
