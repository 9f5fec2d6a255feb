package practice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/cheese-repertoire/internal/domain"
	"go.uber.org/zap"
)

const defaultPersistTimeout = 5 * time.Second

// Recorder stores session progress.
type Recorder interface {
	PersistMove(ctx context.Context, sessionID string, move domain.PracticeMove) error
	PersistSessionEnd(ctx context.Context, sessionID string, result domain.SessionResult) error
}

// MultiRecorder writes to every recorder and joins their failures.
type MultiRecorder []Recorder

func (m MultiRecorder) PersistMove(ctx context.Context, sessionID string, move domain.PracticeMove) error {
	var errs []error
	for _, r := range m {
		if err := r.PersistMove(ctx, sessionID, move); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) PersistSessionEnd(ctx context.Context, sessionID string, result domain.SessionResult) error {
	var errs []error
	for _, r := range m {
		if err := r.PersistSessionEnd(ctx, sessionID, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type persistJob struct {
	move   *domain.PracticeMove
	result *domain.SessionResult
}

// persister drains writes in order on its own goroutine so the engine never
// waits on storage.
type persister struct {
	rec       Recorder
	sessionID string
	timeout   time.Duration
	logger    *zap.Logger
	onFailure func(persistJob, error)

	mu     sync.Mutex
	queue  []persistJob
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPersister(rec Recorder, sessionID string, timeout time.Duration, logger *zap.Logger, onFailure func(persistJob, error)) *persister {
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	p := &persister{
		rec:       rec,
		sessionID: sessionID,
		timeout:   timeout,
		logger:    logger,
		onFailure: onFailure,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(job persistJob) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, job)
	p.mu.Unlock()
	p.signal()
}

// close lets the goroutine exit once the queue is empty.
func (p *persister) close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
}

func (p *persister) wait() {
	if p == nil {
		return
	}
	<-p.done
}

func (p *persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.wake
			continue
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if err := p.write(job); err != nil {
			p.logger.Warn("practice_persist_failed",
				zap.String("session_id", p.sessionID),
				zap.Bool("session_end", job.result != nil),
				zap.Error(err),
			)
			if p.onFailure != nil {
				p.onFailure(job, err)
			}
		}
	}
}

func (p *persister) write(job persistJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if job.result != nil {
		return p.rec.PersistSessionEnd(ctx, p.sessionID, *job.result)
	}
	return p.rec.PersistMove(ctx, p.sessionID, *job.move)
}
