package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

var (
	ErrSessionNotFound  = errors.New("live session not found")
	ErrSequenceConflict = errors.New("practice move out of sequence")
)

// Store mirrors in-flight practice sessions into Redis so other processes
// (the event feed, a second terminal) can read them. It satisfies
// practice.Recorder.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Open connects to REDIS_URL and pings it.
func Open(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for live sessions")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, ttl), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func sessionKey(id string) string     { return "practice:session:" + strings.TrimSpace(id) }
func userIndexKey(user string) string { return "practice:index:user:" + strings.TrimSpace(user) }

// Save writes the full session and indexes it under its user while active.
func (s *Store) Save(ctx context.Context, session *domain.PracticeSession) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id required")
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), raw, s.ttl)
	if session.Finished() {
		pipe.SRem(ctx, userIndexKey(session.UserID), session.ID)
	} else {
		pipe.SAdd(ctx, userIndexKey(session.UserID), session.ID)
		pipe.Expire(ctx, userIndexKey(session.UserID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Load(ctx context.Context, id string) (*domain.PracticeSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	var session domain.PracticeSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Active lists the unfinished session ids of a user.
func (s *Store) Active(ctx context.Context, userID string) ([]string, error) {
	return s.rdb.SMembers(ctx, userIndexKey(userID)).Result()
}

// PersistMove appends move when it is the next in sequence. The check and
// write are one optimistic transaction on the session key.
func (s *Store) PersistMove(ctx context.Context, sessionID string, move domain.PracticeMove) error {
	return s.update(ctx, sessionID, func(cur *domain.PracticeSession) error {
		if cur.Finished() {
			return fmt.Errorf("session %s already finished", sessionID)
		}
		if want := len(cur.Moves) + 1; move.Seq != want {
			return fmt.Errorf("session %s: got seq %d, want %d: %w", sessionID, move.Seq, want, ErrSequenceConflict)
		}
		cur.Moves = append(cur.Moves, move)
		cur.Stats = domain.ComputeStats(cur.Moves)
		return nil
	})
}

func (s *Store) PersistSessionEnd(ctx context.Context, sessionID string, result domain.SessionResult) error {
	var userID string
	err := s.update(ctx, sessionID, func(cur *domain.PracticeSession) error {
		ended := result.EndedAt
		cur.EndedAt = &ended
		cur.Stats = result.Stats
		cur.CompletionReason = result.Reason
		cur.Failed = result.Failed
		cur.FailureReason = result.FailureReason
		userID = cur.UserID
		return nil
	})
	if err != nil {
		return err
	}
	return s.rdb.SRem(ctx, userIndexKey(userID), sessionID).Err()
}

func (s *Store) update(ctx context.Context, sessionID string, mutate func(*domain.PracticeSession) error) error {
	key := sessionKey(sessionID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
		}
		if err != nil {
			return err
		}
		var cur domain.PracticeSession
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		if err := mutate(&cur); err != nil {
			return err
		}
		next, err := json.Marshal(&cur)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("session %s changed concurrently: %w", sessionID, ErrSequenceConflict)
	}
	return err
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Host
	if u.Port() == "" {
		host = u.Hostname() + ":6379"
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: host, Password: pass, DB: db}, nil
}
