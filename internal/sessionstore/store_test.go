package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Hour), mr
}

func liveSession() *domain.PracticeSession {
	return &domain.PracticeSession{
		ID:        "s-1",
		UserID:    "u-1",
		Color:     domain.White,
		Config:    domain.DefaultPracticeConfig(),
		StartedAt: time.Unix(1700000000, 0).UTC(),
		Moves:     []domain.PracticeMove{},
	}
}

func TestSaveLoadAndIndex(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, liveSession()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UserID != "u-1" || got.Color != domain.White {
		t.Fatalf("unexpected session: %+v", got)
	}
	ids, err := s.Active(ctx, "u-1")
	if err != nil || len(ids) != 1 || ids[0] != "s-1" {
		t.Fatalf("Active = %v, %v", ids, err)
	}
	if ttl := mr.TTL(sessionKey("s-1")); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPersistMoveEnforcesSequence(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, liveSession()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	first := domain.PracticeMove{Seq: 1, UserMove: "e4", Category: domain.CategoryCorrect}
	if err := s.PersistMove(ctx, "s-1", first); err != nil {
		t.Fatalf("PersistMove#1: %v", err)
	}
	if err := s.PersistMove(ctx, "s-1", first); !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict on replay, got %v", err)
	}
	skip := domain.PracticeMove{Seq: 3, UserMove: "Bc4", Category: domain.CategoryCorrect}
	if err := s.PersistMove(ctx, "s-1", skip); !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict on gap, got %v", err)
	}
	second := domain.PracticeMove{Seq: 2, UserMove: "Nc3", Category: domain.CategoryIncorrect}
	if err := s.PersistMove(ctx, "s-1", second); err != nil {
		t.Fatalf("PersistMove#2: %v", err)
	}

	got, err := s.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Moves) != 2 || got.Stats.AccuracyPercentage != 50 {
		t.Fatalf("unexpected state: moves=%d stats=%+v", len(got.Moves), got.Stats)
	}
	if err := s.PersistMove(ctx, "missing", first); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPersistSessionEndClearsIndex(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, liveSession()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ended := time.Unix(1700000600, 0).UTC()
	err := s.PersistSessionEnd(ctx, "s-1", domain.SessionResult{
		EndedAt: ended,
		Reason:  domain.ReasonMoveLimit,
		Stats:   domain.PracticeStats{TotalMoves: 2, CorrectMoves: 2, AccuracyPercentage: 100},
	})
	if err != nil {
		t.Fatalf("PersistSessionEnd: %v", err)
	}
	got, err := s.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Finished() || !got.EndedAt.Equal(ended) || got.CompletionReason != domain.ReasonMoveLimit {
		t.Fatalf("session not finalized: %+v", got)
	}
	ids, err := s.Active(ctx, "u-1")
	if err != nil || len(ids) != 0 {
		t.Fatalf("Active = %v, %v", ids, err)
	}
	if err := s.PersistMove(ctx, "s-1", domain.PracticeMove{Seq: 1}); err == nil {
		t.Fatalf("expected error appending to finished session")
	}
}

func TestOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	s, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if s.ttl != defaultTTL {
		t.Fatalf("ttl = %v", s.ttl)
	}
	if _, err := Open(context.Background(), "", 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@cache.local/2")
	if err != nil {
		t.Fatalf("ParseRedisURL: %v", err)
	}
	if opts.Addr != "cache.local:6379" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := ParseRedisURL("http://cache.local"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := ParseRedisURL("redis://cache.local/x"); err == nil {
		t.Fatalf("expected db error")
	}
}
