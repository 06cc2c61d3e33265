package room

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisRegistry(t *testing.T, opts ...RedisOption) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRegistry(client, opts...), mr
}

func TestRedisRegistryCreateAndGet(t *testing.T) {
	s, mr := newTestRedisRegistry(t)
	ctx := context.Background()

	r, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !codePattern.MatchString(r.Code) {
		t.Errorf("expected 6-char A-Z0-9 code, got %q", r.Code)
	}
	if !mr.Exists(roomKey(r.Code)) {
		t.Errorf("expected key %s to exist", roomKey(r.Code))
	}

	got, err := s.Get(ctx, r.Code)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("expected CreatedAt %v, got %v", r.CreatedAt, got.CreatedAt)
	}
	if len(got.Participants) != 0 {
		t.Errorf("expected no participants, got %v", got.Participants)
	}
}

func TestRedisRegistryGetNotFound(t *testing.T) {
	s, _ := newTestRedisRegistry(t)
	if _, err := s.Get(context.Background(), "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisRegistryCreateRetriesCollisions(t *testing.T) {
	s, _ := newTestRedisRegistry(t, WithRedisCodeGenerator(sequence("AAAAAA", "AAAAAA", "BBBBBB")))
	ctx := context.Background()

	first, _ := s.Create(ctx)
	second, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Code != "AAAAAA" || second.Code != "BBBBBB" {
		t.Fatalf("expected AAAAAA then BBBBBB, got %s then %s", first.Code, second.Code)
	}
}

func TestRedisRegistryJoinCapacity(t *testing.T) {
	s, _ := newTestRedisRegistry(t)
	ctx := context.Background()
	r, _ := s.Create(ctx)

	for i := 0; i < Capacity; i++ {
		if err := s.Join(ctx, r.Code, fmt.Sprintf("user%d", i)); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if err := s.Join(ctx, r.Code, "late"); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}

	got, _ := s.Get(ctx, r.Code)
	if len(got.Participants) != Capacity {
		t.Fatalf("expected %d participants, got %d", Capacity, len(got.Participants))
	}
	if got.Participants[0] != "user0" {
		t.Errorf("expected join order preserved, got %v", got.Participants)
	}
}

func TestRedisRegistryJoinErrors(t *testing.T) {
	s, _ := newTestRedisRegistry(t)
	ctx := context.Background()
	r, _ := s.Create(ctx)

	if err := s.Join(ctx, "ZZZZZZ", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Join(ctx, r.Code, ""); !errors.Is(err, ErrMissingData) {
		t.Errorf("expected ErrMissingData, got %v", err)
	}
	if err := s.Join(ctx, " "+r.Code+" ", "alice"); err != nil {
		t.Errorf("expected padded code to resolve, got %v", err)
	}
}

func TestRedisRegistryUnavailable(t *testing.T) {
	s, mr := newTestRedisRegistry(t)
	mr.Close()

	if _, err := s.Create(context.Background()); err == nil {
		t.Fatal("expected error when Redis is down")
	}
}

func TestRegistryImplementations(t *testing.T) {
	var _ Registry = NewManager()
	var _ Registry = (*RedisRegistry)(nil)
}
