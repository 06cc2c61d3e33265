package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds each Redis round trip.
const opTimeout = 2 * time.Second

func roomKey(code string) string {
	return "room:" + code
}

func participantsKey(code string) string {
	return "room:" + code + ":participants"
}

// joinScript appends a participant unless the room is missing or full, so
// the capacity check and the append happen atomically.
var joinScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("LLEN", KEYS[2]) >= tonumber(ARGV[2]) then
  return -2
end
return redis.call("RPUSH", KEYS[2], ARGV[1])
`)

// RedisRegistry stores rooms in Redis: a hash per room and a list of
// participant nicknames.
type RedisRegistry struct {
	client  redis.Cmdable
	newCode CodeGenerator
	now     func() time.Time
}

// NewRedisRegistry creates a RedisRegistry on client.
func NewRedisRegistry(client redis.Cmdable, opts ...RedisOption) *RedisRegistry {
	s := &RedisRegistry{
		client: client,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newCode == nil {
		s.newCode = mustCodeGenerator()
	}
	return s
}

// RedisOption configures a RedisRegistry.
type RedisOption func(*RedisRegistry)

// WithRedisCodeGenerator replaces the room code generator.
func WithRedisCodeGenerator(gen CodeGenerator) RedisOption {
	return func(s *RedisRegistry) {
		s.newCode = gen
	}
}

// Create allocates a room, claiming its code with HSETNX.
func (s *RedisRegistry) Create(ctx context.Context) (*Room, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	for i := 0; i < maxCodeAttempts; i++ {
		code := s.newCode()
		created := s.now().UTC()
		ok, err := s.client.HSetNX(ctx, roomKey(code), "created_at", created.Format(time.RFC3339Nano)).Result()
		if err != nil {
			return nil, fmt.Errorf("room: create: %w", err)
		}
		if ok {
			return &Room{Code: code, CreatedAt: created}, nil
		}
	}
	return nil, ErrCodeExhausted
}

// Get loads a room and its participants.
func (s *RedisRegistry) Get(ctx context.Context, code string) (*Room, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	code = NormalizeCode(code)
	pipe := s.client.Pipeline()
	fields := pipe.HGetAll(ctx, roomKey(code))
	members := pipe.LRange(ctx, participantsKey(code), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("room: get %s: %w", code, err)
	}
	if len(fields.Val()) == 0 {
		return nil, ErrNotFound
	}

	r := &Room{Code: code, Participants: members.Val()}
	if ts, err := time.Parse(time.RFC3339Nano, fields.Val()["created_at"]); err == nil {
		r.CreatedAt = ts
	}
	return r, nil
}

// Join records nickname in the room.
func (s *RedisRegistry) Join(ctx context.Context, code, nickname string) error {
	code = NormalizeCode(code)
	nickname = strings.TrimSpace(nickname)
	if code == "" || nickname == "" {
		return ErrMissingData
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := joinScript.Run(ctx, s.client, []string{roomKey(code), participantsKey(code)}, nickname, Capacity).Int()
	if err != nil {
		return fmt.Errorf("room: join %s: %w", code, err)
	}
	switch n {
	case -1:
		return ErrNotFound
	case -2:
		return ErrFull
	}
	return nil
}
