package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every transport or server failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("session entry not found")

// ErrValueMismatch is returned when a conditional write or delete finds a
// different value than the caller expected.
var ErrValueMismatch = errors.New("session entry mismatch")

const (
	refreshKeyPart    = "rt_hash"
	otpKeyPart        = "otp"
	resetGrantKeyPart = "reset_ok"

	scanBatch = 500
)

const (
	casStatusNotFound int64 = 0
	casStatusMismatch int64 = 1
	casStatusApplied  int64 = 2
)

// Replaces KEYS[1] with ARGV[2] only while it still holds ARGV[1].
const swapScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 1
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 2
`

var swapLua = redis.NewScript(swapScript)

// Deletes KEYS[1] only while it still holds ARGV[1].
const deleteIfScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 1
end
redis.call("DEL", KEYS[1])
return 2
`

var deleteIfLua = redis.NewScript(deleteIfScript)

// Reads and deletes KEYS[1] in one step.
const takeScript = `
local current = redis.call("GET", KEYS[1])
if current then
  redis.call("DEL", KEYS[1])
end
return current
`

var takeLua = redis.NewScript(takeScript)

// Store is a Redis-backed key/value store with TTLs. Every key lives under the
// store prefix so ResetAll never touches data owned by other applications.
//
// Plain Get/Set/Delete are last-writer-wins. Flows that must not lose a race
// (refresh rotation, OTP and reset-grant consumption) use the conditional
// helpers, which run as single Lua scripts.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a [Store] over rdb. An empty prefix defaults to "cf".
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "cf"
	}
	return &Store{
		redis:  rdb,
		prefix: prefix,
	}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// RefreshKey is the key holding a user's current refresh-token hash.
func (s *Store) RefreshKey(userID string) string {
	return s.key(refreshKeyPart, userID)
}

// OTPKey is the key holding the active reset OTP for an email.
func (s *Store) OTPKey(email string) string {
	return s.key(otpKeyPart, email)
}

// ResetGrantKey is the key holding the authorized reset flow id for an email.
func (s *Store) ResetGrantKey(email string) string {
	return s.key(resetGrantKeyPart, email)
}

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return value, nil
}

// Set stores value at key with ttl, overwriting any previous value.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeletePattern removes every key under the store prefix that starts with
// prefix and returns how many were deleted. It walks the keyspace with SCAN
// and must not be used on request hot paths.
func (s *Store) DeletePattern(ctx context.Context, prefix string) (int, error) {
	match := s.prefix + ":" + prefix + "*"
	var (
		cursor  uint64
		deleted int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(keys) > 0 {
			n, err := s.redis.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

// ResetAll removes every key owned by the store.
func (s *Store) ResetAll(ctx context.Context) (int, error) {
	return s.DeletePattern(ctx, "")
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

// SwapIf replaces the value at key with next only if it still equals expected.
// It returns ErrNotFound when the key is gone and ErrValueMismatch when another
// writer got there first.
func (s *Store) SwapIf(ctx context.Context, key, expected, next string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}
	code, err := swapLua.Run(ctx, s.redis, []string{key}, expected, next, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return casResult(code)
}

// DeleteIf removes key only if it still equals expected.
func (s *Store) DeleteIf(ctx context.Context, key, expected string) error {
	code, err := deleteIfLua.Run(ctx, s.redis, []string{key}, expected).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return casResult(code)
}

// Take atomically reads and deletes key. Of several concurrent callers only
// one observes the value.
func (s *Store) Take(ctx context.Context, key string) (string, error) {
	value, err := takeLua.Run(ctx, s.redis, []string{key}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return value, nil
}

func casResult(code int64) error {
	switch code {
	case casStatusApplied:
		return nil
	case casStatusNotFound:
		return ErrNotFound
	case casStatusMismatch:
		return ErrValueMismatch
	default:
		return fmt.Errorf("%w: unknown script status %d", ErrRedisUnavailable, code)
	}
}
