package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rendezvous:id:"

// The claim is only touched while it still names this instance, so a key
// that expired and was re-claimed elsewhere is left alone.
const (
	releaseSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

	refreshSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`
)

var releaseScript = redis.NewScript(releaseSrc)

// RedisDirectory implements Directory on Redis so several server instances
// can share one identifier namespace. Claims carry a TTL and are kept alive by
// Refresh; a crashed instance's identifiers free up once their keys expire.
type RedisDirectory struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
}

func NewRedisDirectory(addr, password string, db int, ttl time.Duration) (*RedisDirectory, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisDirectoryFromClient(rdb, ttl), nil
}

// NewRedisDirectoryFromClient wraps an existing client.
func NewRedisDirectoryFromClient(rdb *redis.Client, ttl time.Duration) *RedisDirectory {
	return &RedisDirectory{
		client:     rdb,
		instanceID: fmt.Sprintf("rendezvous-%d", time.Now().UnixNano()),
		ttl:        ttl,
	}
}

var _ Directory = (*RedisDirectory)(nil)

func key(id uint64) string { return keyPrefix + strconv.FormatUint(id, 10) }

func (r *RedisDirectory) Instance() string { return r.instanceID }

// TTL is the lifetime of a claim between refreshes.
func (r *RedisDirectory) TTL() time.Duration { return r.ttl }

func (r *RedisDirectory) Claim(ctx context.Context, id uint64) (bool, error) {
	ok, err := r.client.SetNX(ctx, key(id), r.instanceID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim failed: %w", err)
	}
	return ok, nil
}

func (r *RedisDirectory) Release(ctx context.Context, id uint64) error {
	if err := releaseScript.Run(ctx, r.client, []string{key(id)}, r.instanceID).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

func (r *RedisDirectory) Owner(ctx context.Context, id uint64) (string, error) {
	owner, err := r.client.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis owner lookup failed: %w", err)
	}
	return owner, nil
}

func (r *RedisDirectory) Refresh(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Eval(ctx, refreshSrc, []string{key(id)}, r.instanceID, r.ttl.Milliseconds())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis refresh failed: %w", err)
	}
	return nil
}

func (r *RedisDirectory) Close() error { return r.client.Close() }
