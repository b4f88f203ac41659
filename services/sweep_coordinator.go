package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sidequests/clock"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SweepCoordinator elects the replica that sweeps on a given tick and keeps
// the last sweep report.
type SweepCoordinator interface {
	// Acquire takes the sweep lease for ttl. It returns the lease token, or
	// ok false when another holder has it.
	Acquire(ctx context.Context, ttl time.Duration) (token string, ok bool, err error)
	// Release gives the lease back if token still holds it.
	Release(ctx context.Context, token string) error
	Record(ctx context.Context, report SweepReport) error
	// Last returns nil when no sweep has been recorded.
	Last(ctx context.Context) (*SweepReport, error)
}

// LocalCoordinator coordinates sweeps inside a single process.
type LocalCoordinator struct {
	clock clock.Clock

	mu      sync.Mutex
	token   string
	expires time.Time
	last    *SweepReport
}

func NewLocalCoordinator(clk clock.Clock) *LocalCoordinator {
	return &LocalCoordinator{clock: clk}
}

func (c *LocalCoordinator) Acquire(_ context.Context, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if c.token != "" && now.Before(c.expires) {
		return "", false, nil
	}
	c.token = uuid.NewString()
	c.expires = now.Add(ttl)
	return c.token, true, nil
}

func (c *LocalCoordinator) Release(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
	return nil
}

func (c *LocalCoordinator) Record(_ context.Context, report SweepReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &report
	return nil
}

func (c *LocalCoordinator) Last(context.Context) (*SweepReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil, nil
	}
	report := *c.last
	return &report, nil
}

const (
	sweepLeaseKey  = "quests:sweep:lease"
	sweepReportKey = "quests:sweep:last"
)

// releaseScript deletes the lease only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCoordinator shares the sweep lease across replicas through Redis.
type RedisCoordinator struct {
	client *redis.Client
	prefix string
}

// NewRedisCoordinator namespaces its keys under prefix, which may be empty.
func NewRedisCoordinator(client *redis.Client, prefix string) *RedisCoordinator {
	return &RedisCoordinator{client: client, prefix: prefix}
}

func (c *RedisCoordinator) key(name string) string {
	return c.prefix + name
}

func (c *RedisCoordinator) Acquire(ctx context.Context, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, c.key(sweepLeaseKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire sweep lease: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (c *RedisCoordinator) Release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.key(sweepLeaseKey)}, token).Err(); err != nil {
		return fmt.Errorf("release sweep lease: %w", err)
	}
	return nil
}

func (c *RedisCoordinator) Record(ctx context.Context, report SweepReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(sweepReportKey), data, 0).Err(); err != nil {
		return fmt.Errorf("record sweep report: %w", err)
	}
	return nil
}

func (c *RedisCoordinator) Last(ctx context.Context) (*SweepReport, error) {
	data, err := c.client.Get(ctx, c.key(sweepReportKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sweep report: %w", err)
	}
	var report SweepReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode sweep report: %w", err)
	}
	return &report, nil
}
