package cooldown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	logx "skyalert/pkg/logx"
)

// ErrStoreUnavailable is returned by admin operations that cannot be served
// while the shared store is down AND no local state exists.
var ErrStoreUnavailable = errors.New("cooldown: shared store unavailable")

const defaultKeyPrefix = "cooldown:"

// retryAfter is how long the coordinator stays in fallback mode before
// probing the shared store again.
const retryAfter = 30 * time.Second

// localEntry mirrors a shared-store cooldown record in process memory.
type localEntry struct {
	firedAt time.Time
	expires time.Time
}

// Coordinator enforces the per-(rule, aircraft) minimum fire interval.
//
// Primary path is an atomic SETNX-with-TTL against Redis, which stays correct
// across many concurrent evaluator processes. When Redis is unreachable the
// coordinator degrades to a process-local map with identical semantics.
// Fallback mode sacrifices cross-process exclusion: two processes can each
// fire once within a window. That is an accepted degradation; the transition
// is logged once per direction, not per call.
type Coordinator struct {
	rdb    *redis.Client // nil means local-only operation
	prefix string
	log    logx.Logger

	mu        sync.Mutex
	local     map[string]localEntry
	degraded  bool
	retryAt   time.Time
	transitions uint64 // fallback transitions, for operational visibility
}

// New creates a coordinator. rdb may be nil for local-only operation
// (tests, single-process deployments without Redis).
func New(rdb *redis.Client, keyPrefix string, log logx.Logger) *Coordinator {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		rdb:    rdb,
		prefix: keyPrefix,
		log:    log,
		local:  map[string]localEntry{},
	}
}

func (c *Coordinator) key(ruleID, hex string) string {
	return c.prefix + ruleID + ":" + hex
}

// CheckAndSet atomically claims the (rule, aircraft) cooldown slot.
//
// Returns (true, nil, nil) when the caller may fire now; the slot is then
// held for the cooldown duration. Returns (false, lastFire, nil) while the
// pair is still cooling. The race where the key expires between the
// conditional set and the follow-up read resolves as "may fire".
func (c *Coordinator) CheckAndSet(ctx context.Context, ruleID, hex string, cooldown time.Duration) (bool, *time.Time, error) {
	if cooldown <= 0 {
		return true, nil, nil
	}
	now := time.Now()
	key := c.key(ruleID, hex)

	if c.useRedis(now) {
		ok, last, err := c.redisCheckAndSet(ctx, key, now, cooldown)
		if err == nil {
			c.markHealthy()
			return ok, last, nil
		}
		c.markDegraded(err)
	}

	return c.localCheckAndSet(key, now, cooldown), c.localLastFire(key, now), nil
}

func (c *Coordinator) redisCheckAndSet(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, *time.Time, error) {
	set, err := c.rdb.SetNX(ctx, key, now.UTC().Format(time.RFC3339Nano), cooldown).Result()
	if err != nil {
		return false, nil, err
	}
	if set {
		return true, nil, nil
	}

	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// Key expired between SETNX and GET: claim it now rather than
		// blocking the fire. A racing claim simply wins the slot.
		_, err := c.rdb.SetNX(ctx, key, now.UTC().Format(time.RFC3339Nano), cooldown).Result()
		if err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	if t, perr := time.Parse(time.RFC3339Nano, val); perr == nil {
		return false, &t, nil
	}
	return false, nil, nil
}

func (c *Coordinator) localCheckAndSet(key string, now time.Time, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.local[key]; ok && now.Before(e.expires) {
		return false
	}
	c.local[key] = localEntry{firedAt: now, expires: now.Add(cooldown)}
	return true
}

func (c *Coordinator) localLastFire(key string, now time.Time) *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.local[key]; ok && now.Before(e.expires) && !e.firedAt.Equal(now) {
		t := e.firedAt
		return &t
	}
	return nil
}

// ---- degradation bookkeeping ----

func (c *Coordinator) useRedis(now time.Time) bool {
	if c.rdb == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.degraded {
		return true
	}
	// Probe again once the hold-off has elapsed.
	return now.After(c.retryAt)
}

func (c *Coordinator) markDegraded(err error) {
	c.mu.Lock()
	wasDegraded := c.degraded
	c.degraded = true
	c.retryAt = time.Now().Add(retryAfter)
	if !wasDegraded {
		c.transitions++
	}
	c.mu.Unlock()

	if !wasDegraded {
		c.log.Warn("cooldown store unreachable; falling back to process-local tracking",
			logx.Err(err))
	}
}

func (c *Coordinator) markHealthy() {
	c.mu.Lock()
	wasDegraded := c.degraded
	c.degraded = false
	c.mu.Unlock()

	if wasDegraded {
		c.log.Info("cooldown store recovered; resuming shared tracking")
	}
}

// Degraded reports whether the coordinator is currently in fallback mode.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// ---- administrative operations ----
// All operate against whichever backing is currently active; when Redis is
// healthy they clear both so local residue never resurrects a cooldown.

// ClearRule removes all cooldowns for one rule. Returns entries removed.
func (c *Coordinator) ClearRule(ctx context.Context, ruleID string) (int64, error) {
	return c.clearMatching(ctx, c.prefix+ruleID+":*", func(key string) bool {
		return strings.HasPrefix(key, c.prefix+ruleID+":")
	})
}

// ClearAircraft removes all cooldowns for one aircraft across rules.
func (c *Coordinator) ClearAircraft(ctx context.Context, hex string) (int64, error) {
	return c.clearMatching(ctx, c.prefix+"*:"+hex, func(key string) bool {
		return strings.HasPrefix(key, c.prefix) && strings.HasSuffix(key, ":"+hex)
	})
}

// ClearAll removes every outstanding cooldown.
func (c *Coordinator) ClearAll(ctx context.Context) (int64, error) {
	return c.clearMatching(ctx, c.prefix+"*", func(key string) bool {
		return strings.HasPrefix(key, c.prefix)
	})
}

func (c *Coordinator) clearMatching(ctx context.Context, pattern string, match func(string) bool) (int64, error) {
	var removed int64

	c.mu.Lock()
	for k := range c.local {
		if match(k) {
			delete(c.local, k)
			removed++
		}
	}
	degraded := c.degraded
	c.mu.Unlock()

	if c.rdb == nil || degraded {
		return removed, nil
	}

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			c.markDegraded(err)
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				c.markDegraded(err)
				return removed, err
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// Count reports the number of outstanding cooldown entries.
func (c *Coordinator) Count(ctx context.Context) (int64, error) {
	c.mu.Lock()
	degraded := c.degraded || c.rdb == nil
	var localCount int64
	now := time.Now()
	for _, e := range c.local {
		if now.Before(e.expires) {
			localCount++
		}
	}
	c.mu.Unlock()

	if degraded {
		return localCount, nil
	}

	var total int64
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, c.prefix+"*", 500).Result()
		if err != nil {
			c.markDegraded(err)
			return localCount, err
		}
		total += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// Remaining reports how long the (rule, aircraft) pair keeps cooling.
// ok is false when no cooldown is outstanding.
func (c *Coordinator) Remaining(ctx context.Context, ruleID, hex string) (time.Duration, bool, error) {
	key := c.key(ruleID, hex)
	now := time.Now()

	if c.useRedis(now) {
		ttl, err := c.rdb.TTL(ctx, key).Result()
		if err == nil {
			c.markHealthy()
			if ttl > 0 {
				return ttl, true, nil
			}
			return 0, false, nil
		}
		c.markDegraded(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.local[key]; ok && now.Before(e.expires) {
		return e.expires.Sub(now), true, nil
	}
	return 0, false, nil
}

// PruneLocal drops expired fallback entries. Redis entries expire via TTL;
// the local map needs periodic sweeping (driven by the maintenance cron).
func (c *Coordinator) PruneLocal() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for k, e := range c.local {
		if !now.Before(e.expires) {
			delete(c.local, k)
			n++
		}
	}
	return n
}
