// Package cache keeps active exams in Redis in front of the SQL store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/examdesk/internal/model"
)

// ExamLoader fetches the active exam of a grade and variant from the
// backing store. It returns nil when there is none.
type ExamLoader interface {
	ActiveExam(ctx context.Context, grade string, variant model.Variant) (*model.Exam, error)
}

// ExamCache caches active exams as JSON strings under exam:{grade}:{variant}
// and falls back to a loader on a miss. examgen:{grade}:{variant} counts
// invalidations. Absent exams are not cached. Redis
// failures are logged and the loader is used directly.
type ExamCache struct {
	client *redis.Client
	loader ExamLoader
	ttl    time.Duration
	sf     singleflight.Group
}

// New creates an ExamCache. A non-positive ttl keeps entries until they are
// invalidated.
func New(client *redis.Client, loader ExamLoader, ttl time.Duration) *ExamCache {
	return &ExamCache{client: client, loader: loader, ttl: ttl}
}

// loadTimeout bounds a store load shared by concurrent callers. The load
// does not follow any one caller's cancellation.
const loadTimeout = 10 * time.Second

// setIfCurrent writes the entry only while the generation counter still has
// the value read before the load, so a load that raced an invalidation
// cannot cache the old exam.
var setIfCurrent = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[2] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
  redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// ActiveExam implements the exam lookup used by the attempt lifecycle.
func (c *ExamCache) ActiveExam(ctx context.Context, grade string, variant model.Variant) (*model.Exam, error) {
	key := examKey(grade, variant)
	if e, ok := c.get(ctx, key); ok {
		return e, nil
	}

	ch := c.sf.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		// Another caller may have filled the entry while we waited.
		if e, ok := c.get(lctx, key); ok {
			return e, nil
		}
		gen, genOK := c.generation(lctx, grade, variant)
		e, err := c.loader.ActiveExam(lctx, grade, variant)
		if err != nil || e == nil {
			return e, err
		}
		if genOK {
			c.set(lctx, grade, variant, gen, e)
		}
		return e, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		e, _ := res.Val.(*model.Exam)
		return e, nil
	}
}

// Invalidate drops the cached exam of a grade and variant and bumps its
// generation, so loads that started before the call do not cache their
// result.
func (c *ExamCache) Invalidate(ctx context.Context, grade string, variant model.Variant) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(grade, variant))
		pipe.Del(ctx, examKey(grade, variant))
		return nil
	})
	return err
}

// Ping checks that Redis is reachable.
func (c *ExamCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ExamCache) get(ctx context.Context, key string) (*model.Exam, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("exam cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var e model.Exam
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("dropping undecodable exam cache entry", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return &e, true
}

func (c *ExamCache) generation(ctx context.Context, grade string, variant model.Variant) (string, bool) {
	gen, err := c.client.Get(ctx, genKey(grade, variant)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0", true
	case err != nil:
		slog.Warn("exam cache generation read failed", "grade", grade, "variant", variant, "error", err)
		return "", false
	}
	return gen, true
}

func (c *ExamCache) set(ctx context.Context, grade string, variant model.Variant, gen string, e *model.Exam) {
	key := examKey(grade, variant)
	raw, err := json.Marshal(e)
	if err != nil {
		slog.Warn("failed to encode exam for cache", "key", key, "error", err)
		return
	}
	ttl := c.ttlWithJitter().Milliseconds()
	stored, err := setIfCurrent.Run(ctx, c.client, []string{key, genKey(grade, variant)}, raw, gen, ttl).Int()
	if err != nil {
		slog.Warn("exam cache write failed", "key", key, "error", err)
		return
	}
	if stored == 0 {
		slog.Debug("exam changed during load, not caching", "key", key)
	}
}

// ttlWithJitter spreads expiry over up to 10% past the ttl so entries
// written together do not expire together.
func (c *ExamCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int64N(jitterMax+1))
}

func examKey(grade string, variant model.Variant) string {
	return "exam:" + grade + ":" + string(variant)
}

func genKey(grade string, variant model.Variant) string {
	return "examgen:" + grade + ":" + string(variant)
}
