// Package busy tracks which proposals have an action in flight so the same
// transition cannot be dispatched twice concurrently.
package busy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
)

// Kind is the action a proposal is busy with
type Kind string

const (
	Accept  Kind = "accept"
	Discard Kind = "discard"
	Decline Kind = "decline"
)

// Kinds lists every tracked action.
var Kinds = []Kind{Accept, Discard, Decline}

// Guard is a set of in-flight (kind, proposal) pairs
type Guard interface {
	// Acquire marks the pair busy and reports false if it already was.
	Acquire(ctx context.Context, kind Kind, proposalID int64) (bool, error)
	Release(ctx context.Context, kind Kind, proposalID int64) error
	Busy(ctx context.Context, kind Kind, proposalID int64) (bool, error)
}

// Do runs fn while holding the pair. It returns apperr.ErrInProgress without
// calling fn when the pair is taken. The pair is released however fn returns.
func Do(ctx context.Context, g Guard, kind Kind, proposalID int64, fn func() error) error {
	ok, err := g.Acquire(ctx, kind, proposalID)
	if err != nil {
		return errors.Wrap(err, "failed to acquire busy guard")
	}
	if !ok {
		return apperr.ErrInProgress
	}
	defer func() {
		if err := g.Release(context.WithoutCancel(ctx), kind, proposalID); err != nil {
			slog.Error("failed to release busy guard", "kind", kind, "proposal_id", proposalID, "error", err)
		}
	}()
	return fn()
}

// AnyBusy reports whether any action is in flight for the proposal.
// Lookup errors count as busy.
func AnyBusy(ctx context.Context, g Guard, proposalID int64) bool {
	for _, k := range Kinds {
		if b, err := g.Busy(ctx, k, proposalID); err != nil || b {
			return true
		}
	}
	return false
}

type key struct {
	kind Kind
	id   int64
}

// MemoryGuard keeps the set in process memory
type MemoryGuard struct {
	mu       sync.Mutex
	inFlight map[key]struct{}
}

// NewMemoryGuard creates an empty in-process guard
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{inFlight: make(map[key]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, kind Kind, proposalID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key{kind, proposalID}
	if _, ok := g.inFlight[k]; ok {
		return false, nil
	}
	g.inFlight[k] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, kind Kind, proposalID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key{kind, proposalID})
	return nil
}

func (g *MemoryGuard) Busy(_ context.Context, kind Kind, proposalID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[key{kind, proposalID}]
	return ok, nil
}

const redisPrefix = "hire-checkout:busy:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisGuard shares the set between bot and API instances. Keys expire after
// ttl so a crashed holder cannot block a proposal forever. Each acquire
// stores its own token, and Release only removes a key this guard still owns.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration

	mu     sync.Mutex
	tokens map[key]string
}

// NewRedisGuard wraps a redis client
func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, tokens: make(map[key]string)}
}

// NewRedisClient parses a redis URL and returns a client
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis url")
	}
	return redis.NewClient(opt), nil
}

func redisKey(kind Kind, proposalID int64) string {
	return fmt.Sprintf("%s%s:%d", redisPrefix, kind, proposalID)
}

func (g *RedisGuard) Acquire(ctx context.Context, kind Kind, proposalID int64) (bool, error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, redisKey(kind, proposalID), token, g.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	if ok {
		g.mu.Lock()
		g.tokens[key{kind, proposalID}] = token
		g.mu.Unlock()
	}
	return ok, nil
}

// Release drops the pair if this guard holds it. A key that expired and was
// taken by another holder is left alone.
func (g *RedisGuard) Release(ctx context.Context, kind Kind, proposalID int64) error {
	k := key{kind, proposalID}
	g.mu.Lock()
	token, ok := g.tokens[k]
	delete(g.tokens, k)
	g.mu.Unlock()
	if !ok {
		return nil
	}
	err := releaseScript.Run(ctx, g.rdb, []string{redisKey(kind, proposalID)}, token).Err()
	return errors.Wrap(err, "redis release")
}

func (g *RedisGuard) Busy(ctx context.Context, kind Kind, proposalID int64) (bool, error) {
	n, err := g.rdb.Exists(ctx, redisKey(kind, proposalID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n > 0, nil
}
