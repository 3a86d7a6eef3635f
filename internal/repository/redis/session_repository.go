package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

const (
	keyPrefix = "cba:session:"
	indexKey  = "cba:sessions:lru"
)

// SessionRepository shares sessions between instances. Each key carries
// the idle TTL, refreshed by GETEX on read. A sorted set scored by last
// access caps the live count at maxEntries; Save evicts the oldest.
type SessionRepository struct {
	rdb        *goredis.Client
	ttl        time.Duration
	maxEntries int
	index      string
}

var _ store.SessionStore = (*SessionRepository)(nil)

func NewSessionRepository(rdb *goredis.Client, ttl time.Duration, maxEntries int) *SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &SessionRepository{rdb: rdb, ttl: ttl, maxEntries: maxEntries, index: indexKey}
}

func (r *SessionRepository) Get(ctx context.Context, key string) (*store.Session, error) {
	raw, err := r.rdb.GetEx(ctx, keyPrefix+key, r.ttl).Bytes()
	if errors.Is(err, goredis.Nil) {
		r.rdb.ZRem(ctx, r.index, key)
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session store.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	r.touch(ctx, r.rdb, key)
	return &session, nil
}

func (r *SessionRepository) Save(ctx context.Context, session *store.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	key := session.Key()
	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+key, raw, r.ttl)
		r.touch(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return r.evict(ctx)
}

func (r *SessionRepository) Delete(ctx context.Context, key string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keyPrefix+key)
		pipe.ZRem(ctx, r.index, key)
		return nil
	})
	return err
}

// Len reports the indexed session count.
func (r *SessionRepository) Len(ctx context.Context) (int64, error) {
	return r.rdb.ZCard(ctx, r.index).Result()
}

func (r *SessionRepository) touch(ctx context.Context, cmd goredis.Cmdable, key string) {
	cmd.ZAdd(ctx, r.index, goredis.Z{Score: float64(time.Now().UnixMilli()), Member: key})
}

// evict drops index members whose keys already expired, then pops the
// least recently used entries beyond maxEntries and deletes their keys.
func (r *SessionRepository) evict(ctx context.Context) error {
	cutoff := time.Now().Add(-r.ttl).UnixMilli()
	if err := r.rdb.ZRemRangeByScore(ctx, r.index, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return fmt.Errorf("redis prune session index: %w", err)
	}

	count, err := r.rdb.ZCard(ctx, r.index).Result()
	if err != nil {
		return fmt.Errorf("redis count sessions: %w", err)
	}
	over := overflow(count, r.maxEntries)
	if over == 0 {
		return nil
	}

	popped, err := r.rdb.ZPopMin(ctx, r.index, over).Result()
	if err != nil {
		return fmt.Errorf("redis evict sessions: %w", err)
	}
	keys := make([]string, 0, len(popped))
	for _, z := range popped {
		if member, ok := z.Member.(string); ok {
			keys = append(keys, keyPrefix+member)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func overflow(count int64, maxEntries int) int64 {
	if count <= int64(maxEntries) {
		return 0
	}
	return count - int64(maxEntries)
}
