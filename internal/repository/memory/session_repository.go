package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

const (
	EvictedExpired  = "expired"
	EvictedCapacity = "capacity"
)

// SessionRepository is a bounded session cache. go-cache owns the idle
// TTL, refreshed on every Get and Save; the recency list enforces the
// size bound.
//
// Policy: a Get on an expired entry is a miss even if the entry is still
// the most recently used. A Save of a new key first purges every expired
// entry and only then evicts least-recently-used live entries.
type SessionRepository struct {
	mu         sync.Mutex
	cache      *cache.Cache
	order      *list.List
	index      map[string]*list.Element
	maxEntries int
	onEvict    store.EvictionListener
}

type entry struct {
	key     string
	session *store.Session
}

var _ store.SessionStore = (*SessionRepository)(nil)

func NewSessionRepository(maxEntries int, ttl time.Duration, onEvict store.EvictionListener) *SessionRepository {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	// Expired entries are purged on write; no janitor goroutine.
	c := cache.New(ttl, 0)
	return &SessionRepository{
		cache:      c,
		order:      list.New(),
		index:      make(map[string]*list.Element),
		maxEntries: maxEntries,
		onEvict:    onEvict,
	}
}

func (r *SessionRepository) Get(_ context.Context, key string) (*store.Session, error) {
	r.mu.Lock()
	x, found := r.cache.Get(key)
	if !found {
		expired := r.dropLocked(key)
		r.mu.Unlock()
		if expired != nil {
			r.notify([]*store.Session{expired}, EvictedExpired)
		}
		return nil, store.ErrSessionNotFound
	}

	e := x.(*entry)
	r.cache.SetDefault(key, e)
	if el, ok := r.index[key]; ok {
		r.order.MoveToFront(el)
	}
	r.mu.Unlock()

	return e.session.Clone(), nil
}

func (r *SessionRepository) Save(_ context.Context, session *store.Session) error {
	key := session.Key()
	snapshot := session.Clone()

	r.mu.Lock()
	var expired, evicted []*store.Session

	if _, live := r.cache.Get(key); !live {
		if s := r.dropLocked(key); s != nil {
			expired = append(expired, s)
		}
		expired = append(expired, r.purgeExpiredLocked()...)
		for r.order.Len() >= r.maxEntries {
			oldest := r.order.Back()
			if s := r.dropLocked(oldest.Value.(*entry).key); s != nil {
				evicted = append(evicted, s)
			}
		}
	}

	if el, ok := r.index[key]; ok {
		e := el.Value.(*entry)
		e.session = snapshot
		r.cache.SetDefault(key, e)
		r.order.MoveToFront(el)
	} else {
		e := &entry{key: key, session: snapshot}
		r.cache.SetDefault(key, e)
		r.index[key] = r.order.PushFront(e)
	}
	r.mu.Unlock()

	r.notify(expired, EvictedExpired)
	r.notify(evicted, EvictedCapacity)
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Delete(key)
	if el, ok := r.index[key]; ok {
		r.order.Remove(el)
		delete(r.index, key)
	}
	return nil
}

// Len counts tracked entries, including expired ones not yet purged.
func (r *SessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// dropLocked removes key from both structures and returns the session it
// held, or nil when the key was untracked.
func (r *SessionRepository) dropLocked(key string) *store.Session {
	el, ok := r.index[key]
	if !ok {
		return nil
	}
	r.order.Remove(el)
	delete(r.index, key)
	r.cache.Delete(key)
	return el.Value.(*entry).session
}

func (r *SessionRepository) purgeExpiredLocked() []*store.Session {
	var expired []*store.Session
	for el := r.order.Back(); el != nil; {
		prev := el.Prev()
		key := el.Value.(*entry).key
		if _, live := r.cache.Get(key); !live {
			if s := r.dropLocked(key); s != nil {
				expired = append(expired, s)
			}
		}
		el = prev
	}
	return expired
}

func (r *SessionRepository) notify(sessions []*store.Session, reason string) {
	if r.onEvict == nil {
		return
	}
	for _, s := range sessions {
		r.onEvict(s, reason)
	}
}
