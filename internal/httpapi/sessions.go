package httpapi

import (
	"context"
	"sync"

	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/service"
	"podcastrag/internal/session"
)

// maxLiveSessions bounds the sessions held in memory when a store backs them.
const maxLiveSessions = 1024

// liveSession is one session held in memory. mu serializes its queries.
type liveSession struct {
	mu  sync.Mutex
	svc *service.QueryService
}

type registry struct {
	mu      sync.Mutex
	live    map[string]*liveSession
	limit   int
	factory Factory
	store   *session.Store
}

func newRegistry(factory Factory, store *session.Store) *registry {
	return &registry{live: make(map[string]*liveSession), limit: maxLiveSessions, factory: factory, store: store}
}

// get returns the live session id, restoring it from the store the first time it is seen.
func (r *registry) get(ctx context.Context, id string) (*liveSession, error) {
	if !session.ValidID(id) {
		return nil, rerrors.NewInvalidRequest("invalid session id: " + id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.live[id]; ok {
		return c, nil
	}
	c := &liveSession{svc: r.factory()}
	if r.store != nil {
		if err := r.store.LoadInto(ctx, id, c.svc.State()); err != nil {
			return nil, rerrors.NewInternal(err)
		}
		r.evictLocked()
	}
	r.live[id] = c
	return c, nil
}

// lookup returns the live session id without creating one.
func (r *registry) lookup(id string) (*liveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live[id]
	return c, ok
}

// evictLocked drops idle sessions until there is room for one more. Every
// evicted session is already persisted, so the next get restores it.
func (r *registry) evictLocked() {
	for id, c := range r.live {
		if len(r.live) < r.limit {
			return
		}
		if !c.mu.TryLock() {
			continue
		}
		delete(r.live, id)
		c.mu.Unlock()
	}
}

// save persists c under id. Callers hold c.mu.
func (r *registry) save(ctx context.Context, id string, c *liveSession) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveState(ctx, id, c.svc.State())
}

// history returns the turns and context of id from memory or the store.
// Unknown sessions are empty.
func (r *registry) history(ctx context.Context, id string) (historyResponse, error) {
	resp := historyResponse{SessionID: id}
	if c, ok := r.lookup(id); ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		resp.Turns, resp.Context = c.svc.History(), c.svc.Context()
		return resp, nil
	}
	if r.store == nil {
		return resp, nil
	}
	stored, err := r.store.Load(ctx, id)
	if rerrors.Is(err, rerrors.ErrNotFound) {
		return resp, nil
	}
	if err != nil {
		return resp, rerrors.NewInternal(err)
	}
	resp.Turns, resp.Context = stored.Turns, stored.Context
	return resp, nil
}

// clear empties the live copy of id, if any, and drops its stored copy.
func (r *registry) clear(ctx context.Context, id string) error {
	if c, ok := r.lookup(id); ok {
		c.mu.Lock()
		c.svc.ClearConversation()
		c.mu.Unlock()
	}
	if r.store == nil {
		return nil
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return rerrors.NewInternal(err)
	}
	return nil
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
