package orchestrator

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// registry owns every live session. Entries leave it only through reap or
// the size cap, which never evicts an Active session; front of lru is most
// recently used.
type registry struct {
	mu sync.Mutex

	ttl         time.Duration
	retention   time.Duration
	maxSessions int

	lru *list.List
	m   map[string]*list.Element
}

type entry struct {
	s        *Session
	lastUsed time.Time
}

func newRegistry(ttl, retention time.Duration, maxSessions int) *registry {
	return &registry{
		ttl:         ttl,
		retention:   retention,
		maxSessions: maxSessions,
		lru:         list.New(),
		m:           map[string]*list.Element{},
	}
}

// add registers s, first making room under the cap by evicting ended
// sessions. It fails with ErrCapacity when every held session is Active.
func (r *registry) add(s *Session, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxSessions > 0 {
		for r.lru.Len() >= r.maxSessions {
			if !r.evictOneLocked() {
				return fmt.Errorf("%w: %d sessions active", ErrCapacity, r.lru.Len())
			}
		}
	}
	r.m[s.ID] = r.lru.PushFront(&entry{s: s, lastUsed: now})
	return nil
}

func (r *registry) get(id string, now time.Time) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.m[id]
	if e == nil {
		return nil, false
	}
	it := e.Value.(*entry)
	it.lastUsed = now
	r.lru.MoveToFront(e)
	return it.s, true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// reap evicts idle and long-completed sessions and returns how many went.
func (r *registry) reap(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for e := r.lru.Back(); e != nil; {
		prev := e.Prev()
		it := e.Value.(*entry)
		state, completedAt := it.s.status()
		switch {
		case state == Completed && r.retention > 0 && now.Sub(completedAt) > r.retention:
			r.deleteLocked(e)
			n++
		case r.ttl > 0 && now.Sub(it.lastUsed) > r.ttl:
			r.deleteLocked(e)
			n++
		}
		e = prev
	}
	return n + r.evictOverLimitLocked()
}

func (r *registry) evictOverLimitLocked() int {
	if r.maxSessions <= 0 {
		return 0
	}
	n := 0
	for r.lru.Len() > r.maxSessions && r.evictOneLocked() {
		n++
	}
	return n
}

// evictOneLocked drops the least recently used Completed session, or failing
// that the least recently used Disconnected one.
func (r *registry) evictOneLocked() bool {
	for _, want := range []State{Completed, Disconnected} {
		for e := r.lru.Back(); e != nil; e = e.Prev() {
			if state, _ := e.Value.(*entry).s.status(); state == want {
				r.deleteLocked(e)
				return true
			}
		}
	}
	return false
}

func (r *registry) deleteLocked(e *list.Element) {
	r.lru.Remove(e)
	delete(r.m, e.Value.(*entry).s.ID)
}
