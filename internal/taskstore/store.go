// Package taskstore holds the bounded, TTL-evicting task queue of every relay.
//
// Tasks live in per-relay buckets. The map lock is only held to resolve a
// bucket; all reads and writes of a relay's tasks happen under that
// bucket's own mutex, so relays never wait on each other.
package taskstore

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"relayd/internal/relay"

	"github.com/google/uuid"
)

// Expired reports whether a task created at created is past its TTL at now.
// It applies to every status.
func Expired(created, now time.Time, ttl time.Duration) bool {
	return now.Sub(created) > ttl
}

// Option customizes a Store
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps and expiry
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator replaces the task id generator
func WithIDGenerator(gen func() relay.TaskID) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// Store is the process-wide task store
type Store struct {
	ttl      time.Duration
	maxTasks int
	now      func() time.Time
	newID    func() relay.TaskID

	mu      sync.RWMutex
	buckets map[relay.RelayID]*bucket
}

type bucket struct {
	mu    sync.Mutex
	tasks []*relay.Task // insertion order
	// dead is set once the sweeper detached the bucket from the map
	dead atomic.Bool
}

// New creates a task store with the given TTL and per-relay capacity
func New(ttl time.Duration, maxTasksPerRelay int, opts ...Option) *Store {
	s := &Store{
		ttl:      ttl,
		maxTasks: maxTasksPerRelay,
		now:      time.Now,
		newID:    func() relay.TaskID { return relay.TaskID(uuid.New().String()) },
		buckets:  make(map[relay.RelayID]*bucket),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the task time to live
func (s *Store) TTL() time.Duration { return s.ttl }

// MaxTasksPerRelay returns the per-relay capacity
func (s *Store) MaxTasksPerRelay() int { return s.maxTasks }

// StoreTask creates a pending task for a relay.
// Relays unknown to the registry are accepted.
func (s *Store) StoreTask(relayID relay.RelayID, spec relay.TaskSpec) (relay.Task, error) {
	for {
		b := s.bucket(relayID, true)
		b.mu.Lock()
		if b.dead.Load() {
			// Detached by the sweeper between lookup and lock; resolve again.
			b.mu.Unlock()
			continue
		}

		now := s.now()
		b.prune(now, s.ttl)
		if len(b.tasks) >= s.maxTasks {
			b.mu.Unlock()
			return relay.Task{}, relay.NewTooManyTasksError(relayID, s.maxTasks)
		}

		task := &relay.Task{
			ID:        s.newID(),
			RelayID:   relayID,
			Spec:      spec,
			Status:    relay.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		b.tasks = append(b.tasks, task)
		snapshot := copyTask(task)
		b.mu.Unlock()
		return snapshot, nil
	}
}

// GetTasks returns the live tasks of a relay in creation order, optionally
// filtered by status. Unknown relays yield an empty list.
func (s *Store) GetTasks(relayID relay.RelayID, status *relay.Status) []relay.Task {
	result := []relay.Task{}

	b := s.bucket(relayID, false)
	if b == nil {
		return result
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(s.now(), s.ttl)
	for _, task := range b.tasks {
		if status != nil && task.Status != *status {
			continue
		}
		result = append(result, copyTask(task))
	}
	return result
}

// UpdateTask records the result of a pending task.
// A relay without any live task is reported as unknown.
func (s *Store) UpdateTask(relayID relay.RelayID, taskID relay.TaskID, resultType relay.ResultType, payload []byte) (relay.Task, error) {
	b := s.bucket(relayID, false)
	if b == nil {
		return relay.Task{}, relay.NewRelayNotFoundError(relayID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := s.now()
	b.prune(now, s.ttl)
	if len(b.tasks) == 0 {
		return relay.Task{}, relay.NewRelayNotFoundError(relayID)
	}

	for _, task := range b.tasks {
		if task.ID != taskID {
			continue
		}
		if task.Status.Terminal() {
			return relay.Task{}, relay.NewInvalidTransitionError(taskID, task.Status)
		}
		task.Status = relay.StatusFor(resultType)
		task.ResultType = resultType
		task.ResultPayload = bytes.Clone(payload)
		task.UpdatedAt = now
		return copyTask(task), nil
	}

	return relay.Task{}, relay.NewTaskNotFoundError(relayID, taskID)
}

// Count returns the number of live tasks held for a relay
func (s *Store) Count(relayID relay.RelayID) int {
	return len(s.GetTasks(relayID, nil))
}

// Prune drops expired tasks of every relay and detaches empty buckets.
// It returns the number of tasks removed.
func (s *Store) Prune() int {
	s.mu.RLock()
	snapshot := make(map[relay.RelayID]*bucket, len(s.buckets))
	for id, b := range s.buckets {
		snapshot[id] = b
	}
	s.mu.RUnlock()

	removed := 0
	now := s.now()
	for id, b := range snapshot {
		b.mu.Lock()
		removed += b.prune(now, s.ttl)
		empty := len(b.tasks) == 0
		if empty {
			b.dead.Store(true)
		}
		b.mu.Unlock()

		if empty {
			s.mu.Lock()
			if s.buckets[id] == b {
				delete(s.buckets, id)
			}
			s.mu.Unlock()
		}
	}
	return removed
}

// bucket resolves the bucket of a relay, creating it when create is set
func (s *Store) bucket(relayID relay.RelayID, create bool) *bucket {
	s.mu.RLock()
	b := s.buckets[relayID]
	s.mu.RUnlock()
	if b != nil && !b.dead.Load() {
		return b
	}
	if !create {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b = s.buckets[relayID]
	if b == nil || b.dead.Load() {
		b = &bucket{}
		s.buckets[relayID] = b
	}
	return b
}

// prune removes expired tasks keeping order; caller holds b.mu
func (b *bucket) prune(now time.Time, ttl time.Duration) int {
	kept := b.tasks[:0]
	for _, task := range b.tasks {
		if !Expired(task.CreatedAt, now, ttl) {
			kept = append(kept, task)
		}
	}
	removed := len(b.tasks) - len(kept)
	for i := len(kept); i < len(b.tasks); i++ {
		b.tasks[i] = nil
	}
	b.tasks = kept
	return removed
}

func copyTask(task *relay.Task) relay.Task {
	c := *task
	c.ResultPayload = bytes.Clone(task.ResultPayload)
	return c
}
