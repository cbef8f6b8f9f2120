// Package msgstore holds the canonical ordered list of chat messages and
// broadcasts it to observers whenever it changes.
//
// The sequence is sorted by CreatedAt when it is replaced and append-only
// afterwards. Entries are unique by ID.
package msgstore

import (
	"slices"
	"sync"

	"github.com/Avicted/roomchat/internal/message"
)

// Observer receives a copy of the full ordered sequence. Observers run
// while the store holds its write lock: they may call Snapshot, Len and
// their own unsubscribe func, but
// calling ReplaceAll, Merge, Clear or Subscribe from an observer deadlocks.
type Observer func([]message.Message)

type Store struct {
	// emit serializes mutation and notification so observers see
	// snapshots in mutation order. It is held while observers run.
	emit sync.Mutex

	mu        sync.Mutex
	messages  []message.Message
	ids       map[message.ID]struct{}
	observers []observer
	nextObs   uint64
}

type observer struct {
	id uint64
	fn Observer
}

func New() *Store {
	return &Store{ids: make(map[message.ID]struct{})}
}

// ReplaceAll overwrites the contents with msgs ordered by CreatedAt.
// Later duplicates of an ID are dropped.
func (s *Store) ReplaceAll(msgs []message.Message) {
	s.emit.Lock()
	defer s.emit.Unlock()

	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b message.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	s.mu.Lock()
	s.messages = make([]message.Message, 0, len(sorted))
	s.ids = make(map[message.ID]struct{}, len(sorted))
	for _, msg := range sorted {
		if msg.ID != "" {
			if _, dup := s.ids[msg.ID]; dup {
				continue
			}
			s.ids[msg.ID] = struct{}{}
		}
		s.messages = append(s.messages, msg)
	}
	snapshot, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

// Merge appends msg unless an entry with the same ID exists. It reports
// whether an append happened; observers are notified only in that case.
func (s *Store) Merge(msg message.Message) bool {
	if msg.ID == "" {
		return false
	}

	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	if _, dup := s.ids[msg.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.ids[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	snapshot, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
	return true
}

func (s *Store) Clear() {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	s.messages = nil
	s.ids = make(map[message.ID]struct{})
	snapshot, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

// Subscribe registers fn and calls it once with the current snapshot.
// It must not be called from inside an observer.
// The returned func deregisters fn and may be called more than once.
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}

	s.emit.Lock()
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers = append(s.observers, observer{id: id, fn: fn})
	snapshot := slices.Clone(s.messages)
	s.mu.Unlock()
	fn(snapshot)
	s.emit.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.observers = slices.DeleteFunc(s.observers, func(o observer) bool { return o.id == id })
			s.mu.Unlock()
		})
	}
}

func (s *Store) Snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) snapshotLocked() ([]message.Message, []Observer) {
	observers := make([]Observer, len(s.observers))
	for i, o := range s.observers {
		observers[i] = o.fn
	}
	return slices.Clone(s.messages), observers
}

func notify(observers []Observer, snapshot []message.Message) {
	for _, fn := range observers {
		fn(slices.Clone(snapshot))
	}
}
