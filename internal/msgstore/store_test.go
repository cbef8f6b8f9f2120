package msgstore

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Avicted/roomchat/internal/message"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) message.Message {
	return message.Message{
		ID:          message.ID(id),
		AuthorID:    "u-" + id,
		AuthorLabel: "author",
		Body:        "body " + id,
		CreatedAt:   t0.Add(offset),
	}
}

func ids(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.ID)
	}
	return out
}

type recorder struct {
	mu    sync.Mutex
	calls [][]message.Message
}

func (r *recorder) observe(msgs []message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msgs)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func TestReplaceAllOrdersByCreatedAt(t *testing.T) {
	s := New()
	s.ReplaceAll([]message.Message{msg("3", 3*time.Second), msg("1", time.Second), msg("2", 2*time.Second)})
	assert.Equal(t, []string{"1", "2", "3"}, ids(s.Snapshot()))
}

func TestReplaceAllKeepsStableOrderForEqualTimestamps(t *testing.T) {
	s := New()
	s.ReplaceAll([]message.Message{msg("b", 0), msg("a", 0), msg("c", 0)})
	assert.Equal(t, []string{"b", "a", "c"}, ids(s.Snapshot()))
}

func TestReplaceAllDropsDuplicateIDs(t *testing.T) {
	s := New()
	s.ReplaceAll([]message.Message{msg("1", 0), msg("1", time.Second), msg("2", 2*time.Second)})
	assert.Equal(t, []string{"1", "2"}, ids(s.Snapshot()))
}

func TestMergeAppendsWithoutReordering(t *testing.T) {
	s := New()
	s.ReplaceAll([]message.Message{msg("1", time.Second), msg("2", 2*time.Second)})

	// older timestamp still lands at the tail
	require.True(t, s.Merge(msg("0", 0)))
	require.True(t, s.Merge(msg("3", 3*time.Second)))
	assert.Equal(t, []string{"1", "2", "0", "3"}, ids(s.Snapshot()))
}

func TestMergeDuplicateIsIgnoredWithoutNotification(t *testing.T) {
	s := New()
	s.ReplaceAll([]message.Message{msg("1", time.Second), msg("2", 2*time.Second)})

	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.observe)
	defer unsubscribe()
	require.Equal(t, 1, rec.count(), "subscribe replays the current snapshot")

	assert.False(t, s.Merge(msg("2", 5*time.Second)))
	assert.Equal(t, []string{"1", "2"}, ids(s.Snapshot()))
	assert.Equal(t, 1, rec.count(), "duplicate merge must not notify")
}

func TestMergeRejectsEmptyID(t *testing.T) {
	s := New()
	assert.False(t, s.Merge(msg("", 0)))
	assert.Equal(t, 0, s.Len())
}

func TestMergeNeverDuplicatesUnderRandomDelivery(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New()
	s.ReplaceAll([]message.Message{msg("m0", 0), msg("m1", time.Second)})

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("m%d", rng.Intn(40))
		s.Merge(msg(id, time.Duration(i)*time.Millisecond))
	}

	seen := map[message.ID]bool{}
	for _, m := range s.Snapshot() {
		require.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
	assert.Equal(t, []string{"m0", "m1"}, ids(s.Snapshot()[:2]), "prefix from the initial load is preserved")
}

func TestSubscribeReplaysAndFollowsChanges(t *testing.T) {
	s := New()
	s.ReplaceAll([]message.Message{msg("1", 0)})

	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.observe)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, []string{"1"}, ids(rec.last()))

	s.Merge(msg("2", time.Second))
	require.Equal(t, 2, rec.count())
	assert.Equal(t, []string{"1", "2"}, ids(rec.last()))

	s.Clear()
	require.Equal(t, 3, rec.count())
	assert.Empty(t, rec.last())

	unsubscribe()
	unsubscribe()
	s.Merge(msg("3", 2*time.Second))
	assert.Equal(t, 3, rec.count(), "no notifications after unsubscribe")
}

func TestObserverSnapshotsAreCopies(t *testing.T) {
	s := New()
	s.ReplaceAll([]message.Message{msg("1", 0)})

	var got []message.Message
	unsubscribe := s.Subscribe(func(msgs []message.Message) { got = msgs })
	defer unsubscribe()

	got[0].Body = "tampered"
	assert.Equal(t, "body 1", s.Snapshot()[0].Body)
}

func TestClearResetsDedupIndex(t *testing.T) {
	s := New()
	s.ReplaceAll([]message.Message{msg("1", 0)})
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Merge(msg("1", 0)), "ids are forgotten after clear")
}

func TestObserverMayUnsubscribeItself(t *testing.T) {
	s := New()
	var unsubscribe func()
	calls := 0
	unsubscribe = s.Subscribe(func([]message.Message) {
		calls++
		if calls == 2 {
			unsubscribe()
		}
	})
	s.Merge(msg("1", 0))
	s.Merge(msg("2", time.Second))
	assert.Equal(t, 2, calls)
}

func TestObserverMayReadTheStore(t *testing.T) {
	s := New()
	var lens []int
	var lastSnapshot []message.Message
	s.Subscribe(func(msgs []message.Message) {
		lens = append(lens, s.Len())
		lastSnapshot = s.Snapshot()
	})

	s.Merge(msg("1", 0))
	s.Merge(msg("2", time.Second))
	s.Clear()

	assert.Equal(t, []int{0, 1, 2, 0}, lens)
	assert.Empty(t, lastSnapshot)
}

func TestConcurrentMergesKeepUniqueIDs(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Merge(msg(fmt.Sprintf("id-%d", i), time.Duration(i)))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
