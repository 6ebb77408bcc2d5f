package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	updates []Data
	deletes []string
	err     error
}

func (r *recorder) Update(_ context.Context, d Data) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, d)
	return r.err
}

func (r *recorder) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, id)
	return r.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestStore(ttl time.Duration, opts ...Option) (*Store, *clock) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(ttl, opts...)
	s.now = c.Now
	return s, c
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	ctx := context.Background()

	sess := s.Create(ctx)
	assert.Len(t, sess.ID(), 32)

	got, ok := s.Get(ctx, sess.ID())
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = s.Get(ctx, "missing")
	assert.False(t, ok)
	assert.NotEqual(t, sess.ID(), s.Create(ctx).ID())
	assert.Equal(t, 2, s.Len())
}

func TestExpiry(t *testing.T) {
	rec := &recorder{}
	s, c := newTestStore(time.Minute, WithReplicator(rec))
	ctx := context.Background()

	sess := s.Create(ctx)
	c.now = c.now.Add(30 * time.Second)
	require.NoError(t, s.Save(ctx, sess))

	c.now = c.now.Add(45 * time.Second)
	_, ok := s.Get(ctx, sess.ID())
	assert.True(t, ok, "save extends the lifetime")

	c.now = c.now.Add(time.Minute)
	_, ok = s.Get(ctx, sess.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []string{sess.ID()}, rec.deletes)
}

func TestSweep(t *testing.T) {
	s, c := newTestStore(time.Minute)
	ctx := context.Background()

	old := s.Create(ctx)
	c.now = c.now.Add(50 * time.Second)
	fresh := s.Create(ctx)
	c.now = c.now.Add(20 * time.Second)

	assert.Equal(t, 1, s.Sweep(ctx))
	_, ok := s.Get(ctx, old.ID())
	assert.False(t, ok)
	_, ok = s.Get(ctx, fresh.ID())
	assert.True(t, ok)
}

func TestReplication(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestStore(time.Hour, WithReplicator(rec))
	ctx := context.Background()

	sess := s.Create(ctx)
	sess.Set("user", "ada")
	sess.InstanceID("weather1.0_pInstanceId=", func() string { return "abc" })
	require.NoError(t, s.Save(ctx, sess))

	require.Len(t, rec.updates, 1)
	assert.Equal(t, sess.ID(), rec.updates[0].ID)
	assert.Equal(t, "ada", rec.updates[0].Values["user"])
	assert.Equal(t, "abc", rec.updates[0].InstanceIDs["weather1.0_pInstanceId="])

	s.Destroy(ctx, sess.ID())
	s.Destroy(ctx, sess.ID())
	assert.Equal(t, []string{sess.ID()}, rec.deletes)
}

func TestSaveReportsReplicationFailure(t *testing.T) {
	rec := &recorder{err: fmt.Errorf("mothership down")}
	s, _ := newTestStore(time.Hour, WithReplicator(rec))
	ctx := context.Background()

	sess := s.Create(ctx)
	assert.Error(t, s.Save(ctx, sess))
	_, ok := s.Get(ctx, sess.ID())
	assert.True(t, ok, "the local copy survives")
}

func TestInstanceIDIsMemoized(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	sess := s.Create(context.Background())

	calls := 0
	derive := func() string {
		calls++
		return fmt.Sprintf("id-%d", calls)
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sess.InstanceID("key", derive)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "id-1", r)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, "id-2", sess.InstanceID("other", derive))
}

func TestAllAndClear(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.Create(ctx)
	}

	all := s.All()
	require.Len(t, all, 3)
	assert.Less(t, all[0].ID(), all[1].ID())
	assert.Less(t, all[1].ID(), all[2].ID())

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	sess := s.Create(context.Background())
	sess.Set("a", 1)

	snap := sess.Snapshot()
	snap.Values["a"] = 2

	v, ok := sess.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}
