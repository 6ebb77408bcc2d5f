// Package session keeps per-visitor state between requests. Its main job
// for rendering is to remember the instance ids handed out to component
// instances so they stay stable across requests.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/rain/internal/logging"
)

// Session is the server-side state of one visitor.
type Session struct {
	id string

	mu          sync.Mutex
	values      map[string]interface{}
	instanceIDs map[string]string
	expires     time.Time
}

// Data is the serializable form of a Session.
type Data struct {
	ID          string                 `json:"id" msgpack:"id"`
	Expires     time.Time              `json:"expires" msgpack:"expires"`
	Values      map[string]interface{} `json:"values,omitempty" msgpack:"values,omitempty"`
	InstanceIDs map[string]string      `json:"instance_ids,omitempty" msgpack:"instance_ids,omitempty"`
}

func newSession(id string, expires time.Time) *Session {
	return &Session{
		id:          id,
		values:      make(map[string]interface{}),
		instanceIDs: make(map[string]string),
		expires:     expires,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// InstanceID returns the instance id remembered under key, calling derive
// and remembering its result the first time.
func (s *Session) InstanceID(key string, derive func() string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.instanceIDs[key]; ok {
		return id
	}
	id := derive()
	s.instanceIDs[key] = id
	return id
}

// Get returns a stored value.
func (s *Session) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value.
func (s *Session) Set(key string, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Expires returns when the session lapses unless saved again.
func (s *Session) Expires() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expires
}

// Snapshot copies the session into its serializable form.
func (s *Session) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Data{
		ID:          s.id,
		Expires:     s.expires,
		Values:      make(map[string]interface{}, len(s.values)),
		InstanceIDs: make(map[string]string, len(s.instanceIDs)),
	}
	for k, v := range s.values {
		d.Values[k] = v
	}
	for k, v := range s.instanceIDs {
		d.InstanceIDs[k] = v
	}
	return d
}

// Replicator mirrors session changes to another process.
type Replicator interface {
	Update(ctx context.Context, d Data) error
	Delete(ctx context.Context, id string) error
}

// Store is an in-memory session store with expiry.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	ttl        time.Duration
	replicator Replicator
	logger     logging.Logger
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithReplicator mirrors every save and destroy to r.
func WithReplicator(r Replicator) Option {
	return func(s *Store) { s.replicator = r }
}

// WithLogger sets the store's logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent("session") }
}

// NewStore creates a store whose sessions live for ttl after their last save.
func NewStore(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live session with id. Expired sessions are destroyed.
func (s *Store) Get(ctx context.Context, id string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	if !sess.Expires().After(s.now()) {
		s.Destroy(ctx, id)
		return nil, false
	}
	return sess, true
}

// Create starts a new session with a random id.
func (s *Store) Create(ctx context.Context) *Session {
	sess := newSession(newID(), s.now().Add(s.ttl))

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Debug(ctx, "Session created", "sid", sess.id)
	return sess
}

// Save extends the session's lifetime and replicates it.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	sess.mu.Lock()
	sess.expires = s.now().Add(s.ttl)
	sess.mu.Unlock()

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	if s.replicator != nil {
		if err := s.replicator.Update(ctx, sess.Snapshot()); err != nil {
			s.logger.Warn(ctx, err, "Session replication failed", "sid", sess.id)
			return err
		}
	}
	return nil
}

// Destroy removes a session.
func (s *Store) Destroy(ctx context.Context, id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok && s.replicator != nil {
		if err := s.replicator.Delete(ctx, id); err != nil {
			s.logger.Warn(ctx, err, "Session delete replication failed", "sid", id)
		}
	}
}

// All returns every stored session ordered by id.
func (s *Store) All() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	return all
}

// Clear drops every session without replicating.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep destroys expired sessions and reports how many went away.
func (s *Store) Sweep(ctx context.Context) int {
	now := s.now()
	var expired []string

	s.mu.Lock()
	for id, sess := range s.sessions {
		if !sess.Expires().After(now) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.Destroy(ctx, id)
	}
	return len(expired)
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.logger.Debug(ctx, "Expired sessions removed", "count", n)
			}
		}
	}
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("session: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
