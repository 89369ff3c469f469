package hub

import (
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	domain "github.com/example/realtime-hub/domain/hub"
)

// PresenceTransition is a first-connection or last-connection change for a user.
type PresenceTransition struct {
	UserID string
	Online bool
}

// PresenceFunc runs inside the critical section that produced the transition,
// so successive calls for one user are strictly ordered. It must not block or
// call back into the registry.
type PresenceFunc func(userID string, online bool)

// connection is one transport socket known to the registry.
type connection struct {
	id        string
	createdAt time.Time

	mu       sync.Mutex // held across the whole bind or forget of this connection
	identity *domain.Identity
	closed   bool
}

// shard holds both directions of the mapping for the users that hash to it.
// users and conns are only ever mutated together under mu.
type shard struct {
	index int
	mu    sync.RWMutex
	users map[string]map[string]struct{} // userID -> connIDs
	conns map[string]domain.Identity     // connID -> identity
}

// Registry maps connections to identities and users to their live connections.
// Lock order: connection.mu, then shard.mu in ascending index.
type Registry struct {
	handles  sync.Map // connID -> *connection, including unauthenticated ones
	shards   []*shard
	presence PresenceFunc
}

// NewRegistry creates a registry with the given shard count.
func NewRegistry(shards int, presence PresenceFunc) *Registry {
	if shards <= 0 {
		shards = 32
	}
	if presence == nil {
		presence = func(string, bool) {}
	}
	r := &Registry{
		shards:   make([]*shard, shards),
		presence: presence,
	}
	for i := range r.shards {
		r.shards[i] = &shard{
			index: i,
			users: make(map[string]map[string]struct{}),
			conns: make(map[string]domain.Identity),
		}
	}
	return r
}

// Open records a new unauthenticated connection.
func (r *Registry) Open(connID string) error {
	c := &connection{id: connID, createdAt: time.Now()}
	if _, loaded := r.handles.LoadOrStore(connID, c); loaded {
		return ErrDuplicateConnection
	}
	return nil
}

// Bind attaches an identity to an open connection, replacing any previous one.
// It returns the previous identity and the presence transitions it caused.
func (r *Registry) Bind(connID string, id domain.Identity) (*domain.Identity, []PresenceTransition, error) {
	c, ok := r.handle(connID)
	if !ok {
		return nil, nil, ErrUnknownConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrUnknownConnection
	}

	prev := c.identity
	next := id

	if prev != nil && prev.UserID == id.UserID {
		s := r.shardFor(id.UserID)
		s.mu.Lock()
		s.conns[connID] = next
		c.identity = &next
		s.mu.Unlock()
		return prev, nil, nil
	}

	var from *shard
	if prev != nil {
		from = r.shardFor(prev.UserID)
	}
	to := r.shardFor(id.UserID)
	unlock := lockShards(from, to)
	defer unlock()

	var changes []PresenceTransition
	if prev != nil && from.remove(prev.UserID, connID) {
		r.presence(prev.UserID, false)
		changes = append(changes, PresenceTransition{UserID: prev.UserID, Online: false})
	}
	if to.add(id.UserID, connID, next) {
		r.presence(id.UserID, true)
		changes = append(changes, PresenceTransition{UserID: id.UserID, Online: true})
	}
	c.identity = &next
	return prev, changes, nil
}

// Forget removes a connection from both maps. The last-connection check and
// the removal share one critical section, so exactly one caller sees offline.
func (r *Registry) Forget(connID string) (*domain.Identity, []PresenceTransition, bool) {
	c, ok := r.handle(connID)
	if !ok {
		return nil, nil, false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, false
	}
	c.closed = true
	id := c.identity

	var changes []PresenceTransition
	if id != nil {
		s := r.shardFor(id.UserID)
		s.mu.Lock()
		if s.remove(id.UserID, connID) {
			r.presence(id.UserID, false)
			changes = append(changes, PresenceTransition{UserID: id.UserID, Online: false})
		}
		s.mu.Unlock()
	}
	c.mu.Unlock()

	r.handles.Delete(connID)
	return id, changes, true
}

// ForgetIfUnauthenticated removes a connection only if no identity was ever
// bound to it. The check and the removal hold the connection lock, so a
// concurrent Bind either lands first and keeps the connection or fails.
func (r *Registry) ForgetIfUnauthenticated(connID string) bool {
	c, ok := r.handle(connID)
	if !ok {
		return false
	}

	c.mu.Lock()
	if c.closed || c.identity != nil {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()

	r.handles.Delete(connID)
	return true
}

// IdentityOf returns the identity bound to a connection, if any.
func (r *Registry) IdentityOf(connID string) (*domain.Identity, bool) {
	c, ok := r.handle(connID)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.identity == nil {
		return nil, false
	}
	id := *c.identity
	return &id, true
}

// OpenedAt returns when the connection was opened.
func (r *Registry) OpenedAt(connID string) (time.Time, bool) {
	c, ok := r.handle(connID)
	if !ok {
		return time.Time{}, false
	}
	return c.createdAt, true
}

// IsOpen reports whether the connection is registered and not yet forgotten.
func (r *Registry) IsOpen(connID string) bool {
	_, ok := r.handle(connID)
	return ok
}

// LiveConnectionsOf returns a snapshot of a user's connection ids.
func (r *Registry) LiveConnectionsOf(userID string) []string {
	s := r.shardFor(userID)
	s.mu.RLock()
	set := s.users[userID]
	ids := make([]string, 0, len(set))
	for connID := range set {
		ids = append(ids, connID)
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// OnlineUserIDs returns every user with at least one live connection.
func (r *Registry) OnlineUserIDs() []string {
	var ids []string
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.users {
			ids = append(ids, userID)
		}
		s.mu.RUnlock()
	}
	slices.Sort(ids)
	return ids
}

// ConnectionIDs returns every open connection, authenticated or not.
func (r *Registry) ConnectionIDs() []string {
	var ids []string
	r.handles.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	slices.Sort(ids)
	return ids
}

// Stats counts open connections and authenticated connections.
func (r *Registry) Stats() (open, authenticated int) {
	r.handles.Range(func(_, _ any) bool {
		open++
		return true
	})
	for _, s := range r.shards {
		s.mu.RLock()
		authenticated += len(s.conns)
		s.mu.RUnlock()
	}
	return open, authenticated
}

// checkConsistency verifies that the forward and inverse maps agree.
func (r *Registry) checkConsistency() error {
	for _, s := range r.shards {
		s.mu.RLock()
		for connID, id := range s.conns {
			if _, ok := s.users[id.UserID][connID]; !ok {
				s.mu.RUnlock()
				return fmt.Errorf("connection %s missing from user %s", connID, id.UserID)
			}
		}
		for userID, set := range s.users {
			if len(set) == 0 {
				s.mu.RUnlock()
				return fmt.Errorf("user %s has an empty connection set", userID)
			}
			for connID := range set {
				if id, ok := s.conns[connID]; !ok || id.UserID != userID {
					s.mu.RUnlock()
					return fmt.Errorf("connection %s of user %s has no matching identity", connID, userID)
				}
			}
		}
		s.mu.RUnlock()
	}
	return nil
}

func (r *Registry) handle(connID string) (*connection, bool) {
	v, ok := r.handles.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(*connection), true
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func lockShards(a, b *shard) func() {
	switch {
	case a == nil || a == b:
		b.mu.Lock()
		return b.mu.Unlock
	case a.index < b.index:
		a.mu.Lock()
		b.mu.Lock()
	default:
		b.mu.Lock()
		a.mu.Lock()
	}
	return func() {
		a.mu.Unlock()
		b.mu.Unlock()
	}
}

func (s *shard) add(userID, connID string, id domain.Identity) bool {
	set, ok := s.users[userID]
	if !ok {
		set = make(map[string]struct{})
		s.users[userID] = set
	}
	set[connID] = struct{}{}
	s.conns[connID] = id
	return !ok
}

func (s *shard) remove(userID, connID string) bool {
	delete(s.conns, connID)
	set, ok := s.users[userID]
	if !ok {
		return false
	}
	if _, member := set[connID]; !member {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.users, userID)
		return true
	}
	return false
}
