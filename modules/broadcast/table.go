package broadcast

import (
	"errors"
	"slices"
	"sync"

	"github.com/go-monolith/mono/pkg/types"
)

var (
	// ErrDuplicateSocket is returned when a connection id is already registered.
	ErrDuplicateSocket = errors.New("socket already registered")
	// ErrUnknownSocket is returned for operations on a socket that is absent or closed.
	ErrUnknownSocket = errors.New("unknown socket")
)

// Table owns every live socket and its group memberships.
// Membership exists only here: closing a socket removes it from every group it joined.
type Table struct {
	mu      sync.RWMutex
	sockets map[string]*Socket

	groupsMu sync.RWMutex
	groups   map[string]*group

	sendBuffer int
	logger     types.Logger
}

// group is a named broadcast set with its own lock.
type group struct {
	mu      sync.RWMutex
	members map[string]*Socket
	dead    bool // removed from the table; joiners must fetch a fresh group
}

// NewTable creates a socket table whose sockets buffer up to sendBuffer frames.
func NewTable(sendBuffer int, logger types.Logger) *Table {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Table{
		sockets:    make(map[string]*Socket),
		groups:     make(map[string]*group),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Add registers a connection and starts its write pump.
func (t *Table) Add(id string, conn Conn) (*Socket, error) {
	s := newSocket(id, conn, t.sendBuffer, t.dropSlow)

	t.mu.Lock()
	if _, exists := t.sockets[id]; exists {
		t.mu.Unlock()
		return nil, ErrDuplicateSocket
	}
	t.sockets[id] = s
	t.mu.Unlock()

	go s.writePump()
	t.logger.Debug("Socket added", "socketID", id)
	return s, nil
}

// Remove closes a socket and voids all of its group memberships.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	s, ok := t.sockets[id]
	delete(t.sockets, id)
	t.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	s.closed = true
	for room := range s.groups {
		t.removeMember(room, id)
	}
	clear(s.groups)
	s.mu.Unlock()

	s.close()
	t.logger.Debug("Socket removed", "socketID", id)
	return true
}

func (t *Table) dropSlow(s *Socket) {
	t.logger.Warn("Closing slow consumer", "socketID", s.id)
	t.Remove(s.id)
}

// Emit enqueues a frame on one socket.
func (t *Table) Emit(id string, frame []byte) bool {
	t.mu.RLock()
	s, ok := t.sockets[id]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return s.enqueue(frame)
}

// Join adds a socket to a group. It reports false when the socket was already a member.
func (t *Table) Join(id, room string) (bool, error) {
	t.mu.RLock()
	s, ok := t.sockets[id]
	t.mu.RUnlock()
	if !ok {
		return false, ErrUnknownSocket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrUnknownSocket
	}
	if _, member := s.groups[room]; member {
		return false, nil
	}
	t.addMember(room, s)
	s.groups[room] = struct{}{}
	return true, nil
}

// Leave removes a socket from a group. It reports false when the socket was not a member.
func (t *Table) Leave(id, room string) bool {
	t.mu.RLock()
	s, ok := t.sockets[id]
	t.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, member := s.groups[room]; !member {
		return false
	}
	delete(s.groups, room)
	t.removeMember(room, id)
	return true
}

// Groups lists the groups a socket belongs to.
func (t *Table) Groups(id string) []string {
	t.mu.RLock()
	s, ok := t.sockets[id]
	t.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.groups))
	for room := range s.groups {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}

// Members lists the socket ids currently in a group.
func (t *Table) Members(room string) []string {
	g := t.group(room, false)
	if g == nil {
		return nil
	}

	g.mu.RLock()
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Broadcast enqueues a frame on every member present at call time and returns the attempt count.
func (t *Table) Broadcast(room string, frame []byte) int {
	return t.BroadcastExcept(room, "", frame)
}

// BroadcastExcept is Broadcast that skips sockets which are also members of exceptRoom.
func (t *Table) BroadcastExcept(room, exceptRoom string, frame []byte) int {
	g := t.group(room, false)
	if g == nil {
		return 0
	}

	var skip map[string]struct{}
	if exceptRoom != "" {
		skip = make(map[string]struct{})
		for _, id := range t.Members(exceptRoom) {
			skip[id] = struct{}{}
		}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	attempts := 0
	for id, s := range g.members {
		if _, excluded := skip[id]; excluded {
			continue
		}
		s.enqueue(frame)
		attempts++
	}
	return attempts
}

// Count returns the number of live sockets.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sockets)
}

// GroupCount returns the number of non-empty groups.
func (t *Table) GroupCount() int {
	t.groupsMu.RLock()
	defer t.groupsMu.RUnlock()
	return len(t.groups)
}

// CloseAll removes every socket.
func (t *Table) CloseAll() {
	t.mu.RLock()
	ids := make([]string, 0, len(t.sockets))
	for id := range t.sockets {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	for _, id := range ids {
		t.Remove(id)
	}
}

func (t *Table) group(room string, create bool) *group {
	t.groupsMu.RLock()
	g := t.groups[room]
	t.groupsMu.RUnlock()
	if g != nil || !create {
		return g
	}

	t.groupsMu.Lock()
	defer t.groupsMu.Unlock()
	if g = t.groups[room]; g == nil {
		g = &group{members: make(map[string]*Socket)}
		t.groups[room] = g
	}
	return g
}

func (t *Table) addMember(room string, s *Socket) {
	for {
		g := t.group(room, true)
		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}
		g.members[s.id] = s
		g.mu.Unlock()
		return
	}
}

func (t *Table) removeMember(room, id string) {
	g := t.group(room, false)
	if g == nil {
		return
	}

	g.mu.Lock()
	delete(g.members, id)
	empty := len(g.members) == 0 && !g.dead
	if empty {
		g.dead = true
	}
	g.mu.Unlock()

	if empty {
		t.groupsMu.Lock()
		if t.groups[room] == g {
			delete(t.groups, room)
		}
		t.groupsMu.Unlock()
	}
}
