package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

// recordingConn captures written frames.
type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	failOn int
	block  chan struct{}
	writes int
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn > 0 && len(c.frames)+1 >= c.failOn {
		return errors.New("write failed")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

func (c *recordingConn) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	table := NewTable(16, &mockLogger{})
	t.Cleanup(table.CloseAll)
	return table
}

func TestTable_AddRemove(t *testing.T) {
	table := newTestTable(t)
	conn := &recordingConn{}

	_, err := table.Add("c1", conn)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Count())

	_, err = table.Add("c1", &recordingConn{})
	assert.ErrorIs(t, err, ErrDuplicateSocket)

	assert.True(t, table.Remove("c1"))
	assert.False(t, table.Remove("c1"))
	assert.Equal(t, 0, table.Count())
	assert.True(t, conn.isClosed())
}

func TestTable_JoinIsIdempotent(t *testing.T) {
	table := newTestTable(t)
	_, err := table.Add("c1", &recordingConn{})
	require.NoError(t, err)

	joined, err := table.Join("c1", "vendor:42")
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = table.Join("c1", "vendor:42")
	require.NoError(t, err)
	assert.False(t, joined)

	assert.Equal(t, []string{"c1"}, table.Members("vendor:42"))
	assert.Equal(t, []string{"vendor:42"}, table.Groups("c1"))
}

func TestTable_LeaveNonMemberIsNoop(t *testing.T) {
	table := newTestTable(t)
	_, err := table.Add("c1", &recordingConn{})
	require.NoError(t, err)

	assert.False(t, table.Leave("c1", "venue:7"))
	assert.False(t, table.Leave("missing", "venue:7"))

	_, err = table.Join("c1", "venue:7")
	require.NoError(t, err)
	assert.True(t, table.Leave("c1", "venue:7"))
	assert.Empty(t, table.Members("venue:7"))
	assert.Equal(t, 0, table.GroupCount())
}

func TestTable_JoinUnknownSocket(t *testing.T) {
	table := newTestTable(t)

	_, err := table.Join("ghost", "room")
	assert.ErrorIs(t, err, ErrUnknownSocket)
}

func TestTable_RemoveVoidsMemberships(t *testing.T) {
	table := newTestTable(t)
	_, err := table.Add("c1", &recordingConn{})
	require.NoError(t, err)
	_, err = table.Add("c2", &recordingConn{})
	require.NoError(t, err)

	for _, room := range []string{"user:a", "role:admin", "chat:lobby"} {
		_, err := table.Join("c1", room)
		require.NoError(t, err)
	}
	_, err = table.Join("c2", "chat:lobby")
	require.NoError(t, err)

	table.Remove("c1")

	assert.Empty(t, table.Members("user:a"))
	assert.Empty(t, table.Members("role:admin"))
	assert.Equal(t, []string{"c2"}, table.Members("chat:lobby"))
	assert.Equal(t, 1, table.GroupCount())
}

func TestTable_BroadcastReachesCurrentMembersOnly(t *testing.T) {
	table := newTestTable(t)
	a, b, late := &recordingConn{}, &recordingConn{}, &recordingConn{}
	for id, conn := range map[string]*recordingConn{"a": a, "b": b, "late": late} {
		_, err := table.Add(id, conn)
		require.NoError(t, err)
	}
	_, _ = table.Join("a", "room")
	_, _ = table.Join("b", "room")

	attempts := table.Broadcast("room", []byte("hello"))
	assert.Equal(t, 2, attempts)

	_, _ = table.Join("late", "room")

	require.Eventually(t, func() bool {
		return len(a.received()) == 1 && len(b.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, late.received())
	assert.Equal(t, 0, table.Broadcast("nobody-here", []byte("x")))
}

func TestTable_BroadcastExcept(t *testing.T) {
	table := newTestTable(t)
	self, other := &recordingConn{}, &recordingConn{}
	_, _ = table.Add("self", self)
	_, _ = table.Add("other", other)
	_, _ = table.Join("self", "online")
	_, _ = table.Join("other", "online")
	_, _ = table.Join("self", "user:me")

	attempts := table.BroadcastExcept("online", "user:me", []byte("presence"))
	assert.Equal(t, 1, attempts)

	require.Eventually(t, func() bool { return len(other.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, self.received())
}

func TestTable_EmitPreservesOrder(t *testing.T) {
	table := newTestTable(t)
	conn := &recordingConn{}
	_, err := table.Add("c1", conn)
	require.NoError(t, err)

	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("frame-%d", i)
		require.True(t, table.Emit("c1", []byte(want[i])))
	}

	require.Eventually(t, func() bool { return len(conn.received()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, conn.received())
	assert.False(t, table.Emit("missing", []byte("x")))
}

func TestTable_SlowConsumerIsClosed(t *testing.T) {
	table := NewTable(1, &mockLogger{})
	t.Cleanup(table.CloseAll)
	conn := &recordingConn{block: make(chan struct{})}
	s, err := table.Add("slow", conn)
	require.NoError(t, err)

	// The pump holds frame 1 in a blocked write, frame 2 fills the queue, frame 3 overflows.
	require.True(t, table.Emit("slow", []byte("1")))
	require.Eventually(t, func() bool { return len(s.send) == 0 }, time.Second, time.Millisecond)
	require.True(t, table.Emit("slow", []byte("2")))
	require.False(t, table.Emit("slow", []byte("3")))

	require.Eventually(t, func() bool { return table.Count() == 0 }, time.Second, 5*time.Millisecond)
	close(conn.block)
	assert.True(t, conn.isClosed())
}

func TestTable_WriteErrorClosesSocket(t *testing.T) {
	table := newTestTable(t)
	conn := &recordingConn{failOn: 1}
	s, err := table.Add("c1", conn)
	require.NoError(t, err)

	table.Emit("c1", []byte("boom"))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("socket was not closed after write error")
	}
	assert.True(t, conn.isClosed())
}

func TestTable_RemoveStopsPumpBeforeRelease(t *testing.T) {
	table := newTestTable(t)
	conn := &recordingConn{block: make(chan struct{})}
	s, err := table.Add("c1", conn)
	require.NoError(t, err)

	require.True(t, table.Emit("c1", []byte("1")))
	require.Eventually(t, func() bool { return conn.attempts() == 1 }, time.Second, time.Millisecond)
	require.True(t, table.Emit("c1", []byte("2")))
	require.True(t, table.Remove("c1"))

	select {
	case <-s.Stopped():
		t.Fatal("pump reported stopped while a write was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(conn.block)
	select {
	case <-s.Stopped():
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after the in-flight write returned")
	}
	assert.Equal(t, 1, conn.attempts(), "no write may start after Remove")
	assert.Equal(t, []string{"1"}, conn.received())
}

func TestTable_ConcurrentJoinLeave(t *testing.T) {
	table := NewTable(4096, &mockLogger{})
	t.Cleanup(table.CloseAll)
	const sockets = 20
	for i := range sockets {
		_, err := table.Add(fmt.Sprintf("c%d", i), &recordingConn{})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := range sockets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for range 50 {
				_, _ = table.Join(id, "shared")
				table.Broadcast("shared", []byte("x"))
				table.Leave(id, "shared")
			}
			_, _ = table.Join(id, "shared")
		}(fmt.Sprintf("c%d", i))
	}
	wg.Wait()

	assert.Len(t, table.Members("shared"), sockets)
}

func TestBroadcastModule_Lifecycle(t *testing.T) {
	m := NewModule(8, &mockLogger{})
	ctx := context.Background()

	assert.Equal(t, "broadcast", m.Name())
	require.NoError(t, m.Start(ctx))

	conn := &recordingConn{}
	_, err := m.Table().Add("c1", conn)
	require.NoError(t, err)

	health := m.Health(ctx)
	assert.True(t, health.Healthy)
	assert.Equal(t, 1, health.Details["connected_sockets"])

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, 0, m.Table().Count())
	assert.True(t, conn.isClosed())
}
