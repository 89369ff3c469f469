package broadcast

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// Conn is the part of a websocket connection the table writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Socket is one live transport connection with a FIFO write queue.
// Frames enqueued on a socket reach the wire in enqueue order.
type Socket struct {
	id   string
	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// stopped is closed when the write pump has returned and no longer touches conn.
	stopped chan struct{}

	mu     sync.Mutex // guards closed and groups
	closed bool
	groups map[string]struct{}

	onSlow func(*Socket)
}

func newSocket(id string, conn Conn, buffer int, onSlow func(*Socket)) *Socket {
	return &Socket{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		groups:  make(map[string]struct{}),
		onSlow:  onSlow,
	}
}

// ID returns the connection id.
func (s *Socket) ID() string {
	return s.id
}

// Done is closed once the socket has been closed.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Stopped is closed once the write pump has exited. After that the table
// never writes to the connection again, so its owner may release it.
func (s *Socket) Stopped() <-chan struct{} {
	return s.stopped
}

// enqueue never blocks. A full queue marks the peer as a slow consumer and closes it.
func (s *Socket) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		if s.onSlow != nil {
			go s.onSlow(s)
		}
		return false
	}
}

func (s *Socket) writePump() {
	defer close(s.stopped)
	for {
		select {
		case frame := <-s.send:
			// select picks randomly among ready cases, so a closed socket
			// may still dequeue a frame here.
			select {
			case <-s.done:
				return
			default:
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// close shuts the write pump and the underlying connection. Safe to call more than once.
func (s *Socket) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
