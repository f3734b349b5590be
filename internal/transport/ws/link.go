package ws

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"netsync/internal/transport"
)

const (
	writeWait = 5 * time.Second
	// closeGrace bounds how long a closing side waits for the peer to echo
	// its close frame before dropping the socket.
	closeGrace = time.Second
	// DefaultPingInterval is how often each side measures round-trip time.
	DefaultPingInterval = 2 * time.Second
)

// link wraps one websocket connection. Every frame is a delivery byte
// followed by the payload; the socket itself is always reliable, the byte
// only preserves the sender's intent for the receiver.
type link struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	rtt      atomic.Int64
	once     sync.Once
	done     chan struct{}
	readDone chan struct{}
}

func newLink(conn *websocket.Conn) *link {
	l := &link{conn: conn, done: make(chan struct{}), readDone: make(chan struct{})}
	// The echo races the remote side dropping the socket. Its failure must
	// not replace the close frame the read loop is about to report.
	conn.SetCloseHandler(func(code int, _ string) error {
		msg := websocket.FormatCloseMessage(code, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return nil
	})
	conn.SetPongHandler(func(data string) error {
		if len(data) != 8 {
			return nil
		}
		sent := int64(binary.LittleEndian.Uint64([]byte(data)))
		if rtt := time.Now().UnixNano() - sent; rtt > 0 {
			l.rtt.Store(rtt)
		}
		return nil
	})
	return l
}

func (l *link) write(data []byte, delivery transport.Delivery) error {
	frame := make([]byte, 1+len(data))
	frame[0] = byte(delivery)
	copy(frame[1:], data)
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (l *link) ping() error {
	var stamp [8]byte
	binary.LittleEndian.PutUint64(stamp[:], uint64(time.Now().UnixNano()))
	return l.conn.WriteControl(websocket.PingMessage, stamp[:], time.Now().Add(writeWait))
}

func (l *link) pingLoop(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if l.ping() != nil {
		return
	}
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.ping(); err != nil {
				return
			}
		}
	}
}

// readLoop delivers frames until the connection fails and returns the
// close reason sent by the remote side, if any.
func (l *link) readLoop(onFrame func(data []byte, delivery transport.Delivery)) string {
	defer close(l.readDone)
	for {
		kind, payload, err := l.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Text
			}
			return "connection lost"
		}
		if kind != websocket.BinaryMessage || len(payload) == 0 {
			continue
		}
		delivery := transport.Unreliable
		if transport.Delivery(payload[0]) == transport.Reliable {
			delivery = transport.Reliable
		}
		onFrame(payload[1:], delivery)
	}
}

func (l *link) roundTrip() (time.Duration, bool) {
	rtt := l.rtt.Load()
	return time.Duration(rtt), rtt > 0
}

func (l *link) close(code int, reason string) {
	l.once.Do(func() {
		close(l.done)
		msg := websocket.FormatCloseMessage(code, reason)
		if l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) == nil {
			select {
			case <-l.readDone:
			case <-time.After(closeGrace):
			}
		}
		_ = l.conn.Close()
	})
}
