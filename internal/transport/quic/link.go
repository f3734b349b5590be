package quic

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"

	"netsync/internal/transport"
)

// ALPN is the application protocol negotiated during the handshake.
const ALPN = "netsync"

// DefaultPingInterval is how often each side measures round-trip time.
const DefaultPingInterval = 2 * time.Second

// MaxFrameSize bounds a single stream frame.
const MaxFrameSize = 1 << 20

const (
	frameData uint8 = iota + 1
	frameToken
	framePing
	framePong
)

// Application error codes sent with CloseWithError.
const (
	codeNormal quic.ApplicationErrorCode = 0
	codeKicked quic.ApplicationErrorCode = 1
)

var errFrameTooLarge = eris.New("quic: frame too large")

// link pairs a QUIC connection with the single bidirectional stream that
// carries reliable frames. Unreliable payloads travel as datagrams and fall
// back to the stream when the datagram cannot be sent.
type link struct {
	conn    quic.Connection
	stream  quic.Stream
	reader  *bufio.Reader
	writeMu sync.Mutex
	rtt     atomic.Int64
	once    sync.Once
	done    chan struct{}
}

func newLink(conn quic.Connection, stream quic.Stream) *link {
	return &link{conn: conn, stream: stream, reader: bufio.NewReader(stream), done: make(chan struct{})}
}

func (l *link) writeFrame(kind uint8, payload []byte) error {
	if len(payload)+1 > MaxFrameSize {
		return errFrameTooLarge
	}
	frame := make([]byte, 5+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)+1))
	frame[4] = kind
	copy(frame[5:], payload)
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.stream.Write(frame)
	return err
}

func (l *link) readFrame() (uint8, []byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(l.reader, header[:]); err != nil {
		return 0, nil, err
	}
	size := binary.LittleEndian.Uint32(header[:])
	if size == 0 || size > MaxFrameSize {
		return 0, nil, errFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(l.reader, body); err != nil {
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

func (l *link) send(data []byte, delivery transport.Delivery) error {
	if delivery == transport.Unreliable {
		if err := l.conn.SendDatagram(data); err == nil {
			return nil
		}
	}
	return l.writeFrame(frameData, data)
}

func (l *link) ping() error {
	var stamp [8]byte
	binary.LittleEndian.PutUint64(stamp[:], uint64(time.Now().UnixNano()))
	return l.writeFrame(framePing, stamp[:])
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

// readLoop delivers reliable frames until the stream fails and returns the
// close reason sent by the remote side, if any.
func (l *link) readLoop(onData func([]byte, transport.Delivery)) string {
	for {
		kind, payload, err := l.readFrame()
		if err != nil {
			return closeReason(err)
		}
		switch kind {
		case frameData:
			onData(payload, transport.Reliable)
		case framePing:
			_ = l.writeFrame(framePong, payload)
		case framePong:
			if len(payload) == 8 {
				sent := int64(binary.LittleEndian.Uint64(payload))
				if rtt := time.Now().UnixNano() - sent; rtt > 0 {
					l.rtt.Store(rtt)
				}
			}
		}
	}
}

func (l *link) datagramLoop(ctx context.Context, onData func([]byte, transport.Delivery)) {
	for {
		data, err := l.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		onData(data, transport.Unreliable)
	}
}

func (l *link) roundTrip() (time.Duration, bool) {
	rtt := l.rtt.Load()
	return time.Duration(rtt), rtt > 0
}

func (l *link) close(code quic.ApplicationErrorCode, reason string) {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.CloseWithError(code, reason)
	})
}

func closeReason(err error) string {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorMessage != "" {
		return appErr.ErrorMessage
	}
	return "connection lost"
}
