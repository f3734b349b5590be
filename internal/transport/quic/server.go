// Package quic carries the transport contract over QUIC: reliable payloads
// on one framed bidirectional stream per peer, unreliable payloads as
// datagrams.
package quic

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"

	"netsync/internal/netid"
	"netsync/internal/telemetry"
	"netsync/internal/transport"
)

const defaultHandshakeTimeout = 5 * time.Second

// ServerConfig tunes the host side.
type ServerConfig struct {
	Addr             string
	TLS              *tls.Config
	Logger           telemetry.Logger
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	EventBuffer      int
	Fanout           int
}

type peerConn struct {
	id    netid.PeerID
	token string
	link  *link
}

// Server accepts QUIC clients and implements transport.Transport for the host.
type Server struct {
	cfg      ServerConfig
	logger   telemetry.Logger
	listener *quic.Listener
	cancel   context.CancelFunc

	mu     sync.RWMutex
	peers  map[netid.PeerID]*peerConn
	ids    transport.IDAllocator
	events chan transport.Event
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup
}

func quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: 5 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

// Listen starts accepting clients on cfg.Addr. A nil TLS config selects a
// self-signed certificate.
func Listen(cfg ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.WrapLogger(log.Default())
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = transport.DefaultEventBuffer
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.TLS == nil {
		tlsConf, err := SelfSignedTLS("localhost", "127.0.0.1")
		if err != nil {
			return nil, err
		}
		cfg.TLS = tlsConf
	}
	listener, err := quic.ListenAddr(cfg.Addr, cfg.TLS, quicConfig())
	if err != nil {
		return nil, eris.Wrapf(err, "listen %s", cfg.Addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		listener: listener,
		cancel:   cancel,
		peers:    make(map[netid.PeerID]*peerConn),
		events:   make(chan transport.Event, cfg.EventBuffer),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || s.closed.Load() {
				return
			}
			s.logger.Printf("quic accept failed: %v", err)
			continue
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn quic.Connection) {
	ctx, cancel := context.WithTimeout(conn.Context(), s.cfg.HandshakeTimeout)
	stream, err := conn.AcceptStream(ctx)
	cancel()
	if err != nil {
		s.logger.Printf("quic handshake failed for %s: %v", conn.RemoteAddr(), err)
		_ = conn.CloseWithError(codeNormal, "handshake failed")
		return
	}

	l := newLink(conn, stream)
	if kind, _, err := l.readFrame(); err != nil || kind != frameToken {
		l.close(codeNormal, "handshake failed")
		return
	}
	pc := &peerConn{id: s.ids.Next(), token: uuid.New().String(), link: l}
	if err := l.writeFrame(frameToken, []byte(pc.token)); err != nil {
		l.close(codeNormal, "handshake failed")
		return
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		l.close(codeNormal, "server shutting down")
		return
	}
	s.peers[pc.id] = pc
	s.mu.Unlock()
	transport.Emit(s.events, s.done, transport.Event{Kind: transport.EventConnected, Peer: pc.id, Token: pc.token})

	onData := func(data []byte, delivery transport.Delivery) {
		transport.Emit(s.events, s.done, transport.Event{Kind: transport.EventMessage, Peer: pc.id, Data: data, Delivery: delivery})
	}
	go l.pingLoop(s.cfg.PingInterval)
	go l.datagramLoop(conn.Context(), onData)
	reason := l.readLoop(onData)
	if s.detach(pc.id) {
		l.close(codeNormal, "")
		transport.Emit(s.events, s.done, transport.Event{Kind: transport.EventDisconnected, Peer: pc.id, Reason: reason})
	}
}

func (s *Server) detach(id netid.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; !ok {
		return false
	}
	delete(s.peers, id)
	return true
}

func (s *Server) peer(id netid.PeerID) (*peerConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.peers[id]
	return pc, ok
}

func (s *Server) Send(peer netid.PeerID, data []byte, delivery transport.Delivery) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	pc, ok := s.peer(peer)
	if !ok {
		return transport.ErrUnknownPeer
	}
	return pc.link.send(data, delivery)
}

func (s *Server) Broadcast(peers []netid.PeerID, data []byte, delivery transport.Delivery) error {
	return transport.Fanout(peers, s.cfg.Fanout, func(peer netid.PeerID) error {
		return s.Send(peer, data, delivery)
	})
}

// Disconnect closes peer's connection with reason as the application error
// message.
func (s *Server) Disconnect(peer netid.PeerID, reason string) error {
	pc, ok := s.peer(peer)
	if !ok || !s.detach(peer) {
		return transport.ErrUnknownPeer
	}
	pc.link.close(codeKicked, reason)
	transport.Emit(s.events, s.done, transport.Event{Kind: transport.EventDisconnected, Peer: peer, Reason: reason})
	return nil
}

func (s *Server) RTT(peer netid.PeerID) (time.Duration, bool) {
	pc, ok := s.peer(peer)
	if !ok {
		return 0, false
	}
	return pc.link.roundTrip()
}

func (s *Server) Events() <-chan transport.Event {
	return s.events
}

// Tokens maps each connected peer to its connection token.
func (s *Server) Tokens() map[netid.PeerID]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[netid.PeerID]string, len(s.peers))
	for id, pc := range s.peers {
		out[id] = pc.token
	}
	return out
}

// Peers lists connected peer ids in ascending order.
func (s *Server) Peers() []netid.PeerID {
	s.mu.RLock()
	ids := make([]netid.PeerID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close stops accepting and disconnects every client.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		peers := s.peers
		s.peers = make(map[netid.PeerID]*peerConn)
		s.mu.Unlock()
		for _, pc := range peers {
			pc.link.close(codeNormal, "server shutting down")
		}
		s.cancel()
		err = s.listener.Close()
		s.wg.Wait()
		close(s.done)
	})
	return err
}

var _ transport.Transport = (*Server)(nil)
