// Package ws carries the transport contract over gorilla/websocket. The
// host side is an http handler; clients connect with Dial.
package ws

import (
	"log"
	nethttp "net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"netsync/internal/netid"
	"netsync/internal/telemetry"
	"netsync/internal/transport"
)

// TokenHeader carries the connection token in the upgrade response.
const TokenHeader = "X-Netsync-Token"

// ServerConfig tunes the host side.
type ServerConfig struct {
	Logger       telemetry.Logger
	PingInterval time.Duration
	EventBuffer  int
	Fanout       int
}

type peerConn struct {
	id         netid.PeerID
	token      string
	remoteAddr string
	link       *link
}

// PeerInfo describes one connected client.
type PeerInfo struct {
	Peer       netid.PeerID  `json:"peer"`
	Token      string        `json:"token"`
	RemoteAddr string        `json:"remoteAddr"`
	RTT        time.Duration `json:"rtt"`
}

// Server accepts websocket clients and implements transport.Transport for
// the host.
type Server struct {
	cfg      ServerConfig
	logger   telemetry.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	peers  map[netid.PeerID]*peerConn
	ids    transport.IDAllocator
	events chan transport.Event
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// NewServer constructs a host transport.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = transport.DefaultEventBuffer
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		peers:  make(map[netid.PeerID]*peerConn),
		events: make(chan transport.Event, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
}

// Handle upgrades the request and serves the connection until it closes.
func (s *Server) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	if s.closed.Load() {
		nethttp.Error(w, "server closed", nethttp.StatusServiceUnavailable)
		return
	}
	token := uuid.New().String()
	header := nethttp.Header{}
	header.Set(TokenHeader, token)
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	pc := &peerConn{id: s.ids.Next(), token: token, remoteAddr: r.RemoteAddr, link: newLink(conn)}
	s.mu.Lock()
	s.peers[pc.id] = pc
	s.mu.Unlock()
	transport.Emit(s.events, s.done, transport.Event{Kind: transport.EventConnected, Peer: pc.id, Token: token})

	go pc.link.pingLoop(s.cfg.PingInterval)
	reason := pc.link.readLoop(func(data []byte, delivery transport.Delivery) {
		transport.Emit(s.events, s.done, transport.Event{Kind: transport.EventMessage, Peer: pc.id, Data: data, Delivery: delivery})
	})
	if s.detach(pc.id) {
		pc.link.close(websocket.CloseNormalClosure, "")
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
	return pc.link.write(data, delivery)
}

func (s *Server) Broadcast(peers []netid.PeerID, data []byte, delivery transport.Delivery) error {
	return transport.Fanout(peers, s.cfg.Fanout, func(peer netid.PeerID) error {
		return s.Send(peer, data, delivery)
	})
}

// Disconnect closes peer's socket with reason as the close text.
func (s *Server) Disconnect(peer netid.PeerID, reason string) error {
	pc, ok := s.peer(peer)
	if !ok || !s.detach(peer) {
		return transport.ErrUnknownPeer
	}
	pc.link.close(websocket.ClosePolicyViolation, reason)
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

// Peers describes every connected client in id order.
func (s *Server) Peers() []PeerInfo {
	s.mu.RLock()
	infos := make([]PeerInfo, 0, len(s.peers))
	for _, pc := range s.peers {
		rtt, _ := pc.link.roundTrip()
		infos = append(infos, PeerInfo{Peer: pc.id, Token: pc.token, RemoteAddr: pc.remoteAddr, RTT: rtt})
	}
	s.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Peer < infos[j].Peer })
	return infos
}

// Close disconnects every client.
func (s *Server) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.mu.Lock()
		peers := s.peers
		s.peers = make(map[netid.PeerID]*peerConn)
		s.mu.Unlock()
		for _, pc := range peers {
			pc.link.close(websocket.CloseGoingAway, "server shutting down")
		}
		close(s.done)
	})
	return nil
}

var _ transport.Transport = (*Server)(nil)
