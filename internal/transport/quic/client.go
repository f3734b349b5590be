package quic

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"

	"netsync/internal/netid"
	"netsync/internal/transport"
)

// ClientConfig tunes the dialing side.
type ClientConfig struct {
	TLS          *tls.Config
	PingInterval time.Duration
	EventBuffer  int
}

// Client is a QUIC connection to the host. Its only peer is netid.HostPeer.
type Client struct {
	link   *link
	token  string
	events chan transport.Event
	closed atomic.Bool
}

// Dial connects to addr, opens the reliable stream and waits for the host
// to assign a connection token.
func Dial(ctx context.Context, addr string, cfg ClientConfig) (*Client, error) {
	tlsConf := cfg.TLS
	if tlsConf == nil {
		tlsConf = InsecureClientTLS()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = transport.DefaultEventBuffer
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, eris.Wrapf(err, "dial %s", addr)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeNormal, "")
		return nil, eris.Wrap(err, "open stream")
	}

	l := newLink(conn, stream)
	if err := l.writeFrame(frameToken, nil); err != nil {
		l.close(codeNormal, "")
		return nil, eris.Wrap(err, "send hello")
	}
	kind, token, err := l.readFrame()
	if err != nil || kind != frameToken {
		l.close(codeNormal, "")
		if err == nil {
			err = eris.Errorf("unexpected frame %d", kind)
		}
		return nil, eris.Wrap(err, "await token")
	}

	c := &Client{link: l, token: string(token), events: make(chan transport.Event, cfg.EventBuffer)}
	transport.Emit(c.events, l.done, transport.Event{Kind: transport.EventConnected, Peer: netid.HostPeer, Token: c.token})

	onData := func(data []byte, delivery transport.Delivery) {
		transport.Emit(c.events, l.done, transport.Event{Kind: transport.EventMessage, Peer: netid.HostPeer, Data: data, Delivery: delivery})
	}
	go l.pingLoop(cfg.PingInterval)
	go l.datagramLoop(conn.Context(), onData)
	go func() {
		reason := l.readLoop(onData)
		if c.closed.CompareAndSwap(false, true) {
			c.notify(transport.Event{Kind: transport.EventDisconnected, Peer: netid.HostPeer, Reason: reason})
			l.close(codeNormal, "")
		}
	}()
	return c, nil
}

func (c *Client) notify(ev transport.Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// Token returns the connection token assigned by the host.
func (c *Client) Token() string {
	return c.token
}

func (c *Client) Send(peer netid.PeerID, data []byte, delivery transport.Delivery) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if peer != netid.HostPeer {
		return transport.ErrUnknownPeer
	}
	return c.link.send(data, delivery)
}

func (c *Client) Broadcast(peers []netid.PeerID, data []byte, delivery transport.Delivery) error {
	for _, peer := range peers {
		if err := c.Send(peer, data, delivery); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Disconnect(peer netid.PeerID, reason string) error {
	if peer != netid.HostPeer {
		return transport.ErrUnknownPeer
	}
	if !c.closed.CompareAndSwap(false, true) {
		return transport.ErrClosed
	}
	c.notify(transport.Event{Kind: transport.EventDisconnected, Peer: netid.HostPeer, Reason: reason})
	c.link.close(codeNormal, reason)
	return nil
}

func (c *Client) RTT(peer netid.PeerID) (time.Duration, bool) {
	if peer != netid.HostPeer {
		return 0, false
	}
	return c.link.roundTrip()
}

func (c *Client) Events() <-chan transport.Event {
	return c.events
}

func (c *Client) Close() error {
	if err := c.Disconnect(netid.HostPeer, "client closed"); err != nil && err != transport.ErrClosed {
		return err
	}
	return nil
}

var _ transport.Transport = (*Client)(nil)
