package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"

	"netsync/internal/netid"
	"netsync/internal/transport"
)

// ClientConfig tunes the dialing side.
type ClientConfig struct {
	PingInterval time.Duration
	EventBuffer  int
	Dialer       *websocket.Dialer
}

// Client is a connection to the host. Its only peer is netid.HostPeer.
type Client struct {
	link   *link
	token  string
	events chan transport.Event
	closed atomic.Bool
}

// Dial connects to the host's websocket endpoint.
func Dial(ctx context.Context, url string, cfg ClientConfig) (*Client, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = transport.DefaultEventBuffer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dial %s", url)
	}

	c := &Client{
		link:   newLink(conn),
		token:  tokenFrom(resp),
		events: make(chan transport.Event, cfg.EventBuffer),
	}
	transport.Emit(c.events, c.link.done, transport.Event{Kind: transport.EventConnected, Peer: netid.HostPeer, Token: c.token})

	go c.link.pingLoop(cfg.PingInterval)
	go func() {
		reason := c.link.readLoop(func(data []byte, delivery transport.Delivery) {
			transport.Emit(c.events, c.link.done, transport.Event{Kind: transport.EventMessage, Peer: netid.HostPeer, Data: data, Delivery: delivery})
		})
		if c.closed.CompareAndSwap(false, true) {
			c.notify(transport.Event{Kind: transport.EventDisconnected, Peer: netid.HostPeer, Reason: reason})
			c.link.close(websocket.CloseNormalClosure, "")
		}
	}()
	return c, nil
}

func tokenFrom(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Header.Get(TokenHeader)
}

// notify queues a lifecycle event without waiting for room.
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
	return c.link.write(data, delivery)
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
	c.link.close(websocket.CloseNormalClosure, reason)
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
