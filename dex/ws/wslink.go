// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package ws provides a websocket link that decodes incoming msgjson messages
// for a handler and sequences outgoing messages.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/msgjson"
	"github.com/gorilla/websocket"
)

// outBufferSize is the size of the Link's buffered channel for outgoing
// messages.
const outBufferSize = 128

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{}

// ErrPeerDisconnected is returned if Send is called on a disconnected link.
const ErrPeerDisconnected = dex.ErrorKind("peer disconnected")

// Connection is a websocket connection to a remote peer. It is satisfied by
// *websocket.Conn. For testing, a stub can be used.
type Connection interface {
	Close() error

	SetReadDeadline(t time.Time) error
	ReadMessage() (int, []byte, error)

	SetWriteDeadline(t time.Time) error
	WriteMessage(int, []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Handler handles a decoded message. A returned *msgjson.Error is sent to
// the peer as the response to the message.
type Handler func(*msgjson.Message) *msgjson.Error

// Link is a websocket connection with a peer. A Link runs three goroutines
// once connected, one each for reading, writing and pinging.
type Link struct {
	addr       string
	conn       Connection
	on         atomic.Bool
	quit       context.CancelFunc
	stopped    chan struct{}
	outChan    chan []byte
	wg         sync.WaitGroup
	handler    Handler
	pingPeriod time.Duration
}

// NewLink is a constructor for a new Link.
func NewLink(addr string, conn Connection, pingPeriod time.Duration, handler Handler) *Link {
	return &Link{
		addr:       addr,
		conn:       conn,
		outChan:    make(chan []byte, outBufferSize),
		pingPeriod: pingPeriod,
		handler:    handler,
	}
}

// Send queues the Message for the peer. A nil error only means the link is
// believed to be up and the message was encoded.
func (c *Link) Send(msg *msgjson.Message) error {
	if c.Off() {
		return ErrPeerDisconnected
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.outChan <- b:
		return nil
	case <-c.stopped:
		return ErrPeerDisconnected
	}
}

// SendError sends the msgjson.Error as the response to request id.
func (c *Link) SendError(id uint64, rpcErr *msgjson.Error) {
	msg, err := msgjson.NewResponse(id, nil, rpcErr)
	if err != nil {
		log.Errorf("SendError: failed to create message: %v", err)
		return
	}
	if err = c.Send(msg); err != nil {
		log.Debugf("SendError: failed to send message to peer %s: %v", c.addr, err)
	}
}

// Connect begins processing input and output messages. The returned WaitGroup
// is done when the link has shut down.
func (c *Link) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	if !c.on.CompareAndSwap(false, true) {
		return nil, errors.New("link already running")
	}
	linkCtx, quit := context.WithCancel(ctx)
	c.quit = quit
	c.stopped = make(chan struct{})
	// The pong handler extends the deadline after this.
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pingPeriod * 2)); err != nil {
		c.stop()
		return nil, fmt.Errorf("failed to set initial read deadline for %v: %w", c.addr, err)
	}

	log.Tracef("Starting websocket messaging with peer %s", c.addr)
	c.wg.Add(3)
	go c.inHandler(linkCtx)
	go c.outHandler(linkCtx)
	go c.pingHandler(linkCtx)
	return &c.wg, nil
}

func (c *Link) stop() bool {
	if !c.on.CompareAndSwap(true, false) {
		return false
	}
	close(c.stopped)
	c.quit()
	return true
}

// Disconnect shuts down the Link. Queued messages are written before the
// connection is closed.
func (c *Link) Disconnect() {
	if !c.stop() {
		log.Debugf("Disconnect attempted on stopped link %s", c.addr)
	}
}

func (c *Link) inHandler(ctx context.Context) {
	defer c.wg.Done()
	defer c.stop()
	for ctx.Err() == nil {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				log.Errorf("Websocket receive error from peer %s: %v", c.addr, err)
			}
			return
		}
		msg, err := msgjson.DecodeMessage(b)
		if err != nil {
			c.SendError(1, msgjson.NewError(msgjson.RPCParseError, "failed to parse message: %v", err))
			continue
		}
		if msg.Type == msgjson.Request && msg.ID == 0 {
			c.SendError(1, msgjson.NewError(msgjson.RPCParseError, "request id cannot be zero"))
			continue
		}
		if rpcErr := c.handler(msg); rpcErr != nil {
			c.SendError(msg.ID, rpcErr)
		}
	}
}

func (c *Link) write(b []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Link) outHandler(ctx context.Context) {
	defer c.wg.Done()
	defer c.conn.Close()
	defer c.stop()
	for {
		select {
		case b := <-c.outChan:
			if err := c.write(b); err != nil {
				log.Debugf("Write error for peer %s: %v", c.addr, err)
				return
			}
		case <-ctx.Done():
			// Write what was queued before the stop.
			for {
				select {
				case b := <-c.outChan:
					if err := c.write(b); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Link) pingHandler(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			if err != nil {
				log.Debugf("Ping error for peer %s: %v", c.addr, err)
				c.stop()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Off is true if the link has disconnected.
func (c *Link) Off() bool {
	return !c.on.Load()
}

// Addr is the peer address passed to the constructor.
func (c *Link) Addr() string {
	return c.addr
}

// NewConnection upgrades the http request to a websocket connection. Each
// pong extends the read deadline by readTimeout.
func NewConnection(w http.ResponseWriter, r *http.Request, readTimeout time.Duration) (Connection, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		var hsErr websocket.HandshakeError
		if errors.As(err, &hsErr) {
			log.Errorf("Unexpected websocket error: %v", err)
		}
		return nil, err
	}
	reqAddr := r.RemoteAddr
	ws.SetPongHandler(func(string) error {
		log.Tracef("got pong from %v", reqAddr)
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return ws, nil
}
