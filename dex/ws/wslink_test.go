// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"decred.org/nftdex/dex/msgjson"
)

type tConn struct {
	reads  chan []byte
	writes chan []byte
	mtx    sync.Mutex
	closed bool
	quit   chan struct{}
}

func newTConn() *tConn {
	return &tConn{
		reads:  make(chan []byte, 8),
		writes: make(chan []byte, 8),
		quit:   make(chan struct{}),
	}
}

func (c *tConn) Close() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.closed {
		c.closed = true
		close(c.quit)
	}
	return nil
}

func (c *tConn) SetReadDeadline(time.Time) error  { return nil }
func (c *tConn) SetWriteDeadline(time.Time) error { return nil }

func (c *tConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.reads:
		return 1, b, nil
	case <-c.quit:
		return 0, nil, errors.New("closed")
	}
}

func (c *tConn) WriteMessage(_ int, b []byte) error {
	c.writes <- b
	return nil
}

func (c *tConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *tConn) nextWrite(t *testing.T) *msgjson.Message {
	t.Helper()
	select {
	case b := <-c.writes:
		msg, err := msgjson.DecodeMessage(b)
		if err != nil {
			t.Fatalf("bad message written: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message written")
	}
	return nil
}

func TestLink(t *testing.T) {
	conn := newTConn()
	handled := make(chan *msgjson.Message, 1)
	link := NewLink("127.0.0.1", conn, time.Minute, func(msg *msgjson.Message) *msgjson.Error {
		handled <- msg
		if msg.Route == "bad" {
			return msgjson.NewError(msgjson.RPCUnknownRoute, "unknown route")
		}
		return nil
	})
	if !link.Off() {
		t.Fatalf("link on before Connect")
	}
	if err := link.Send(&msgjson.Message{}); !errors.Is(err, ErrPeerDisconnected) {
		t.Fatalf("Send before Connect: %v", err)
	}
	wg, err := link.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if _, err = link.Connect(context.Background()); err == nil {
		t.Fatalf("second Connect succeeded")
	}

	req, _ := msgjson.NewRequest(3, "good", nil)
	conn.reads <- []byte(req.String())
	if msg := <-handled; msg.ID != 3 || msg.Route != "good" {
		t.Fatalf("wrong message handled %s", msg)
	}

	req, _ = msgjson.NewRequest(4, "bad", nil)
	conn.reads <- []byte(req.String())
	<-handled
	resp := conn.nextWrite(t)
	var res interface{}
	var rpcErr *msgjson.Error
	if err = resp.UnmarshalResult(&res); !errors.As(err, &rpcErr) || rpcErr.Code != msgjson.RPCUnknownRoute || resp.ID != 4 {
		t.Fatalf("wrong error response %s", resp)
	}

	conn.reads <- []byte("{not json")
	resp = conn.nextWrite(t)
	if err = resp.UnmarshalResult(&res); !errors.As(err, &rpcErr) || rpcErr.Code != msgjson.RPCParseError {
		t.Fatalf("wrong parse error response %s", resp)
	}

	note, _ := msgjson.NewNotification(msgjson.OrderEventRoute, "x")
	if err = link.Send(note); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if msg := conn.nextWrite(t); msg.Route != msgjson.OrderEventRoute {
		t.Fatalf("wrong notification %s", msg)
	}

	link.Disconnect()
	wg.Wait()
	if !link.Off() {
		t.Fatalf("link on after Disconnect")
	}
	if err = link.Send(note); !errors.Is(err, ErrPeerDisconnected) {
		t.Fatalf("Send after Disconnect: %v", err)
	}
}
