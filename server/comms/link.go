// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"context"
	"sync"
	"sync/atomic"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/msgjson"
	"decred.org/nftdex/dex/ws"
	"decred.org/nftdex/server/auth"
	"golang.org/x/time/rate"
)

const (
	// Per-link request rate limits.
	linkMaxRatePerSec = 10
	linkMaxBurstSize  = 50
	// maxViolations is the number of rate-limited requests after which the
	// client is banished.
	maxViolations = 100
)

// Link is the client connection as seen by the route handlers.
type Link interface {
	// ID is the unique identifier of the connection.
	ID() uint64
	// Challenge is the connection's login challenge.
	Challenge() []byte
	// Account is the logged in account, if any.
	Account() (dex.Address, bool)
	// Authorize logs the connection in to the account.
	Authorize(acct dex.Address)
}

// wsLink is the local, per-connection representation of a client.
type wsLink struct {
	*ws.Link
	// The id is the unique identifier assigned to this client.
	id        uint64
	srv       *Server
	limiter   *rate.Limiter
	challenge []byte
	// violations counts rate-limited requests.
	violations int
	// Upon closing, the client's IP address will be quarantined by the server
	// if ban is set.
	ban atomic.Bool
	ctx context.Context

	acctMtx sync.RWMutex
	acct    *dex.Address
}

var _ Link = (*wsLink)(nil)

// newWSLink is a constructor for a new wsLink.
func newWSLink(addr string, conn ws.Connection, srv *Server) (*wsLink, error) {
	challenge, err := auth.NewChallenge()
	if err != nil {
		return nil, err
	}
	c := &wsLink{
		srv:       srv,
		limiter:   rate.NewLimiter(linkMaxRatePerSec, linkMaxBurstSize),
		challenge: challenge,
		ctx:       context.Background(),
	}
	c.Link = ws.NewLink(addr, conn, pingPeriod, c.handleMessage)
	return c, nil
}

// ID is the unique identifier of the link.
func (c *wsLink) ID() uint64 {
	return c.id
}

// Challenge is the login challenge of the link.
func (c *wsLink) Challenge() []byte {
	return c.challenge
}

// Account is the account the link is logged in to.
func (c *wsLink) Account() (dex.Address, bool) {
	c.acctMtx.RLock()
	defer c.acctMtx.RUnlock()
	if c.acct == nil {
		return dex.Address{}, false
	}
	return *c.acct, true
}

// Authorize logs the link in to the account.
func (c *wsLink) Authorize(acct dex.Address) {
	c.acctMtx.Lock()
	c.acct = &acct
	c.acctMtx.Unlock()
}

// Connect starts the link. Requests are handled with the context.
func (c *wsLink) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	c.ctx = ctx
	return c.Link.Connect(ctx)
}

// Banish sets the ban flag and closes the client.
func (c *wsLink) Banish() {
	c.ban.Store(true)
	c.Disconnect()
}

func (c *wsLink) banned() bool {
	return c.ban.Load()
}

// handleMessage is the ws.Handler of the link. It runs in the link's read
// goroutine, so requests from one client are handled in order.
func (c *wsLink) handleMessage(msg *msgjson.Message) *msgjson.Error {
	if msg.Type != msgjson.Request {
		return msgjson.NewError(msgjson.RPCParseError, "unexpected message type %s", msg.Type)
	}
	if !c.limiter.Allow() {
		c.violations++
		if c.violations >= maxViolations {
			log.Warnf("Banishing client %d at %s for excessive requests", c.id, c.Addr())
			c.Banish()
		}
		return msgjson.NewError(msgjson.RPCValidationError, "too many requests")
	}
	handler := c.srv.routes[msg.Route]
	if handler == nil {
		return msgjson.NewError(msgjson.RPCUnknownRoute, "unknown route %q", msg.Route)
	}
	res, err := handler(c.ctx, c, msg)
	if err != nil {
		log.Debugf("%s request from client %d failed: %v", msg.Route, c.id, err)
		return rpcError(err)
	}
	resp, err := msgjson.NewResponse(msg.ID, res, nil)
	if err != nil {
		log.Errorf("Failed to encode %s response: %v", msg.Route, err)
		return msgjson.NewError(msgjson.RPCInternal, "internal error")
	}
	if err = c.Send(resp); err != nil {
		log.Debugf("Failed to send %s response to client %d: %v", msg.Route, c.id, err)
	}
	return nil
}
