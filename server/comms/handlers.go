// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"context"
	"errors"
	"net/http"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/msgjson"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/auth"
)

// Market is the order engine behind the RPC routes. It is satisfied by
// *market.Market.
type Market interface {
	CreateListing(ctx context.Context, lister, coll dex.Address, item dex.ItemID, price uint64, expiry time.Time) (order.OrderID, error)
	FulfillListing(ctx context.Context, caller dex.Address, id order.OrderID, recipient dex.Address, tendered uint64) error
	DelistToken(ctx context.Context, caller dex.Address, id order.OrderID) error
	MakeOffer(ctx context.Context, offerer, coll dex.Address, item dex.ItemID, price uint64, expiry time.Time, escrowed bool) (order.OrderID, error)
	AcceptOffer(ctx context.Context, caller dex.Address, id order.OrderID) error
	CancelOffer(ctx context.Context, caller dex.Address, id order.OrderID) error
	OpenTrade(ctx context.Context, maker, coll dex.Address, item dex.ItemID, qty, unitPrice uint64,
		expiry time.Time, flags order.TradeFlags) (order.OrderID, error)
	AcceptTrade(ctx context.Context, taker dex.Address, id order.OrderID, fillQty uint64) error
	CancelTrade(ctx context.Context, caller dex.Address, id order.OrderID) error

	Listing(ctx context.Context, id order.OrderID) (*order.Listing, error)
	Offer(ctx context.Context, id order.OrderID) (*order.Offer, error)
	Trade(ctx context.Context, id order.OrderID) (*order.Trade, error)
	ListingsByLister(ctx context.Context, lister dex.Address) ([]order.OrderID, error)
	ListingsByCollection(ctx context.Context, coll dex.Address) ([]order.OrderID, error)
	OffersByOfferer(ctx context.Context, offerer dex.Address) ([]order.OrderID, error)
	TradesByMaker(ctx context.Context, maker dex.Address) ([]order.OrderID, error)
}

// MsgHandler handles a request from the link. The result is sent as the
// response payload. A returned error is converted with rpcError.
type MsgHandler func(ctx context.Context, link Link, msg *msgjson.Message) (interface{}, error)

// acctHandler handles a request on behalf of the link's logged in account.
type acctHandler func(ctx context.Context, acct dex.Address, msg *msgjson.Message) (interface{}, error)

func (s *Server) msgRoutes() map[string]MsgHandler {
	routes := map[string]MsgHandler{
		msgjson.ChallengeRoute:      handleChallenge,
		msgjson.ConnectRoute:        handleConnect,
		msgjson.CreateListingRoute:  authed(s.handleCreateListing),
		msgjson.FulfillListingRoute: authed(s.handleFulfillListing),
		msgjson.DelistRoute:         authed(orderAction(s.mkt.DelistToken)),
		msgjson.MakeOfferRoute:      authed(s.handleMakeOffer),
		msgjson.AcceptOfferRoute:    authed(orderAction(s.mkt.AcceptOffer)),
		msgjson.CancelOfferRoute:    authed(orderAction(s.mkt.CancelOffer)),
		msgjson.OpenTradeRoute:      authed(s.handleOpenTrade),
		msgjson.AcceptTradeRoute:    authed(s.handleAcceptTrade),
		msgjson.CancelTradeRoute:    authed(orderAction(s.mkt.CancelTrade)),
	}
	for _, route := range []string{msgjson.ListingRoute, msgjson.OfferRoute, msgjson.TradeRoute} {
		routes[route] = s.queryMsg(route, func() interface{} { return new(msgjson.OrderQuery) })
	}
	for _, route := range []string{msgjson.ListingsByListerRoute, msgjson.ListingsByCollectionRoute,
		msgjson.OffersByOffererRoute, msgjson.TradesByMakerRoute} {
		routes[route] = s.queryMsg(route, func() interface{} { return new(msgjson.AccountQuery) })
	}
	return routes
}

// rpcError converts a handler error to a *msgjson.Error.
func rpcError(err error) *msgjson.Error {
	var rpcErr *msgjson.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	rpcErr = msgjson.ErrorFrom(err)
	if rpcErr.Code == msgjson.RPCInternal {
		log.Errorf("Internal error: %v", err)
	}
	return rpcErr
}

func parseError(err error) error {
	return msgjson.NewError(msgjson.RPCParseError, "error parsing payload: %v", err)
}

// authed wraps a handler of an order route. The caller of the order operation
// is always the link's logged in account.
func authed(f acctHandler) MsgHandler {
	return func(ctx context.Context, link Link, msg *msgjson.Message) (interface{}, error) {
		acct, ok := link.Account()
		if !ok {
			return nil, msgjson.NewError(msgjson.RPCAuthenticationError, "not logged in")
		}
		return f(ctx, acct, msg)
	}
}

// handleChallenge sends the link's login challenge.
func handleChallenge(_ context.Context, link Link, _ *msgjson.Message) (interface{}, error) {
	return &msgjson.ChallengeResult{Challenge: link.Challenge()}, nil
}

// handleConnect logs the link in to the account that signed its challenge.
func handleConnect(_ context.Context, link Link, msg *msgjson.Message) (interface{}, error) {
	var req msgjson.Connect
	if err := msg.Unmarshal(&req); err != nil {
		return nil, parseError(err)
	}
	if err := auth.VerifyLogin(link.Challenge(), req.Account, req.Sig); err != nil {
		log.Debugf("Failed login for %s on link %d: %v", req.Account, link.ID(), err)
		return nil, msgjson.NewError(msgjson.RPCAuthenticationError, "signature verification failed")
	}
	link.Authorize(req.Account)
	log.Debugf("Link %d logged in to %s", link.ID(), req.Account)
	return &msgjson.ConnectResult{Account: req.Account}, nil
}

func (s *Server) handleCreateListing(ctx context.Context, acct dex.Address, msg *msgjson.Message) (interface{}, error) {
	var req msgjson.CreateListing
	if err := msg.Unmarshal(&req); err != nil {
		return nil, parseError(err)
	}
	oid, err := s.mkt.CreateListing(ctx, acct, req.Collection, req.Item, req.Price, req.Expiry.Time())
	if err != nil {
		return nil, err
	}
	return &msgjson.OrderResult{OrderID: oid}, nil
}

func (s *Server) handleFulfillListing(ctx context.Context, acct dex.Address, msg *msgjson.Message) (interface{}, error) {
	var req msgjson.FulfillListing
	if err := msg.Unmarshal(&req); err != nil {
		return nil, parseError(err)
	}
	if err := s.mkt.FulfillListing(ctx, acct, req.OrderID, req.Recipient, req.Tendered); err != nil {
		return nil, err
	}
	return &msgjson.OrderResult{OrderID: req.OrderID}, nil
}

// orderAction creates a handler for the routes with an OrderAction payload.
func orderAction(f func(ctx context.Context, caller dex.Address, id order.OrderID) error) acctHandler {
	return func(ctx context.Context, acct dex.Address, msg *msgjson.Message) (interface{}, error) {
		var req msgjson.OrderAction
		if err := msg.Unmarshal(&req); err != nil {
			return nil, parseError(err)
		}
		if err := f(ctx, acct, req.OrderID); err != nil {
			return nil, err
		}
		return &msgjson.OrderResult{OrderID: req.OrderID}, nil
	}
}

func (s *Server) handleMakeOffer(ctx context.Context, acct dex.Address, msg *msgjson.Message) (interface{}, error) {
	var req msgjson.MakeOffer
	if err := msg.Unmarshal(&req); err != nil {
		return nil, parseError(err)
	}
	oid, err := s.mkt.MakeOffer(ctx, acct, req.Collection, req.Item, req.Price, req.Expiry.Time(), req.Escrowed)
	if err != nil {
		return nil, err
	}
	return &msgjson.OrderResult{OrderID: oid}, nil
}

func (s *Server) handleOpenTrade(ctx context.Context, acct dex.Address, msg *msgjson.Message) (interface{}, error) {
	var req msgjson.OpenTrade
	if err := msg.Unmarshal(&req); err != nil {
		return nil, parseError(err)
	}
	flags, err := req.Flags()
	if err != nil {
		return nil, msgjson.NewError(msgjson.RPCValidationError, "%v", err)
	}
	oid, err := s.mkt.OpenTrade(ctx, acct, req.Collection, req.Item, req.Quantity, req.UnitPrice, req.Expiry.Time(), flags)
	if err != nil {
		return nil, err
	}
	return &msgjson.OrderResult{OrderID: oid}, nil
}

func (s *Server) handleAcceptTrade(ctx context.Context, acct dex.Address, msg *msgjson.Message) (interface{}, error) {
	var req msgjson.AcceptTrade
	if err := msg.Unmarshal(&req); err != nil {
		return nil, parseError(err)
	}
	if err := s.mkt.AcceptTrade(ctx, acct, req.OrderID, req.Quantity); err != nil {
		return nil, err
	}
	return &msgjson.OrderResult{OrderID: req.OrderID}, nil
}

// queryMsg creates the handler of a query route. newThing creates the payload
// type of the route.
func (s *Server) queryMsg(route string, newThing func() interface{}) MsgHandler {
	return func(ctx context.Context, _ Link, msg *msgjson.Message) (interface{}, error) {
		thing := newThing()
		if err := msg.Unmarshal(thing); err != nil {
			return nil, parseError(err)
		}
		return s.query(ctx, route, thing)
	}
}

// query runs the query route with its decoded payload.
func (s *Server) query(ctx context.Context, route string, thing interface{}) (interface{}, error) {
	ids := func(oids []order.OrderID, err error) (interface{}, error) {
		if err != nil {
			return nil, err
		}
		return &msgjson.OrderIDsResult{OrderIDs: oids}, nil
	}
	switch q := thing.(type) {
	case *msgjson.OrderQuery:
		switch route {
		case msgjson.ListingRoute:
			l, err := s.mkt.Listing(ctx, q.OrderID)
			if err != nil {
				return nil, err
			}
			return l, nil
		case msgjson.OfferRoute:
			o, err := s.mkt.Offer(ctx, q.OrderID)
			if err != nil {
				return nil, err
			}
			return o, nil
		case msgjson.TradeRoute:
			t, err := s.mkt.Trade(ctx, q.OrderID)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	case *msgjson.AccountQuery:
		switch route {
		case msgjson.ListingsByListerRoute:
			return ids(s.mkt.ListingsByLister(ctx, q.Account))
		case msgjson.ListingsByCollectionRoute:
			return ids(s.mkt.ListingsByCollection(ctx, q.Account))
		case msgjson.OffersByOffererRoute:
			return ids(s.mkt.OffersByOfferer(ctx, q.Account))
		case msgjson.TradesByMakerRoute:
			return ids(s.mkt.TradesByMaker(ctx, q.Account))
		}
	}
	return nil, msgjson.NewError(msgjson.RPCUnknownRoute, "unknown query route %s", route)
}

// queryHandler creates the HTTP handler of a query route. Middleware should
// have already parsed the request and added the query to the Context.
func (s *Server) queryHandler(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.query(r.Context(), route, r.Context().Value(ctxThing))
		if err != nil {
			rpcErr := rpcError(err)
			writeJSONWithStatus(w, map[string]string{"error": rpcErr.Message}, httpStatus(rpcErr.Code))
			return
		}
		writeJSONWithStatus(w, resp, http.StatusOK)
	}
}

func httpStatus(code int) int {
	switch code {
	case msgjson.RPCAuthenticationError:
		return http.StatusUnauthorized
	case msgjson.RPCNotFoundError:
		return http.StatusNotFound
	case msgjson.RPCInternal, msgjson.RPCUnknownRoute:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
