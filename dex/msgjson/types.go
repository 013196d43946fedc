// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package msgjson defines the websocket message envelope, the routes and
// their payloads, and the RPC error codes.
package msgjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Error codes
const (
	RPCErrorUnspecified  = iota // 0
	RPCParseError               // 1
	RPCUnknownRoute             // 2
	RPCInternal                 // 3
	RPCValidationError          // 4
	RPCNotFoundError            // 5
	RPCExpiredError             // 6
	RPCNotActiveError           // 7
	RPCAuthorizationError       // 8
	RPCSolvencyError            // 9
	RPCPartialFillError         // 10
	RPCReentrantError           // 11
	RPCAuthenticationError      // 12
)

// Routes are destinations for a "payload" of data. The type of data being
// delivered, and what kind of action is expected from the receiving party, is
// completely dependent on the route.
const (
	// ChallengeRoute returns the connection's login challenge.
	ChallengeRoute = "challenge"
	// ConnectRoute logs the connection in to an account. The order action
	// routes act for the logged in account.
	ConnectRoute = "connect"
	// CreateListingRoute lists a unique item for sale.
	CreateListingRoute = "create_listing"
	// FulfillListingRoute buys a listed item.
	FulfillListingRoute = "fulfill_listing"
	// DelistRoute removes a listing.
	DelistRoute = "delist"
	// MakeOfferRoute bids for a unique item.
	MakeOfferRoute = "make_offer"
	// AcceptOfferRoute sells an item to an offerer.
	AcceptOfferRoute = "accept_offer"
	// CancelOfferRoute cancels an offer.
	CancelOfferRoute = "cancel_offer"
	// OpenTradeRoute opens a buy or sell trade for a fungible balance.
	OpenTradeRoute = "open_trade"
	// AcceptTradeRoute fills some or all of a trade.
	AcceptTradeRoute = "accept_trade"
	// CancelTradeRoute cancels a trade.
	CancelTradeRoute = "cancel_trade"

	ListingRoute              = "listing"
	OfferRoute                = "offer"
	TradeRoute                = "trade"
	ListingsByListerRoute     = "listings_by_lister"
	ListingsByCollectionRoute = "listings_by_collection"
	OffersByOffererRoute      = "offers_by_offerer"
	TradesByMakerRoute        = "trades_by_maker"

	// OrderEventRoute is the notification route of committed market events.
	OrderEventRoute = "order_event"
)

var errNullRespPayload = errors.New("null response payload")

// Error is returned as part of the Response to indicate that an error
// occurred during method execution.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error returns the error message. Satisfies the error interface.
func (e *Error) Error() string {
	return e.String()
}

// String satisfies the Stringer interface for pretty printing.
func (e Error) String() string {
	return fmt.Sprintf("error code %d: %s", e.Code, e.Message)
}

// NewError is a constructor for an Error.
func NewError(code int, format string, a ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
	}
}

var kindCodes = []struct {
	kind error
	code int
}{
	{dex.ErrValidation, RPCValidationError},
	{dex.ErrNotFound, RPCNotFoundError},
	{dex.ErrExpired, RPCExpiredError},
	{dex.ErrNotActive, RPCNotActiveError},
	{dex.ErrAuthorization, RPCAuthorizationError},
	{dex.ErrSolvency, RPCSolvencyError},
	{dex.ErrPartialFillPolicy, RPCPartialFillError},
	{dex.ErrReentrant, RPCReentrantError},
}

// ErrorFrom converts a market error to an *Error with the code of its error
// kind. Errors of no known kind are RPCInternal, and their message is not
// passed on.
func ErrorFrom(err error) *Error {
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return NewError(kc.code, "%v", err)
		}
	}
	return NewError(RPCInternal, "internal error")
}

// ResponsePayload is the payload for a Response-type Message.
type ResponsePayload struct {
	// Result is the payload, if successful, else nil.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the error, or nil if none was encountered.
	Error *Error `json:"error,omitempty"`
}

// MessageType indicates the type of message.
type MessageType uint8

// There are three message types: request, response, and notification.
const (
	InvalidMessageType MessageType = iota // 0
	Request                               // 1
	Response                              // 2
	Notification                          // 3
)

// String satisfies the Stringer interface.
func (mt MessageType) String() string {
	switch mt {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return "unknown MessageType"
	}
}

// Message is the primary messaging type for websocket communications.
type Message struct {
	Type MessageType `json:"type"`
	// Route is used for requests and notifications.
	Route string `json:"route,omitempty"`
	// ID links a response to a request.
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeMessage decodes a *Message from JSON-formatted bytes.
func DecodeMessage(b []byte) (*Message, error) {
	msg := new(Message)
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewRequest is the constructor for a Request-type *Message.
func NewRequest(id uint64, route string, payload interface{}) (*Message, error) {
	if id == 0 {
		return nil, fmt.Errorf("id = 0 not allowed for a request-type message")
	}
	if route == "" {
		return nil, fmt.Errorf("empty route not allowed for a request-type message")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Request,
		Route:   route,
		ID:      id,
		Payload: encoded,
	}, nil
}

// NewResponse encodes the result and creates a Response-type *Message.
func NewResponse(id uint64, result interface{}, rpcErr *Error) (*Message, error) {
	if id == 0 {
		return nil, fmt.Errorf("id = 0 not allowed for response-type message")
	}
	encResult, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	encResp, err := json.Marshal(&ResponsePayload{
		Result: encResult,
		Error:  rpcErr,
	})
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Response,
		ID:      id,
		Payload: encResp,
	}, nil
}

// Response decodes the payload of a Response-type Message.
func (msg *Message) Response() (*ResponsePayload, error) {
	if msg.Type != Response {
		return nil, fmt.Errorf("invalid type %d for ResponsePayload", msg.Type)
	}
	var resp *ResponsePayload
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errNullRespPayload
	}
	return resp, nil
}

// NewNotification encodes the payload and creates a Notification-type
// *Message.
func NewNotification(route string, payload interface{}) (*Message, error) {
	if route == "" {
		return nil, fmt.Errorf("empty route not allowed for a notification-type message")
	}
	encPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Notification,
		Route:   route,
		Payload: encPayload,
	}, nil
}

// Unmarshal unmarshals the Payload field into the provided interface.
func (msg *Message) Unmarshal(payload interface{}) error {
	return json.Unmarshal(msg.Payload, payload)
}

// UnmarshalResult decodes the Result of a Response-type Message. An RPC error
// in the response is returned as an error wrapping the *Error.
func (msg *Message) UnmarshalResult(result interface{}) error {
	resp, err := msg.Response()
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc error: %w", resp.Error)
	}
	return json.Unmarshal(resp.Result, result)
}

// String prints the message as a JSON-encoded string.
func (msg *Message) String() string {
	b, err := json.Marshal(msg)
	if err != nil {
		return "[Message decode error]"
	}
	return string(b)
}

// Stamp is a millisecond unix timestamp.
type Stamp uint64

// Time converts the stamp to a time.Time.
func (s Stamp) Time() time.Time {
	return time.UnixMilli(int64(s))
}

// StampOf converts a time to a Stamp.
func StampOf(t time.Time) Stamp {
	return Stamp(t.UnixMilli())
}

// ChallengeResult is the result of the challenge route.
type ChallengeResult struct {
	Challenge hexutil.Bytes `json:"challenge"`
}

// Connect is the payload for the connect route. Sig is the account's
// personal_sign signature of the login message of the challenge.
type Connect struct {
	Account dex.Address   `json:"account"`
	Sig     hexutil.Bytes `json:"sig"`
}

// ConnectResult is the result of the connect route.
type ConnectResult struct {
	Account dex.Address `json:"account"`
}

// CreateListing is the payload for the create_listing route.
type CreateListing struct {
	Collection dex.Address `json:"collection"`
	Item       dex.ItemID  `json:"item"`
	Price      uint64      `json:"price"`
	Expiry     Stamp       `json:"expiry"`
}

// FulfillListing is the payload for the fulfill_listing route.
type FulfillListing struct {
	OrderID   order.OrderID `json:"orderid"`
	Recipient dex.Address   `json:"recipient"`
	Tendered  uint64        `json:"tendered"`
}

// OrderAction is the payload of the delist, accept_offer, cancel_offer and
// cancel_trade routes.
type OrderAction struct {
	OrderID order.OrderID `json:"orderid"`
}

// MakeOffer is the payload for the make_offer route.
type MakeOffer struct {
	Collection dex.Address `json:"collection"`
	Item       dex.ItemID  `json:"item"`
	Price      uint64      `json:"price"`
	Expiry     Stamp       `json:"expiry"`
	Escrowed   bool        `json:"escrowed"`
}

// OpenTrade is the payload for the open_trade route. Side is "buy" or "sell".
type OpenTrade struct {
	Collection dex.Address `json:"collection"`
	Item       dex.ItemID  `json:"item"`
	Quantity   uint64      `json:"qty"`
	UnitPrice  uint64      `json:"rate"`
	Expiry     Stamp       `json:"expiry"`
	Side       string      `json:"side"`
	Partial    bool        `json:"partial"`
	Escrowed   bool        `json:"escrowed"`
}

// Flags parses the trade options.
func (t *OpenTrade) Flags() (order.TradeFlags, error) {
	flags := order.TradeFlags{
		AllowPartialFills: t.Partial,
		Escrowed:          t.Escrowed,
	}
	switch t.Side {
	case "buy":
		flags.Side = order.Buy
	case "sell":
		flags.Side = order.Sell
	default:
		return flags, fmt.Errorf("unknown side %q", t.Side)
	}
	return flags, nil
}

// AcceptTrade is the payload for the accept_trade route.
type AcceptTrade struct {
	OrderID  order.OrderID `json:"orderid"`
	Quantity uint64        `json:"qty"`
}

// OrderQuery is the payload of the listing, offer and trade routes.
type OrderQuery struct {
	OrderID order.OrderID `json:"orderid"`
}

// AccountQuery is the payload of the listings_by_lister,
// listings_by_collection, offers_by_offerer and trades_by_maker routes.
type AccountQuery struct {
	Account dex.Address `json:"account"`
}

// OrderResult is the result of the routes that create an order.
type OrderResult struct {
	OrderID order.OrderID `json:"orderid"`
}

// OrderIDsResult is the result of the index query routes.
type OrderIDsResult struct {
	OrderIDs []order.OrderID `json:"orderids"`
}
