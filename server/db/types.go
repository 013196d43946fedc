// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"encoding/json"
	"fmt"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"github.com/google/uuid"
)

// OrderRecord is an order and its status. Exactly one of Listing, Offer or
// Trade is set, matching Kind.
type OrderRecord struct {
	ID      order.OrderID     `json:"id"`
	Kind    order.Kind        `json:"kind"`
	Status  order.OrderStatus `json:"status"`
	Listing *order.Listing    `json:"listing,omitempty"`
	Offer   *order.Offer      `json:"offer,omitempty"`
	Trade   *order.Trade      `json:"trade,omitempty"`
}

// NewOrderRecord wraps the order with the given status. The order is copied so
// later mutation by the caller does not change the record.
func NewOrderRecord(ord order.Order, status order.OrderStatus) *OrderRecord {
	rec := &OrderRecord{
		ID:     ord.ID(),
		Kind:   ord.Kind(),
		Status: status,
	}
	switch o := ord.(type) {
	case *order.Listing:
		l := *o
		rec.Listing = &l
	case *order.Offer:
		of := *o
		rec.Offer = &of
	case *order.Trade:
		t := *o
		rec.Trade = &t
	}
	return rec
}

// Order returns the wrapped order.
func (r *OrderRecord) Order() (order.Order, error) {
	switch {
	case r.Kind == order.ListingKind && r.Listing != nil:
		return r.Listing, nil
	case r.Kind == order.OfferKind && r.Offer != nil:
		return r.Offer, nil
	case r.Kind == order.TradeKind && r.Trade != nil:
		return r.Trade, nil
	}
	return nil, ArchiveError{Code: ErrInvalidOrder, Detail: fmt.Sprintf("%v record %v has no body", r.Kind, r.ID)}
}

// Body encodes the wrapped order as JSON.
func (r *OrderRecord) Body() ([]byte, error) {
	ord, err := r.Order()
	if err != nil {
		return nil, err
	}
	return json.Marshal(ord)
}

// DecodeOrder decodes an order body of the given kind.
func DecodeOrder(kind order.Kind, b []byte) (order.Order, error) {
	var ord order.Order
	switch kind {
	case order.ListingKind:
		ord = new(order.Listing)
	case order.OfferKind:
		ord = new(order.Offer)
	case order.TradeKind:
		ord = new(order.Trade)
	default:
		return nil, ArchiveError{Code: ErrInvalidOrder, Detail: fmt.Sprintf("unknown order kind %d", kind)}
	}
	if err := json.Unmarshal(b, ord); err != nil {
		return nil, ArchiveError{Code: ErrInvalidOrder, Detail: err.Error()}
	}
	return ord, nil
}

// AddToState appends a decoded active order to the matching slice of st.
func AddToState(st *State, ord order.Order) {
	switch o := ord.(type) {
	case *order.Listing:
		st.Listings = append(st.Listings, o)
	case *order.Offer:
		st.Offers = append(st.Offers, o)
	case *order.Trade:
		st.Trades = append(st.Trades, o)
	}
}

// Settlement is a record of proceeds paid when a listing was fulfilled, an
// offer accepted or a trade filled.
type Settlement struct {
	ID         uuid.UUID     `json:"id"`
	OrderID    order.OrderID `json:"orderID"`
	Kind       order.Kind    `json:"kind"`
	Collection dex.Address   `json:"collection"`
	Item       dex.ItemID    `json:"item"`
	Quantity   uint64        `json:"qty"`
	Seller     dex.Address   `json:"seller"`
	Buyer      dex.Address   `json:"buyer"`
	Currency   dex.Address   `json:"currency"`
	Gross      uint64        `json:"gross"`
	Net        uint64        `json:"net"`
	Owner      uint64        `json:"owner"`
	Dev        uint64        `json:"dev"`
	Holder     uint64        `json:"holder"`
	Buyback    uint64        `json:"buyback"`
	// Accrued is true if the admin components were accrued rather than
	// forwarded.
	Accrued bool      `json:"accrued"`
	Stamp   time.Time `json:"stamp"`
}
