// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/fees"
	"github.com/google/uuid"
)

// EventType describes what happened to an order.
type EventType string

// The event types.
const (
	EventListingCreated   EventType = "listing_created"
	EventListingFulfilled EventType = "listing_fulfilled"
	EventListingRemoved   EventType = "listing_removed"
	EventOfferMade        EventType = "offer_made"
	EventOfferAccepted    EventType = "offer_accepted"
	EventOfferCanceled    EventType = "offer_canceled"
	EventTradeOpened      EventType = "trade_opened"
	EventTradeFilled      EventType = "trade_filled"
	EventTradeCanceled    EventType = "trade_canceled"
	EventFeesDistributed  EventType = "fees_distributed"
)

// Event is a committed change to the market. Events are published only after
// the operation that produced them has committed.
type Event struct {
	ID           uuid.UUID          `json:"id"`
	Type         EventType          `json:"type"`
	OrderID      order.OrderID      `json:"orderID"`
	Kind         order.Kind         `json:"kind,omitempty"`
	Status       order.OrderStatus  `json:"status,omitempty"`
	Collection   dex.Address        `json:"collection"`
	Item         dex.ItemID         `json:"item"`
	Maker        dex.Address        `json:"maker"`
	Counterparty dex.Address        `json:"counterparty"`
	Quantity     uint64             `json:"qty,omitempty"`
	Remaining    uint64             `json:"remaining,omitempty"`
	Price        uint64             `json:"price,omitempty"`
	Currency     dex.Address        `json:"currency"`
	Split        *fees.Split        `json:"split,omitempty"`
	Distribution *fees.Distribution `json:"distribution,omitempty"`
	Stamp        time.Time          `json:"stamp"`
}

// Publisher receives committed events. Publish must not block and must not
// call back into the Market.
type Publisher interface {
	Publish(*Event)
}

func newEventID() uuid.UUID {
	return uuid.New()
}

// orderEvent creates an event for the order with the status it has after the
// operation.
func orderEvent(typ EventType, ord order.Order, status order.OrderStatus, now time.Time) *Event {
	p := ord.Base()
	ev := &Event{
		ID:         newEventID(),
		Type:       typ,
		OrderID:    ord.ID(),
		Kind:       ord.Kind(),
		Status:     status,
		Collection: p.Collection,
		Item:       p.Item,
		Maker:      p.Maker,
		Stamp:      now,
	}
	switch o := ord.(type) {
	case *order.Listing:
		ev.Quantity, ev.Price = 1, o.Price
	case *order.Offer:
		ev.Quantity, ev.Price = 1, o.Price
	case *order.Trade:
		ev.Quantity, ev.Price, ev.Remaining = o.Quantity, o.UnitPrice, o.Remaining()
	}
	return ev
}

func feesEvent(d *fees.Distribution, now time.Time) *Event {
	return &Event{
		ID:           newEventID(),
		Type:         EventFeesDistributed,
		Currency:     d.Currency,
		Distribution: d,
		Stamp:        now,
	}
}
