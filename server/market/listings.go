// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"context"
	"fmt"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/auth"
	"decred.org/nftdex/server/settle"
)

// CreateListing lists a unique item for sale at a fixed price in the native
// currency. The lister must hold the item and have approved the escrow
// account. An existing listing of the item is superseded.
func (m *Market) CreateListing(ctx context.Context, lister, coll dex.Address, item dex.ItemID, price uint64, expiry time.Time) (order.OrderID, error) {
	var oid order.OrderID
	err := m.run(ctx, "CreateListing", func(o *op) error {
		if err := m.validateNew(o, coll, price, expiry); err != nil {
			return err
		}
		ok, err := m.settle.CanDeliver(o.ctx, o.tx, coll, item, lister, 1)
		if err != nil {
			return err
		}
		if !ok {
			return dex.NewError(dex.ErrSolvency, fmt.Sprintf("%s does not hold or has not approved item %s:%v", lister, coll, item))
		}
		if cur, found := m.listings.Current(coll, item); found {
			if _, err = m.removeListing(o, cur, order.OrderStatusSuperseded); err != nil {
				return err
			}
		}
		l := &order.Listing{
			Prefix: m.prefix(o, coll, item, lister, expiry),
			Price:  price,
		}
		id, undo, err := m.listings.Insert(l)
		if err != nil {
			return err
		}
		o.journal.Add(undo)
		o.record(l, order.OrderStatusActive)
		o.events = append(o.events, orderEvent(EventListingCreated, l, order.OrderStatusActive, o.now))
		oid = id
		return nil
	})
	if err != nil {
		return order.OrderID{}, err
	}
	log.Debugf("Listing %v created by %s for %s:%v at %d", oid, lister, coll, item, price)
	return oid, nil
}

// removeListing removes the listing from the registry with the given terminal
// status.
func (m *Market) removeListing(o *op, id order.OrderID, status order.OrderStatus) (*order.Listing, error) {
	l, undo, err := m.listings.Remove(id)
	if err != nil {
		return nil, err
	}
	o.journal.Add(undo)
	o.record(l, status)
	typ := EventListingRemoved
	if status == order.OrderStatusFulfilled {
		typ = EventListingFulfilled
	}
	o.events = append(o.events, orderEvent(typ, l, status, o.now))
	return l, nil
}

// activeListing retrieves the listing or a dex.ErrNotFound.
func (m *Market) activeListing(id order.OrderID) (*order.Listing, error) {
	l, found := m.listings.Listing(id)
	if !found {
		return nil, dex.NewError(dex.ErrNotFound, fmt.Sprintf("listing %v", id))
	}
	return l, nil
}

// FulfillListing buys the listed item for recipient. The caller pays exactly
// the listing price from the tendered amount, which must cover it. The item
// moves from the lister to the recipient and the proceeds are split by the fee
// schedule.
func (m *Market) FulfillListing(ctx context.Context, caller dex.Address, id order.OrderID, recipient dex.Address, tendered uint64) error {
	return m.run(ctx, "FulfillListing", func(o *op) error {
		l, err := m.activeListing(id)
		if err != nil {
			return err
		}
		if err = m.validateSettle(o, &l.Prefix); err != nil {
			return err
		}
		ok, err := m.settle.CanDeliver(o.ctx, o.tx, l.Collection, l.Item, l.Lister(), 1)
		if err != nil {
			return err
		}
		if !ok {
			return dex.NewError(dex.ErrSolvency, fmt.Sprintf("lister %s no longer holds or has not approved %s:%v", l.Lister(), l.Collection, l.Item))
		}
		if tendered < l.Price {
			return dex.NewError(dex.ErrValidation, fmt.Sprintf("tendered %d is less than the price %d", tendered, l.Price))
		}
		if _, err = m.removeListing(o, id, order.OrderStatusFulfilled); err != nil {
			return err
		}
		if err = m.settle.Deliver(o.ctx, o.tx, l.Collection, l.Item, 1, l.Lister(), recipient); err != nil {
			return err
		}
		split, err := m.pay(o, l, 1, recipient, &settle.Payout{
			Currency:   dex.NativeCurrency,
			Payer:      caller,
			Seller:     l.Lister(),
			Gross:      l.Price,
			Collection: l.Collection,
		})
		if err != nil {
			return err
		}
		ev := o.events[len(o.events)-1]
		ev.Counterparty, ev.Currency, ev.Split = recipient, dex.NativeCurrency, split
		log.Debugf("Listing %v fulfilled by %s for %s. Net to seller %d.", id, caller, recipient, split.Net)
		return nil
	})
}

// DelistToken removes a listing. The lister and admins may always delist.
// Anyone may delist once the listing has expired or the lister no longer holds
// or has revoked approval of the item.
func (m *Market) DelistToken(ctx context.Context, caller dex.Address, id order.OrderID) error {
	return m.run(ctx, "DelistToken", func(o *op) error {
		l, err := m.activeListing(id)
		if err != nil {
			return err
		}
		canDeliver, err := m.settle.CanDeliver(o.ctx, o.tx, l.Collection, l.Item, l.Lister(), 1)
		if err != nil {
			return err
		}
		req := &auth.Request{
			Caller:        caller,
			Maker:         l.Lister(),
			Expiry:        l.Expiry,
			MakerLostItem: !canDeliver,
		}
		err = m.authorize(o, req, auth.IsMaker, auth.IsAdmin, auth.MakerLostItem, auth.IsExpired)
		if err != nil {
			return err
		}
		_, err = m.removeListing(o, id, order.OrderStatusDelisted)
		return err
	})
}

// ClearListing removes a listing unconditionally. Only admins may clear.
func (m *Market) ClearListing(ctx context.Context, caller dex.Address, id order.OrderID) error {
	return m.run(ctx, "ClearListing", func(o *op) error {
		if err := m.authorize(o, &auth.Request{Caller: caller}, auth.IsAdmin); err != nil {
			return err
		}
		if _, err := m.activeListing(id); err != nil {
			return err
		}
		_, err := m.removeListing(o, id, order.OrderStatusCleared)
		if err == nil {
			log.Infof("Listing %v cleared by admin %s", id, caller)
		}
		return err
	})
}

// Listing retrieves a copy of an active listing.
func (m *Market) Listing(ctx context.Context, id order.OrderID) (*order.Listing, error) {
	var l order.Listing
	err := m.view(ctx, "Listing", func() error {
		active, err := m.activeListing(id)
		if err != nil {
			return err
		}
		l = *active
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CurrentListing is the ID of the active listing of an item.
func (m *Market) CurrentListing(ctx context.Context, coll dex.Address, item dex.ItemID) (order.OrderID, error) {
	var id order.OrderID
	err := m.view(ctx, "CurrentListing", func() error {
		cur, found := m.listings.Current(coll, item)
		if !found {
			return dex.NewError(dex.ErrNotFound, fmt.Sprintf("no listing for %s:%v", coll, item))
		}
		id = cur
		return nil
	})
	return id, err
}

// ListingsByLister lists the IDs of the lister's active listings. The order is
// not stable across removals.
func (m *Market) ListingsByLister(ctx context.Context, lister dex.Address) ([]order.OrderID, error) {
	var ids []order.OrderID
	err := m.view(ctx, "ListingsByLister", func() error {
		ids = m.listings.ByLister(lister)
		return nil
	})
	return ids, err
}

// ListingsByCollection lists the IDs of the collection's active listings.
func (m *Market) ListingsByCollection(ctx context.Context, coll dex.Address) ([]order.OrderID, error) {
	var ids []order.OrderID
	err := m.view(ctx, "ListingsByCollection", func() error {
		ids = m.listings.ByCollection(coll)
		return nil
	})
	return ids, err
}

// ListingPositions are the stored index positions of a listing.
func (m *Market) ListingPositions(ctx context.Context, id order.OrderID) (listerPos, collectionPos int, err error) {
	err = m.view(ctx, "ListingPositions", func() error {
		var found bool
		listerPos, collectionPos, found = m.listings.Positions(id)
		if !found {
			return dex.NewError(dex.ErrNotFound, fmt.Sprintf("listing %v", id))
		}
		return nil
	})
	return
}
