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

// MakeOffer bids for a unique item. An escrowed offer locks the price in the
// native currency at the escrow account. An unescrowed offer is paid in the
// payment token at acceptance, and the offerer's balance and allowance must
// cover the price now.
func (m *Market) MakeOffer(ctx context.Context, offerer, coll dex.Address, item dex.ItemID, price uint64, expiry time.Time, escrowed bool) (order.OrderID, error) {
	var oid order.OrderID
	err := m.run(ctx, "MakeOffer", func(o *op) error {
		if err := m.validateNew(o, coll, price, expiry); err != nil {
			return err
		}
		if escrowed {
			if err := m.settle.Lock(o.ctx, o.tx, dex.NativeCurrency, offerer, price); err != nil {
				return err
			}
		} else if err := m.settle.CheckFunds(o.ctx, o.tx, m.token, offerer, price); err != nil {
			return err
		}
		of := &order.Offer{
			Prefix:   m.prefix(o, coll, item, offerer, expiry),
			Price:    price,
			Escrowed: escrowed,
		}
		id, undo, err := m.offers.Insert(of)
		if err != nil {
			return err
		}
		o.journal.Add(undo)
		o.record(of, order.OrderStatusActive)
		o.events = append(o.events, orderEvent(EventOfferMade, of, order.OrderStatusActive, o.now))
		oid = id
		return nil
	})
	if err != nil {
		return order.OrderID{}, err
	}
	log.Debugf("Offer %v made by %s for %s:%v at %d (escrowed = %v)", oid, offerer, coll, item, price, escrowed)
	return oid, nil
}

// offerCurrency is the currency an offer is paid in.
func (m *Market) offerCurrency(of *order.Offer) dex.Address {
	if of.Escrowed {
		return dex.NativeCurrency
	}
	return m.token
}

func (m *Market) activeOffer(id order.OrderID) (*order.Offer, error) {
	of, found := m.offers.Offer(id)
	if !found {
		return nil, dex.NewError(dex.ErrNotFound, fmt.Sprintf("offer %v", id))
	}
	return of, nil
}

func (m *Market) removeOffer(o *op, id order.OrderID, status order.OrderStatus) (*order.Offer, error) {
	of, undo, err := m.offers.Remove(id)
	if err != nil {
		return nil, err
	}
	o.journal.Add(undo)
	o.record(of, status)
	typ := EventOfferCanceled
	if status == order.OrderStatusFulfilled {
		typ = EventOfferAccepted
	}
	o.events = append(o.events, orderEvent(typ, of, status, o.now))
	return of, nil
}

// AcceptOffer sells the item to the offerer. The caller must hold the item and
// have approved the escrow account. Escrowed funds are released from escrow,
// and unescrowed funds are pulled from the offerer.
func (m *Market) AcceptOffer(ctx context.Context, caller dex.Address, id order.OrderID) error {
	return m.run(ctx, "AcceptOffer", func(o *op) error {
		of, err := m.activeOffer(id)
		if err != nil {
			return err
		}
		if err = m.validateSettle(o, &of.Prefix); err != nil {
			return err
		}
		held, err := o.tx.BalanceOf(o.ctx, of.Collection, of.Item, caller)
		if err != nil {
			return err
		}
		if held == 0 {
			return dex.NewError(dex.ErrAuthorization, fmt.Sprintf("%s does not hold %s:%v", caller, of.Collection, of.Item))
		}
		ok, err := m.settle.CanDeliver(o.ctx, o.tx, of.Collection, of.Item, caller, 1)
		if err != nil {
			return err
		}
		if !ok {
			return dex.NewError(dex.ErrSolvency, fmt.Sprintf("%s has not approved %s for %s", caller, m.Escrow(), of.Collection))
		}
		payer := m.Escrow()
		if !of.Escrowed {
			payer = of.Offerer()
			if err = m.settle.CheckFunds(o.ctx, o.tx, m.token, payer, of.Price); err != nil {
				return err
			}
		}
		if _, err = m.removeOffer(o, id, order.OrderStatusFulfilled); err != nil {
			return err
		}
		if err = m.settle.Deliver(o.ctx, o.tx, of.Collection, of.Item, 1, caller, of.Offerer()); err != nil {
			return err
		}
		currency := m.offerCurrency(of)
		split, err := m.pay(o, of, 1, of.Offerer(), &settle.Payout{
			Currency:   currency,
			Payer:      payer,
			Seller:     caller,
			Gross:      of.Price,
			Collection: of.Collection,
		})
		if err != nil {
			return err
		}
		ev := o.events[len(o.events)-1]
		ev.Counterparty, ev.Currency, ev.Split = caller, currency, split
		log.Debugf("Offer %v accepted by %s. Net to seller %d.", id, caller, split.Net)
		return nil
	})
}

// CancelOffer cancels an offer. The offerer, the current holder of the item
// and admins may always cancel. Anyone may cancel an expired unescrowed offer.
// Escrowed funds are refunded to the offerer.
func (m *Market) CancelOffer(ctx context.Context, caller dex.Address, id order.OrderID) error {
	return m.run(ctx, "CancelOffer", func(o *op) error {
		of, err := m.activeOffer(id)
		if err != nil {
			return err
		}
		req := &auth.Request{
			Caller: caller,
			Maker:  of.Offerer(),
			Expiry: of.Expiry,
		}
		held, err := o.tx.BalanceOf(o.ctx, of.Collection, of.Item, caller)
		if err != nil {
			return err
		}
		if held > 0 {
			req.Counterparties = []dex.Address{caller}
		}
		preds := []auth.Predicate{auth.IsMaker, auth.IsCounterparty, auth.IsAdmin}
		if !of.Escrowed {
			preds = append(preds, auth.IsExpired)
		}
		if err = m.authorize(o, req, preds...); err != nil {
			return err
		}
		return m.cancelOffer(o, id, true)
	})
}

// CancelOfferAdmin cancels an offer as an admin. Escrowed funds are refunded
// only if refund is true. Otherwise they stay in the escrow account.
func (m *Market) CancelOfferAdmin(ctx context.Context, caller dex.Address, id order.OrderID, refund bool) error {
	return m.run(ctx, "CancelOfferAdmin", func(o *op) error {
		if err := m.authorize(o, &auth.Request{Caller: caller}, auth.IsAdmin); err != nil {
			return err
		}
		if _, err := m.activeOffer(id); err != nil {
			return err
		}
		return m.cancelOffer(o, id, refund)
	})
}

func (m *Market) cancelOffer(o *op, id order.OrderID, refund bool) error {
	of, err := m.removeOffer(o, id, order.OrderStatusCanceled)
	if err != nil {
		return err
	}
	if !of.Escrowed {
		return nil
	}
	if !refund {
		log.Warnf("Offer %v canceled without refund. %d remains in escrow.", id, of.Price)
		return nil
	}
	return m.settle.Refund(o.ctx, o.tx, dex.NativeCurrency, of.Offerer(), of.Price)
}

// Offer retrieves a copy of an active offer.
func (m *Market) Offer(ctx context.Context, id order.OrderID) (*order.Offer, error) {
	var of order.Offer
	err := m.view(ctx, "Offer", func() error {
		active, err := m.activeOffer(id)
		if err != nil {
			return err
		}
		of = *active
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &of, nil
}

// OffersByOfferer lists the IDs of the offerer's active offers.
func (m *Market) OffersByOfferer(ctx context.Context, offerer dex.Address) ([]order.OrderID, error) {
	var ids []order.OrderID
	err := m.view(ctx, "OffersByOfferer", func() error {
		ids = m.offers.ByOfferer(offerer)
		return nil
	})
	return ids, err
}

// OfferPosition is the stored position of an offer in the offerer index.
func (m *Market) OfferPosition(ctx context.Context, id order.OrderID) (int, error) {
	var pos int
	err := m.view(ctx, "OfferPosition", func() error {
		var found bool
		if pos, found = m.offers.Position(id); !found {
			return dex.NewError(dex.ErrNotFound, fmt.Sprintf("offer %v", id))
		}
		return nil
	})
	return pos, err
}
