// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"context"
	"fmt"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/calc"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/auth"
	"decred.org/nftdex/server/settle"
)

// OpenTrade opens a buy or sell order for a quantity of a fungible item. A sell
// maker must hold the quantity and have approved the escrow account, and sells
// cannot be escrowed. An escrowed buy locks quantity x unitPrice of the native
// currency. An unescrowed buy is paid in the payment token and is checked for
// solvency now and again at each fill.
func (m *Market) OpenTrade(ctx context.Context, maker, coll dex.Address, item dex.ItemID, qty, unitPrice uint64,
	expiry time.Time, flags order.TradeFlags) (order.OrderID, error) {

	var oid order.OrderID
	err := m.run(ctx, "OpenTrade", func(o *op) error {
		if err := m.validateNew(o, coll, unitPrice, expiry); err != nil {
			return err
		}
		if qty == 0 {
			return dex.NewError(dex.ErrValidation, "zero quantity")
		}
		total, err := calc.Mul(qty, unitPrice)
		if err != nil {
			return dex.NewError(dex.ErrValidation, err.Error())
		}
		switch flags.Side {
		case order.Sell:
			if flags.Escrowed {
				return dex.NewError(dex.ErrValidation, "sell trades cannot be escrowed")
			}
			ok, err := m.settle.CanDeliver(o.ctx, o.tx, coll, item, maker, qty)
			if err != nil {
				return err
			}
			if !ok {
				return dex.NewError(dex.ErrSolvency, fmt.Sprintf("%s does not hold %d of or has not approved %s:%v", maker, qty, coll, item))
			}
		case order.Buy:
			if flags.Escrowed {
				err = m.settle.Lock(o.ctx, o.tx, dex.NativeCurrency, maker, total)
			} else {
				err = m.settle.CheckFunds(o.ctx, o.tx, m.token, maker, total)
			}
			if err != nil {
				return err
			}
		default:
			return dex.NewError(dex.ErrValidation, fmt.Sprintf("unknown side %d", flags.Side))
		}
		t := &order.Trade{
			Prefix:    m.prefix(o, coll, item, maker, expiry),
			Quantity:  qty,
			UnitPrice: unitPrice,
			Flags:     flags,
		}
		id, undo, err := m.trades.Insert(t)
		if err != nil {
			return err
		}
		o.journal.Add(undo)
		o.record(t, order.OrderStatusActive)
		o.events = append(o.events, orderEvent(EventTradeOpened, t, order.OrderStatusActive, o.now))
		oid = id
		return nil
	})
	if err != nil {
		return order.OrderID{}, err
	}
	log.Debugf("%s trade %v opened by %s for %d of %s:%v at %d", flags.Side, oid, maker, qty, coll, item, unitPrice)
	return oid, nil
}

// tradeCurrency is the currency a trade is paid in.
func (m *Market) tradeCurrency(t *order.Trade) dex.Address {
	if t.Flags.Side == order.Buy && !t.Flags.Escrowed {
		return m.token
	}
	return dex.NativeCurrency
}

func (m *Market) activeTrade(id order.OrderID) (*order.Trade, error) {
	t, found := m.trades.Trade(id)
	if !found {
		return nil, dex.NewError(dex.ErrNotFound, fmt.Sprintf("trade %v", id))
	}
	return t, nil
}

// AcceptTrade fills fillQty of the trade. The taker sells into a buy trade or
// buys from a sell trade. The proceeds of fillQty x unitPrice are split by the
// fee schedule. A trade that is completely filled is removed.
func (m *Market) AcceptTrade(ctx context.Context, taker dex.Address, id order.OrderID, fillQty uint64) error {
	return m.run(ctx, "AcceptTrade", func(o *op) error {
		t, err := m.activeTrade(id)
		if err != nil {
			return err
		}
		remaining := t.Remaining()
		if fillQty == 0 || fillQty > remaining {
			return dex.NewError(dex.ErrValidation, fmt.Sprintf("fill of %d with %d remaining", fillQty, remaining))
		}
		if !t.Flags.AllowPartialFills && fillQty != remaining {
			return dex.NewError(dex.ErrPartialFillPolicy, fmt.Sprintf("fill of %d with %d remaining", fillQty, remaining))
		}
		if err = m.validateSettle(o, &t.Prefix); err != nil {
			return err
		}
		gross, err := calc.Mul(fillQty, t.UnitPrice)
		if err != nil {
			return dex.NewError(dex.ErrValidation, err.Error())
		}

		// seller delivers the item and receives the net proceeds from payer.
		var seller, buyer, payer dex.Address
		currency := m.tradeCurrency(t)
		switch t.Flags.Side {
		case order.Sell:
			seller, buyer, payer = t.Maker, taker, taker
		case order.Buy:
			seller, buyer, payer = taker, t.Maker, t.Maker
			if t.Flags.Escrowed {
				payer = m.Escrow()
			} else if err = m.settle.CheckFunds(o.ctx, o.tx, currency, payer, gross); err != nil {
				return err
			}
		}
		ok, err := m.settle.CanDeliver(o.ctx, o.tx, t.Collection, t.Item, seller, fillQty)
		if err != nil {
			return err
		}
		if !ok {
			return dex.NewError(dex.ErrSolvency, fmt.Sprintf("%s cannot deliver %d of %s:%v", seller, fillQty, t.Collection, t.Item))
		}

		done, undo, err := m.trades.Fill(id, fillQty)
		if err != nil {
			return err
		}
		o.journal.Add(undo)
		status := order.OrderStatusActive
		if done {
			status = order.OrderStatusFilled
		}
		o.record(t, status)
		ev := orderEvent(EventTradeFilled, t, status, o.now)
		o.events = append(o.events, ev)

		if err = m.settle.Deliver(o.ctx, o.tx, t.Collection, t.Item, fillQty, seller, buyer); err != nil {
			return err
		}
		split, err := m.pay(o, t, fillQty, buyer, &settle.Payout{
			Currency:   currency,
			Payer:      payer,
			Seller:     seller,
			Gross:      gross,
			Collection: t.Collection,
		})
		if err != nil {
			return err
		}
		ev.Counterparty, ev.Currency, ev.Split = taker, currency, split
		ev.Quantity = fillQty
		log.Debugf("Trade %v filled %d by %s, %d remaining. Net to seller %d.", id, fillQty, taker, t.Remaining(), split.Net)
		return nil
	})
}

// CancelTrade cancels a trade. The maker and admins may always cancel. Anyone
// may cancel an expired trade. The remaining locked funds of an escrowed buy
// are refunded to the maker.
func (m *Market) CancelTrade(ctx context.Context, caller dex.Address, id order.OrderID) error {
	return m.run(ctx, "CancelTrade", func(o *op) error {
		t, err := m.activeTrade(id)
		if err != nil {
			return err
		}
		req := &auth.Request{
			Caller: caller,
			Maker:  t.Maker,
			Expiry: t.Expiry,
		}
		if err = m.authorize(o, req, auth.IsMaker, auth.IsAdmin, auth.IsExpired); err != nil {
			return err
		}
		refund, err := calc.Mul(t.Remaining(), t.UnitPrice)
		if err != nil {
			return err
		}
		t, undo, err := m.trades.Remove(id)
		if err != nil {
			return err
		}
		o.journal.Add(undo)
		o.record(t, order.OrderStatusCanceled)
		o.events = append(o.events, orderEvent(EventTradeCanceled, t, order.OrderStatusCanceled, o.now))
		if t.Flags.Side != order.Buy || !t.Flags.Escrowed {
			return nil
		}
		return m.settle.Refund(o.ctx, o.tx, dex.NativeCurrency, t.Maker, refund)
	})
}

// Trade retrieves a copy of an active trade.
func (m *Market) Trade(ctx context.Context, id order.OrderID) (*order.Trade, error) {
	var t order.Trade
	err := m.view(ctx, "Trade", func() error {
		active, err := m.activeTrade(id)
		if err != nil {
			return err
		}
		t = *active
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TradesByMaker lists the IDs of the maker's active trades.
func (m *Market) TradesByMaker(ctx context.Context, maker dex.Address) ([]order.OrderID, error) {
	var ids []order.OrderID
	err := m.view(ctx, "TradesByMaker", func() error {
		ids = m.trades.ByMaker(maker)
		return nil
	})
	return ids, err
}

// TradePosition is the stored position of a trade in the maker index.
func (m *Market) TradePosition(ctx context.Context, id order.OrderID) (int, error) {
	var pos int
	err := m.view(ctx, "TradePosition", func() error {
		var found bool
		if pos, found = m.trades.Position(id); !found {
			return dex.NewError(dex.ErrNotFound, fmt.Sprintf("trade %v", id))
		}
		return nil
	})
	return pos, err
}
