// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package book

import (
	"fmt"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
)

type tradeRecord struct {
	*order.Trade
	makerPos int
}

// TradeBook is the registry of active fungible trades. Every trade in the
// book has a non-zero remaining quantity.
type TradeBook struct {
	arena   map[order.OrderID]*tradeRecord
	byMaker *Index[dex.Address]
}

// NewTradeBook is the constructor for a TradeBook.
func NewTradeBook() *TradeBook {
	b := &TradeBook{
		arena: make(map[order.OrderID]*tradeRecord),
	}
	b.byMaker = NewIndex[dex.Address](func(id order.OrderID) *int {
		if r := b.arena[id]; r != nil {
			return &r.makerPos
		}
		return nil
	})
	return b
}

// Insert adds the trade to the registry.
func (b *TradeBook) Insert(t *order.Trade) (order.OrderID, Undo, error) {
	id := t.ID()
	if _, found := b.arena[id]; found {
		return id, nil, dex.NewError(ErrDuplicateOrder, id.String())
	}
	if t.Remaining() == 0 || t.FillAmt > t.Quantity {
		return id, nil, fmt.Errorf("trade %v has no remaining quantity", id)
	}
	b.arena[id] = &tradeRecord{Trade: t}
	b.byMaker.Add(t.Maker, id)
	undo := func() error {
		_, _, err := b.Remove(id)
		return err
	}
	return id, undo, nil
}

// Remove deletes the trade from the registry.
func (b *TradeBook) Remove(id order.OrderID) (*order.Trade, Undo, error) {
	r, found := b.arena[id]
	if !found {
		return nil, nil, notFound(id)
	}
	t := r.Trade
	pos, err := b.byMaker.Remove(t.Maker, id)
	if err != nil {
		return nil, nil, err
	}
	delete(b.arena, id)
	undo := func() error {
		b.arena[id] = &tradeRecord{Trade: t}
		b.byMaker.Restore(t.Maker, id, pos)
		return nil
	}
	return t, undo, nil
}

// Fill reduces the remaining quantity of the trade by qty. The trade keeps its
// position in the maker index unless the remaining quantity reaches zero, in
// which case it is removed from the registry and done is true.
func (b *TradeBook) Fill(id order.OrderID, qty uint64) (done bool, undo Undo, err error) {
	r, found := b.arena[id]
	if !found {
		return false, nil, notFound(id)
	}
	t := r.Trade
	if qty == 0 || qty > t.Remaining() {
		return false, nil, fmt.Errorf("fill of %d exceeds remaining quantity %d", qty, t.Remaining())
	}
	t.FillAmt += qty
	if t.Remaining() > 0 {
		return false, func() error {
			t.FillAmt -= qty
			return nil
		}, nil
	}
	_, undoRemove, err := b.Remove(id)
	if err != nil {
		t.FillAmt -= qty
		return false, nil, err
	}
	return true, func() error {
		if err := undoRemove(); err != nil {
			return err
		}
		t.FillAmt -= qty
		return nil
	}, nil
}

// Trade retrieves an active trade.
func (b *TradeBook) Trade(id order.OrderID) (*order.Trade, bool) {
	r, found := b.arena[id]
	if !found {
		return nil, false
	}
	return r.Trade, true
}

// Position returns the trade's stored position in the maker index.
func (b *TradeBook) Position(id order.OrderID) (int, bool) {
	r, found := b.arena[id]
	if !found {
		return -1, false
	}
	return r.makerPos, true
}

// ByMaker lists the IDs of the maker's active trades.
func (b *TradeBook) ByMaker(maker dex.Address) []order.OrderID {
	return b.byMaker.IDs(maker)
}

// Count is the number of active trades.
func (b *TradeBook) Count() int {
	return len(b.arena)
}

// Verify checks the consistency of the arena and the maker index, and that
// every trade has a remaining quantity.
func (b *TradeBook) Verify() error {
	if err := b.byMaker.Verify(); err != nil {
		return fmt.Errorf("maker index: %w", err)
	}
	var n int
	for maker, ids := range b.byMaker.lists {
		for _, id := range ids {
			r := b.arena[id]
			if r.Maker != maker {
				return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("trade %v indexed under wrong maker", id))
			}
			if r.Remaining() == 0 {
				return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("trade %v has no remaining quantity", id))
			}
		}
		n += len(ids)
	}
	if n != len(b.arena) {
		return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("%d trades in index, %d in arena", n, len(b.arena)))
	}
	return nil
}
