// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package book

import (
	"fmt"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
)

type offerRecord struct {
	*order.Offer
	offererPos int
}

// OfferBook is the registry of active offers. Any number of offers may exist
// for an item, including several from the same offerer.
type OfferBook struct {
	arena     map[order.OrderID]*offerRecord
	byOfferer *Index[dex.Address]
}

// NewOfferBook is the constructor for an OfferBook.
func NewOfferBook() *OfferBook {
	b := &OfferBook{
		arena: make(map[order.OrderID]*offerRecord),
	}
	b.byOfferer = NewIndex[dex.Address](func(id order.OrderID) *int {
		if r := b.arena[id]; r != nil {
			return &r.offererPos
		}
		return nil
	})
	return b
}

// Insert adds the offer to the registry.
func (b *OfferBook) Insert(o *order.Offer) (order.OrderID, Undo, error) {
	id := o.ID()
	if _, found := b.arena[id]; found {
		return id, nil, dex.NewError(ErrDuplicateOrder, id.String())
	}
	b.arena[id] = &offerRecord{Offer: o}
	b.byOfferer.Add(o.Maker, id)
	undo := func() error {
		_, _, err := b.Remove(id)
		return err
	}
	return id, undo, nil
}

// Remove deletes the offer from the registry.
func (b *OfferBook) Remove(id order.OrderID) (*order.Offer, Undo, error) {
	r, found := b.arena[id]
	if !found {
		return nil, nil, notFound(id)
	}
	o := r.Offer
	pos, err := b.byOfferer.Remove(o.Maker, id)
	if err != nil {
		return nil, nil, err
	}
	delete(b.arena, id)
	undo := func() error {
		b.arena[id] = &offerRecord{Offer: o}
		b.byOfferer.Restore(o.Maker, id, pos)
		return nil
	}
	return o, undo, nil
}

// Offer retrieves an active offer.
func (b *OfferBook) Offer(id order.OrderID) (*order.Offer, bool) {
	r, found := b.arena[id]
	if !found {
		return nil, false
	}
	return r.Offer, true
}

// Position returns the offer's stored position in the offerer index.
func (b *OfferBook) Position(id order.OrderID) (int, bool) {
	r, found := b.arena[id]
	if !found {
		return -1, false
	}
	return r.offererPos, true
}

// ByOfferer lists the IDs of the offerer's active offers.
func (b *OfferBook) ByOfferer(offerer dex.Address) []order.OrderID {
	return b.byOfferer.IDs(offerer)
}

// Count is the number of active offers.
func (b *OfferBook) Count() int {
	return len(b.arena)
}

// Verify checks the consistency of the arena and the offerer index.
func (b *OfferBook) Verify() error {
	if err := b.byOfferer.Verify(); err != nil {
		return fmt.Errorf("offerer index: %w", err)
	}
	var n int
	for offerer, ids := range b.byOfferer.lists {
		for _, id := range ids {
			if b.arena[id].Maker != offerer {
				return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("offer %v indexed under wrong offerer", id))
			}
		}
		n += len(ids)
	}
	if n != len(b.arena) {
		return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("%d offers in index, %d in arena", n, len(b.arena)))
	}
	return nil
}
