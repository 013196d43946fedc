// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package book defines the registries of active listings, offers and trades.
// Each registry is an arena of records keyed by order ID with one or more
// Indexes of IDs. None of the registries are safe for concurrent use. The
// Market serializes access.
package book

import (
	"fmt"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
)

// ErrDuplicateOrder is returned when inserting an order whose ID is already
// in a registry.
const ErrDuplicateOrder = dex.ErrorKind("duplicate order")

// Undo reverses a registry mutation. It is meant to be added to a
// dex.ErrorCloser.
type Undo func() error

func notFound(id order.OrderID) error {
	return dex.NewError(dex.ErrNotFound, id.String())
}

// ItemKey identifies an item within a collection.
type ItemKey struct {
	Collection dex.Address
	Item       dex.ItemID
}

type listingRecord struct {
	*order.Listing
	listerPos     int
	collectionPos int
}

// ListingBook is the registry of active listings. There is at most one active
// listing for any ItemKey.
type ListingBook struct {
	arena        map[order.OrderID]*listingRecord
	byLister     *Index[dex.Address]
	byCollection *Index[dex.Address]
	current      map[ItemKey]order.OrderID
}

// NewListingBook is the constructor for a ListingBook.
func NewListingBook() *ListingBook {
	b := &ListingBook{
		arena:   make(map[order.OrderID]*listingRecord),
		current: make(map[ItemKey]order.OrderID),
	}
	b.byLister = NewIndex[dex.Address](func(id order.OrderID) *int {
		if r := b.arena[id]; r != nil {
			return &r.listerPos
		}
		return nil
	})
	b.byCollection = NewIndex[dex.Address](func(id order.OrderID) *int {
		if r := b.arena[id]; r != nil {
			return &r.collectionPos
		}
		return nil
	})
	return b
}

// Insert adds the listing and makes it the current listing for its item. The
// caller must remove any existing current listing for the item first.
func (b *ListingBook) Insert(l *order.Listing) (order.OrderID, Undo, error) {
	id := l.ID()
	if _, found := b.arena[id]; found {
		return id, nil, dex.NewError(ErrDuplicateOrder, id.String())
	}
	key := ItemKey{l.Collection, l.Item}
	if cur, found := b.current[key]; found {
		return id, nil, fmt.Errorf("item %s:%v already listed by %v", l.Collection, l.Item, cur)
	}
	b.arena[id] = &listingRecord{Listing: l}
	b.byLister.Add(l.Maker, id)
	b.byCollection.Add(l.Collection, id)
	b.current[key] = id
	undo := func() error {
		_, _, err := b.Remove(id)
		return err
	}
	return id, undo, nil
}

// Remove deletes the listing from the arena and both indexes, and clears it as
// the current listing of its item.
func (b *ListingBook) Remove(id order.OrderID) (*order.Listing, Undo, error) {
	r, found := b.arena[id]
	if !found {
		return nil, nil, notFound(id)
	}
	l := r.Listing
	listerPos, err := b.byLister.Remove(l.Maker, id)
	if err != nil {
		return nil, nil, err
	}
	collPos, err := b.byCollection.Remove(l.Collection, id)
	if err != nil {
		b.byLister.Restore(l.Maker, id, listerPos)
		return nil, nil, err
	}
	delete(b.arena, id)
	key := ItemKey{l.Collection, l.Item}
	wasCurrent := b.current[key] == id
	if wasCurrent {
		delete(b.current, key)
	}
	undo := func() error {
		b.arena[id] = &listingRecord{Listing: l}
		b.byCollection.Restore(l.Collection, id, collPos)
		b.byLister.Restore(l.Maker, id, listerPos)
		if wasCurrent {
			b.current[key] = id
		}
		return nil
	}
	return l, undo, nil
}

// Listing retrieves an active listing.
func (b *ListingBook) Listing(id order.OrderID) (*order.Listing, bool) {
	r, found := b.arena[id]
	if !found {
		return nil, false
	}
	return r.Listing, true
}

// Positions returns the listing's stored positions in the lister and
// collection indexes.
func (b *ListingBook) Positions(id order.OrderID) (listerPos, collectionPos int, found bool) {
	r, found := b.arena[id]
	if !found {
		return -1, -1, false
	}
	return r.listerPos, r.collectionPos, true
}

// Current is the ID of the active listing for the item, if any.
func (b *ListingBook) Current(coll dex.Address, item dex.ItemID) (order.OrderID, bool) {
	id, found := b.current[ItemKey{coll, item}]
	return id, found
}

// ByLister lists the IDs of the lister's active listings.
func (b *ListingBook) ByLister(lister dex.Address) []order.OrderID {
	return b.byLister.IDs(lister)
}

// ByCollection lists the IDs of the collection's active listings.
func (b *ListingBook) ByCollection(coll dex.Address) []order.OrderID {
	return b.byCollection.IDs(coll)
}

// Count is the number of active listings.
func (b *ListingBook) Count() int {
	return len(b.arena)
}

// Verify checks the consistency of the arena, the indexes and the current
// listing map.
func (b *ListingBook) Verify() error {
	if err := b.byLister.Verify(); err != nil {
		return fmt.Errorf("lister index: %w", err)
	}
	if err := b.byCollection.Verify(); err != nil {
		return fmt.Errorf("collection index: %w", err)
	}
	var n int
	for lister, ids := range b.byLister.lists {
		for _, id := range ids {
			if b.arena[id].Maker != lister {
				return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("listing %v indexed under wrong lister", id))
			}
		}
		n += len(ids)
	}
	if n != len(b.arena) {
		return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("%d listings in lister index, %d in arena", n, len(b.arena)))
	}
	for key, id := range b.current {
		r, found := b.arena[id]
		if !found || r.Collection != key.Collection || r.Item != key.Item {
			return dex.NewError(ErrIndexCorrupt, fmt.Sprintf("stale current listing %v", id))
		}
	}
	if len(b.current) != len(b.arena) {
		return dex.NewError(ErrIndexCorrupt, "more than one active listing for an item")
	}
	return nil
}
