// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package book

import (
	"errors"
	"testing"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
)

var (
	tNow    = time.Unix(1700000000, 0)
	tColl   = dex.Address{0xc0}
	tLister = dex.Address{0xa1}
	tOther  = dex.Address{0xa2}
	tNonce  uint64
)

func newListing(lister dex.Address, item dex.ItemID, price uint64, ttl time.Duration) *order.Listing {
	tNonce++
	return &order.Listing{
		Prefix: order.Prefix{
			Nonce:      tNonce,
			Collection: tColl,
			Item:       item,
			Maker:      lister,
			Expiry:     tNow.Add(ttl),
			Created:    tNow,
		},
		Price: price,
	}
}

func newOffer(offerer dex.Address, item dex.ItemID, price uint64) *order.Offer {
	tNonce++
	return &order.Offer{
		Prefix: order.Prefix{
			Nonce:      tNonce,
			Collection: tColl,
			Item:       item,
			Maker:      offerer,
			Expiry:     tNow.Add(time.Hour),
			Created:    tNow,
		},
		Price: price,
	}
}

func newTrade(maker dex.Address, qty uint64, flags order.TradeFlags) *order.Trade {
	tNonce++
	return &order.Trade{
		Prefix: order.Prefix{
			Nonce:      tNonce,
			Collection: tColl,
			Item:       1,
			Maker:      maker,
			Expiry:     tNow.Add(time.Hour),
			Created:    tNow,
		},
		Quantity:  qty,
		UnitPrice: 1000,
		Flags:     flags,
	}
}

func TestListingPositions(t *testing.T) {
	b := NewListingBook()
	_, _, err := b.Insert(newListing(tLister, 1, 1e18, 10*time.Second))
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	id2, _, err := b.Insert(newListing(tLister, 2, 1e18, 100*time.Second))
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if n := len(b.ByLister(tLister)); n != 2 {
		t.Fatalf("Incorrect number of lister listings. Got %d, expected 2", n)
	}
	if n := len(b.ByCollection(tColl)); n != 2 {
		t.Fatalf("Incorrect number of collection listings. Got %d, expected 2", n)
	}
	listerPos, collPos, found := b.Positions(id2)
	if !found {
		t.Fatalf("second listing not found")
	}
	if listerPos != 1 || collPos != 1 {
		t.Fatalf("wrong positions for second listing. lister %d, collection %d", listerPos, collPos)
	}
	if err = b.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestListingRemoveUndo(t *testing.T) {
	b := NewListingBook()
	var ids []order.OrderID
	for i := 1; i <= 4; i++ {
		lister := tLister
		if i%2 == 0 {
			lister = tOther
		}
		id, _, err := b.Insert(newListing(lister, dex.ItemID(i), 100, time.Hour))
		if err != nil {
			t.Fatalf("Insert error: %v", err)
		}
		ids = append(ids, id)
	}
	collBefore := b.ByCollection(tColl)

	l, undo, err := b.Remove(ids[0])
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if l.Item != 1 {
		t.Fatalf("removed wrong listing")
	}
	if _, found := b.Current(tColl, 1); found {
		t.Fatalf("removed listing is still current")
	}
	if _, found := b.Listing(ids[0]); found {
		t.Fatalf("removed listing still readable")
	}
	if err = b.Verify(); err != nil {
		t.Fatal(err)
	}
	if _, _, err = b.Remove(ids[0]); !errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err = undo(); err != nil {
		t.Fatalf("undo error: %v", err)
	}
	collAfter := b.ByCollection(tColl)
	for i := range collBefore {
		if collBefore[i] != collAfter[i] {
			t.Fatalf("undo did not restore collection index order")
		}
	}
	if cur, _ := b.Current(tColl, 1); cur != ids[0] {
		t.Fatalf("undo did not restore current listing")
	}
	if err = b.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestListingInsertRoundTrip(t *testing.T) {
	b := NewListingBook()
	if _, _, err := b.Insert(newListing(tLister, 1, 100, time.Hour)); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	l := newListing(tLister, 2, 100, time.Hour)
	id, undo, err := b.Insert(l)
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if _, _, err = b.Insert(l); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	if _, _, err = b.Insert(newListing(tOther, 2, 5, time.Hour)); err == nil {
		t.Fatalf("inserted a second current listing for an item")
	}
	if err = undo(); err != nil {
		t.Fatalf("undo error: %v", err)
	}
	if _, found := b.Listing(id); found {
		t.Fatalf("undone insert still present")
	}
	if len(b.ByLister(tLister)) != 1 || len(b.ByCollection(tColl)) != 1 {
		t.Fatalf("undo did not restore index lengths")
	}
	if err = b.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestIdenticalOffers(t *testing.T) {
	b := NewOfferBook()
	o1, o2 := newOffer(tOther, 3, 500), newOffer(tOther, 3, 500)
	id1, _, err := b.Insert(o1)
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	id2, _, err := b.Insert(o2)
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("identical offers share an ID")
	}
	if _, _, err = b.Remove(id1); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, found := b.Offer(id2); !found {
		t.Fatalf("removing one offer removed the other")
	}
	if pos, _ := b.Position(id2); pos != 0 {
		t.Fatalf("remaining offer at position %d, expected 0", pos)
	}
	if err = b.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestTradePartialFills(t *testing.T) {
	b := NewTradeBook()
	other, _, _ := b.Insert(newTrade(tLister, 1, order.TradeFlags{Side: order.Sell}))
	id, _, err := b.Insert(newTrade(tLister, 5, order.TradeFlags{Side: order.Sell, AllowPartialFills: true}))
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	done, _, err := b.Fill(id, 2)
	if err != nil {
		t.Fatalf("Fill error: %v", err)
	}
	if done {
		t.Fatalf("partial fill completed the trade")
	}
	tr, found := b.Trade(id)
	if !found {
		t.Fatalf("partially filled trade missing")
	}
	if tr.Remaining() != 3 {
		t.Fatalf("wrong remaining quantity. Got %d, expected 3", tr.Remaining())
	}
	if pos, _ := b.Position(id); pos != 1 {
		t.Fatalf("partial fill moved the trade to position %d", pos)
	}
	if _, _, err = b.Fill(id, 4); err == nil {
		t.Fatalf("overfill accepted")
	}
	done, undo, err := b.Fill(id, 3)
	if err != nil {
		t.Fatalf("Fill error: %v", err)
	}
	if !done {
		t.Fatalf("full fill did not complete the trade")
	}
	if _, found = b.Trade(id); found {
		t.Fatalf("filled trade still present")
	}
	if ids := b.ByMaker(tLister); len(ids) != 1 || ids[0] != other {
		t.Fatalf("filled trade still in maker index")
	}
	if err = b.Verify(); err != nil {
		t.Fatal(err)
	}

	if err = undo(); err != nil {
		t.Fatalf("undo error: %v", err)
	}
	tr, found = b.Trade(id)
	if !found || tr.Remaining() != 3 {
		t.Fatalf("undo did not restore the trade")
	}
	if pos, _ := b.Position(id); pos != 1 {
		t.Fatalf("undo restored the trade at position %d, expected 1", pos)
	}
	if err = b.Verify(); err != nil {
		t.Fatal(err)
	}
}
