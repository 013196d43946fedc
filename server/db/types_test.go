// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
)

func TestOrderRecordBody(t *testing.T) {
	stamp := time.UnixMilli(1700000000000).UTC()
	trade := &order.Trade{
		Prefix: order.Prefix{
			Nonce:      7,
			Collection: dex.Address{0x01},
			Item:       3,
			Maker:      dex.Address{0x02},
			Expiry:     stamp.Add(time.Hour),
			Created:    stamp,
		},
		Quantity:  5,
		UnitPrice: 100,
		Flags:     order.TradeFlags{Side: order.Sell, AllowPartialFills: true},
		FillAmt:   2,
	}
	rec := NewOrderRecord(trade, order.OrderStatusActive)
	trade.FillAmt = 4
	if rec.Trade.FillAmt != 2 {
		t.Fatalf("record not copied")
	}
	b, err := rec.Body()
	if err != nil {
		t.Fatalf("Body error: %v", err)
	}
	ord, err := DecodeOrder(order.TradeKind, b)
	if err != nil {
		t.Fatalf("DecodeOrder error: %v", err)
	}
	if ord.ID() != rec.ID {
		t.Fatalf("decoded ID %v != %v", ord.ID(), rec.ID)
	}
	if ord.(*order.Trade).Remaining() != 3 {
		t.Fatalf("wrong remaining %d", ord.(*order.Trade).Remaining())
	}

	st := new(State)
	AddToState(st, ord)
	if len(st.Trades) != 1 || len(st.Listings) != 0 {
		t.Fatalf("wrong state %+v", st)
	}

	if _, err = DecodeOrder(order.UnknownKind, b); !IsErrInvalidOrder(err) {
		t.Fatalf("expected invalid order, got %v", err)
	}
	empty := &OrderRecord{Kind: order.OfferKind}
	if _, err = empty.Order(); !IsErrInvalidOrder(err) {
		t.Fatalf("expected invalid order, got %v", err)
	}
}

func TestArchiveErrors(t *testing.T) {
	err := fmt.Errorf("apply: %w", ArchiveError{Code: ErrClosed})
	if !IsErrClosed(err) {
		t.Fatalf("not closed")
	}
	if IsErrOrderUnknown(err) {
		t.Fatalf("wrong code match")
	}
	if !SameErrorTypes(err, ArchiveError{Code: ErrClosed, Detail: "other"}) {
		t.Fatalf("codes should match")
	}
	if SameErrorTypes(errors.New("x"), ArchiveError{}) {
		t.Fatalf("plain error matched")
	}
	if s := (ArchiveError{Code: ErrUnknownOrder, Detail: "abc"}).Error(); s != "unknown order: abc" {
		t.Fatalf("wrong message %q", s)
	}
}
