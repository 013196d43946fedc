// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"errors"
	"testing"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/calc"
	"decred.org/nftdex/dex/order"
)

// net is the seller's share of gross under the test fee schedule.
func net(gross uint64) uint64 {
	return gross - calc.BpFloor(gross, 350)
}

func TestEscrowedOfferRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.give(1, tSeller)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, oneEth)

	id, err := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tExpiry, true)
	if err != nil {
		t.Fatalf("MakeOffer error: %v", err)
	}
	if h.funds(dex.NativeCurrency, tBuyer) != 0 || h.funds(dex.NativeCurrency, tEscrow) != oneEth {
		t.Fatalf("offer not escrowed")
	}
	if ev := h.pub.last(); ev.Type != EventOfferMade || ev.Maker != tBuyer {
		t.Fatalf("wrong event %+v", ev)
	}

	if err = h.mkt.AcceptOffer(tCtx, tSeller, id); err != nil {
		t.Fatalf("AcceptOffer error: %v", err)
	}
	h.verify()
	if h.ledger.HoldingOf(tColl, 1, tBuyer) != 1 {
		t.Fatalf("item not delivered")
	}
	if got := h.funds(dex.NativeCurrency, tSeller); got != net(oneEth) {
		t.Fatalf("seller got %d", got)
	}
	if h.funds(dex.NativeCurrency, tEscrow) != 0 {
		t.Fatalf("escrow not released")
	}
	if _, err = h.mkt.Offer(tCtx, id); !errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("accepted offer still found")
	}
	if st := h.arch.status(id); st != order.OrderStatusFulfilled {
		t.Fatalf("archived status %v", st)
	}
	ev := h.pub.last()
	if ev.Type != EventOfferAccepted || ev.Counterparty != tSeller || ev.Currency != dex.NativeCurrency {
		t.Fatalf("wrong event %+v", ev)
	}
}

func TestUnescrowedOfferRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.give(1, tSeller)
	h.ledger.Credit(tToken, tBuyer, oneEth)

	// No allowance.
	_, err := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tExpiry, false)
	mustErr(t, err, dex.ErrSolvency)

	h.ledger.SetAllowance(tToken, tBuyer, tEscrow, oneEth)
	id, err := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tExpiry, false)
	if err != nil {
		t.Fatalf("MakeOffer error: %v", err)
	}
	if h.funds(tToken, tBuyer) != oneEth {
		t.Fatalf("unescrowed offer moved funds")
	}

	// Solvency is checked again at acceptance.
	h.ledger.SetAllowance(tToken, tBuyer, tEscrow, oneEth-1)
	mustErr(t, h.mkt.AcceptOffer(tCtx, tSeller, id), dex.ErrSolvency)
	if _, err = h.mkt.Offer(tCtx, id); err != nil {
		t.Fatalf("offer removed on failure")
	}
	h.ledger.SetAllowance(tToken, tBuyer, tEscrow, oneEth)

	if err = h.mkt.AcceptOffer(tCtx, tSeller, id); err != nil {
		t.Fatalf("AcceptOffer error: %v", err)
	}
	if got := h.funds(tToken, tSeller); got != net(oneEth) {
		t.Fatalf("seller got %d", got)
	}
	if h.funds(tToken, tOwner) != oneEth/100 {
		t.Fatalf("owner not paid in token")
	}
	if h.funds(tToken, tBuyer) != 0 || h.ledger.AllowanceOf(tToken, tBuyer, tEscrow) != 0 {
		t.Fatalf("offerer not charged")
	}
	if h.ledger.HoldingOf(tColl, 1, tBuyer) != 1 {
		t.Fatalf("item not delivered")
	}
}

func TestMakeOfferValidation(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, oneEth)
	_, err := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, 2*oneEth, tExpiry, true)
	mustErr(t, err, dex.ErrSolvency)
	_, err = h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, 0, tExpiry, true)
	mustErr(t, err, dex.ErrValidation)
	_, err = h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tNow, true)
	mustErr(t, err, dex.ErrValidation)
	_, err = h.mkt.MakeOffer(tCtx, tBuyer, dex.Address{0xcd}, 1, oneEth, tExpiry, true)
	mustErr(t, err, dex.ErrValidation)
	if h.funds(dex.NativeCurrency, tBuyer) != oneEth || h.funds(dex.NativeCurrency, tEscrow) != 0 {
		t.Fatalf("funds moved by failed offers")
	}
}

func TestDistinctOffers(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, 2*oneEth)
	id1, err := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tExpiry, true)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tExpiry, true)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatalf("identical offers have the same id")
	}
	ids, _ := h.mkt.OffersByOfferer(tCtx, tBuyer)
	if len(ids) != 2 {
		t.Fatalf("wrong offerer index %v", ids)
	}
	for i, id := range []order.OrderID{id1, id2} {
		if pos, err := h.mkt.OfferPosition(tCtx, id); err != nil || pos != i {
			t.Fatalf("offer %d at %d, %v", i, pos, err)
		}
	}
	// Canceling the first swaps the second into its slot.
	if err = h.mkt.CancelOffer(tCtx, tBuyer, id1); err != nil {
		t.Fatal(err)
	}
	if pos, _ := h.mkt.OfferPosition(tCtx, id2); pos != 0 {
		t.Fatalf("offer not moved, at %d", pos)
	}
	if _, err = h.mkt.OfferPosition(tCtx, id1); !errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("canceled offer has a position")
	}
	h.verify()
}

func TestAcceptOfferErrors(t *testing.T) {
	h := newHarness(t)
	h.give(1, tSeller)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, oneEth)
	id, err := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tExpiry, true)
	if err != nil {
		t.Fatal(err)
	}

	mustErr(t, h.mkt.AcceptOffer(tCtx, tSeller, order.OrderID{0x01}), dex.ErrNotFound)
	mustErr(t, h.mkt.AcceptOffer(tCtx, tStranger, id), dex.ErrAuthorization)

	h.ledger.SetApproval(tColl, tSeller, tEscrow, false)
	mustErr(t, h.mkt.AcceptOffer(tCtx, tSeller, id), dex.ErrSolvency)
	h.ledger.SetApproval(tColl, tSeller, tEscrow, true)

	h.clock = tExpiry.Add(time.Second)
	mustErr(t, h.mkt.AcceptOffer(tCtx, tSeller, id), dex.ErrExpired)

	if h.funds(dex.NativeCurrency, tEscrow) != oneEth || h.ledger.HoldingOf(tColl, 1, tSeller) != 1 {
		t.Fatalf("state changed by failed acceptance")
	}
	h.verify()
}

func TestCancelOfferAuthorization(t *testing.T) {
	tests := []struct {
		name     string
		escrowed bool
		caller   dex.Address
		expired  bool
		ok       bool
	}{
		{"offerer", true, tBuyer, false, true},
		{"holder", true, tSeller, false, true},
		{"admin", true, tAdminAcc, false, true},
		{"stranger", true, tStranger, false, false},
		{"stranger expired escrowed", true, tStranger, true, false},
		{"stranger unescrowed", false, tStranger, false, false},
		{"stranger expired unescrowed", false, tStranger, true, true},
		{"holder unescrowed", false, tSeller, false, true},
	}
	for _, tt := range tests {
		h := newHarness(t)
		h.give(1, tSeller)
		h.ledger.Credit(dex.NativeCurrency, tBuyer, oneEth)
		h.ledger.Credit(tToken, tBuyer, oneEth)
		h.ledger.SetAllowance(tToken, tBuyer, tEscrow, oneEth)
		id, err := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tExpiry, tt.escrowed)
		if err != nil {
			t.Fatalf("%s: MakeOffer error: %v", tt.name, err)
		}
		if tt.expired {
			h.clock = tExpiry.Add(time.Second)
		}
		err = h.mkt.CancelOffer(tCtx, tt.caller, id)
		if !tt.ok {
			mustErr(t, err, dex.ErrAuthorization)
			if _, err = h.mkt.Offer(tCtx, id); err != nil {
				t.Fatalf("%s: offer removed on failure", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: CancelOffer error: %v", tt.name, err)
		}
		if h.funds(dex.NativeCurrency, tBuyer) != oneEth || h.funds(dex.NativeCurrency, tEscrow) != 0 {
			t.Fatalf("%s: escrow not refunded", tt.name)
		}
		if st := h.arch.status(id); st != order.OrderStatusCanceled {
			t.Fatalf("%s: archived status %v", tt.name, st)
		}
		if h.pub.last().Type != EventOfferCanceled {
			t.Fatalf("%s: wrong event", tt.name)
		}
	}
}

func TestCancelOfferAdmin(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, 2*oneEth)
	kept, _ := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 1, oneEth, tExpiry, true)
	refunded, _ := h.mkt.MakeOffer(tCtx, tBuyer, tColl, 2, oneEth, tExpiry, true)

	mustErr(t, h.mkt.CancelOfferAdmin(tCtx, tBuyer, kept, true), dex.ErrAuthorization)
	if err := h.mkt.CancelOfferAdmin(tCtx, tAdminAcc, kept, false); err != nil {
		t.Fatalf("CancelOfferAdmin error: %v", err)
	}
	if h.funds(dex.NativeCurrency, tEscrow) != 2*oneEth || h.funds(dex.NativeCurrency, tBuyer) != 0 {
		t.Fatalf("funds refunded without refund flag")
	}
	if err := h.mkt.CancelOfferAdmin(tCtx, tAdminAcc, refunded, true); err != nil {
		t.Fatalf("CancelOfferAdmin error: %v", err)
	}
	if h.funds(dex.NativeCurrency, tEscrow) != oneEth || h.funds(dex.NativeCurrency, tBuyer) != oneEth {
		t.Fatalf("funds not refunded")
	}
	mustErr(t, h.mkt.CancelOfferAdmin(tCtx, tAdminAcc, refunded, true), dex.ErrNotFound)
}
