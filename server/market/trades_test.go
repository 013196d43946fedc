// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"errors"
	"math"
	"testing"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/db"
)

const (
	tItem      dex.ItemID = 7
	tUnitPrice uint64     = oneEth / 10
)

// stock mints a fungible balance to the holder and approves the escrow
// account.
func (h *tHarness) stock(holder dex.Address, qty uint64) {
	h.ledger.Mint(tFungible, tItem, holder, qty)
	h.ledger.SetApproval(tFungible, holder, tEscrow, true)
}

func (h *tHarness) open(maker dex.Address, qty uint64, flags order.TradeFlags) order.OrderID {
	h.t.Helper()
	id, err := h.mkt.OpenTrade(tCtx, maker, tFungible, tItem, qty, tUnitPrice, tExpiry, flags)
	if err != nil {
		h.t.Fatalf("OpenTrade error: %v", err)
	}
	return id
}

func TestSellTradePartialFills(t *testing.T) {
	h := newHarness(t)
	h.stock(tSeller, 10)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, oneEth)

	flags := order.TradeFlags{Side: order.Sell, AllowPartialFills: true}
	id := h.open(tSeller, 5, flags)
	other := h.open(tSeller, 5, flags)

	if err := h.mkt.AcceptTrade(tCtx, tBuyer, id, 2); err != nil {
		t.Fatalf("AcceptTrade error: %v", err)
	}
	h.verify()
	tr, err := h.mkt.Trade(tCtx, id)
	if err != nil {
		t.Fatalf("partially filled trade not found: %v", err)
	}
	if tr.Remaining() != 3 || tr.Quantity != 5 {
		t.Fatalf("wrong quantities. remaining %d, quantity %d", tr.Remaining(), tr.Quantity)
	}
	if pos, _ := h.mkt.TradePosition(tCtx, id); pos != 0 {
		t.Fatalf("partially filled trade moved to %d", pos)
	}
	if st := h.arch.status(id); st != order.OrderStatusActive {
		t.Fatalf("archived status %v", st)
	}
	ev := h.pub.last()
	if ev.Type != EventTradeFilled || ev.Quantity != 2 || ev.Remaining != 3 || ev.Counterparty != tBuyer {
		t.Fatalf("wrong event %+v", ev)
	}
	if h.ledger.HoldingOf(tFungible, tItem, tBuyer) != 2 {
		t.Fatalf("fill not delivered")
	}
	if got := h.funds(dex.NativeCurrency, tSeller); got != net(2*tUnitPrice) {
		t.Fatalf("seller got %d", got)
	}

	if err = h.mkt.AcceptTrade(tCtx, tBuyer, id, 3); err != nil {
		t.Fatalf("AcceptTrade error: %v", err)
	}
	h.verify()
	if _, err = h.mkt.Trade(tCtx, id); !errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("filled trade still found")
	}
	if st := h.arch.status(id); st != order.OrderStatusFilled {
		t.Fatalf("archived status %v", st)
	}
	ids, _ := h.mkt.TradesByMaker(tCtx, tSeller)
	if len(ids) != 1 || ids[0] != other {
		t.Fatalf("wrong maker index %v", ids)
	}
	if pos, _ := h.mkt.TradePosition(tCtx, other); pos != 0 {
		t.Fatalf("remaining trade at %d", pos)
	}
	if h.ledger.HoldingOf(tFungible, tItem, tBuyer) != 5 || h.ledger.HoldingOf(tFungible, tItem, tSeller) != 5 {
		t.Fatalf("wrong holdings")
	}
	if got := h.funds(dex.NativeCurrency, tBuyer); got != oneEth-5*tUnitPrice {
		t.Fatalf("buyer has %d", got)
	}
	sets, _ := h.mkt.Settlements(tCtx, &db.SettlementFilter{OrderID: &id})
	if len(sets) != 2 || sets[0].Quantity != 3 || sets[1].Quantity != 2 {
		t.Fatalf("wrong settlements %+v", sets)
	}
}

func TestBuyTradeFullFillOnly(t *testing.T) {
	h := newHarness(t)
	h.stock(tSeller, 5)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, oneEth)

	id := h.open(tBuyer, 5, order.TradeFlags{Side: order.Buy, Escrowed: true})
	if h.funds(dex.NativeCurrency, tEscrow) != 5*tUnitPrice {
		t.Fatalf("buy not escrowed")
	}

	mustErr(t, h.mkt.AcceptTrade(tCtx, tSeller, id, 2), dex.ErrPartialFillPolicy)
	mustErr(t, h.mkt.AcceptTrade(tCtx, tSeller, id, 0), dex.ErrValidation)
	mustErr(t, h.mkt.AcceptTrade(tCtx, tSeller, id, 6), dex.ErrValidation)

	if err := h.mkt.AcceptTrade(tCtx, tSeller, id, 5); err != nil {
		t.Fatalf("AcceptTrade error: %v", err)
	}
	h.verify()
	if _, err := h.mkt.Trade(tCtx, id); !errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("filled trade still found")
	}
	if h.ledger.HoldingOf(tFungible, tItem, tBuyer) != 5 {
		t.Fatalf("items not delivered")
	}
	if h.funds(dex.NativeCurrency, tEscrow) != 0 {
		t.Fatalf("escrow not released")
	}
	if got := h.funds(dex.NativeCurrency, tSeller); got != net(5*tUnitPrice) {
		t.Fatalf("seller got %d", got)
	}
}

func TestOpenTradeValidation(t *testing.T) {
	h := newHarness(t)
	h.stock(tSeller, 5)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, tUnitPrice)
	h.ledger.Credit(tToken, tBuyer, oneEth)

	tests := []struct {
		name  string
		maker dex.Address
		qty   uint64
		price uint64
		flags order.TradeFlags
		kind  error
	}{
		{"escrowed sell", tSeller, 1, tUnitPrice, order.TradeFlags{Side: order.Sell, Escrowed: true}, dex.ErrValidation},
		{"zero quantity", tSeller, 0, tUnitPrice, order.TradeFlags{Side: order.Sell}, dex.ErrValidation},
		{"zero price", tSeller, 1, 0, order.TradeFlags{Side: order.Sell}, dex.ErrValidation},
		{"overflow", tBuyer, math.MaxUint64, 2, order.TradeFlags{Side: order.Buy}, dex.ErrValidation},
		{"sell more than held", tSeller, 6, tUnitPrice, order.TradeFlags{Side: order.Sell}, dex.ErrSolvency},
		{"escrowed buy unfunded", tBuyer, 2, tUnitPrice, order.TradeFlags{Side: order.Buy, Escrowed: true}, dex.ErrSolvency},
		{"buy without allowance", tBuyer, 1, tUnitPrice, order.TradeFlags{Side: order.Buy}, dex.ErrSolvency},
	}
	for _, tt := range tests {
		_, err := h.mkt.OpenTrade(tCtx, tt.maker, tFungible, tItem, tt.qty, tt.price, tExpiry, tt.flags)
		if !errors.Is(err, tt.kind) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.kind, err)
		}
	}
	if h.funds(dex.NativeCurrency, tEscrow) != 0 || h.arch.applies != 0 {
		t.Fatalf("failed trades changed state")
	}
}

func TestUnescrowedBuyTrade(t *testing.T) {
	h := newHarness(t)
	h.stock(tSeller, 5)
	h.ledger.Credit(tToken, tBuyer, oneEth)
	h.ledger.SetAllowance(tToken, tBuyer, tEscrow, oneEth)

	id := h.open(tBuyer, 5, order.TradeFlags{Side: order.Buy, AllowPartialFills: true})

	// The maker's funds are checked again at each fill.
	h.ledger.Credit(tToken, tBuyer, tUnitPrice)
	mustErr(t, h.mkt.AcceptTrade(tCtx, tSeller, id, 2), dex.ErrSolvency)
	h.ledger.Credit(tToken, tBuyer, oneEth)

	// The taker must hold what they sell.
	mustErr(t, h.mkt.AcceptTrade(tCtx, tStranger, id, 2), dex.ErrSolvency)

	if err := h.mkt.AcceptTrade(tCtx, tSeller, id, 2); err != nil {
		t.Fatalf("AcceptTrade error: %v", err)
	}
	if got := h.funds(tToken, tSeller); got != net(2*tUnitPrice) {
		t.Fatalf("seller got %d", got)
	}
	if got := h.funds(tToken, tBuyer); got != oneEth-2*tUnitPrice {
		t.Fatalf("maker has %d", got)
	}
	if h.ledger.HoldingOf(tFungible, tItem, tBuyer) != 2 {
		t.Fatalf("items not delivered")
	}
	if ev := h.pub.last(); ev.Currency != tToken {
		t.Fatalf("wrong currency %s", ev.Currency)
	}
}

func TestAcceptTradeRollsBack(t *testing.T) {
	h := newHarness(t)
	h.stock(tSeller, 5)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, tUnitPrice)
	id := h.open(tSeller, 5, order.TradeFlags{Side: order.Sell, AllowPartialFills: true})

	mustErr(t, h.mkt.AcceptTrade(tCtx, tBuyer, id, 2), dex.ErrSolvency)
	tr, err := h.mkt.Trade(tCtx, id)
	if err != nil || tr.Remaining() != 5 {
		t.Fatalf("fill not undone: %+v, %v", tr, err)
	}
	if h.ledger.HoldingOf(tFungible, tItem, tSeller) != 5 || h.funds(dex.NativeCurrency, tBuyer) != tUnitPrice {
		t.Fatalf("ledger not rolled back")
	}

	// The maker no longer holds enough.
	h.ledger.Credit(dex.NativeCurrency, tBuyer, oneEth)
	h.ledger.Mint(tFungible, tItem, tSeller, 1)
	mustErr(t, h.mkt.AcceptTrade(tCtx, tBuyer, id, 2), dex.ErrSolvency)

	h.clock = tExpiry.Add(time.Second)
	mustErr(t, h.mkt.AcceptTrade(tCtx, tBuyer, id, 1), dex.ErrExpired)
	h.verify()
}

func TestCancelTrade(t *testing.T) {
	h := newHarness(t)
	h.stock(tSeller, 5)
	h.ledger.Credit(dex.NativeCurrency, tBuyer, oneEth)
	id := h.open(tBuyer, 5, order.TradeFlags{Side: order.Buy, AllowPartialFills: true, Escrowed: true})
	if err := h.mkt.AcceptTrade(tCtx, tSeller, id, 2); err != nil {
		t.Fatal(err)
	}

	mustErr(t, h.mkt.CancelTrade(tCtx, tStranger, id), dex.ErrAuthorization)
	mustErr(t, h.mkt.CancelTrade(tCtx, tSeller, id), dex.ErrAuthorization)

	if err := h.mkt.CancelTrade(tCtx, tBuyer, id); err != nil {
		t.Fatalf("CancelTrade error: %v", err)
	}
	// The remaining 3 units are refunded.
	if got := h.funds(dex.NativeCurrency, tBuyer); got != oneEth-2*tUnitPrice {
		t.Fatalf("maker has %d", got)
	}
	if h.funds(dex.NativeCurrency, tEscrow) != 0 {
		t.Fatalf("escrow not emptied")
	}
	if st := h.arch.status(id); st != order.OrderStatusCanceled {
		t.Fatalf("archived status %v", st)
	}
	if ev := h.pub.last(); ev.Type != EventTradeCanceled || ev.Remaining != 3 {
		t.Fatalf("wrong event %+v", ev)
	}
	mustErr(t, h.mkt.CancelTrade(tCtx, tBuyer, id), dex.ErrNotFound)
	h.verify()
}

func TestCancelTradeAuthorization(t *testing.T) {
	tests := []struct {
		name    string
		caller  dex.Address
		expired bool
		ok      bool
	}{
		{"maker", tSeller, false, true},
		{"admin", tAdminAcc, false, true},
		{"stranger", tStranger, false, false},
		{"stranger expired", tStranger, true, true},
	}
	for _, tt := range tests {
		h := newHarness(t)
		h.stock(tSeller, 5)
		id := h.open(tSeller, 5, order.TradeFlags{Side: order.Sell})
		if tt.expired {
			h.clock = tExpiry.Add(time.Second)
		}
		err := h.mkt.CancelTrade(tCtx, tt.caller, id)
		if tt.ok != (err == nil) {
			t.Fatalf("%s: ok = %v, err = %v", tt.name, tt.ok, err)
		}
		if !tt.ok {
			mustErr(t, err, dex.ErrAuthorization)
		}
		// Sell trades lock nothing.
		if h.ledger.HoldingOf(tFungible, tItem, tSeller) != 5 {
			t.Fatalf("%s: holdings changed", tt.name)
		}
	}
}
