// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package settle

import (
	"context"
	"errors"
	"testing"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/server/asset"
	"decred.org/nftdex/server/asset/sim"
	"decred.org/nftdex/server/collections"
	"decred.org/nftdex/server/fees"
)

const oneEth = 1e18

var (
	tEscrow = dex.Address{0xee}
	tColl   = dex.Address{0xc0}
	tOwner  = dex.Address{0x05}
	tBuyer  = dex.Address{0xb0}
	tSeller = dex.Address{0xa1}
	tToken  = dex.Address{0x70}
	tAdmin  = fees.AdminFees{
		DevBp:       100,
		HolderBp:    100,
		BuybackBp:   50,
		DevAddr:     dex.Address{0xd0},
		HolderAddr:  dex.Address{0xd1},
		BuybackAddr: dex.Address{0xd2},
	}
)

func newController(t *testing.T) (*Controller, *collections.Registry, *sim.Ledger) {
	t.Helper()
	reg, err := collections.NewRegistry(tAdmin)
	if err != nil {
		t.Fatal(err)
	}
	reg.SetCollectionTrading(tColl, true)
	if err = reg.SetCollectionOwner(tColl, tOwner, 100); err != nil {
		t.Fatal(err)
	}
	c := NewController(&Config{
		Schedule: reg,
		Escrow:   tEscrow,
	})
	return c, reg, sim.NewLedger(tEscrow)
}

func TestPayAutoForward(t *testing.T) {
	c, _, l := newController(t)
	l.Credit(dex.NativeCurrency, tBuyer, oneEth)
	ctx := context.Background()
	tx, _ := l.Begin(ctx)
	journal := dex.NewErrorCloser()
	split, accrued, err := c.Pay(ctx, tx, journal, &Payout{
		Currency:   dex.NativeCurrency,
		Payer:      tBuyer,
		Seller:     tSeller,
		Gross:      oneEth,
		Collection: tColl,
	})
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	tx.Commit()
	if accrued || journal.Len() != 0 {
		t.Fatalf("auto-forward accrued the admin fees")
	}
	checks := []struct {
		who  dex.Address
		want uint64
	}{
		{tSeller, split.Net},
		{tOwner, oneEth / 100},
		{tAdmin.DevAddr, oneEth / 100},
		{tAdmin.HolderAddr, oneEth / 100},
		{tAdmin.BuybackAddr, oneEth / 200},
		{tBuyer, 0},
	}
	for _, chk := range checks {
		if got := l.Funds(dex.NativeCurrency, chk.who); got != chk.want {
			t.Fatalf("wrong balance for %s. Got %d, expected %d", chk.who, got, chk.want)
		}
	}
	if split.Net != oneEth-oneEth*350/10000 {
		t.Fatalf("wrong net %d", split.Net)
	}
}

func TestPayAccrueThenProcess(t *testing.T) {
	c, reg, l := newController(t)
	reg.SetAutoForward(false)
	l.Credit(dex.NativeCurrency, tBuyer, oneEth)
	ctx := context.Background()
	tx, _ := l.Begin(ctx)
	journal := dex.NewErrorCloser()
	_, accrued, err := c.Pay(ctx, tx, journal, &Payout{
		Currency:   dex.NativeCurrency,
		Payer:      tBuyer,
		Seller:     tSeller,
		Gross:      oneEth,
		Collection: tColl,
	})
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if !accrued {
		t.Fatalf("admin fees not reported as accrued")
	}
	journal.Success()
	tx.Commit()

	pool := uint64(oneEth * 250 / 10000)
	if got := c.Accruals().Get(dex.NativeCurrency); got != pool {
		t.Fatalf("wrong accrual. Got %d, expected %d", got, pool)
	}
	if l.Funds(dex.NativeCurrency, tEscrow) != pool {
		t.Fatalf("accrued fees not in escrow")
	}
	if l.Funds(dex.NativeCurrency, tOwner) != oneEth/100 {
		t.Fatalf("collection owner not paid immediately")
	}
	if l.Funds(dex.NativeCurrency, tAdmin.DevAddr) != 0 {
		t.Fatalf("dev fee forwarded while accruing")
	}

	tx, _ = l.Begin(ctx)
	journal = dex.NewErrorCloser()
	d, err := c.ProcessAccrued(ctx, tx, journal, dex.NativeCurrency)
	if err != nil {
		t.Fatalf("ProcessAccrued error: %v", err)
	}
	journal.Success()
	tx.Commit()
	if d.Dev != oneEth/100 || d.Holder != oneEth/100 || d.Buyback != oneEth/200 {
		t.Fatalf("wrong distribution %+v", d)
	}
	if l.Funds(dex.NativeCurrency, tAdmin.BuybackAddr) != oneEth/200 {
		t.Fatalf("buyback not paid")
	}
	if c.Accruals().Get(dex.NativeCurrency) != 0 || l.Funds(dex.NativeCurrency, tEscrow) != 0 {
		t.Fatalf("accrual not emptied")
	}
}

func TestPayFailureUndoesAccrual(t *testing.T) {
	c, reg, l := newController(t)
	reg.SetAutoForward(false)
	// The buyer can cover the fees but not the full price.
	l.Credit(tToken, tBuyer, oneEth/2)
	l.SetAllowance(tToken, tBuyer, tEscrow, oneEth)
	ctx := context.Background()
	tx, _ := l.Begin(ctx)
	journal := dex.NewErrorCloser()
	_, _, err := c.Pay(ctx, tx, journal, &Payout{
		Currency:   tToken,
		Payer:      tBuyer,
		Seller:     tSeller,
		Gross:      oneEth,
		Collection: tColl,
	})
	if !errors.Is(err, dex.ErrSolvency) || !errors.Is(err, asset.ErrPayment) {
		t.Fatalf("expected ErrSolvency wrapping ErrPayment, got %v", err)
	}
	if c.Accruals().Get(tToken) == 0 {
		t.Fatalf("accrual should be pending until the journal runs")
	}
	journal.Done(dex.Disabled)
	tx.Rollback()
	if c.Accruals().Get(tToken) != 0 {
		t.Fatalf("journal did not undo the accrual")
	}
	if l.Funds(tToken, tBuyer) != oneEth/2 {
		t.Fatalf("rollback did not restore the buyer")
	}
}

func TestCheckFunds(t *testing.T) {
	c, _, l := newController(t)
	l.Credit(tToken, tBuyer, 100)
	l.SetAllowance(tToken, tBuyer, tEscrow, 50)
	l.Credit(dex.NativeCurrency, tBuyer, 100)
	ctx := context.Background()
	tx, _ := l.Begin(ctx)
	defer tx.Rollback()
	if err := c.CheckFunds(ctx, tx, tToken, tBuyer, 50); err != nil {
		t.Fatalf("CheckFunds error: %v", err)
	}
	if err := c.CheckFunds(ctx, tx, tToken, tBuyer, 60); !errors.Is(err, dex.ErrSolvency) {
		t.Fatalf("expected ErrSolvency for allowance, got %v", err)
	}
	if err := c.CheckFunds(ctx, tx, dex.NativeCurrency, tBuyer, 100); err != nil {
		t.Fatalf("CheckFunds error: %v", err)
	}
	if err := c.CheckFunds(ctx, tx, dex.NativeCurrency, tBuyer, 101); !errors.Is(err, dex.ErrSolvency) {
		t.Fatalf("expected ErrSolvency for balance, got %v", err)
	}
}

func TestCanDeliver(t *testing.T) {
	c, _, l := newController(t)
	l.Mint(tColl, 1, tSeller, 5)
	ctx := context.Background()
	tx, _ := l.Begin(ctx)
	defer tx.Rollback()
	if ok, _ := c.CanDeliver(ctx, tx, tColl, 1, tSeller, 5); ok {
		t.Fatalf("delivery possible without approval")
	}
	l.SetApproval(tColl, tSeller, tEscrow, true)
	if ok, _ := c.CanDeliver(ctx, tx, tColl, 1, tSeller, 5); !ok {
		t.Fatalf("delivery impossible with holdings and approval")
	}
	if ok, _ := c.CanDeliver(ctx, tx, tColl, 1, tSeller, 6); ok {
		t.Fatalf("delivery possible beyond holdings")
	}
}
