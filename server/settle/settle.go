// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package settle moves items and payments for the market. It validates that
// makers can fund and deliver what they have committed to, and distributes
// settlement proceeds according to the fee schedule.
package settle

import (
	"context"
	"errors"
	"fmt"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/server/asset"
	"decred.org/nftdex/server/fees"
)

// Config is the configuration of a Controller.
type Config struct {
	Schedule fees.Schedule
	Policy   fees.OwnerFeePolicy
	Accruals *fees.Accruals
	// Escrow is the account holding escrowed funds and accrued fees. It is the
	// Ledger's operator.
	Escrow dex.Address
}

// Controller is the settlement controller.
type Controller struct {
	sched    fees.Schedule
	policy   fees.OwnerFeePolicy
	accruals *fees.Accruals
	escrow   dex.Address
}

// NewController is the constructor for a Controller.
func NewController(cfg *Config) *Controller {
	accruals := cfg.Accruals
	if accruals == nil {
		accruals = fees.NewAccruals()
	}
	return &Controller{
		sched:    cfg.Schedule,
		policy:   cfg.Policy,
		accruals: accruals,
		escrow:   cfg.Escrow,
	}
}

// Escrow is the escrow account.
func (c *Controller) Escrow() dex.Address {
	return c.escrow
}

// Accruals are the accrued admin fees.
func (c *Controller) Accruals() *fees.Accruals {
	return c.accruals
}

// solvency converts custody and payment failures to dex.ErrSolvency, keeping
// the collaborator error in the chain.
func solvency(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, asset.ErrCustody) || errors.Is(err, asset.ErrPayment) {
		return fmt.Errorf("%w: %w", dex.ErrSolvency, err)
	}
	return err
}

// CanDeliver checks whether holder holds at least qty of the item and has
// approved the escrow account as operator.
func (c *Controller) CanDeliver(ctx context.Context, tx asset.Custodian, coll dex.Address, item dex.ItemID, holder dex.Address, qty uint64) (bool, error) {
	bal, err := tx.BalanceOf(ctx, coll, item, holder)
	if err != nil {
		return false, err
	}
	if bal < qty {
		return false, nil
	}
	return tx.IsApproved(ctx, coll, holder, c.escrow)
}

// CheckFunds returns a dex.ErrSolvency if payer cannot pay amount of the
// currency. For tokens, the allowance of the escrow account is checked too.
func (c *Controller) CheckFunds(ctx context.Context, tx asset.Payments, currency, payer dex.Address, amount uint64) error {
	bal, err := tx.Balance(ctx, currency, payer)
	if err != nil {
		return err
	}
	if bal < amount {
		return dex.NewError(dex.ErrSolvency, fmt.Sprintf("%s has %d of %s, needs %d", payer, bal, currency, amount))
	}
	if dex.IsNative(currency) {
		return nil
	}
	allowance, err := tx.Allowance(ctx, currency, payer, c.escrow)
	if err != nil {
		return err
	}
	if allowance < amount {
		return dex.NewError(dex.ErrSolvency, fmt.Sprintf("%s allows %d of %s, needs %d", payer, allowance, currency, amount))
	}
	return nil
}

// Deliver transfers qty of the item.
func (c *Controller) Deliver(ctx context.Context, tx asset.Custodian, coll dex.Address, item dex.ItemID, qty uint64, from, to dex.Address) error {
	return solvency(tx.TransferAsset(ctx, coll, item, qty, from, to))
}

// Lock moves amount from the payer into escrow.
func (c *Controller) Lock(ctx context.Context, tx asset.Payments, currency, from dex.Address, amount uint64) error {
	return solvency(tx.MovePayment(ctx, currency, from, c.escrow, amount))
}

// Refund returns amount from escrow.
func (c *Controller) Refund(ctx context.Context, tx asset.Payments, currency, to dex.Address, amount uint64) error {
	return solvency(tx.MovePayment(ctx, currency, c.escrow, to, amount))
}

// Payout describes the proceeds of a sale.
type Payout struct {
	Currency   dex.Address
	Payer      dex.Address
	Seller     dex.Address
	Gross      uint64
	Collection dex.Address
}

// Pay splits the gross amount and moves each component from the payer. The
// collection owner is always paid immediately. Admin components are paid
// immediately if auto-forward is on, and otherwise moved to escrow and
// accrued. The accrual is undone by the journal on failure. accrued reports
// whether a non-zero admin total was held in escrow.
func (c *Controller) Pay(ctx context.Context, tx asset.Payments, journal *dex.ErrorCloser, p *Payout) (split *fees.Split, accrued bool, err error) {
	split, err = fees.ComputeSplit(c.sched, c.policy, p.Gross, p.Collection)
	if err != nil {
		return nil, false, err
	}
	move := func(to dex.Address, amt uint64) error {
		if amt == 0 {
			return nil
		}
		return solvency(tx.MovePayment(ctx, p.Currency, p.Payer, to, amt))
	}
	if err = move(split.OwnerAddr, split.Owner); err != nil {
		return nil, false, err
	}
	forward := c.sched.AutoForwardEnabled()
	if forward {
		for _, fee := range []struct {
			to  dex.Address
			amt uint64
		}{
			{split.Admin.DevAddr, split.Dev},
			{split.Admin.HolderAddr, split.Holder},
			{split.Admin.BuybackAddr, split.Buyback},
		} {
			if err = move(fee.to, fee.amt); err != nil {
				return nil, false, err
			}
		}
	} else if adminAmt := split.AdminTotal(); adminAmt > 0 {
		if err = move(c.escrow, adminAmt); err != nil {
			return nil, false, err
		}
		undo, err := c.accruals.Add(p.Currency, adminAmt)
		if err != nil {
			return nil, false, err
		}
		journal.Add(undo)
		accrued = true
	}
	if err = move(p.Seller, split.Net); err != nil {
		return nil, false, err
	}
	log.Debugf("Paid %d of %s from %s: net %d to %s, owner %d, admin %d (forwarded = %v)",
		p.Gross, p.Currency, p.Payer, split.Net, p.Seller, split.Owner, split.AdminTotal(),
		forward)
	return split, accrued, nil
}

// ProcessAccrued distributes the currency's accrued admin fees from escrow to
// the admin recipients, emptying the pool. The journal restores the pool on
// failure.
func (c *Controller) ProcessAccrued(ctx context.Context, tx asset.Payments, journal *dex.ErrorCloser, currency dex.Address) (*fees.Distribution, error) {
	pool, restore := c.accruals.Take(currency)
	journal.Add(restore)
	d := fees.Distribute(currency, pool, c.sched.AdminFees())
	for _, fee := range []struct {
		to  dex.Address
		amt uint64
	}{
		{d.Admin.DevAddr, d.Dev},
		{d.Admin.HolderAddr, d.Holder},
		{d.Admin.BuybackAddr, d.Buyback},
	} {
		if fee.amt == 0 {
			continue
		}
		if err := c.Refund(ctx, tx, currency, fee.to, fee.amt); err != nil {
			return nil, err
		}
	}
	return d, nil
}
