// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package asset defines the custody and payment collaborators of the market.
// Asset custody (who holds which items) and payment movement (native and
// token currency) are provided by a Ledger driver.
package asset

import (
	"context"

	"decred.org/nftdex/dex"
)

const (
	// ErrCustody is returned when an asset transfer fails because the sender
	// does not hold enough of the item or has not approved the operator.
	ErrCustody = dex.ErrorKind("custody error")
	// ErrPayment is returned when a payment fails because of an insufficient
	// balance or allowance.
	ErrPayment = dex.ErrorKind("payment error")
	// ErrTxDone is returned when using a Tx after Commit or Rollback.
	ErrTxDone = dex.ErrorKind("transaction already finished")
)

// Custodian tracks item holdings. For unique items the balance of the holder
// is 1 and every other balance is 0.
type Custodian interface {
	// BalanceOf is the quantity of the item held by holder.
	BalanceOf(ctx context.Context, coll dex.Address, item dex.ItemID, holder dex.Address) (uint64, error)
	// IsApproved checks whether holder has approved operator to transfer
	// any of holder's items in the collection.
	IsApproved(ctx context.Context, coll, holder, operator dex.Address) (bool, error)
	// TransferAsset moves qty of the item from one holder to another. It
	// fails with ErrCustody if from holds less than qty, or if from is not
	// the operator and has not approved the operator.
	TransferAsset(ctx context.Context, coll dex.Address, item dex.ItemID, qty uint64, from, to dex.Address) error
}

// Payments tracks currency balances. The zero address is the native
// currency.
type Payments interface {
	// Balance is the holder's balance of the currency.
	Balance(ctx context.Context, currency, holder dex.Address) (uint64, error)
	// Allowance is the amount of holder's token balance that spender may
	// move. The native currency has no allowances.
	Allowance(ctx context.Context, currency, holder, spender dex.Address) (uint64, error)
	// MovePayment moves amount of currency. It fails with ErrPayment on an
	// insufficient balance, or for a token payment pulled by the operator, on
	// an insufficient allowance.
	MovePayment(ctx context.Context, currency, from, to dex.Address, amount uint64) error
}

// Tx is an atomic unit of custody and payment operations. Either every
// operation takes effect on Commit, or none do after Rollback.
type Tx interface {
	Custodian
	Payments
	Commit() error
	Rollback() error
}

// Ledger begins transactions. A Ledger is configured with the operator
// address, i.e. the market's own account that holds escrow and that holders
// approve for transfers.
type Ledger interface {
	Begin(ctx context.Context) (Tx, error)
	Operator() dex.Address
}
