// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package db defines the archive of the market's registries, settlements and
// fee accruals, and a registry of archive drivers.
package db

import (
	"context"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
)

// Archivist is the persistent store of market state. A Batch is applied in a
// single database transaction.
type Archivist interface {
	// Apply stores the order records, settlements, accrual totals and nonce
	// of the batch atomically. Orders with a terminal status are moved out of
	// the active set.
	Apply(ctx context.Context, b *Batch) error
	// LoadState retrieves all active orders, the accrual totals and the next
	// nonce.
	LoadState(ctx context.Context) (*State, error)
	// Settlements retrieves settlement records, newest first.
	Settlements(ctx context.Context, filter *SettlementFilter) ([]*Settlement, error)
	// Close closes the archive.
	Close() error
}

// Batch is the set of archive changes made by one market operation.
type Batch struct {
	Orders      []*OrderRecord
	Settlements []*Settlement
	// Accruals are the new totals of any currency whose accrual changed.
	Accruals map[dex.Address]uint64
	// Nonce is the next order nonce.
	Nonce uint64
}

// Empty is true if the batch has no order, settlement or accrual changes.
func (b *Batch) Empty() bool {
	return len(b.Orders) == 0 && len(b.Settlements) == 0 && len(b.Accruals) == 0
}

// State is the market state restored at startup.
type State struct {
	Listings []*order.Listing
	Offers   []*order.Offer
	Trades   []*order.Trade
	Accruals map[dex.Address]uint64
	Nonce    uint64
}

// SettlementFilter narrows a Settlements query. A zero Limit means no limit.
type SettlementFilter struct {
	Limit   int
	OrderID *order.OrderID
}
