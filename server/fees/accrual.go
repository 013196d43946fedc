// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package fees

import (
	"fmt"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/calc"
)

// Distribution is a payout of an accrued admin fee pool.
type Distribution struct {
	Currency dex.Address `json:"currency"`
	Pool     uint64      `json:"pool"`
	Dev      uint64      `json:"dev"`
	Holder   uint64      `json:"holder"`
	Buyback  uint64      `json:"buyback"`
	Admin    AdminFees   `json:"admin"`
}

// Distribute divides pool between the admin recipients in proportion to their
// basis point shares. The dev share absorbs the rounding remainder, and the
// whole pool if all shares are zero.
func Distribute(currency dex.Address, pool uint64, admin AdminFees) *Distribution {
	d := &Distribution{
		Currency: currency,
		Pool:     pool,
		Admin:    admin,
	}
	total := uint64(admin.TotalBp())
	if total == 0 {
		d.Dev = pool
		return d
	}
	// pool*bp/total cannot exceed pool, so MulDiv cannot overflow.
	d.Holder, _ = calc.MulDiv(pool, uint64(admin.HolderBp), total)
	d.Buyback, _ = calc.MulDiv(pool, uint64(admin.BuybackBp), total)
	d.Dev = pool - d.Holder - d.Buyback
	return d
}

// Accruals tracks undistributed admin fees per currency. Accruals is not safe
// for concurrent use.
type Accruals struct {
	pools map[dex.Address]uint64
}

// NewAccruals is the constructor for Accruals.
func NewAccruals() *Accruals {
	return &Accruals{pools: make(map[dex.Address]uint64)}
}

// Add accrues amt in the currency. The returned function reverses the
// addition.
func (a *Accruals) Add(currency dex.Address, amt uint64) (func() error, error) {
	prev := a.pools[currency]
	sum, err := calc.Add(prev, amt)
	if err != nil {
		return nil, fmt.Errorf("accrual of %d on %d in %s: %w", amt, prev, currency, err)
	}
	a.pools[currency] = sum
	return func() error {
		a.set(currency, prev)
		return nil
	}, nil
}

// Take empties the currency's pool and returns the amount it held. The
// returned function restores the pool.
func (a *Accruals) Take(currency dex.Address) (uint64, func() error) {
	amt := a.pools[currency]
	delete(a.pools, currency)
	return amt, func() error {
		a.set(currency, amt)
		return nil
	}
}

// Get is the currency's accrued amount.
func (a *Accruals) Get(currency dex.Address) uint64 {
	return a.pools[currency]
}

// Set overwrites the currency's accrued amount. Used when restoring state.
func (a *Accruals) Set(currency dex.Address, amt uint64) {
	a.set(currency, amt)
}

// All returns a copy of every non-zero pool.
func (a *Accruals) All() map[dex.Address]uint64 {
	m := make(map[dex.Address]uint64, len(a.pools))
	for c, amt := range a.pools {
		m[c] = amt
	}
	return m
}

func (a *Accruals) set(currency dex.Address, amt uint64) {
	if amt == 0 {
		delete(a.pools, currency)
		return
	}
	a.pools[currency] = amt
}
