// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package sim

import (
	"fmt"

	"decred.org/nftdex/dex"
)

// Seed is the initial state of a Ledger.
type Seed struct {
	Holdings []struct {
		Collection string `json:"collection"`
		Item       uint64 `json:"item"`
		Holder     string `json:"holder"`
		Quantity   uint64 `json:"qty"`
	} `json:"holdings"`
	Approvals []struct {
		Collection string `json:"collection"`
		Holder     string `json:"holder"`
	} `json:"approvals"`
	Balances []struct {
		Currency string `json:"currency"`
		Holder   string `json:"holder"`
		Amount   uint64 `json:"amount"`
		// Allowance for the operator. Ignored for the native currency.
		Allowance uint64 `json:"allowance"`
	} `json:"balances"`
}

func parseAddrs(ss ...string) ([]dex.Address, error) {
	addrs := make([]dex.Address, len(ss))
	for i, s := range ss {
		if s == "" || s == "native" {
			continue // zero address
		}
		a, err := dex.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		addrs[i] = a
	}
	return addrs, nil
}

// Load applies the seed to the Ledger. Approvals are granted to the Ledger's
// operator.
func (l *Ledger) Load(seed *Seed) error {
	for _, h := range seed.Holdings {
		addrs, err := parseAddrs(h.Collection, h.Holder)
		if err != nil {
			return fmt.Errorf("bad holding: %w", err)
		}
		l.Mint(addrs[0], dex.ItemID(h.Item), addrs[1], h.Quantity)
	}
	for _, a := range seed.Approvals {
		addrs, err := parseAddrs(a.Collection, a.Holder)
		if err != nil {
			return fmt.Errorf("bad approval: %w", err)
		}
		l.SetApproval(addrs[0], addrs[1], l.operator, true)
	}
	for _, b := range seed.Balances {
		addrs, err := parseAddrs(b.Currency, b.Holder)
		if err != nil {
			return fmt.Errorf("bad balance: %w", err)
		}
		l.Credit(addrs[0], addrs[1], b.Amount)
		if b.Allowance > 0 && !dex.IsNative(addrs[0]) {
			l.SetAllowance(addrs[0], addrs[1], l.operator, b.Allowance)
		}
	}
	l.log.Infof("Loaded ledger seed with %d holdings, %d approvals and %d balances",
		len(seed.Holdings), len(seed.Approvals), len(seed.Balances))
	return nil
}
