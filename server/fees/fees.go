// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package fees splits settlement proceeds between the seller, the collection
// owner and the admin fee recipients, and tracks accrued admin fees.
package fees

import (
	"fmt"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/calc"
)

// AdminFees are the platform fee components and their recipients.
type AdminFees struct {
	DevBp       uint16      `json:"devBp"`
	HolderBp    uint16      `json:"holderBp"`
	BuybackBp   uint16      `json:"buybackBp"`
	DevAddr     dex.Address `json:"devAddr"`
	HolderAddr  dex.Address `json:"holderAddr"`
	BuybackAddr dex.Address `json:"buybackAddr"`
}

// TotalBp is the sum of the admin fee components.
func (a *AdminFees) TotalBp() uint32 {
	return uint32(a.DevBp) + uint32(a.HolderBp) + uint32(a.BuybackBp)
}

// Schedule is the read-only fee and collection configuration consumed by the
// fee engine and the market.
type Schedule interface {
	IsCollectionTradingEnabled(coll dex.Address) bool
	CollectionOwner(coll dex.Address) dex.Address
	CollectionOwnerFeeBp(coll dex.Address) uint16
	FeesEnabled() bool
	AutoForwardEnabled() bool
	AdminFees() AdminFees
}

// OwnerFeePolicy decides whether the collection owner fee is charged when
// fees are disabled.
type OwnerFeePolicy uint8

const (
	// OwnerFeeFollowsToggle charges no fees of any kind while fees are
	// disabled. The seller receives the gross amount.
	OwnerFeeFollowsToggle OwnerFeePolicy = iota
	// OwnerFeeAlways charges the collection owner fee regardless of the fee
	// toggle. Only the admin components are switched off.
	OwnerFeeAlways
)

// String returns the config name of the policy.
func (p OwnerFeePolicy) String() string {
	if p == OwnerFeeAlways {
		return "always"
	}
	return "toggle"
}

// ParseOwnerFeePolicy parses "toggle" or "always".
func ParseOwnerFeePolicy(s string) (OwnerFeePolicy, error) {
	switch s {
	case "", "toggle":
		return OwnerFeeFollowsToggle, nil
	case "always":
		return OwnerFeeAlways, nil
	}
	return 0, fmt.Errorf("unknown owner fee policy %q", s)
}

// Split is the division of a gross settlement amount. Net + Dev + Holder +
// Buyback + Owner == Gross.
type Split struct {
	Gross   uint64
	Net     uint64
	Dev     uint64
	Holder  uint64
	Buyback uint64
	Owner   uint64
	// OwnerAddr receives Owner.
	OwnerAddr dex.Address
	// Admin carries the recipients of the admin components.
	Admin AdminFees
}

// AdminTotal is the sum of the admin components.
func (s *Split) AdminTotal() uint64 {
	return s.Dev + s.Holder + s.Buyback
}

// ComputeSplit divides gross for a sale in the collection. Each component is
// floor(gross*bp/10000). Net absorbs all rounding remainders.
func ComputeSplit(sched Schedule, policy OwnerFeePolicy, gross uint64, coll dex.Address) (*Split, error) {
	admin := sched.AdminFees()
	feesOn := sched.FeesEnabled()
	s := &Split{
		Gross:     gross,
		OwnerAddr: sched.CollectionOwner(coll),
		Admin:     admin,
	}
	var ownerBp uint16
	if feesOn || policy == OwnerFeeAlways {
		ownerBp = sched.CollectionOwnerFeeBp(coll)
	}
	totalBp := uint32(ownerBp)
	if feesOn {
		totalBp += admin.TotalBp()
		s.Dev = calc.BpFloor(gross, admin.DevBp)
		s.Holder = calc.BpFloor(gross, admin.HolderBp)
		s.Buyback = calc.BpFloor(gross, admin.BuybackBp)
	}
	if totalBp > calc.BpDenominator {
		return nil, dex.NewError(dex.ErrValidation, fmt.Sprintf("fee components for %s sum to %d bp", coll, totalBp))
	}
	if ownerBp > 0 && s.OwnerAddr == (dex.Address{}) {
		return nil, dex.NewError(dex.ErrValidation, fmt.Sprintf("collection %s has an owner fee but no owner", coll))
	}
	s.Owner = calc.BpFloor(gross, ownerBp)
	// The components floor independently and their bp sum to at most 10000,
	// so this cannot underflow.
	s.Net = gross - s.AdminTotal() - s.Owner
	return s, nil
}
