// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package collections holds the collection and fee configuration that the
// market consumes read-only and that the admin API edits.
package collections

import (
	"fmt"
	"sync"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/calc"
	"decred.org/nftdex/server/fees"
)

// Collection is the configuration of one collection.
type Collection struct {
	Address    dex.Address `json:"address"`
	Enabled    bool        `json:"enabled"`
	Owner      dex.Address `json:"owner"`
	OwnerFeeBp uint16      `json:"ownerFeeBp"`
}

// Registry is an in-memory fees.Schedule with setters. It is safe for
// concurrent use.
type Registry struct {
	mtx         sync.RWMutex
	collections map[dex.Address]*Collection
	feesEnabled bool
	autoForward bool
	admin       fees.AdminFees
}

var _ fees.Schedule = (*Registry)(nil)

// NewRegistry creates a Registry with fees enabled and auto-forward on. No
// collection is enabled.
func NewRegistry(admin fees.AdminFees) (*Registry, error) {
	if admin.TotalBp() > calc.BpDenominator {
		return nil, fmt.Errorf("admin fees sum to %d bp", admin.TotalBp())
	}
	return &Registry{
		collections: make(map[dex.Address]*Collection),
		feesEnabled: true,
		autoForward: true,
		admin:       admin,
	}, nil
}

// IsCollectionTradingEnabled checks whether trading is enabled for the
// collection.
func (r *Registry) IsCollectionTradingEnabled(coll dex.Address) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	c := r.collections[coll]
	return c != nil && c.Enabled
}

// CollectionOwner is the recipient of the collection's owner fee.
func (r *Registry) CollectionOwner(coll dex.Address) dex.Address {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if c := r.collections[coll]; c != nil {
		return c.Owner
	}
	return dex.Address{}
}

// CollectionOwnerFeeBp is the collection's owner fee.
func (r *Registry) CollectionOwnerFeeBp(coll dex.Address) uint16 {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if c := r.collections[coll]; c != nil {
		return c.OwnerFeeBp
	}
	return 0
}

// FeesEnabled is the global fee toggle.
func (r *Registry) FeesEnabled() bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.feesEnabled
}

// AutoForwardEnabled is the toggle between forwarding admin fees with every
// settlement and accruing them for batch processing.
func (r *Registry) AutoForwardEnabled() bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.autoForward
}

// AdminFees returns the admin fee components.
func (r *Registry) AdminFees() fees.AdminFees {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.admin
}

// SetCollectionTrading enables or disables trading for a collection, adding
// the collection if it is unknown.
func (r *Registry) SetCollectionTrading(coll dex.Address, enabled bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.collection(coll).Enabled = enabled
	log.Infof("Trading %s for collection %s", enabledStr(enabled), coll)
}

// SetCollectionOwner sets the owner fee recipient and rate for a collection.
func (r *Registry) SetCollectionOwner(coll, owner dex.Address, feeBp uint16) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if total := r.admin.TotalBp() + uint32(feeBp); total > calc.BpDenominator {
		return dex.NewError(dex.ErrValidation, fmt.Sprintf("fees would sum to %d bp", total))
	}
	if feeBp > 0 && owner == (dex.Address{}) {
		return dex.NewError(dex.ErrValidation, "owner fee without an owner")
	}
	c := r.collection(coll)
	c.Owner, c.OwnerFeeBp = owner, feeBp
	log.Infof("Collection %s owner set to %s with fee %s%%", coll, owner, BpToPercent(feeBp))
	return nil
}

// SetFeesEnabled sets the global fee toggle.
func (r *Registry) SetFeesEnabled(on bool) {
	r.mtx.Lock()
	r.feesEnabled = on
	r.mtx.Unlock()
	log.Infof("Fees %s", enabledStr(on))
}

// SetAutoForward sets the auto-forward toggle.
func (r *Registry) SetAutoForward(on bool) {
	r.mtx.Lock()
	r.autoForward = on
	r.mtx.Unlock()
	log.Infof("Admin fee auto-forward %s", enabledStr(on))
}

// SetAdminFees replaces the admin fee components.
func (r *Registry) SetAdminFees(admin fees.AdminFees) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var maxOwner uint16
	for _, c := range r.collections {
		if c.OwnerFeeBp > maxOwner {
			maxOwner = c.OwnerFeeBp
		}
	}
	if total := admin.TotalBp() + uint32(maxOwner); total > calc.BpDenominator {
		return dex.NewError(dex.ErrValidation, fmt.Sprintf("fees would sum to %d bp", total))
	}
	r.admin = admin
	return nil
}

// Collections returns copies of all known collections.
func (r *Registry) Collections() []*Collection {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	cs := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		cp := *c
		cs = append(cs, &cp)
	}
	return cs
}

// collection gets or creates the collection. The write lock must be held.
func (r *Registry) collection(coll dex.Address) *Collection {
	c := r.collections[coll]
	if c == nil {
		c = &Collection{Address: coll}
		r.collections[coll] = c
	}
	return c
}

func enabledStr(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
