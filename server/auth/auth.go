// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package auth decides whether a caller may act on an order. A permission is
// an ordered list of independent predicates, any one of which grants access.
package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"decred.org/nftdex/dex"
)

// AdminChecker reports whether an account is a market admin.
type AdminChecker interface {
	IsAdmin(dex.Address) bool
}

// Admins is a mutable set of admin accounts. It is safe for concurrent use.
type Admins struct {
	mtx    sync.RWMutex
	admins map[dex.Address]bool
}

var _ AdminChecker = (*Admins)(nil)

// NewAdmins creates an Admins set.
func NewAdmins(addrs ...dex.Address) *Admins {
	a := &Admins{admins: make(map[dex.Address]bool, len(addrs))}
	for _, addr := range addrs {
		a.admins[addr] = true
	}
	return a
}

// IsAdmin checks whether addr is an admin.
func (a *Admins) IsAdmin(addr dex.Address) bool {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	return a.admins[addr]
}

// Set grants or revokes admin status.
func (a *Admins) Set(addr dex.Address, admin bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if admin {
		a.admins[addr] = true
	} else {
		delete(a.admins, addr)
	}
	log.Infof("Admin status of %s set to %v", addr, admin)
}

// Request is what predicates know about an attempted operation.
type Request struct {
	// Caller is the account invoking the operation.
	Caller dex.Address
	// Maker is the lister, offerer or trade maker.
	Maker dex.Address
	// Counterparties are other accounts with standing, e.g. the current
	// holder of an item an offer is made for.
	Counterparties []dex.Address
	Expiry         time.Time
	Now            time.Time
	// MakerLostItem is set when the lister no longer holds or has revoked
	// approval of the listed item.
	MakerLostItem bool
	Admins        AdminChecker
}

// Predicate is a single condition that grants permission.
type Predicate struct {
	Name  string
	Check func(*Request) bool
}

// The predicates.
var (
	IsMaker = Predicate{"maker", func(r *Request) bool {
		return r.Caller == r.Maker
	}}
	IsCounterparty = Predicate{"counterparty", func(r *Request) bool {
		for _, c := range r.Counterparties {
			if r.Caller == c {
				return true
			}
		}
		return false
	}}
	IsAdmin = Predicate{"admin", func(r *Request) bool {
		return r.Admins != nil && r.Admins.IsAdmin(r.Caller)
	}}
	IsExpired = Predicate{"expired", func(r *Request) bool {
		return r.Now.After(r.Expiry)
	}}
	MakerLostItem = Predicate{"maker lost item", func(r *Request) bool {
		return r.MakerLostItem
	}}
)

// Check evaluates the predicates in order and returns the name of the first
// that grants permission. If none do, the error is a dex.ErrAuthorization.
func Check(r *Request, preds ...Predicate) (string, error) {
	for _, p := range preds {
		if p.Check(r) {
			return p.Name, nil
		}
	}
	names := make([]string, len(preds))
	for i, p := range preds {
		names[i] = p.Name
	}
	return "", dex.NewError(dex.ErrAuthorization, fmt.Sprintf("%s is not %s",
		r.Caller, strings.Join(names, " or ")))
}
