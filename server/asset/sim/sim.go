// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package sim is an in-memory transactional ledger. It backs simnet
// deployments and tests. Register it with a blank import.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/server/asset"
)

// DriverName is the name of the sim ledger driver.
const DriverName = "sim"

func init() {
	asset.Register(DriverName, &Driver{})
}

// Driver implements asset.Driver.
type Driver struct{}

// Open creates a Ledger, seeded from the JSON file at cfg.ConfigPath if one is
// given.
func (*Driver) Open(_ context.Context, cfg *asset.Config) (asset.Ledger, error) {
	l := NewLedger(cfg.Operator)
	if cfg.Logger != nil {
		l.log = cfg.Logger
	}
	if cfg.ConfigPath == "" {
		return l, nil
	}
	b, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	seed := new(Seed)
	if err = json.Unmarshal(b, seed); err != nil {
		return nil, fmt.Errorf("error parsing ledger seed %s: %w", cfg.ConfigPath, err)
	}
	if err = l.Load(seed); err != nil {
		return nil, err
	}
	return l, nil
}

type itemKey struct {
	coll dex.Address
	item dex.ItemID
}

type pair struct {
	a, b dex.Address
}

// Ledger is an in-memory asset.Ledger. Transactions are exclusive. Begin
// blocks until the previous transaction is committed or rolled back.
type Ledger struct {
	log      dex.Logger
	operator dex.Address
	txMtx    sync.Mutex

	mtx        sync.RWMutex
	holdings   map[itemKey]map[dex.Address]uint64
	approvals  map[dex.Address]map[pair]bool          // coll -> (holder, operator)
	balances   map[dex.Address]map[dex.Address]uint64 // currency -> holder
	allowances map[dex.Address]map[pair]uint64        // currency -> (holder, spender)
}

var _ asset.Ledger = (*Ledger)(nil)

// NewLedger creates an empty Ledger.
func NewLedger(operator dex.Address) *Ledger {
	return &Ledger{
		log:        dex.Disabled,
		operator:   operator,
		holdings:   make(map[itemKey]map[dex.Address]uint64),
		approvals:  make(map[dex.Address]map[pair]bool),
		balances:   make(map[dex.Address]map[dex.Address]uint64),
		allowances: make(map[dex.Address]map[pair]uint64),
	}
}

// Operator is the market's account.
func (l *Ledger) Operator() dex.Address {
	return l.operator
}

// Begin starts an exclusive transaction.
func (l *Ledger) Begin(ctx context.Context) (asset.Tx, error) {
	l.txMtx.Lock()
	if err := ctx.Err(); err != nil {
		l.txMtx.Unlock()
		return nil, err
	}
	return &tx{l: l}, nil
}

// Mint sets the holder's quantity of an item, outside of any transaction.
func (l *Ledger) Mint(coll dex.Address, item dex.ItemID, holder dex.Address, qty uint64) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.setHolding(itemKey{coll, item}, holder, qty)
}

// SetApproval sets holder's approval of operator for the collection.
func (l *Ledger) SetApproval(coll, holder, operator dex.Address, approved bool) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.setApproval(coll, pair{holder, operator}, approved)
}

// Credit sets the holder's balance of the currency.
func (l *Ledger) Credit(currency, holder dex.Address, amt uint64) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.setBalance(currency, holder, amt)
}

// SetAllowance sets the amount of holder's token that spender may move. An
// allowance of math.MaxUint64 is never decremented.
func (l *Ledger) SetAllowance(currency, holder, spender dex.Address, amt uint64) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.setAllowance(currency, pair{holder, spender}, amt)
}

// HoldingOf is BalanceOf outside of a transaction.
func (l *Ledger) HoldingOf(coll dex.Address, item dex.ItemID, holder dex.Address) uint64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.holdings[itemKey{coll, item}][holder]
}

// Funds is Balance outside of a transaction.
func (l *Ledger) Funds(currency, holder dex.Address) uint64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.balances[currency][holder]
}

// AllowanceOf is Allowance outside of a transaction.
func (l *Ledger) AllowanceOf(currency, holder, spender dex.Address) uint64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.allowances[currency][pair{holder, spender}]
}

// The set* methods require the write lock.

func (l *Ledger) setHolding(k itemKey, holder dex.Address, qty uint64) {
	m := l.holdings[k]
	if m == nil {
		m = make(map[dex.Address]uint64)
		l.holdings[k] = m
	}
	if qty == 0 {
		delete(m, holder)
		return
	}
	m[holder] = qty
}

func (l *Ledger) setApproval(coll dex.Address, p pair, approved bool) {
	m := l.approvals[coll]
	if m == nil {
		m = make(map[pair]bool)
		l.approvals[coll] = m
	}
	if !approved {
		delete(m, p)
		return
	}
	m[p] = true
}

func (l *Ledger) setBalance(currency, holder dex.Address, amt uint64) {
	m := l.balances[currency]
	if m == nil {
		m = make(map[dex.Address]uint64)
		l.balances[currency] = m
	}
	if amt == 0 {
		delete(m, holder)
		return
	}
	m[holder] = amt
}

func (l *Ledger) setAllowance(currency dex.Address, p pair, amt uint64) {
	m := l.allowances[currency]
	if m == nil {
		m = make(map[pair]uint64)
		l.allowances[currency] = m
	}
	if amt == 0 {
		delete(m, p)
		return
	}
	m[p] = amt
}

// tx is an asset.Tx with an undo log.
type tx struct {
	l    *Ledger
	undo []func()
	done bool
}

var _ asset.Tx = (*tx)(nil)

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return asset.ErrTxDone
	}
	return ctx.Err()
}

func (t *tx) BalanceOf(ctx context.Context, coll dex.Address, item dex.ItemID, holder dex.Address) (uint64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	return t.l.HoldingOf(coll, item, holder), nil
}

func (t *tx) IsApproved(ctx context.Context, coll, holder, operator dex.Address) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	t.l.mtx.RLock()
	defer t.l.mtx.RUnlock()
	return t.l.approvals[coll][pair{holder, operator}], nil
}

func (t *tx) TransferAsset(ctx context.Context, coll dex.Address, item dex.ItemID, qty uint64, from, to dex.Address) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	l := t.l
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if from != l.operator && !l.approvals[coll][pair{from, l.operator}] {
		return dex.NewError(asset.ErrCustody, fmt.Sprintf("%s has not approved %s for collection %s", from, l.operator, coll))
	}
	k := itemKey{coll, item}
	fromBal, toBal := l.holdings[k][from], l.holdings[k][to]
	if fromBal < qty {
		return dex.NewError(asset.ErrCustody, fmt.Sprintf("%s holds %d of item %s:%v, needs %d", from, fromBal, coll, item, qty))
	}
	if from == to || qty == 0 {
		return nil
	}
	l.setHolding(k, from, fromBal-qty)
	l.setHolding(k, to, toBal+qty)
	t.undo = append(t.undo, func() {
		l.setHolding(k, from, fromBal)
		l.setHolding(k, to, toBal)
	})
	l.log.Tracef("Transferred %d of %s:%v from %s to %s", qty, coll, item, from, to)
	return nil
}

func (t *tx) Balance(ctx context.Context, currency, holder dex.Address) (uint64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	return t.l.Funds(currency, holder), nil
}

func (t *tx) Allowance(ctx context.Context, currency, holder, spender dex.Address) (uint64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	if dex.IsNative(currency) {
		return math.MaxUint64, nil
	}
	return t.l.AllowanceOf(currency, holder, spender), nil
}

func (t *tx) MovePayment(ctx context.Context, currency, from, to dex.Address, amount uint64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if amount == 0 || from == to {
		return nil
	}
	l := t.l
	l.mtx.Lock()
	defer l.mtx.Unlock()
	fromBal, toBal := l.balances[currency][from], l.balances[currency][to]
	if fromBal < amount {
		return dex.NewError(asset.ErrPayment, fmt.Sprintf("%s has %d of %s, needs %d", from, fromBal, currency, amount))
	}
	if toBal > math.MaxUint64-amount {
		return dex.NewError(asset.ErrPayment, fmt.Sprintf("balance overflow for %s", to))
	}
	p := pair{from, l.operator}
	allowance := l.allowances[currency][p]
	pull := !dex.IsNative(currency) && from != l.operator
	if pull && allowance < amount {
		return dex.NewError(asset.ErrPayment, fmt.Sprintf("%s allows %d of %s, needs %d", from, allowance, currency, amount))
	}
	l.setBalance(currency, from, fromBal-amount)
	l.setBalance(currency, to, toBal+amount)
	if pull && allowance != math.MaxUint64 {
		l.setAllowance(currency, p, allowance-amount)
	}
	t.undo = append(t.undo, func() {
		l.setBalance(currency, from, fromBal)
		l.setBalance(currency, to, toBal)
		if pull {
			l.setAllowance(currency, p, allowance)
		}
	})
	l.log.Tracef("Moved %d of %s from %s to %s", amount, currency, from, to)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return asset.ErrTxDone
	}
	t.done = true
	t.undo = nil
	t.l.txMtx.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return asset.ErrTxDone
	}
	t.done = true
	t.l.mtx.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.l.mtx.Unlock()
	t.undo = nil
	t.l.txMtx.Unlock()
	return nil
}
