// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package market is the settlement engine. A Market owns the listing, offer
// and trade registries and runs every operation as a single atomic unit: the
// registry mutations, the custody and payment movements made through an
// asset.Ledger transaction, the fee accruals and the archive batch either all
// take effect or none do.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/asset"
	"decred.org/nftdex/server/auth"
	"decred.org/nftdex/server/book"
	"decred.org/nftdex/server/db"
	"decred.org/nftdex/server/fees"
	"decred.org/nftdex/server/settle"
)

// Config is the configuration of a Market.
type Config struct {
	Ledger asset.Ledger
	// Archivist is optional. Without it the market state is not persisted.
	Archivist db.Archivist
	Schedule  fees.Schedule
	Policy    fees.OwnerFeePolicy
	Admins    auth.AdminChecker
	// PaymentToken is the currency of unescrowed offers and unescrowed buy
	// trades.
	PaymentToken dex.Address
	Publishers   []Publisher
	// Now is the clock. time.Now is used if nil.
	Now func() time.Time
}

// Market is the settlement engine. All operations are serialized.
type Market struct {
	mtx      sync.RWMutex
	ledger   asset.Ledger
	archive  db.Archivist
	sched    fees.Schedule
	admins   auth.AdminChecker
	token    dex.Address
	pubs     []Publisher
	now      func() time.Time
	settle   *settle.Controller
	listings *book.ListingBook
	offers   *book.OfferBook
	trades   *book.TradeBook
	nonce    uint64
}

// NewMarket creates the Market. If an Archivist is configured, the active
// orders, accruals and nonce are restored from it.
func NewMarket(ctx context.Context, cfg *Config) (*Market, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("no ledger")
	}
	if cfg.Schedule == nil {
		return nil, errors.New("no fee schedule")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	admins := cfg.Admins
	if admins == nil {
		admins = auth.NewAdmins()
	}
	m := &Market{
		ledger:  cfg.Ledger,
		archive: cfg.Archivist,
		sched:   cfg.Schedule,
		admins:  admins,
		token:   cfg.PaymentToken,
		pubs:    cfg.Publishers,
		now:     now,
		settle: settle.NewController(&settle.Config{
			Schedule: cfg.Schedule,
			Policy:   cfg.Policy,
			Escrow:   cfg.Ledger.Operator(),
		}),
		listings: book.NewListingBook(),
		offers:   book.NewOfferBook(),
		trades:   book.NewTradeBook(),
	}
	if m.archive == nil {
		return m, nil
	}
	st, err := m.archive.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading market state: %w", err)
	}
	if err = m.restore(st); err != nil {
		return nil, err
	}
	return m, nil
}

// restore loads the archived state into the empty registries.
func (m *Market) restore(st *db.State) error {
	for _, l := range st.Listings {
		if _, _, err := m.listings.Insert(l); err != nil {
			return fmt.Errorf("error restoring listing: %w", err)
		}
	}
	for _, o := range st.Offers {
		if _, _, err := m.offers.Insert(o); err != nil {
			return fmt.Errorf("error restoring offer: %w", err)
		}
	}
	for _, t := range st.Trades {
		if _, _, err := m.trades.Insert(t); err != nil {
			return fmt.Errorf("error restoring trade: %w", err)
		}
	}
	for currency, amt := range st.Accruals {
		m.settle.Accruals().Set(currency, amt)
	}
	m.nonce = st.Nonce
	log.Infof("Restored %d listings, %d offers, %d trades and %d fee accruals. Next nonce %d.",
		m.listings.Count(), m.offers.Count(), m.trades.Count(), len(st.Accruals), m.nonce)
	return nil
}

// Escrow is the account that holds escrowed funds and accrued fees.
func (m *Market) Escrow() dex.Address {
	return m.settle.Escrow()
}

// PaymentToken is the currency of unescrowed offers and buy trades.
func (m *Market) PaymentToken() dex.Address {
	return m.token
}

// inFlightKey marks a context passed to collaborators during an operation.
type inFlightKey struct{}

func (m *Market) reentrant(ctx context.Context) bool {
	mkt, _ := ctx.Value(inFlightKey{}).(*Market)
	return mkt == m
}

func errReentrant(op string) error {
	return dex.NewError(dex.ErrReentrant, op)
}

// op is the state of one atomic operation.
type op struct {
	name     string
	ctx      context.Context
	tx       asset.Tx
	journal  *dex.ErrorCloser
	now      time.Time
	batch    *db.Batch
	accrued  map[dex.Address]bool
	events   []*Event
	settlers []*db.Settlement
}

// run executes f as an atomic operation. If f or any step after it fails, the
// journal undoes every registry, accrual and nonce change and the ledger
// transaction is rolled back.
func (m *Market) run(ctx context.Context, name string, f func(*op) error) error {
	if m.reentrant(ctx) {
		return errReentrant(name)
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()

	ctx = context.WithValue(ctx, inFlightKey{}, m)
	tx, err := m.ledger.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: error beginning ledger transaction: %w", name, err)
	}

	journal := dex.NewErrorCloser()
	defer journal.Done(log)
	journal.Add(func() error {
		if err := tx.Rollback(); err != nil && !errors.Is(err, asset.ErrTxDone) {
			return err
		}
		return nil
	})
	nonce := m.nonce
	journal.Add(func() error {
		m.nonce = nonce
		return nil
	})

	o := &op{
		name:    name,
		ctx:     ctx,
		tx:      tx,
		journal: journal,
		now:     m.now(),
		batch:   new(db.Batch),
		accrued: make(map[dex.Address]bool),
	}
	if err = f(o); err != nil {
		log.Debugf("%s failed, rolling back %d steps: %v", name, journal.Len(), err)
		return err
	}

	if m.archive != nil {
		b := o.batch
		b.Settlements = o.settlers
		b.Nonce = m.nonce
		if len(o.accrued) > 0 {
			b.Accruals = make(map[dex.Address]uint64, len(o.accrued))
			for currency := range o.accrued {
				b.Accruals[currency] = m.settle.Accruals().Get(currency)
			}
		}
		if !b.Empty() {
			if err = m.archive.Apply(ctx, b); err != nil {
				log.Errorf("%s: archive failed, rolling back: %v", name, err)
				return fmt.Errorf("%s: archive error: %w", name, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		if m.archive != nil {
			log.Criticalf("%s: ledger commit failed after archiving: %v", name, err)
		}
		return fmt.Errorf("%s: error committing ledger transaction: %w", name, err)
	}
	journal.Success()

	for _, ev := range o.events {
		for _, p := range m.pubs {
			p.Publish(ev)
		}
	}
	return nil
}

// view runs a read-only function with the registries locked for reading.
func (m *Market) view(ctx context.Context, name string, f func() error) error {
	if m.reentrant(ctx) {
		return errReentrant(name)
	}
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return f()
}

// prefix assigns the next nonce to a new order.
func (m *Market) prefix(o *op, coll dex.Address, item dex.ItemID, maker dex.Address, expiry time.Time) order.Prefix {
	p := order.Prefix{
		Nonce:      m.nonce,
		Collection: coll,
		Item:       item,
		Maker:      maker,
		Expiry:     expiry,
		Created:    o.now,
	}
	m.nonce++
	return p
}

// validateNew checks the fields common to every new order.
func (m *Market) validateNew(o *op, coll dex.Address, price uint64, expiry time.Time) error {
	if !m.sched.IsCollectionTradingEnabled(coll) {
		return dex.NewError(dex.ErrValidation, fmt.Sprintf("trading disabled for collection %s", coll))
	}
	if price == 0 {
		return dex.NewError(dex.ErrValidation, "zero price")
	}
	if !expiry.After(o.now) {
		return dex.NewError(dex.ErrValidation, fmt.Sprintf("expiry %s is not in the future", expiry.UTC()))
	}
	return nil
}

// validateSettle checks the conditions common to settling any order.
func (m *Market) validateSettle(o *op, p *order.Prefix) error {
	if !m.sched.IsCollectionTradingEnabled(p.Collection) {
		return dex.NewError(dex.ErrValidation, fmt.Sprintf("trading disabled for collection %s", p.Collection))
	}
	if p.Expired(o.now) {
		return dex.NewError(dex.ErrExpired, fmt.Sprintf("expired at %s", p.Expiry.UTC()))
	}
	return nil
}

// authorize evaluates the predicates for the operation.
func (m *Market) authorize(o *op, req *auth.Request, preds ...auth.Predicate) error {
	req.Now = o.now
	req.Admins = m.admins
	granted, err := auth.Check(req, preds...)
	if err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}
	log.Tracef("%s by %s permitted as %s", o.name, req.Caller, granted)
	return nil
}

// record adds the order to the archive batch.
func (o *op) record(ord order.Order, status order.OrderStatus) {
	o.batch.Orders = append(o.batch.Orders, db.NewOrderRecord(ord, status))
}

// pay runs the payout through the settlement controller and records the
// settlement.
func (m *Market) pay(o *op, ord order.Order, qty uint64, buyer dex.Address, p *settle.Payout) (*fees.Split, error) {
	split, accrued, err := m.settle.Pay(o.ctx, o.tx, o.journal, p)
	if err != nil {
		return nil, err
	}
	if accrued {
		o.accrued[p.Currency] = true
	}
	base := ord.Base()
	o.settlers = append(o.settlers, &db.Settlement{
		ID:         newEventID(),
		OrderID:    ord.ID(),
		Kind:       ord.Kind(),
		Collection: base.Collection,
		Item:       base.Item,
		Quantity:   qty,
		Seller:     p.Seller,
		Buyer:      buyer,
		Currency:   p.Currency,
		Gross:      split.Gross,
		Net:        split.Net,
		Owner:      split.Owner,
		Dev:        split.Dev,
		Holder:     split.Holder,
		Buyback:    split.Buyback,
		Accrued:    accrued,
		Stamp:      o.now,
	})
	return split, nil
}

// ProcessAccruedFees distributes the accrued admin fees of the currency to the
// admin fee recipients. Only admins may process fees.
func (m *Market) ProcessAccruedFees(ctx context.Context, caller, currency dex.Address) (*fees.Distribution, error) {
	var dist *fees.Distribution
	err := m.run(ctx, "ProcessAccruedFees", func(o *op) error {
		if err := m.authorize(o, &auth.Request{Caller: caller}, auth.IsAdmin); err != nil {
			return err
		}
		d, err := m.settle.ProcessAccrued(o.ctx, o.tx, o.journal, currency)
		if err != nil {
			return err
		}
		if d.Pool > 0 {
			o.accrued[currency] = true
			o.events = append(o.events, feesEvent(d, o.now))
		}
		dist = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Distributed %d of accrued %s fees: dev %d, holder %d, buyback %d",
		dist.Pool, currency, dist.Dev, dist.Holder, dist.Buyback)
	return dist, nil
}

// Accrued is the amount of the currency's admin fees awaiting distribution.
func (m *Market) Accrued(ctx context.Context, currency dex.Address) (uint64, error) {
	var amt uint64
	err := m.view(ctx, "Accrued", func() error {
		amt = m.settle.Accruals().Get(currency)
		return nil
	})
	return amt, err
}

// AllAccrued returns every currency's accrued admin fees.
func (m *Market) AllAccrued(ctx context.Context) (map[dex.Address]uint64, error) {
	var all map[dex.Address]uint64
	err := m.view(ctx, "AllAccrued", func() error {
		all = m.settle.Accruals().All()
		return nil
	})
	return all, err
}

// Verify checks the consistency of every registry.
func (m *Market) Verify(ctx context.Context) error {
	return m.view(ctx, "Verify", func() error {
		if err := m.listings.Verify(); err != nil {
			return fmt.Errorf("listings: %w", err)
		}
		if err := m.offers.Verify(); err != nil {
			return fmt.Errorf("offers: %w", err)
		}
		if err := m.trades.Verify(); err != nil {
			return fmt.Errorf("trades: %w", err)
		}
		return nil
	})
}

// Settlements retrieves archived settlement records. It fails if no
// Archivist is configured.
func (m *Market) Settlements(ctx context.Context, filter *db.SettlementFilter) ([]*db.Settlement, error) {
	if m.archive == nil {
		return nil, errors.New("no archive")
	}
	return m.archive.Settlements(ctx, filter)
}
