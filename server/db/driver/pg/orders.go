// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/db"
	"decred.org/nftdex/server/db/driver/pg/internal"
)

// Apply stores the batch in a single transaction. Active orders are upserted
// into the active table. Orders with a terminal status are deleted from the
// active table and upserted into the archived table.
func (a *Archiver) Apply(ctx context.Context, b *db.Batch) error {
	ctx, cancel := a.queryCtx(ctx)
	defer cancel()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return db.ArchiveError{Code: db.ErrGeneralFailure, Detail: err.Error()}
	}
	if err = applyBatch(ctx, tx, a.tables, b); err != nil {
		if errR := tx.Rollback(); errR != nil && !errors.Is(errR, sql.ErrTxDone) {
			log.Errorf("Rollback failed: %v", errR)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return db.ArchiveError{Code: db.ErrGeneralFailure, Detail: err.Error()}
	}
	return nil
}

func applyBatch(ctx context.Context, tx *sql.Tx, t *tables, b *db.Batch) error {
	now := time.Now()
	for _, rec := range b.Orders {
		if err := storeOrder(ctx, tx, t, rec, now); err != nil {
			return err
		}
	}
	for _, s := range b.Settlements {
		if err := storeSettlement(ctx, tx, t.settlements, s); err != nil {
			return err
		}
	}
	for currency, amt := range b.Accruals {
		stmt := fmt.Sprintf(internal.UpsertAccrual, t.accruals)
		if _, err := tx.ExecContext(ctx, stmt, currency, int64(amt)); err != nil {
			return db.ArchiveError{Code: db.ErrGeneralFailure, Detail: fmt.Sprintf("accrual %s: %v", currency, err)}
		}
	}
	if _, err := tx.ExecContext(ctx, internal.SetNonce, int64(b.Nonce)); err != nil {
		return db.ArchiveError{Code: db.ErrGeneralFailure, Detail: fmt.Sprintf("nonce: %v", err)}
	}
	return nil
}

func storeOrder(ctx context.Context, tx *sql.Tx, t *tables, rec *db.OrderRecord, stamp time.Time) error {
	ord, err := rec.Order()
	if err != nil {
		return err
	}
	body, err := rec.Body()
	if err != nil {
		return err
	}
	table := t.active
	if rec.Status != order.OrderStatusActive {
		stmt := fmt.Sprintf(internal.DeleteOrder, t.active)
		if _, err = tx.ExecContext(ctx, stmt, rec.ID); err != nil {
			return db.ArchiveError{Code: db.ErrGeneralFailure, Detail: fmt.Sprintf("delete %v: %v", rec.ID, err)}
		}
		table = t.archived
	}
	p := ord.Base()
	stmt := fmt.Sprintf(internal.UpsertOrder, table)
	_, err = tx.ExecContext(ctx, stmt, rec.ID, rec.Kind, rec.Status, p.Collection,
		int64(p.Item), p.Maker, p.Expiry, string(body), stamp)
	if err != nil {
		return db.ArchiveError{Code: db.ErrGeneralFailure, Detail: fmt.Sprintf("upsert %v: %v", rec.ID, err)}
	}
	return nil
}

// LoadState retrieves the active orders, accruals and next nonce.
func (a *Archiver) LoadState(ctx context.Context) (*db.State, error) {
	ctx, cancel := a.queryCtx(ctx)
	defer cancel()

	st := &db.State{
		Accruals: make(map[dex.Address]uint64),
	}
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(internal.SelectOrders, a.tables.active))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind order.Kind
		var body []byte
		if err = rows.Scan(&kind, &body); err != nil {
			return nil, err
		}
		ord, err := db.DecodeOrder(kind, body)
		if err != nil {
			return nil, err
		}
		db.AddToState(st, ord)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	accRows, err := a.db.QueryContext(ctx, fmt.Sprintf(internal.SelectAccruals, a.tables.accruals))
	if err != nil {
		return nil, err
	}
	defer accRows.Close()
	for accRows.Next() {
		var currency dex.Address
		var amt int64
		if err = accRows.Scan(&currency, &amt); err != nil {
			return nil, err
		}
		st.Accruals[currency] = uint64(amt)
	}
	if err = accRows.Err(); err != nil {
		return nil, err
	}

	if st.Nonce, err = loadNonce(a.db); err != nil {
		return nil, err
	}
	log.Debugf("Loaded %d listings, %d offers, %d trades, %d accruals, nonce %d",
		len(st.Listings), len(st.Offers), len(st.Trades), len(st.Accruals), st.Nonce)
	return st, nil
}

// OrderStatus retrieves the status of an order from the active or archived
// table.
func (a *Archiver) OrderStatus(ctx context.Context, oid order.OrderID) (order.OrderStatus, error) {
	ctx, cancel := a.queryCtx(ctx)
	defer cancel()
	for _, table := range []string{a.tables.active, a.tables.archived} {
		var status order.OrderStatus
		err := a.db.QueryRowContext(ctx, fmt.Sprintf(internal.SelectOrderStatus, table), oid).Scan(&status)
		switch {
		case err == nil:
			return status, nil
		case errors.Is(err, sql.ErrNoRows):
			continue
		default:
			return order.OrderStatusUnknown, err
		}
	}
	return order.OrderStatusUnknown, db.ArchiveError{Code: db.ErrUnknownOrder, Detail: oid.String()}
}
