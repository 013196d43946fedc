// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"context"
	"database/sql"
	"fmt"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/server/db"
	"decred.org/nftdex/server/db/driver/pg/internal"
)

func storeSettlement(ctx context.Context, tx *sql.Tx, table string, s *db.Settlement) error {
	stmt := fmt.Sprintf(internal.InsertSettlement, table)
	_, err := tx.ExecContext(ctx, stmt, s.ID, s.OrderID, s.Kind, s.Collection, int64(s.Item),
		int64(s.Quantity), s.Seller, s.Buyer, s.Currency, int64(s.Gross), int64(s.Net),
		int64(s.Owner), int64(s.Dev), int64(s.Holder), int64(s.Buyback), s.Accrued, s.Stamp)
	if err != nil {
		return db.ArchiveError{Code: db.ErrGeneralFailure, Detail: fmt.Sprintf("settlement %s: %v", s.ID, err)}
	}
	return nil
}

// Settlements retrieves settlement records, newest first.
func (a *Archiver) Settlements(ctx context.Context, filter *db.SettlementFilter) ([]*db.Settlement, error) {
	ctx, cancel := a.queryCtx(ctx)
	defer cancel()

	var limit sql.NullInt64
	if filter != nil && filter.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(filter.Limit), Valid: true}
	}
	var rows *sql.Rows
	var err error
	if filter != nil && filter.OrderID != nil {
		stmt := fmt.Sprintf(internal.SelectOrderSettlements, a.tables.settlements)
		rows, err = a.db.QueryContext(ctx, stmt, limit, *filter.OrderID)
	} else {
		stmt := fmt.Sprintf(internal.SelectSettlements, a.tables.settlements)
		rows, err = a.db.QueryContext(ctx, stmt, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*db.Settlement
	for rows.Next() {
		var s db.Settlement
		var item, qty, gross, net, owner, dev, holder, buyback int64
		err = rows.Scan(&s.ID, &s.OrderID, &s.Kind, &s.Collection, &item, &qty,
			&s.Seller, &s.Buyer, &s.Currency, &gross, &net, &owner, &dev, &holder,
			&buyback, &s.Accrued, &s.Stamp)
		if err != nil {
			return nil, err
		}
		s.Item = dex.ItemID(item)
		s.Quantity, s.Gross, s.Net = uint64(qty), uint64(gross), uint64(net)
		s.Owner, s.Dev, s.Holder, s.Buyback = uint64(owner), uint64(dev), uint64(holder), uint64(buyback)
		sets = append(sets, &s)
	}
	return sets, rows.Err()
}
