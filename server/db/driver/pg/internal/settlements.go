// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package internal

const (
	// CreateSettlementsTable creates the settlements table.
	CreateSettlementsTable = `CREATE TABLE IF NOT EXISTS %s (
		id UUID PRIMARY KEY,
		oid BYTEA,
		kind INT2,
		collection BYTEA,
		item INT8,
		qty INT8,
		seller BYTEA,
		buyer BYTEA,
		currency BYTEA,
		gross INT8,
		net INT8,
		owner_fee INT8,
		dev_fee INT8,
		holder_fee INT8,
		buyback_fee INT8,
		accrued BOOLEAN,
		stamp TIMESTAMPTZ
	);`

	InsertSettlement = `INSERT INTO %s (id, oid, kind, collection, item, qty, seller, buyer,
			currency, gross, net, owner_fee, dev_fee, holder_fee, buyback_fee, accrued, stamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16, $17);`

	settlementCols = `id, oid, kind, collection, item, qty, seller, buyer,
		currency, gross, net, owner_fee, dev_fee, holder_fee, buyback_fee, accrued, stamp`

	// SelectSettlements retrieves settlements newest first. A NULL limit
	// returns all rows.
	SelectSettlements = `SELECT ` + settlementCols + ` FROM %s
		ORDER BY stamp DESC LIMIT $1;`

	// SelectOrderSettlements retrieves the settlements of one order, newest
	// first.
	SelectOrderSettlements = `SELECT ` + settlementCols + ` FROM %s
		WHERE oid = $2
		ORDER BY stamp DESC LIMIT $1;`
)
