// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package internal

const (
	// CreateOrdersTable creates a table specified via the %s printf specifier
	// for listings, offers and trades. The body column is the JSON encoding of
	// the order. The other columns are for queries.
	CreateOrdersTable = `CREATE TABLE IF NOT EXISTS %s (
		oid BYTEA PRIMARY KEY,
		seq BIGSERIAL,
		kind INT2,
		status INT2,
		collection BYTEA,
		item INT8,
		maker BYTEA,
		expiry TIMESTAMPTZ,
		body JSONB,
		updated TIMESTAMPTZ
	);`

	// UpsertOrder inserts an order or updates its status and body.
	UpsertOrder = `INSERT INTO %s (oid, kind, status, collection, item, maker, expiry, body, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (oid) DO UPDATE
		SET status = $3, body = $8, updated = $9;`

	// DeleteOrder removes an order from the specified table.
	DeleteOrder = `DELETE FROM %s WHERE oid = $1;`

	// SelectOrders retrieves the kind and body of all orders in insertion
	// order.
	SelectOrders = `SELECT kind, body FROM %s ORDER BY seq;`

	// SelectOrderStatus retrieves the status of an order.
	SelectOrderStatus = `SELECT status FROM %s WHERE oid = $1;`
)
