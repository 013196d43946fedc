// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package internal

const (
	// CreateAccrualsTable creates the table of accrued admin fees, one row per
	// currency.
	CreateAccrualsTable = `CREATE TABLE IF NOT EXISTS %s (
		currency BYTEA PRIMARY KEY,
		amount INT8
	);`

	UpsertAccrual = `INSERT INTO %s (currency, amount) VALUES ($1, $2)
		ON CONFLICT (currency) DO UPDATE SET amount = $2;`

	SelectAccruals = `SELECT currency, amount FROM %s;`
)
