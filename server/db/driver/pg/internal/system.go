// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package internal

// The following queries retrieve various system settings and other system
// information from the database server.
const (
	// RetrievePGVersion retrieves the version of the connected PostgreSQL
	// server.
	RetrievePGVersion = `SELECT version();`

	// RetrieveSyncCommitSetting retrieves the synchronous_commit setting.
	RetrieveSyncCommitSetting = `SELECT setting FROM pg_settings WHERE name='synchronous_commit';`

	// TableExists checks for a table in a schema.
	TableExists = `SELECT 1
		FROM   pg_tables
		WHERE  schemaname = $1
		AND    tablename = $2;`
)
