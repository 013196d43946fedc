// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"database/sql"
	"fmt"

	"decred.org/nftdex/server/db/driver/pg/internal"
)

const dbVersion = 1

// DBVersion retrieves the database version from the meta table.
func DBVersion(db *sql.DB) (ver uint32, err error) {
	err = db.QueryRow(internal.SelectDBVersion).Scan(&ver)
	return
}

func setDBVersion(db sqlExecutor, ver uint32) error {
	n, err := sqlExec(db, internal.SetDBVersion, ver)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("set the DB version in %d rows instead of 1", n)
	}
	return nil
}

func checkDBVersion(db *sql.DB) error {
	current, err := DBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get DB version: %w", err)
	}
	if current > dbVersion {
		return fmt.Errorf("current DB version %d is newer than highest recognized version %d",
			current, dbVersion)
	}
	if current < dbVersion {
		return fmt.Errorf("DB version %d has no upgrade path to version %d", current, dbVersion)
	}
	log.Infof("Archive ready at version %d", dbVersion)
	return nil
}

func loadNonce(db *sql.DB) (nonce uint64, err error) {
	var n int64
	if err = db.QueryRow(internal.SelectNonce).Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			err = NewDetailedError(errNoRows, "meta row missing")
		}
		return
	}
	return uint64(n), nil
}
