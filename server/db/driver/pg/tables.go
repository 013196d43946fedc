// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"database/sql"
	"fmt"

	"decred.org/nftdex/server/db/driver/pg/internal"
)

const (
	metaTableName           = "meta"
	ordersActiveTableName   = "orders_active"
	ordersArchivedTableName = "orders_archived"
	settlementsTableName    = "settlements"
	accrualsTableName       = "accruals"
)

type tableStmt struct {
	name string
	stmt string
}

var createPublicTableStatements = []tableStmt{
	{metaTableName, internal.CreateMetaTable},
	{ordersActiveTableName, internal.CreateOrdersTable},
	{ordersArchivedTableName, internal.CreateOrdersTable},
	{settlementsTableName, internal.CreateSettlementsTable},
	{accrualsTableName, internal.CreateAccrualsTable},
}

var tableMap = func() map[string]string {
	m := make(map[string]string, len(createPublicTableStatements))
	for _, pair := range createPublicTableStatements {
		m[pair.name] = pair.stmt
	}
	return m
}()

// CreateTable creates one of the known tables by name. The table will be
// created in the specified schema (schema.tableName). If schema is empty,
// "public" is used.
func CreateTable(db *sql.DB, schema, tableName string) (bool, error) {
	createCommand, tableNameFound := tableMap[tableName]
	if !tableNameFound {
		return false, fmt.Errorf("table name %s unknown", tableName)
	}

	if schema == "" {
		schema = publicSchema
	}
	return createTable(db, createCommand, schema, tableName)
}

// PrepareTables ensures that all tables required by the archive are ready. A
// newly created meta table gets its single row at the current schema version.
func PrepareTables(db *sql.DB) error {
	for _, ts := range createPublicTableStatements {
		created, err := CreateTable(db, publicSchema, ts.name)
		if err != nil {
			return fmt.Errorf("failed to create %s table: %w", ts.name, err)
		}
		if !created || ts.name != metaTableName {
			continue
		}
		if _, err = db.Exec(internal.CreateMetaRow); err != nil {
			return fmt.Errorf("failed to create row for meta table: %w", err)
		}
		if err = setDBVersion(db, dbVersion); err != nil {
			return fmt.Errorf("failed to set DB version: %w", err)
		}
	}
	return checkDBVersion(db)
}

// tables are the full names of the archive tables.
type tables struct {
	active      string
	archived    string
	settlements string
	accruals    string
}

func newTables(dbName string) *tables {
	return &tables{
		active:      fullTableName(dbName, publicSchema, ordersActiveTableName),
		archived:    fullTableName(dbName, publicSchema, ordersArchivedTableName),
		settlements: fullTableName(dbName, publicSchema, settlementsTableName),
		accruals:    fullTableName(dbName, publicSchema, accrualsTableName),
	}
}
