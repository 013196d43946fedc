// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package pg is the PostgreSQL archivist. Register it with the db package by
// importing it for its side effects.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/server/db"
)

// DriverName is the name the driver is registered under.
const DriverName = "pg"

const (
	defaultQueryTimeout = 20 * time.Minute
)

// Driver implements db.Driver.
type Driver struct{}

// Open creates the Archiver. cfg must be a *Config or Config.
func (d *Driver) Open(ctx context.Context, cfg interface{}) (db.Archivist, error) {
	switch c := cfg.(type) {
	case *Config:
		return NewArchiver(ctx, c)
	case Config:
		return NewArchiver(ctx, &c)
	default:
		return nil, fmt.Errorf("invalid config type %T", cfg)
	}
}

// UseLogger sets the package logger.
func (d *Driver) UseLogger(logger dex.Logger) {
	UseLogger(logger)
}

func init() {
	db.Register(DriverName, &Driver{})
}

// Config holds the Archiver's configuration.
type Config struct {
	Host, Port, User, Pass, DBName string
	QueryTimeout                   time.Duration
}

// Archiver must implement server/db.Archivist.
type Archiver struct {
	ctx          context.Context
	queryTimeout time.Duration
	db           *sql.DB
	dbName       string
	tables       *tables
}

var _ db.Archivist = (*Archiver)(nil)

// NewArchiver constructs a new Archiver. Use Close when done with the Archiver.
func NewArchiver(ctx context.Context, cfg *Config) (*Archiver, error) {
	// Connect to the PostgreSQL daemon and return the *sql.DB.
	pgDB, err := connect(cfg.Host, cfg.Port, cfg.User, cfg.Pass, cfg.DBName)
	if err != nil {
		return nil, err
	}

	// Put the PostgreSQL time zone in UTC.
	var initTZ string
	initTZ, err = checkCurrentTimeZone(pgDB)
	if err != nil {
		return nil, err
	}
	if initTZ != "UTC" {
		log.Infof("Switching PostgreSQL time zone to UTC for this session.")
		if _, err = pgDB.Exec(`SET TIME ZONE UTC`); err != nil {
			return nil, fmt.Errorf("Failed to set time zone to UTC: %v", err)
		}
	}

	// Display the postgres version.
	pgVersion, err := retrievePGVersion(pgDB)
	if err != nil {
		return nil, err
	}
	log.Info(pgVersion)

	if err = checkSyncCommit(pgDB); err != nil {
		return nil, err
	}

	// Ensure all tables required by the archive are ready.
	if err = PrepareTables(pgDB); err != nil {
		return nil, err
	}

	return newArchiver(ctx, pgDB, cfg), nil
}

func newArchiver(ctx context.Context, pgDB *sql.DB, cfg *Config) *Archiver {
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Archiver{
		ctx:          ctx,
		db:           pgDB,
		dbName:       cfg.DBName,
		queryTimeout: queryTimeout,
		tables:       newTables(cfg.DBName),
	}
}

// Close closes the underlying DB connection.
func (a *Archiver) Close() error {
	return a.db.Close()
}

func (a *Archiver) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = a.ctx
	}
	return context.WithTimeout(ctx, a.queryTimeout)
}
