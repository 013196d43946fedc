// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/ws"
	"decred.org/nftdex/server/admin"
	"decred.org/nftdex/server/auth"
	"decred.org/nftdex/server/collections"
	"decred.org/nftdex/server/comms"
	"decred.org/nftdex/server/db"
	dexsrv "decred.org/nftdex/server/dex"
	"decred.org/nftdex/server/feed"
	"decred.org/nftdex/server/market"
	"decred.org/nftdex/server/settle"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

// Write writes the data in p to standard out and the log rotator.
func (logWriter) Write(p []byte) (n int, err error) {
	if logRotator == nil {
		return os.Stdout.Write(p)
	}
	os.Stdout.Write(p)
	return logRotator.Write(p) // not safe concurrent writes, so only one logWriter{} allowed!
}

// Loggers per subsystem. When adding new subsystems, define it in the
// subsystemLoggers map.
//
// Loggers should not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by calling
// initLogRotator.
var (
	// logRotator is one of the logging outputs. Use initLogRotator to set it.
	// It should be closed on application shutdown.
	logRotator *rotator.Rotator

	// package main's Logger.
	log = dex.Disabled

	// subsystemLoggers maps each subsystem identifier to the function that
	// sets its package logger.
	subsystemLoggers = map[string]func(dex.Logger){
		"MAIN": func(l dex.Logger) { log = l },
		"DEX":  dexsrv.UseLogger,
		"DB":   db.UseLogger,
		"COMM": comms.UseLogger,
		"WS":   ws.UseLogger,
		"AUTH": auth.UseLogger,
		"MKT":  market.UseLogger,
		"STL":  settle.UseLogger,
		"COLL": collections.UseLogger,
		"FEED": feed.UseLogger,
		"ADMN": admin.UseLogger,

		// The ledger gets its logger from the DEX's LoggerMaker. This is here
		// to register the ASSET subsystem ID, allowing the user to set the
		// log level for the ledger.
		"ASSET": func(dex.Logger) {},
		"WDOG":  func(dex.Logger) {},
	}
)

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string, maxRolls int) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	logRotator, err = rotator.New(logFile, 32*1024, false, maxRolls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}
}

// setLoggers creates a logger for each subsystem from the LoggerMaker.
func setLoggers(lm *dex.LoggerMaker) {
	for subsysID, useLogger := range subsystemLoggers {
		useLogger(lm.NewLogger(subsysID))
	}
}
