// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/decred/slog"
)

// Every package logs through a Logger provided with UseLogger.
type Logger = slog.Logger

// Level aliases, so packages need not import slog to compare levels.
const (
	LevelTrace    = slog.LevelTrace
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelWarn     = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.LevelCritical
	LevelOff      = slog.LevelOff
)

// Disabled is a Logger that discards everything. It is the default logger of
// every package until UseLogger is called.
var Disabled Logger = slog.Disabled

// LoggerMaker allows creation of new log subsystems with predefined levels.
type LoggerMaker struct {
	*slog.Backend
	DefaultLevel slog.Level
	Levels       map[string]slog.Level
}

// NewLoggerMaker parses a debug level string and creates a LoggerMaker writing
// to w. The debug level string is either a single level, e.g. "info", or a
// comma-separated list of subsystem=level pairs with an optional leading
// default, e.g. "info,MKT=debug,DB=trace".
func NewLoggerMaker(w io.Writer, debugLevel string) (*LoggerMaker, error) {
	lm := &LoggerMaker{
		Backend:      slog.NewBackend(w),
		DefaultLevel: slog.LevelInfo,
		Levels:       make(map[string]slog.Level),
	}
	for _, field := range strings.Split(debugLevel, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if !strings.Contains(field, "=") {
			lvl, ok := slog.LevelFromString(field)
			if !ok {
				return nil, fmt.Errorf("unknown log level %q", field)
			}
			lm.DefaultLevel = lvl
			continue
		}
		parts := strings.SplitN(field, "=", 2)
		subsys, lvlStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if subsys == "" {
			return nil, fmt.Errorf("empty subsystem in %q", field)
		}
		lvl, ok := slog.LevelFromString(lvlStr)
		if !ok {
			return nil, fmt.Errorf("unknown log level %q for subsystem %s", lvlStr, subsys)
		}
		lm.Levels[subsys] = lvl
	}
	return lm, nil
}

// SubLogger creates a Logger with a subsystem name "parent[name]", using any
// known log level for the parent subsystem, defaulting to the DefaultLevel if
// the parent does not have an explicitly set level.
func (lm *LoggerMaker) SubLogger(parent, name string) Logger {
	// Use the parent logger's log level, if set.
	level, ok := lm.Levels[parent]
	if !ok {
		level = lm.DefaultLevel
	}
	logger := lm.Backend.Logger(fmt.Sprintf("%s[%s]", parent, name))
	logger.SetLevel(level)
	return logger
}

// NewLogger creates a new Logger for the subsystem with the given name. An
// explicit level for the subsystem takes precedence over the DefaultLevel.
func (lm *LoggerMaker) NewLogger(name string) Logger {
	lvl, ok := lm.Levels[name]
	if !ok {
		lvl = lm.DefaultLevel
	}
	logger := lm.Backend.Logger(name)
	logger.SetLevel(lvl)
	return logger
}

// StdOutLogger creates a Logger with the provided name and level writing to
// stdout. Useful in tests.
func StdOutLogger(name string, lvl slog.Level) Logger {
	logger := slog.NewBackend(os.Stdout).Logger(name)
	logger.SetLevel(lvl)
	return logger
}
