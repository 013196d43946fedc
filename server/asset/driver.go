// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package asset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"decred.org/nftdex/dex"
)

var (
	driversMtx sync.Mutex
	drivers    = make(map[string]Driver)
)

// Config is the configuration passed to a ledger Driver.
type Config struct {
	// Operator is the market's account.
	Operator dex.Address
	// ConfigPath is a driver specific file, e.g. a seed state or RPC
	// connection parameters.
	ConfigPath string
	Logger     dex.Logger
}

// Driver is the interface required of all ledger backends.
type Driver interface {
	Open(ctx context.Context, cfg *Config) (Ledger, error)
}

// Register should be called by the init function of a ledger's package.
func Register(name string, driver Driver) {
	driversMtx.Lock()
	defer driversMtx.Unlock()

	if driver == nil {
		panic("asset: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("asset: Register called twice for ledger driver " + name)
	}
	drivers[name] = driver
}

// Open opens a Ledger with the named driver.
func Open(ctx context.Context, name string, cfg *Config) (Ledger, error) {
	driversMtx.Lock()
	drv, ok := drivers[name]
	driversMtx.Unlock()
	if !ok {
		return nil, fmt.Errorf("asset: unknown ledger driver %q", name)
	}
	return drv.Open(ctx, cfg)
}

// Drivers lists the names of the registered drivers.
func Drivers() []string {
	driversMtx.Lock()
	defer driversMtx.Unlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
