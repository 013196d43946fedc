// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"context"
	"time"

	"decred.org/nftdex/dex"
)

// Verifier checks the consistency of the order registries. It is satisfied by
// *market.Market.
type Verifier interface {
	Verify(ctx context.Context) error
}

// WatchdogNotification reports a change in registry consistency.
type WatchdogNotification struct {
	Healthy bool
	Err     error
	Stamp   time.Time
}

// RegistryWatchdog periodically verifies the order registries and sends a
// notification when their consistency changes.
type RegistryWatchdog struct {
	v        Verifier
	logger   dex.Logger
	ntfnChan chan<- *WatchdogNotification
	interval time.Duration
}

// NewRegistryWatchdog initializes a new RegistryWatchdog. It returns nil if
// interval is zero.
func NewRegistryWatchdog(v Verifier, interval time.Duration, ntfnChan chan<- *WatchdogNotification, logger dex.Logger) *RegistryWatchdog {
	// if interval is not specified, there is no reason for our existence.
	if interval == 0 {
		return nil
	}
	return &RegistryWatchdog{
		v:        v,
		logger:   logger,
		ntfnChan: ntfnChan,
		interval: interval,
	}
}

// Run verifies the registries every interval until the context is canceled.
func (wd *RegistryWatchdog) Run(ctx context.Context) {
	log := wd.logger
	log.Tracef("Starting registry watchdog")

	ticker := time.NewTicker(wd.interval)
	defer ticker.Stop()

	// This flag is used to detect changes in consistency. It defaults to true
	// so as to avoid a healthy notification at startup.
	lastHealthy := true

out:
	for {
		select {
		case <-ticker.C:
			err := wd.v.Verify(ctx)
			healthy := err == nil
			if err != nil {
				log.Errorf("Registry verification failed: %v", err)
			}
			if healthy == lastHealthy {
				continue
			}
			lastHealthy = healthy
			select {
			case wd.ntfnChan <- &WatchdogNotification{Healthy: healthy, Err: err, Stamp: time.Now()}:
			case <-ctx.Done():
				break out
			}
		case <-ctx.Done():
			break out
		}
	}
	log.Tracef("Exiting registry watchdog")
}
