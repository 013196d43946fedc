// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/server/fees"
)

// FeeProcessor distributes accrued admin fees. It is satisfied by
// *market.Market.
type FeeProcessor interface {
	AllAccrued(ctx context.Context) (map[dex.Address]uint64, error)
	ProcessAccruedFees(ctx context.Context, caller, currency dex.Address) (*fees.Distribution, error)
}

// FeeSweeper periodically distributes the accrued admin fees of every
// currency.
type FeeSweeper struct {
	proc     FeeProcessor
	caller   dex.Address
	interval time.Duration
	// distributed is the total pool of all distributions.
	distributed atomic.Uint64
	sweeps      atomic.Uint64
}

// NewFeeSweeper is the constructor for a FeeSweeper. The caller must be an
// admin.
func NewFeeSweeper(proc FeeProcessor, caller dex.Address, interval time.Duration) *FeeSweeper {
	return &FeeSweeper{
		proc:     proc,
		caller:   caller,
		interval: interval,
	}
}

// Run sweeps every interval until the context is canceled.
func (s *FeeSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Errorf("Fee sweep error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep distributes the accruals of each currency with a non-zero accrual, in
// address order. A failed currency does not stop the others.
func (s *FeeSweeper) Sweep(ctx context.Context) ([]*fees.Distribution, error) {
	accrued, err := s.proc.AllAccrued(ctx)
	if err != nil {
		return nil, err
	}
	currencies := make([]dex.Address, 0, len(accrued))
	for currency, amt := range accrued {
		if amt > 0 {
			currencies = append(currencies, currency)
		}
	}
	sort.Slice(currencies, func(i, j int) bool {
		return bytes.Compare(currencies[i][:], currencies[j][:]) < 0
	})

	var dists []*fees.Distribution
	var errs []error
	for _, currency := range currencies {
		d, err := s.proc.ProcessAccruedFees(ctx, s.caller, currency)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", currency, err))
			continue
		}
		s.distributed.Add(d.Pool)
		dists = append(dists, d)
	}
	s.sweeps.Add(1)
	if len(dists) > 0 {
		log.Debugf("Fee sweep distributed accruals of %d currencies", len(dists))
	}
	return dists, errors.Join(errs...)
}

// Distributed is the total of all swept accruals.
func (s *FeeSweeper) Distributed() uint64 {
	return s.distributed.Load()
}
