// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/server/asset/sim"
	"decred.org/nftdex/server/db/driver/bolt"
	"decred.org/nftdex/server/fees"
)

const oneEth = 1e18

var (
	tEscrow = dex.Address{0xee}
	tColl   = dex.Address{0xc0}
	tSeller = dex.Address{0xa1}
	tBuyer  = dex.Address{0xb0}
	tAdmin  = dex.Address{0xad}
	tDev    = dex.Address{0xd0}
)

func writeJSON(t *testing.T, path string, thing interface{}) {
	t.Helper()
	b, err := json.Marshal(thing)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if err = os.WriteFile(path, b, 0600); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func tConf(t *testing.T, dir string) *DexConf {
	t.Helper()
	seedPath := filepath.Join(dir, "seed.json")
	if _, err := os.Stat(seedPath); err != nil {
		writeJSON(t, seedPath, map[string]interface{}{
			"holdings":  []interface{}{map[string]interface{}{"collection": tColl.Hex(), "item": 1, "holder": tSeller.Hex(), "qty": 1}},
			"approvals": []interface{}{map[string]interface{}{"collection": tColl.Hex(), "holder": tSeller.Hex()}},
			"balances":  []interface{}{map[string]interface{}{"currency": "native", "holder": tBuyer.Hex(), "amount": uint64(10 * oneEth)}},
		})
	}
	collPath := filepath.Join(dir, "collections.json")
	writeJSON(t, collPath, map[string]interface{}{
		"feesEnabled": true,
		"autoForward": false,
		"devFee":      "1",
		"devAddress":  tDev.Hex(),
		"collections": []interface{}{map[string]interface{}{"address": tColl.Hex(), "enabled": true}},
	})
	return &DexConf{
		Escrow:          tEscrow,
		Ledger:          &LedgerConf{Driver: sim.DriverName, ConfigPath: seedPath},
		DB:              &DBConf{Driver: bolt.DriverName, Path: filepath.Join(dir, "nftdex.db")},
		CollectionsFile: collPath,
		AdminAccount:    tAdmin,
	}
}

func TestDEX(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	dm, err := NewDEX(ctx, tConf(t, dir))
	if err != nil {
		t.Fatalf("NewDEX error: %v", err)
	}

	mkt := dm.Market()
	id, err := mkt.CreateListing(ctx, tSeller, tColl, 1, oneEth, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateListing error: %v", err)
	}
	if err = mkt.FulfillListing(ctx, tBuyer, id, tBuyer, oneEth); err != nil {
		t.Fatalf("FulfillListing error: %v", err)
	}
	const accrued = oneEth / 100
	if got, _ := dm.Accrued(ctx, dex.NativeCurrency); got != accrued {
		t.Fatalf("wrong accrual %d", got)
	}
	setts, err := dm.Settlements(ctx, 10)
	if err != nil {
		t.Fatalf("Settlements error: %v", err)
	}
	if len(setts) != 1 || setts[0].OrderID != id || !setts[0].Accrued {
		t.Fatalf("wrong settlements %+v", setts)
	}

	var cfg configResult
	if err = json.Unmarshal(dm.ConfigMsg(), &cfg); err != nil {
		t.Fatalf("bad config message: %v", err)
	}
	if cfg.Escrow != tEscrow || !cfg.Archive || cfg.AdminAccount != tAdmin || len(cfg.Collections.Collections) != 1 {
		t.Fatalf("wrong config %+v", cfg)
	}

	if err = dm.SetCollection(tColl, false, tSeller, 250); err != nil {
		t.Fatalf("SetCollection error: %v", err)
	}
	if _, err = mkt.CreateListing(ctx, tSeller, tColl, 1, oneEth, time.Now().Add(time.Hour)); err == nil {
		t.Fatalf("listed in a disabled collection")
	}

	dist, err := dm.ProcessAccruedFees(ctx, dex.NativeCurrency)
	if err != nil {
		t.Fatalf("ProcessAccruedFees error: %v", err)
	}
	if dist.Pool != accrued || dist.Dev != accrued {
		t.Fatalf("wrong distribution %+v", dist)
	}
	if h := dm.Health(ctx); !h.Healthy {
		t.Fatalf("unhealthy: %s", h.Error)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err = dm.Run(runCtx); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	// The archive restores the accruals. The collections file is reloaded.
	dm, err = NewDEX(ctx, tConf(t, dir))
	if err != nil {
		t.Fatalf("NewDEX restore error: %v", err)
	}
	defer dm.storage.Close()
	if got, _ := dm.Accrued(ctx, dex.NativeCurrency); got != 0 {
		t.Fatalf("accrual not restored, got %d", got)
	}
	if setts, _ = dm.Settlements(ctx, 0); len(setts) != 1 {
		t.Fatalf("settlements not persisted")
	}
}

func TestNewDEXErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := tConf(t, dir)
	cfg.Ledger = nil
	if _, err := NewDEX(ctx, cfg); err == nil {
		t.Fatalf("no error without a ledger")
	}

	cfg = tConf(t, dir)
	cfg.DB.Driver = "mongo"
	if _, err := NewDEX(ctx, cfg); err == nil {
		t.Fatalf("no error for unknown db driver")
	}

	cfg = tConf(t, dir)
	cfg.DB = nil
	cfg.AdminAccount = dex.Address{}
	cfg.FeeSweepInterval = time.Minute
	if _, err := NewDEX(ctx, cfg); err == nil {
		t.Fatalf("no error for a sweeper without an admin account")
	}
}

type tProcessor struct {
	mtx       sync.Mutex
	accrued   map[dex.Address]uint64
	failOn    dex.Address
	processed []dex.Address
}

func (p *tProcessor) AllAccrued(context.Context) (map[dex.Address]uint64, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	m := make(map[dex.Address]uint64, len(p.accrued))
	for k, v := range p.accrued {
		m[k] = v
	}
	return m, nil
}

func (p *tProcessor) ProcessAccruedFees(_ context.Context, _, currency dex.Address) (*fees.Distribution, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.processed = append(p.processed, currency)
	if currency == p.failOn {
		return nil, errors.New("transfer failed")
	}
	pool := p.accrued[currency]
	p.accrued[currency] = 0
	return &fees.Distribution{Currency: currency, Pool: pool, Dev: pool}, nil
}

func TestFeeSweeper(t *testing.T) {
	tokenA, tokenB, tokenC := dex.Address{0x01}, dex.Address{0x02}, dex.Address{0x03}
	proc := &tProcessor{
		accrued: map[dex.Address]uint64{tokenC: 30, tokenA: 10, tokenB: 0, dex.NativeCurrency: 5},
		failOn:  tokenC,
	}
	s := NewFeeSweeper(proc, tAdmin, time.Minute)
	dists, err := s.Sweep(context.Background())
	if err == nil {
		t.Fatalf("no error for failed currency")
	}
	if len(dists) != 2 || s.Distributed() != 15 {
		t.Fatalf("wrong distributions %d, total %d", len(dists), s.Distributed())
	}
	want := []dex.Address{dex.NativeCurrency, tokenA, tokenC}
	if len(proc.processed) != len(want) {
		t.Fatalf("processed %v", proc.processed)
	}
	for i, c := range want {
		if proc.processed[i] != c {
			t.Fatalf("wrong order %v", proc.processed)
		}
	}

	proc.failOn = dex.Address{}
	if _, err = s.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep error: %v", err)
	}
	if s.Distributed() != 45 {
		t.Fatalf("wrong total %d", s.Distributed())
	}
}

type tVerifier struct {
	mtx sync.Mutex
	err error
}

func (v *tVerifier) Verify(context.Context) error {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return v.err
}

func (v *tVerifier) set(err error) {
	v.mtx.Lock()
	v.err = err
	v.mtx.Unlock()
}

func TestRegistryWatchdog(t *testing.T) {
	if NewRegistryWatchdog(new(tVerifier), 0, nil, dex.Disabled) != nil {
		t.Fatalf("watchdog created without an interval")
	}
	v := new(tVerifier)
	ntfns := make(chan *WatchdogNotification, 1)
	wd := NewRegistryWatchdog(v, 5*time.Millisecond, ntfns, dex.Disabled)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		wd.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	next := func() *WatchdogNotification {
		t.Helper()
		select {
		case n := <-ntfns:
			return n
		case <-time.After(2 * time.Second):
			t.Fatalf("no notification")
		}
		return nil
	}

	v.set(errors.New("index mismatch"))
	if n := next(); n.Healthy || n.Err == nil {
		t.Fatalf("wrong notification %+v", n)
	}
	v.set(nil)
	if n := next(); !n.Healthy {
		t.Fatalf("wrong notification %+v", n)
	}
}
