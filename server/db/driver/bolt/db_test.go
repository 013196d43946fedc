// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bolt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/db"
	"github.com/decred/slog"
	"github.com/google/uuid"
)

var tCurrency = dex.Address{0xee}

func TestMain(m *testing.M) {
	logger := slog.NewBackend(os.Stdout).Logger("BOLT_TEST")
	logger.SetLevel(slog.LevelTrace)
	UseLogger(logger)
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) (*BoltDB, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	bdb, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("error creating db: %v", err)
	}
	return bdb, dbPath
}

func prefix(nonce uint64, maker byte) order.Prefix {
	now := time.UnixMilli(1_700_000_000_000).UTC()
	return order.Prefix{
		Nonce:      nonce,
		Collection: dex.Address{0xc0},
		Item:       dex.ItemID(nonce),
		Maker:      dex.Address{maker},
		Expiry:     now.Add(time.Hour),
		Created:    now,
	}
}

func TestApplyLoadState(t *testing.T) {
	bdb, dbPath := newTestDB(t)
	ctx := context.Background()

	listing := &order.Listing{Prefix: prefix(1, 0x01), Price: 1000}
	offer := &order.Offer{Prefix: prefix(2, 0x02), Price: 500, Escrowed: true}
	trade := &order.Trade{
		Prefix:    prefix(3, 0x03),
		Quantity:  5,
		UnitPrice: 10,
		Flags:     order.TradeFlags{Side: order.Sell, AllowPartialFills: true},
	}

	err := bdb.Apply(ctx, &db.Batch{
		Orders: []*db.OrderRecord{
			db.NewOrderRecord(trade, order.OrderStatusActive),
			db.NewOrderRecord(listing, order.OrderStatusActive),
			db.NewOrderRecord(offer, order.OrderStatusActive),
		},
		Nonce: 3,
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	trade.FillAmt = 2
	stamp := time.Now()
	sets := []*db.Settlement{
		{ID: uuid.New(), OrderID: offer.ID(), Kind: order.OfferKind, Gross: 500, Net: 450, Dev: 50, Currency: tCurrency, Stamp: stamp},
		{ID: uuid.New(), OrderID: trade.ID(), Kind: order.TradeKind, Quantity: 2, Gross: 20, Net: 20, Stamp: stamp.Add(time.Second)},
	}
	err = bdb.Apply(ctx, &db.Batch{
		Orders: []*db.OrderRecord{
			db.NewOrderRecord(offer, order.OrderStatusFulfilled),
			db.NewOrderRecord(trade, order.OrderStatusActive),
		},
		Settlements: sets,
		Accruals:    map[dex.Address]uint64{tCurrency: 50},
		Nonce:       2, // lower nonce is ignored
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	// Reopen to make sure everything hit the file.
	if err = bdb.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	bdb, err = NewDB(dbPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer bdb.Close()

	st, err := bdb.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if len(st.Listings) != 1 || st.Listings[0].ID() != listing.ID() {
		t.Fatalf("wrong listings")
	}
	if len(st.Offers) != 0 {
		t.Fatalf("fulfilled offer restored")
	}
	if len(st.Trades) != 1 || st.Trades[0].Remaining() != 3 || st.Trades[0].ID() != trade.ID() {
		t.Fatalf("wrong trades")
	}
	if st.Accruals[tCurrency] != 50 {
		t.Fatalf("wrong accrual %d", st.Accruals[tCurrency])
	}
	if st.Nonce != 3 {
		t.Fatalf("wrong nonce %d", st.Nonce)
	}

	status, err := bdb.OrderStatus(offer.ID())
	if err != nil || status != order.OrderStatusFulfilled {
		t.Fatalf("wrong offer status %v, %v", status, err)
	}
	status, err = bdb.OrderStatus(listing.ID())
	if err != nil || status != order.OrderStatusActive {
		t.Fatalf("wrong listing status %v, %v", status, err)
	}
	if _, err = bdb.OrderStatus(order.OrderID{0x01}); !db.IsErrOrderUnknown(err) {
		t.Fatalf("expected unknown order, got %v", err)
	}

	got, err := bdb.Settlements(ctx, nil)
	if err != nil {
		t.Fatalf("Settlements error: %v", err)
	}
	if len(got) != 2 || got[0].ID != sets[1].ID {
		t.Fatalf("settlements not newest first")
	}
	got, _ = bdb.Settlements(ctx, &db.SettlementFilter{Limit: 1})
	if len(got) != 1 {
		t.Fatalf("limit not applied")
	}
	oid := offer.ID()
	got, _ = bdb.Settlements(ctx, &db.SettlementFilter{OrderID: &oid})
	if len(got) != 1 || got[0].Dev != 50 {
		t.Fatalf("order filter not applied")
	}
}

func TestApplyRollback(t *testing.T) {
	bdb, _ := newTestDB(t)
	defer bdb.Close()
	ctx := context.Background()

	listing := &order.Listing{Prefix: prefix(1, 0x01), Price: 1000}
	err := bdb.Apply(ctx, &db.Batch{
		Orders: []*db.OrderRecord{
			db.NewOrderRecord(listing, order.OrderStatusActive),
			{ID: order.OrderID{0x02}, Kind: order.OfferKind},
		},
		Nonce: 5,
	})
	if !db.IsErrInvalidOrder(err) {
		t.Fatalf("expected invalid order error, got %v", err)
	}
	st, err := bdb.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if len(st.Listings) != 0 || st.Nonce != 0 {
		t.Fatalf("failed batch was partially applied")
	}
}

func TestDriver(t *testing.T) {
	arch, err := db.Open(context.Background(), DriverName, &Config{Path: filepath.Join(t.TempDir(), "d.db")})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	arch.Close()
	if _, err = (&Driver{}).Open(context.Background(), 5); err == nil {
		t.Fatalf("no error for bad config")
	}
}
