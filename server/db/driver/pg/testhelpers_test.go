// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"math/rand"
	"os"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/db"
	"github.com/decred/slog"
	"github.com/google/uuid"
)

func startLogger() {
	logger := slog.NewBackend(os.Stdout).Logger("PG_DB_TEST")
	logger.SetLevel(slog.LevelDebug)
	UseLogger(logger)
}

var (
	tCollection = dex.Address{0xc0}
	tCurrency   = dex.Address{0xee}
	tNonce      uint64
)

func randomAddress() (addr dex.Address) {
	rand.Read(addr[:])
	return
}

func newPrefix() order.Prefix {
	tNonce++
	now := time.Now().Truncate(time.Millisecond).UTC()
	return order.Prefix{
		Nonce:      tNonce,
		Collection: tCollection,
		Item:       dex.ItemID(rand.Uint32()),
		Maker:      randomAddress(),
		Expiry:     now.Add(time.Hour),
		Created:    now,
	}
}

func newListing(price uint64) *order.Listing {
	return &order.Listing{Prefix: newPrefix(), Price: price}
}

func newOffer(price uint64, escrowed bool) *order.Offer {
	return &order.Offer{Prefix: newPrefix(), Price: price, Escrowed: escrowed}
}

func newTrade(qty, rate uint64, side order.Side) *order.Trade {
	return &order.Trade{
		Prefix:    newPrefix(),
		Quantity:  qty,
		UnitPrice: rate,
		Flags:     order.TradeFlags{Side: side, AllowPartialFills: true},
	}
}

func newSettlement(ord order.Order, gross uint64) *db.Settlement {
	p := ord.Base()
	return &db.Settlement{
		ID:         uuid.New(),
		OrderID:    ord.ID(),
		Kind:       ord.Kind(),
		Collection: p.Collection,
		Item:       p.Item,
		Quantity:   1,
		Seller:     p.Maker,
		Buyer:      randomAddress(),
		Currency:   tCurrency,
		Gross:      gross,
		Net:        gross * 9 / 10,
		Dev:        gross / 10,
		Stamp:      time.Now().Truncate(time.Microsecond).UTC(),
	}
}
