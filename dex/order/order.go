// Copyright (c) 2019, The Decred developers
// See LICENSE for details.

// Package order defines the Listing, Offer and Trade types used throughout
// the market.
package order

import (
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"decred.org/nftdex/dex"
	"github.com/decred/dcrd/crypto/blake256"
)

// OrderIDSize defines the length in bytes of an OrderID.
const OrderIDSize = blake256.Size // 32

// OrderID is the unique identifier for each order.
type OrderID [OrderIDSize]byte

// String returns a hexadecimal representation of the OrderID. String implements
// fmt.Stringer.
func (oid OrderID) String() string {
	return hex.EncodeToString(oid[:])
}

// IsZero checks if the OrderID is the zero value.
func (oid OrderID) IsZero() bool {
	return oid == OrderID{}
}

// MarshalText encodes the OrderID as hex, so it works as a JSON string and
// map key.
func (oid OrderID) MarshalText() ([]byte, error) {
	return []byte(oid.String()), nil
}

// UnmarshalText decodes a hex OrderID.
func (oid *OrderID) UnmarshalText(b []byte) error {
	id, err := IDFromHex(string(b))
	if err != nil {
		return err
	}
	*oid = id
	return nil
}

// Value implements the sql/driver.Valuer interface.
func (oid OrderID) Value() (driver.Value, error) {
	return oid[:], nil // []byte
}

// Scan implements the sql.Scanner interface.
func (oid *OrderID) Scan(src interface{}) error {
	switch src := src.(type) {
	case []byte:
		if len(src) != OrderIDSize {
			return fmt.Errorf("invalid OrderID length %d", len(src))
		}
		copy(oid[:], src)
		return nil
	}

	return fmt.Errorf("cannot convert %T to OrderID", src)
}

// IDFromHex decodes an OrderID from a hexadecimal string.
func IDFromHex(sid string) (OrderID, error) {
	if len(sid) != OrderIDSize*2 {
		return OrderID{}, fmt.Errorf("invalid order ID. wanted length %d but got length %d",
			OrderIDSize*2, len(sid))
	}
	var oid OrderID
	if _, err := hex.Decode(oid[:], []byte(sid)); err != nil {
		return OrderID{}, fmt.Errorf("invalid order ID %q: %w", sid, err)
	}
	return oid, nil
}

// Kind distinguishes listings, offers and trades.
type Kind uint8

// The different Kind values.
const (
	UnknownKind Kind = iota
	ListingKind
	OfferKind
	TradeKind
)

// Value implements the sql/driver.Valuer interface.
func (k Kind) Value() (driver.Value, error) {
	return int64(k), nil
}

// Scan implements the sql.Scanner interface.
func (k *Kind) Scan(src interface{}) error {
	// Use sql.(NullInt32).Scan because it uses the unexported
	// sql.convertAssignRows to coerce compatible types.
	v := new(sql.NullInt32)
	if err := v.Scan(src); err != nil {
		return err
	}
	*k = Kind(v.Int32)
	return nil
}

// String returns a string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case ListingKind:
		return "listing"
	case OfferKind:
		return "offer"
	case TradeKind:
		return "trade"
	default:
		return "unknown"
	}
}

// Side is the direction of a Trade.
type Side uint8

const (
	// Buy trades are bids for a fungible balance. The maker pays.
	Buy Side = iota
	// Sell trades offer a fungible balance. The maker delivers the asset.
	Sell
)

// String returns "buy" or "sell".
func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// TradeFlags are the settlement options of a Trade.
type TradeFlags struct {
	Side              Side `json:"side"`
	AllowPartialFills bool `json:"partial"`
	Escrowed          bool `json:"escrowed"`
}

func (f TradeFlags) byte() byte {
	b := byte(f.Side)
	if f.AllowPartialFills {
		b |= 1 << 1
	}
	if f.Escrowed {
		b |= 1 << 2
	}
	return b
}

// FlagsFromByte is the inverse of the flags byte used in serialization.
func FlagsFromByte(b byte) TradeFlags {
	return TradeFlags{
		Side:              Side(b & 1),
		AllowPartialFills: b&(1<<1) != 0,
		Escrowed:          b&(1<<2) != 0,
	}
}

// Order is satisfied by *Listing, *Offer and *Trade.
type Order interface {
	// ID computes the order's ID from its serialization.
	ID() OrderID
	// Kind is the order's Kind.
	Kind() Kind
	// Base returns the common fields of the order.
	Base() *Prefix
	// Serialize marshals the immutable fields of the order.
	Serialize() []byte
}

// Prefix is the fields common to all orders. Maker is the lister of a Listing,
// the offerer of an Offer, and the maker of a Trade.
type Prefix struct {
	// Nonce is assigned by the market from a persistent counter. Two orders
	// with otherwise identical fields have different nonces and so different
	// IDs.
	Nonce      uint64      `json:"nonce"`
	Collection dex.Address `json:"collection"`
	Item       dex.ItemID  `json:"item"`
	Maker      dex.Address `json:"maker"`
	Expiry     time.Time   `json:"expiry"`
	Created    time.Time   `json:"created"`
}

// prefixSize is kind(1) + nonce(8) + collection(20) + item(8) + maker(20) +
// expiry(8) + created(8).
const prefixSize = 1 + 8 + dex.AddressLength + 8 + dex.AddressLength + 8 + 8

func (p *Prefix) serializeTo(b []byte, kind Kind) int {
	b[0] = byte(kind)
	i := 1
	binary.BigEndian.PutUint64(b[i:], p.Nonce)
	i += 8
	i += copy(b[i:], p.Collection[:])
	binary.BigEndian.PutUint64(b[i:], uint64(p.Item))
	i += 8
	i += copy(b[i:], p.Maker[:])
	binary.BigEndian.PutUint64(b[i:], uint64(p.Expiry.UnixMilli()))
	i += 8
	binary.BigEndian.PutUint64(b[i:], uint64(p.Created.UnixMilli()))
	return i + 8
}

// Expired checks whether the order is past its expiry at time now.
func (p *Prefix) Expired(now time.Time) bool {
	return now.After(p.Expiry)
}

// Listing is an offer to sell one unique item at a fixed price.
type Listing struct {
	Prefix
	Price uint64 `json:"price"`
}

var _ Order = (*Listing)(nil)

// Lister is the account that created the listing.
func (l *Listing) Lister() dex.Address { return l.Maker }

// Kind is ListingKind.
func (l *Listing) Kind() Kind { return ListingKind }

// Base returns the Prefix.
func (l *Listing) Base() *Prefix { return &l.Prefix }

// Serialize marshals the Listing.
func (l *Listing) Serialize() []byte {
	b := make([]byte, prefixSize+8)
	i := l.Prefix.serializeTo(b, ListingKind)
	binary.BigEndian.PutUint64(b[i:], l.Price)
	return b
}

// ID computes the order ID.
func (l *Listing) ID() OrderID {
	return blake256.Sum256(l.Serialize())
}

// Offer is a bid for one unique item, optionally escrowed.
type Offer struct {
	Prefix
	Price    uint64 `json:"price"`
	Escrowed bool   `json:"escrowed"`
}

var _ Order = (*Offer)(nil)

// Offerer is the account that made the offer.
func (o *Offer) Offerer() dex.Address { return o.Maker }

// Kind is OfferKind.
func (o *Offer) Kind() Kind { return OfferKind }

// Base returns the Prefix.
func (o *Offer) Base() *Prefix { return &o.Prefix }

// Serialize marshals the Offer.
func (o *Offer) Serialize() []byte {
	b := make([]byte, prefixSize+8+1)
	i := o.Prefix.serializeTo(b, OfferKind)
	binary.BigEndian.PutUint64(b[i:], o.Price)
	if o.Escrowed {
		b[i+8] = 1
	}
	return b
}

// ID computes the order ID.
func (o *Offer) ID() OrderID {
	return blake256.Sum256(o.Serialize())
}

// Trade is a quantity-bearing buy or sell order for a fungible balance.
// Quantity is the amount at creation and is part of the ID. FillAmt grows
// with each fill.
type Trade struct {
	Prefix
	Quantity  uint64     `json:"qty"`
	UnitPrice uint64     `json:"rate"`
	Flags     TradeFlags `json:"flags"`
	FillAmt   uint64     `json:"filled"`
}

var _ Order = (*Trade)(nil)

// Kind is TradeKind.
func (t *Trade) Kind() Kind { return TradeKind }

// Base returns the Prefix.
func (t *Trade) Base() *Prefix { return &t.Prefix }

// Remaining is the unfilled quantity.
func (t *Trade) Remaining() uint64 {
	return t.Quantity - t.FillAmt
}

// Serialize marshals the Trade. The fill amount is not included.
func (t *Trade) Serialize() []byte {
	b := make([]byte, prefixSize+8+8+1)
	i := t.Prefix.serializeTo(b, TradeKind)
	binary.BigEndian.PutUint64(b[i:], t.Quantity)
	binary.BigEndian.PutUint64(b[i+8:], t.UnitPrice)
	b[i+16] = t.Flags.byte()
	return b
}

// ID computes the order ID.
func (t *Trade) ID() OrderID {
	return blake256.Sum256(t.Serialize())
}
