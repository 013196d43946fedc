// Copyright (c) 2019, The Decred developers
// See LICENSE for details.

package order

import (
	"database/sql"
	"database/sql/driver"
)

// OrderStatus indicates the state of an order. Every status other than
// OrderStatusActive is terminal, and an order with a terminal status is no
// longer in any registry.
type OrderStatus uint16

const (
	// OrderStatusUnknown is a sentinel value to be used when the status of an
	// order cannot be determined.
	OrderStatusUnknown OrderStatus = iota

	// OrderStatusActive is for orders in a registry. This includes partially
	// filled trades.
	OrderStatusActive

	// OrderStatusFulfilled is for listings that were bought and offers that
	// were accepted.
	OrderStatusFulfilled

	// OrderStatusFilled is for trades whose remaining quantity reached zero.
	OrderStatusFilled

	// OrderStatusDelisted is for listings removed by delistToken.
	OrderStatusDelisted

	// OrderStatusSuperseded is for listings replaced by a new listing for the
	// same item.
	OrderStatusSuperseded

	// OrderStatusCleared is for listings removed by an admin.
	OrderStatusCleared

	// OrderStatusCanceled is for offers and trades that were canceled,
	// including admin cancellation.
	OrderStatusCanceled
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusUnknown:    "unknown",
	OrderStatusActive:     "active",
	OrderStatusFulfilled:  "fulfilled",
	OrderStatusFilled:     "filled",
	OrderStatusDelisted:   "delisted",
	OrderStatusSuperseded: "superseded",
	OrderStatusCleared:    "cleared",
	OrderStatusCanceled:   "canceled",
}

// String implements Stringer.
func (s OrderStatus) String() string {
	name, ok := orderStatusNames[s]
	if !ok {
		panic("unknown order status!") // programmer error
	}
	return name
}

// Value implements the sql/driver.Valuer interface.
func (s OrderStatus) Value() (driver.Value, error) {
	return int64(s), nil
}

// Scan implements the sql.Scanner interface.
func (s *OrderStatus) Scan(src interface{}) error {
	v := new(sql.NullInt32)
	if err := v.Scan(src); err != nil {
		return err
	}
	*s = OrderStatus(v.Int32)
	return nil
}
