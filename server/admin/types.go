// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package admin

import (
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/db"
)

// APITime marshals and unmarshals a time value in time.RFC3339Nano format.
type APITime struct {
	time.Time
}

// RFC3339Milli is the RFC3339 time formatting with millisecond precision.
const RFC3339Milli = "2006-01-02T15:04:05.999Z07:00"

// MarshalJSON marshals APITime to a JSON string in RFC3339 format except with
// millisecond precision.
func (at APITime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + at.Time.Format(RFC3339Milli) + `"`), nil
}

// UnmarshalJSON unmarshals JSON string containing a time in RFC3339 format with
// millisecond precision into an APITime.
func (at *APITime) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return nil
	}
	t, err := time.Parse(RFC3339Milli, string(b[1:len(b)-1]))
	if err != nil {
		return err
	}
	at.Time = t
	return nil
}

// CollectionResult describes a collection after a configuration change.
type CollectionResult struct {
	Collection dex.Address `json:"collection"`
	Enabled    bool        `json:"enabled"`
	Owner      dex.Address `json:"owner"`
	OwnerFee   string      `json:"ownerFeePercent"`
}

// SwitchResult is the new state of a fee switch.
type SwitchResult struct {
	Setting string `json:"setting"`
	On      bool   `json:"on"`
}

// AccruedResult is the accrued admin fee pool of a currency. Amount is Atoms
// in decimal units.
type AccruedResult struct {
	Currency dex.Address `json:"currency"`
	Atoms    uint64      `json:"atoms"`
	Amount   string      `json:"amount"`
}

// OrderResult is the result of an admin order action.
type OrderResult struct {
	OrderID  order.OrderID `json:"orderID"`
	Action   string        `json:"action"`
	Refunded bool          `json:"refunded,omitempty"`
}

// SettlementResult is an archived settlement with the gross amount in decimal
// units.
type SettlementResult struct {
	*db.Settlement
	Amount string  `json:"amount"`
	Stamp  APITime `json:"stamp"`
}
