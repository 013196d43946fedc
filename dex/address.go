// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies an account, a collection contract, or a currency.
type Address = common.Address

// AddressLength is the length in bytes of an Address.
const AddressLength = common.AddressLength

// ItemID identifies a single item within a collection. For fungible
// collections it identifies a balance class rather than a unique item.
type ItemID uint64

// String returns the decimal representation of the ItemID.
func (id ItemID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// NativeCurrency is the zero address. Payments in the native currency need no
// allowance from the payer.
var NativeCurrency = Address{}

// IsNative checks whether the currency is the native currency.
func IsNative(currency Address) bool {
	return currency == NativeCurrency
}

// ParseAddress parses a hex address, with or without the 0x prefix. Unlike
// common.HexToAddress, invalid input is an error.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseItemID parses a decimal item id.
func ParseItemID(s string) (ItemID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid item id %q: %w", s, err)
	}
	return ItemID(v), nil
}
