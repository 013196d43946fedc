// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package calc

import (
	"errors"
	"math/bits"
)

// BpDenominator is the number of basis points in a whole.
const BpDenominator = 10000

// ErrOverflow is returned when a product or quotient does not fit in 64 bits.
var ErrOverflow = errors.New("integer overflow")

// Mul multiplies a and b, failing if the product overflows.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// Add adds a and b, failing if the sum overflows.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// MulDiv computes floor(a*b/d) with a 128-bit intermediate product. d must be
// non-zero. The result overflows only if it does not fit in 64 bits.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errors.New("division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// BpFloor is the floor of amt*bp/10000. It cannot overflow for bp <= 10000.
func BpFloor(amt uint64, bp uint16) uint64 {
	q, _ := MulDiv(amt, uint64(bp), BpDenominator)
	return q
}
