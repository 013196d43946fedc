// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package calc

import (
	"errors"
	"math"
	"testing"
)

func TestBpFloor(t *testing.T) {
	tests := []struct {
		name string
		amt  uint64
		bp   uint16
		want uint64
	}{
		{"zero amount", 0, 250, 0},
		{"zero bp", 1e18, 0, 0},
		{"one percent", 1e18, 100, 1e16},
		{"floor", 99, 100, 0},
		{"floor 2", 12345, 333, 411},
		{"whole", 777, 10000, 777},
		{"max amount", math.MaxUint64, 10000, math.MaxUint64},
		{"max amount half", math.MaxUint64, 5000, math.MaxUint64 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BpFloor(tt.amt, tt.bp); got != tt.want {
				t.Fatalf("wrong result. expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestMulDiv(t *testing.T) {
	q, err := MulDiv(math.MaxUint64, 3, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != math.MaxUint64/4*3+2 {
		t.Fatalf("wrong quotient %d", q)
	}
	if _, err = MulDiv(math.MaxUint64, 2, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err = MulDiv(1, 1, 0); err == nil {
		t.Fatalf("no error for zero divisor")
	}
}

func TestMulAdd(t *testing.T) {
	if _, err := Mul(math.MaxUint32+1, math.MaxUint32+1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if v, err := Mul(5, 7); err != nil || v != 35 {
		t.Fatalf("wrong product %d, %v", v, err)
	}
	if _, err := Add(math.MaxUint64, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}
