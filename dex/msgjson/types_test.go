// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package msgjson

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
)

func TestResponse(t *testing.T) {
	oid := order.OrderID{0x01, 0x02}
	msg, err := NewResponse(5, &OrderResult{OrderID: oid}, nil)
	if err != nil {
		t.Fatalf("NewResponse error: %v", err)
	}
	b := []byte(msg.String())
	msg, err = DecodeMessage(b)
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	if msg.Type != Response || msg.ID != 5 {
		t.Fatalf("wrong message %s", msg)
	}
	var res OrderResult
	if err = msg.UnmarshalResult(&res); err != nil {
		t.Fatalf("UnmarshalResult error: %v", err)
	}
	if res.OrderID != oid {
		t.Fatalf("wrong order id %s", res.OrderID)
	}

	msg, _ = NewResponse(6, nil, NewError(RPCNotFoundError, "no order %s", oid))
	err = msg.UnmarshalResult(&res)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != RPCNotFoundError {
		t.Fatalf("rpc error not returned: %v", err)
	}

	if _, err = NewResponse(0, nil, nil); err == nil {
		t.Fatalf("no error for zero id")
	}
	if _, err = NewRequest(1, "", nil); err == nil {
		t.Fatalf("no error for empty route")
	}
	req, _ := NewRequest(1, ListingRoute, &OrderQuery{OrderID: oid})
	if _, err = req.Response(); err == nil {
		t.Fatalf("no error decoding a request as a response")
	}
}

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{dex.NewError(dex.ErrValidation, "zero price"), RPCValidationError},
		{fmt.Errorf("CancelOffer: %w", dex.NewError(dex.ErrAuthorization, "x")), RPCAuthorizationError},
		{fmt.Errorf("%w: %w", dex.ErrSolvency, errors.New("payment error")), RPCSolvencyError},
		{dex.ErrPartialFillPolicy, RPCPartialFillError},
		{dex.ErrReentrant, RPCReentrantError},
		{errors.New("database is down"), RPCInternal},
	}
	for _, tt := range tests {
		rpcErr := ErrorFrom(tt.err)
		if rpcErr.Code != tt.code {
			t.Fatalf("%v: expected code %d, got %d", tt.err, tt.code, rpcErr.Code)
		}
	}
	if msg := ErrorFrom(errors.New("secret")).Message; msg != "internal error" {
		t.Fatalf("internal error leaked: %q", msg)
	}
}

func TestOpenTradeFlags(t *testing.T) {
	ot := &OpenTrade{Side: "sell", Partial: true}
	flags, err := ot.Flags()
	if err != nil || flags.Side != order.Sell || !flags.AllowPartialFills || flags.Escrowed {
		t.Fatalf("wrong flags %+v, %v", flags, err)
	}
	ot.Side = "hold"
	if _, err = ot.Flags(); err == nil {
		t.Fatalf("no error for unknown side")
	}
}

func TestStamp(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	if got := StampOf(now).Time(); !got.Equal(now) {
		t.Fatalf("stamp round trip %v != %v", got, now)
	}
}
