// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/collections"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	pongStr = "pong"

	// defaultSettlements is the number of settlements returned when the
	// limit is not specified.
	defaultSettlements = 100
	// currencyDecimals is the display precision of native and payment token
	// amounts.
	currencyDecimals = 18
)

// writeJSON marshals the provided interface and writes the bytes to the
// ResponseWriter. The response code is assumed to be StatusOK.
func writeJSON(w http.ResponseWriter, thing interface{}) {
	writeJSONWithStatus(w, thing, http.StatusOK)
}

// writeJSON marshals the provided interface and writes the bytes to the
// ResponseWriter with the specified response code.
func writeJSONWithStatus(w http.ResponseWriter, thing interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(thing); err != nil {
		log.Errorf("JSON encode error: %v", err)
	}
}

// writeError writes the error with a status code derived from its kind.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, dex.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, dex.ErrValidation), errors.Is(err, dex.ErrNotActive),
		errors.Is(err, dex.ErrExpired), errors.Is(err, dex.ErrSolvency):
		code = http.StatusBadRequest
	case errors.Is(err, dex.ErrAuthorization):
		code = http.StatusForbidden
	}
	http.Error(w, err.Error(), code)
}

// parseOnOff parses the on/off url parameter.
func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// parseCurrency parses a currency address. "native" is the native currency.
func parseCurrency(s string) (dex.Address, error) {
	if strings.EqualFold(s, "native") {
		return dex.NativeCurrency, nil
	}
	return dex.ParseAddress(s)
}

// formatAmount formats an amount in atoms as a decimal currency amount.
func formatAmount(atoms uint64) string {
	return decimal.NewFromUint64(atoms).Shift(-currencyDecimals).String()
}

// apiPing is the handler for the '/ping' API request.
func apiPing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, pongStr)
}

// apiConfig is the handler for the '/config' API request.
func (s *Server) apiConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.core.ConfigMsg())
}

// apiHealth is the handler for the '/health' API request.
func (s *Server) apiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.core.Health(r.Context()))
}

// apiSetCollection is the handler for the '/collections/{addr}' API request.
// The query parameters enabled, owner and fee (percent) are all optional. The
// owner and fee replace the current ones, so omitting both clears the owner.
func (s *Server) apiSetCollection(w http.ResponseWriter, r *http.Request) {
	coll, err := dex.ParseAddress(chi.URLParam(r, addrKey))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid collection address: %v", err), http.StatusBadRequest)
		return
	}
	enabled := true
	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		if enabled, err = parseOnOff(enabledStr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	var owner dex.Address
	if ownerStr := r.URL.Query().Get("owner"); ownerStr != "" {
		if owner, err = dex.ParseAddress(ownerStr); err != nil {
			http.Error(w, fmt.Sprintf("invalid owner address: %v", err), http.StatusBadRequest)
			return
		}
	}
	var feeBp uint16
	if feeStr := r.URL.Query().Get("fee"); feeStr != "" {
		if feeBp, err = collections.PercentToBp(feeStr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err = s.core.SetCollection(coll, enabled, owner, feeBp); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &CollectionResult{
		Collection: coll,
		Enabled:    enabled,
		Owner:      owner,
		OwnerFee:   collections.BpToPercent(feeBp),
	})
}

// apiFeesEnabled is the handler for the '/fees/enabled/{onoff}' API request.
func (s *Server) apiFeesEnabled(w http.ResponseWriter, r *http.Request) {
	on, err := parseOnOff(chi.URLParam(r, onOffKey))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.core.SetFeesEnabled(on)
	writeJSON(w, &SwitchResult{Setting: "feesEnabled", On: on})
}

// apiAutoForward is the handler for the '/fees/autoforward/{onoff}' API
// request.
func (s *Server) apiAutoForward(w http.ResponseWriter, r *http.Request) {
	on, err := parseOnOff(chi.URLParam(r, onOffKey))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.core.SetAutoForward(on)
	writeJSON(w, &SwitchResult{Setting: "autoForward", On: on})
}

// apiProcessFees is the handler for the '/fees/process/{currency}' API
// request.
func (s *Server) apiProcessFees(w http.ResponseWriter, r *http.Request) {
	currency, err := parseCurrency(chi.URLParam(r, currencyKey))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid currency: %v", err), http.StatusBadRequest)
		return
	}
	dist, err := s.core.ProcessAccruedFees(r.Context(), currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, dist)
}

// apiAccrued is the handler for the '/fees/accrued/{currency}' API request.
func (s *Server) apiAccrued(w http.ResponseWriter, r *http.Request) {
	currency, err := parseCurrency(chi.URLParam(r, currencyKey))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid currency: %v", err), http.StatusBadRequest)
		return
	}
	atoms, err := s.core.Accrued(r.Context(), currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &AccruedResult{
		Currency: currency,
		Atoms:    atoms,
		Amount:   formatAmount(atoms),
	})
}

// apiClearListing is the handler for the '/listing/{oid}/clear' API request.
func (s *Server) apiClearListing(w http.ResponseWriter, r *http.Request) {
	oid, err := order.IDFromHex(chi.URLParam(r, orderIDKey))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid order ID: %v", err), http.StatusBadRequest)
		return
	}
	if err = s.core.ClearListing(r.Context(), oid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &OrderResult{OrderID: oid, Action: "cleared"})
}

// apiCancelOffer is the handler for the '/offer/{oid}/cancel' API request.
// The offerer is refunded unless refund=false.
func (s *Server) apiCancelOffer(w http.ResponseWriter, r *http.Request) {
	oid, err := order.IDFromHex(chi.URLParam(r, orderIDKey))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid order ID: %v", err), http.StatusBadRequest)
		return
	}
	refund := true
	if refundStr := r.URL.Query().Get("refund"); refundStr != "" {
		if refund, err = strconv.ParseBool(refundStr); err != nil {
			http.Error(w, fmt.Sprintf("invalid refund flag: %v", err), http.StatusBadRequest)
			return
		}
	}
	if err = s.core.CancelOffer(r.Context(), oid, refund); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &OrderResult{OrderID: oid, Action: "canceled", Refunded: refund})
}

// apiSettlements is the handler for the '/settlements' API request.
func (s *Server) apiSettlements(w http.ResponseWriter, r *http.Request) {
	limit := defaultSettlements
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		if limit, err = strconv.Atoi(limitStr); err != nil || limit < 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", limitStr), http.StatusBadRequest)
			return
		}
	}
	setts, err := s.core.Settlements(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	res := make([]*SettlementResult, 0, len(setts))
	for _, st := range setts {
		res = append(res, &SettlementResult{
			Settlement: st,
			Amount:     formatAmount(st.Gross),
			Stamp:      APITime{st.Stamp},
		})
	}
	writeJSON(w, res)
}
