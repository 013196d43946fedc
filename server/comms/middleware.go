// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/msgjson"
	"decred.org/nftdex/dex/order"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

type contextKey int

// These are the keys for different types of values stored in a request context.
const (
	ctxThing contextKey = iota
)

// limitRate is rate-limiting middleware that checks whether a request can be
// fulfilled. This is intended for the /api HTTP endpoints.
func (s *Server) limitRate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, err := s.meterIP(dex.NewIPKey(r.RemoteAddr))
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// meterIP applies the dataEnabled flag, the global HTTP rate limiter, and the
// more restrictive IP-based rate limiter.
func (s *Server) meterIP(ip dex.IPKey) (int, error) {
	if !s.dataEnabled.Load() {
		return http.StatusServiceUnavailable, fmt.Errorf("data API is disabled")
	}
	if !s.globalLimiter.Allow() {
		return http.StatusTooManyRequests, fmt.Errorf("too many global requests")
	}
	if !s.ipLimiter(ip).Allow() {
		return http.StatusTooManyRequests, fmt.Errorf("too many requests")
	}
	return 0, nil
}

// ipLimiter gets the ipRateLimiter for the IP, creating a new one if it
// doesn't exist.
func (s *Server) ipLimiter(ip dex.IPKey) *ipRateLimiter {
	s.limiterMtx.Lock()
	defer s.limiterMtx.Unlock()
	limiter := s.ipLimiters[ip]
	if limiter != nil {
		limiter.lastHit = time.Now()
		return limiter
	}
	limiter = &ipRateLimiter{
		Limiter: rate.NewLimiter(ipMaxRatePerSec, ipMaxBurstSize),
		lastHit: time.Now(),
	}
	s.ipLimiters[ip] = limiter
	return limiter
}

// pruneLimiters removes the limiters of IPs not seen within idle.
func (s *Server) pruneLimiters(idle time.Duration) {
	s.limiterMtx.Lock()
	defer s.limiterMtx.Unlock()
	for ip, limiter := range s.ipLimiters {
		if time.Since(limiter.lastHit) > idle {
			delete(s.ipLimiters, ip)
		}
	}
}

// orderIDParser parses the {oid} URL parameter into a msgjson.OrderQuery.
func orderIDParser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oid, err := order.IDFromHex(chi.URLParam(r, "oid"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), ctxThing, &msgjson.OrderQuery{OrderID: oid})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accountParser parses the {account} URL parameter into a
// msgjson.AccountQuery.
func accountParser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := dex.ParseAddress(chi.URLParam(r, "account"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), ctxThing, &msgjson.AccountQuery{Account: acct})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
