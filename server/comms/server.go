// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package comms is the websocket RPC server of the market. Clients submit
// order actions and queries as msgjson requests, and receive committed order
// events as notifications.
package comms

import (
	"context"
	"crypto/elliptic"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/msgjson"
	"decred.org/nftdex/dex/ws"
	"decred.org/nftdex/server/market"
	"github.com/decred/dcrd/certgen"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

const (
	// rpcTimeoutSeconds is the number of seconds an HTTP request may take.
	rpcTimeoutSeconds = 10

	// rpcMaxClients is the maximum number of active websocket connections
	// allowed.
	rpcMaxClients = 10000

	// banishTime is the default duration of a client quarantine.
	banishTime = time.Hour

	// Per-ip rate limits for HTTP routes.
	ipMaxRatePerSec = 1
	ipMaxBurstSize  = 5

	// noteQueueSize is the number of order events that may wait for
	// broadcast.
	noteQueueSize = 1024
)

var (
	// Time allowed to read the next pong message from the peer. This is the
	// websocket read timeout set by the pong handler. It is a var for testing.
	pongWait = 20 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10 // i.e. 18 sec
)

// ipRateLimiter is used to track an IPs HTTP request rate.
type ipRateLimiter struct {
	*rate.Limiter
	lastHit time.Time
}

// RPCConfig is the server configuration settings and the only argument to the
// server's constructor.
type RPCConfig struct {
	// ListenAddrs are the addresses on which the server will listen.
	ListenAddrs []string
	// NoTLS serves plain HTTP, e.g. behind a TLS terminating proxy.
	NoTLS bool
	// The location of the TLS keypair files. If they are not already at the
	// specified location, a keypair with a self-signed certificate will be
	// generated and saved to these locations.
	RPCKey  string
	RPCCert string
	// AltDNSNames specifies allowable request addresses for an auto-generated
	// TLS keypair.
	AltDNSNames []string
	// DisableDataAPI will disable all traffic to the HTTP data API routes.
	DisableDataAPI bool
}

// Server is the communications hub. It supports websocket clients and an
// HTTP data API. Server is a market.Publisher.
type Server struct {
	mkt    Market
	routes map[string]MsgHandler
	// One listener for each address specified at (RPCConfig).ListenAddrs.
	listeners []net.Listener
	// Protect the client map, which maps the (link).id to the client itself.
	clientMtx sync.RWMutex
	clients   map[uint64]*wsLink
	// A counter for generating unique client IDs, protected by the clientMtx.
	counter uint64
	// The quarantine map maps IP addresses to a time in which the quarantine
	// will be lifted.
	banMtx      sync.RWMutex
	quarantine  map[dex.IPKey]time.Time
	dataEnabled atomic.Bool

	globalLimiter *rate.Limiter
	limiterMtx    sync.Mutex
	ipLimiters    map[dex.IPKey]*ipRateLimiter

	notes   chan *market.Event
	dropped atomic.Uint64
}

var _ market.Publisher = (*Server)(nil)

// NewServer is the constructor for a Server. The Server handles a map of
// clients, each with 3 goroutines for communications. Unless NoTLS is set,
// the server is TLS-only and will generate a key pair with a self-signed
// certificate if one is not found. The Market is the handler of all order
// routes.
func NewServer(cfg *RPCConfig, mkt Market) (*Server, error) {
	if mkt == nil {
		return nil, errors.New("no market")
	}
	var tlsConfig *tls.Config
	if !cfg.NoTLS {
		// Find or create the key pair.
		keyExists := fileExists(cfg.RPCKey)
		certExists := fileExists(cfg.RPCCert)
		if certExists == !keyExists {
			return nil, fmt.Errorf("missing cert pair file")
		}
		if !keyExists && !certExists {
			err := genCertPair(cfg.RPCCert, cfg.RPCKey, cfg.AltDNSNames)
			if err != nil {
				return nil, err
			}
		}
		keypair, err := tls.LoadX509KeyPair(cfg.RPCCert, cfg.RPCKey)
		if err != nil {
			return nil, err
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{keypair},
			MinVersion:   tls.VersionTLS12,
		}
	}

	// Parse the specified listen addresses and create the []net.Listener.
	ipv4ListenAddrs, ipv6ListenAddrs, _, err := parseListeners(cfg.ListenAddrs)
	if err != nil {
		return nil, err
	}
	listen := func(network, addr string) (net.Listener, error) {
		if tlsConfig == nil {
			return net.Listen(network, addr)
		}
		return tls.Listen(network, addr, tlsConfig)
	}
	listeners := make([]net.Listener, 0, len(ipv6ListenAddrs)+len(ipv4ListenAddrs))
	closeAll := func() {
		for _, l := range listeners {
			l.Close()
		}
	}
	for _, addr := range ipv4ListenAddrs {
		listener, err := listen("tcp4", addr)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("can't listen on %s: %w", addr, err)
		}
		listeners = append(listeners, listener)
	}
	for _, addr := range ipv6ListenAddrs {
		listener, err := listen("tcp6", addr)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("can't listen on %s: %w", addr, err)
		}
		listeners = append(listeners, listener)
	}
	if len(listeners) == 0 {
		return nil, fmt.Errorf("RPCS: No valid listen address")
	}

	s := newServer(mkt)
	s.listeners = listeners
	s.dataEnabled.Store(!cfg.DisableDataAPI)
	return s, nil
}

// newServer creates a Server without listeners.
func newServer(mkt Market) *Server {
	s := &Server{
		mkt:           mkt,
		clients:       make(map[uint64]*wsLink),
		quarantine:    make(map[dex.IPKey]time.Time),
		globalLimiter: rate.NewLimiter(100, 1000), // rate per sec, max burst
		ipLimiters:    make(map[dex.IPKey]*ipRateLimiter),
		notes:         make(chan *market.Event, noteQueueSize),
	}
	s.dataEnabled.Store(true)
	s.routes = s.msgRoutes()
	return s
}

// Addrs are the addresses of the listeners.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// router creates the HTTP router with the websocket endpoint and the data
// API. The WaitGroup tracks the websocket handlers.
func (s *Server) router(ctx context.Context, wg *sync.WaitGroup) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	// Websocket endpoint.
	mux.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := dex.NewIPKey(r.RemoteAddr)
		if s.isQuarantined(ip) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if s.clientCount() >= rpcMaxClients {
			http.Error(w, "server at maximum capacity", http.StatusServiceUnavailable)
			return
		}
		wsConn, err := ws.NewConnection(w, r, pongWait)
		if err != nil {
			log.Errorf("ws connection error: %v", err)
			return
		}

		// http.Server.Shutdown does not wait for upgraded websocket
		// connections. Each websocketHandler must return in response to
		// disconnectClients.
		log.Debugf("Starting websocket handler for %s", r.RemoteAddr) // includes source port
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.websocketHandler(ctx, wsConn, ip)
		}()
	})

	// Data API endpoints.
	mux.Route("/api", func(rr chi.Router) {
		rr.Use(s.limitRate)
		rr.With(orderIDParser).Get("/listing/{oid}", s.queryHandler(msgjson.ListingRoute))
		rr.With(orderIDParser).Get("/offer/{oid}", s.queryHandler(msgjson.OfferRoute))
		rr.With(orderIDParser).Get("/trade/{oid}", s.queryHandler(msgjson.TradeRoute))
		rr.With(accountParser).Get("/listings/lister/{account}", s.queryHandler(msgjson.ListingsByListerRoute))
		rr.With(accountParser).Get("/listings/collection/{account}", s.queryHandler(msgjson.ListingsByCollectionRoute))
		rr.With(accountParser).Get("/offers/{account}", s.queryHandler(msgjson.OffersByOffererRoute))
		rr.With(accountParser).Get("/trades/{account}", s.queryHandler(msgjson.TradesByMakerRoute))
	})
	return mux
}

// Run starts the server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) {
	log.Trace("Starting RPC server")

	var wg sync.WaitGroup
	httpServer := &http.Server{
		Handler:      s.router(ctx, &wg),
		ReadTimeout:  rpcTimeoutSeconds * time.Second, // slow requests should not hold connections opened
		WriteTimeout: rpcTimeoutSeconds * time.Second, // hung responses must die
	}

	// Start serving.
	for _, listener := range s.listeners {
		wg.Add(1)
		go func(listener net.Listener) {
			log.Infof("RPC server listening on %s", listener.Addr())
			err := httpServer.Serve(listener)
			if !errors.Is(err, http.ErrServerClosed) {
				log.Warnf("unexpected (http.Server).Serve error: %v", err)
			}
			log.Debugf("RPC listener done for %s", listener.Addr())
			wg.Done()
		}(listener)
	}

	// Broadcast order events.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.broadcastEvents(ctx)
	}()

	// Keep the rate limiter map clean.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute * 5)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.pruneLimiters(time.Minute)
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()

	// Shutdown the server. This stops all listeners and waits for connections.
	log.Infof("RPC server shutting down...")
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpServer.Shutdown(ctxTimeout)
	if err != nil {
		log.Warnf("http.Server.Shutdown: %v", err)
	}

	// Stop and disconnect websocket clients.
	s.disconnectClients()

	wg.Wait()
	log.Infof("RPC server shutdown complete")
}

// Publish queues the event for broadcast as an order_event notification.
// Publish does not block. The event is dropped if the queue is full.
func (s *Server) Publish(ev *market.Event) {
	select {
	case s.notes <- ev:
	default:
		n := s.dropped.Add(1)
		log.Warnf("Notification queue full. Dropped %s event for order %v (%d dropped total).", ev.Type, ev.OrderID, n)
	}
}

func (s *Server) broadcastEvents(ctx context.Context) {
	for {
		select {
		case ev := <-s.notes:
			note, err := msgjson.NewNotification(msgjson.OrderEventRoute, ev)
			if err != nil {
				log.Errorf("Failed to encode %s notification: %v", ev.Type, err)
				continue
			}
			s.Broadcast(note)
		case <-ctx.Done():
			return
		}
	}
}

// Check if the IP address is quarantined.
func (s *Server) isQuarantined(ip dex.IPKey) bool {
	s.banMtx.RLock()
	banTime, banned := s.quarantine[ip]
	s.banMtx.RUnlock()
	if banned {
		// See if the ban has expired.
		if time.Now().After(banTime) {
			s.banMtx.Lock()
			delete(s.quarantine, ip)
			s.banMtx.Unlock()
			banned = false
		}
	}
	return banned
}

// Quarantine the specified IP address.
func (s *Server) banish(ip dex.IPKey) {
	s.banMtx.Lock()
	defer s.banMtx.Unlock()
	s.quarantine[ip] = time.Now().Add(banishTime)
}

// websocketHandler handles a new websocket client by creating a new wsLink,
// starting it, and blocking until the connection closes. This method should
// be run as a goroutine.
func (s *Server) websocketHandler(ctx context.Context, conn ws.Connection, ip dex.IPKey) {
	addr := ip.String()
	log.Tracef("New websocket client %s", addr)

	client, err := newWSLink(addr, conn, s)
	if err != nil {
		log.Errorf("Failed to create client %s: %v", addr, err)
		conn.Close()
		return
	}
	wg, err := s.addClient(ctx, client)
	if err != nil {
		log.Errorf("Failed to add client %s: %v", addr, err)
		return
	}
	defer s.removeClient(client.id)

	// The connection remains until the connection is lost or the link's
	// disconnect method is called (e.g. via disconnectClients).
	wg.Wait()

	// If the ban flag is set, quarantine the client's IP address.
	if client.banned() {
		s.banish(ip)
	}
	log.Tracef("Disconnected websocket client %s", addr)
}

// Broadcast sends a message to all connected clients. The message should be a
// notification. See msgjson.NewNotification.
func (s *Server) Broadcast(msg *msgjson.Message) {
	s.clientMtx.RLock()
	defer s.clientMtx.RUnlock()

	log.Debugf("Broadcasting %s for route %s to %d clients...", msg.Type, msg.Route, len(s.clients))
	if log.Level() <= dex.LevelTrace { // don't marshal unless needed
		log.Tracef("Broadcast: %q", msg.String())
	}

	for id, cl := range s.clients {
		if err := cl.Send(msg); err != nil {
			log.Debugf("Send to client %d at %s failed: %v", id, cl.Addr(), err)
			cl.Disconnect() // triggers return of websocketHandler, and removeClient
		}
	}
}

// EnableDataAPI enables or disables the HTTP data API endpoints.
func (s *Server) EnableDataAPI(yes bool) {
	s.dataEnabled.Store(yes)
}

// disconnectClients calls disconnect on each wsLink, but does not remove it
// from the Server's client map.
func (s *Server) disconnectClients() {
	s.clientMtx.Lock()
	for _, link := range s.clients {
		link.Disconnect()
	}
	s.clientMtx.Unlock()
}

// addClient assigns the client an ID, adds it to the map, and attempts to
// connect.
func (s *Server) addClient(ctx context.Context, client *wsLink) (*sync.WaitGroup, error) {
	s.clientMtx.Lock()
	defer s.clientMtx.Unlock()
	client.id = s.counter
	s.counter++
	wg, err := client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	s.clients[client.id] = client
	return wg, nil
}

// Remove the client from the map.
func (s *Server) removeClient(id uint64) {
	s.clientMtx.Lock()
	delete(s.clients, id)
	s.clientMtx.Unlock()
}

// Get the number of active clients.
func (s *Server) clientCount() uint64 {
	s.clientMtx.RLock()
	defer s.clientMtx.RUnlock()
	return uint64(len(s.clients))
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	_, err := os.Stat(name)
	return !os.IsNotExist(err)
}

// genCertPair generates a key/cert pair to the paths provided.
func genCertPair(certFile, keyFile string, altDNSNames []string) error {
	log.Infof("Generating TLS certificates...")

	org := "nftdex autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := certgen.NewTLSCertPair(elliptic.P521(), org,
		validUntil, altDNSNames)
	if err != nil {
		return err
	}

	// Write cert and key files.
	if err = os.WriteFile(certFile, cert, 0644); err != nil {
		return err
	}
	if err = os.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return err
	}

	log.Infof("Done generating TLS certificates")
	return nil
}

// parseListeners splits the list of listen addresses passed in addrs into
// IPv4 and IPv6 slices and returns them. Addresses which apply to "all
// interfaces" are added to both slices.
func parseListeners(addrs []string) ([]string, []string, bool, error) {
	ipv4ListenAddrs := make([]string, 0, len(addrs))
	ipv6ListenAddrs := make([]string, 0, len(addrs))
	haveWildcard := false

	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, nil, false, err
		}

		// Empty host is both IPv4 and IPv6.
		if host == "" {
			ipv4ListenAddrs = append(ipv4ListenAddrs, addr)
			ipv6ListenAddrs = append(ipv6ListenAddrs, addr)
			haveWildcard = true
			continue
		}

		// Strip IPv6 zone id if present since net.ParseIP does not
		// handle it.
		zoneIndex := strings.LastIndex(host, "%")
		if zoneIndex > 0 {
			host = host[:zoneIndex]
		}

		ip := net.ParseIP(host)
		if ip == nil {
			return nil, nil, false, fmt.Errorf("'%s' is not a valid IP address", host)
		}

		if ip.To4() == nil {
			ipv6ListenAddrs = append(ipv6ListenAddrs, addr)
		} else {
			ipv4ListenAddrs = append(ipv4ListenAddrs, addr)
		}
	}
	return ipv4ListenAddrs, ipv6ListenAddrs, haveWildcard, nil
}

// writeJSONWithStatus writes the JSON response with the specified HTTP response
// code.
func writeJSONWithStatus(w http.ResponseWriter, thing interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	b, err := json.Marshal(thing)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		log.Errorf("JSON encode error: %v", err)
		return
	}
	w.WriteHeader(code)
	_, err = w.Write(append(b, byte('\n')))
	if err != nil {
		log.Errorf("Write error: %v", err)
	}
}
