// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package dex is the market manager, which creates the ledger, archive,
// collections registry, engine, event feed and comms server, and controls
// their lifetime.
package dex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/asset"
	"decred.org/nftdex/server/auth"
	"decred.org/nftdex/server/collections"
	"decred.org/nftdex/server/comms"
	"decred.org/nftdex/server/db"
	"decred.org/nftdex/server/db/driver/bolt"
	"decred.org/nftdex/server/db/driver/pg"
	"decred.org/nftdex/server/feed"
	"decred.org/nftdex/server/fees"
	"decred.org/nftdex/server/market"
	"golang.org/x/sync/errgroup"
)

// LedgerConf selects and configures the ledger driver.
type LedgerConf struct {
	Driver     string
	ConfigPath string
}

// DBConf groups the database configuration parameters. An empty Driver runs
// the market without an archive.
type DBConf struct {
	Driver string
	// pg
	DBName       string
	User         string
	Pass         string
	Host         string
	Port         uint16
	QueryTimeout time.Duration
	// bolt
	Path string
}

// RPCConfig is an alias for the comms Server's RPC config struct.
type RPCConfig = comms.RPCConfig

// DexConf is the configuration data required to create a new DEX.
type DexConf struct {
	LogBackend *dex.LoggerMaker
	// Escrow is the market's own account, the operator of the ledger.
	Escrow dex.Address
	Ledger *LedgerConf
	DB     *DBConf
	// CollectionsFile is the JSON collections registry. If empty, fees are
	// on with no admin fee and no collection is enabled.
	CollectionsFile string
	OwnerFeePolicy  fees.OwnerFeePolicy
	PaymentToken    dex.Address
	Admins          []dex.Address
	// AdminAccount is the caller of operations requested over the admin
	// API. It is made an admin.
	AdminAccount dex.Address
	// Feed is the Kafka event feed. No brokers disables it.
	Feed     *feed.Config
	CommsCfg *RPCConfig
	// FeeSweepInterval is the period of automatic fee distribution. Zero
	// disables the sweeper.
	FeeSweepInterval time.Duration
	// VerifyInterval is the period of registry verification. Zero disables
	// the watchdog.
	VerifyInterval time.Duration
}

// publishers fans events out to each Publisher. Publishers are added before
// the market produces any events.
type publishers struct {
	list []market.Publisher
}

func (p *publishers) Publish(ev *market.Event) {
	for _, pub := range p.list {
		pub.Publish(ev)
	}
}

// DEX is the market manager.
type DEX struct {
	mkt       *market.Market
	reg       *collections.Registry
	adminAcct dex.Address
	policy    fees.OwnerFeePolicy
	storage   db.Archivist
	server    *comms.Server
	kafka     *feed.Kafka
	sweeper   *FeeSweeper
	watchdog  *RegistryWatchdog
	ntfnChan  chan *WatchdogNotification
	health    atomic.Value // *Health
	closeOnce sync.Once
}

// NewDEX creates the market manager.
//  1. Load the collections registry.
//  2. Open the ledger with its driver.
//  3. Open the archive with its driver, if configured.
//  4. Create the engine, restoring the archived state.
//  5. Create the event feed and the comms server.
//  6. Create the fee sweeper and the registry watchdog.
//
// Use Run to start the subsystems.
func NewDEX(ctx context.Context, cfg *DexConf) (*DEX, error) {
	newLogger := func(name string) dex.Logger {
		if cfg.LogBackend == nil {
			return dex.Disabled
		}
		return cfg.LogBackend.NewLogger(name)
	}
	if cfg.Ledger == nil || cfg.Ledger.Driver == "" {
		return nil, errors.New("no ledger driver")
	}

	var reg *collections.Registry
	var err error
	if cfg.CollectionsFile != "" {
		reg, err = collections.LoadFile(cfg.CollectionsFile)
	} else {
		reg, err = collections.NewRegistry(fees.AdminFees{})
	}
	if err != nil {
		return nil, fmt.Errorf("error loading collections: %w", err)
	}

	log.Infof("Opening %q ledger...", cfg.Ledger.Driver)
	ledger, err := asset.Open(ctx, cfg.Ledger.Driver, &asset.Config{
		Operator:   cfg.Escrow,
		ConfigPath: cfg.Ledger.ConfigPath,
		Logger:     newLogger("ASSET"),
	})
	if err != nil {
		return nil, fmt.Errorf("asset.Open: %w", err)
	}

	var storage db.Archivist
	if cfg.DB != nil && cfg.DB.Driver != "" {
		storage, err = openArchive(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warnf("No archive configured. Market state will not persist.")
	}
	closeStorage := func() {
		if storage != nil {
			if err := storage.Close(); err != nil {
				log.Errorf("Archivist.Close: %v", err)
			}
		}
	}

	admins := auth.NewAdmins(cfg.Admins...)
	if cfg.AdminAccount != (dex.Address{}) {
		admins.Set(cfg.AdminAccount, true)
	}

	pubs := new(publishers)
	mktCfg := &market.Config{
		Ledger:       ledger,
		Schedule:     reg,
		Policy:       cfg.OwnerFeePolicy,
		Admins:       admins,
		PaymentToken: cfg.PaymentToken,
		Publishers:   []market.Publisher{pubs},
	}
	if storage != nil {
		mktCfg.Archivist = storage
	}
	mkt, err := market.NewMarket(ctx, mktCfg)
	if err != nil {
		closeStorage()
		return nil, fmt.Errorf("NewMarket: %w", err)
	}

	dm := &DEX{
		mkt:       mkt,
		reg:       reg,
		adminAcct: cfg.AdminAccount,
		policy:    cfg.OwnerFeePolicy,
		storage:   storage,
		ntfnChan:  make(chan *WatchdogNotification, 1),
	}

	if cfg.Feed != nil && len(cfg.Feed.Brokers) > 0 {
		dm.kafka, err = feed.NewKafka(cfg.Feed)
		if err != nil {
			closeStorage()
			return nil, fmt.Errorf("NewKafka: %w", err)
		}
		pubs.list = append(pubs.list, dm.kafka)
	}

	if cfg.CommsCfg != nil {
		dm.server, err = comms.NewServer(cfg.CommsCfg, mkt)
		if err != nil {
			closeStorage()
			return nil, fmt.Errorf("NewServer: %w", err)
		}
		pubs.list = append(pubs.list, dm.server)
	}

	if cfg.FeeSweepInterval > 0 {
		if cfg.AdminAccount == (dex.Address{}) {
			closeStorage()
			return nil, errors.New("fee sweeper requires an admin account")
		}
		dm.sweeper = NewFeeSweeper(mkt, cfg.AdminAccount, cfg.FeeSweepInterval)
	}
	dm.watchdog = NewRegistryWatchdog(mkt, cfg.VerifyInterval, dm.ntfnChan, newLogger("WDOG"))

	return dm, nil
}

// openArchive opens the Archivist with the configured driver.
func openArchive(ctx context.Context, cfg *DBConf) (db.Archivist, error) {
	var drvCfg interface{}
	switch cfg.Driver {
	case pg.DriverName:
		drvCfg = &pg.Config{
			Host:         cfg.Host,
			Port:         strconv.Itoa(int(cfg.Port)),
			User:         cfg.User,
			Pass:         cfg.Pass,
			DBName:       cfg.DBName,
			QueryTimeout: cfg.QueryTimeout,
		}
	case bolt.DriverName:
		drvCfg = &bolt.Config{Path: cfg.Path}
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	log.Infof("Opening %q archive...", cfg.Driver)
	storage, err := db.Open(ctx, cfg.Driver, drvCfg)
	if err != nil {
		return nil, fmt.Errorf("db.Open: %w", err)
	}
	return storage, nil
}

// Run starts the subsystems and blocks until the context is canceled or a
// subsystem fails. The archive is closed before Run returns.
func (dm *DEX) Run(ctx context.Context) error {
	defer dm.closeOnce.Do(func() {
		if dm.storage != nil {
			if err := dm.storage.Close(); err != nil {
				log.Errorf("Archivist.Close: %v", err)
			}
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	if dm.kafka != nil {
		g.Go(func() error {
			dm.kafka.Run(ctx)
			log.Infof("Event feed shutdown.")
			return nil
		})
	}
	if dm.server != nil {
		g.Go(func() error {
			dm.server.Run(ctx)
			return nil
		})
	}
	if dm.sweeper != nil {
		g.Go(func() error {
			dm.sweeper.Run(ctx)
			log.Infof("Fee sweeper shutdown.")
			return nil
		})
	}
	if dm.watchdog != nil {
		g.Go(func() error {
			dm.watchdog.Run(ctx)
			return nil
		})
		g.Go(func() error {
			dm.listenWatchdog(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Health is the result of the last registry verification.
type Health struct {
	Healthy bool      `json:"healthy"`
	Error   string    `json:"error,omitempty"`
	Stamp   time.Time `json:"stamp"`
}

func (dm *DEX) listenWatchdog(ctx context.Context) {
	for {
		select {
		case ntfn := <-dm.ntfnChan:
			h := &Health{Healthy: ntfn.Healthy, Stamp: ntfn.Stamp}
			if ntfn.Err != nil {
				h.Error = ntfn.Err.Error()
			}
			dm.health.Store(h)
			if !ntfn.Healthy {
				log.Criticalf("Market registries are inconsistent: %v", ntfn.Err)
			} else {
				log.Infof("Market registries are consistent again.")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Health reports the state of the registries. Without a watchdog, the
// registries are verified now.
func (dm *DEX) Health(ctx context.Context) *Health {
	if h, ok := dm.health.Load().(*Health); ok {
		return h
	}
	h := &Health{Healthy: true, Stamp: time.Now()}
	if err := dm.mkt.Verify(ctx); err != nil {
		h.Healthy, h.Error = false, err.Error()
	}
	return h
}

// Market is the engine.
func (dm *DEX) Market() *market.Market {
	return dm.mkt
}

// configResult is the admin config response.
type configResult struct {
	Escrow         dex.Address         `json:"escrow"`
	PaymentToken   dex.Address         `json:"paymentToken"`
	OwnerFeePolicy string              `json:"ownerFeePolicy"`
	AdminAccount   dex.Address         `json:"adminAccount"`
	Archive        bool                `json:"archive"`
	Collections    *collections.Config `json:"collections"`
}

// ConfigMsg returns the current market configuration.
func (dm *DEX) ConfigMsg() json.RawMessage {
	b, err := json.Marshal(&configResult{
		Escrow:         dm.mkt.Escrow(),
		PaymentToken:   dm.mkt.PaymentToken(),
		OwnerFeePolicy: dm.policy.String(),
		AdminAccount:   dm.adminAcct,
		Archive:        dm.storage != nil,
		Collections:    dm.reg.Config(),
	})
	if err != nil {
		log.Errorf("failed to marshal config message: %v", err)
		return nil
	}
	return b
}

// SetCollection enables or disables trading of the collection and sets its
// owner and owner fee.
func (dm *DEX) SetCollection(coll dex.Address, enabled bool, owner dex.Address, feeBp uint16) error {
	if err := dm.reg.SetCollectionOwner(coll, owner, feeBp); err != nil {
		return err
	}
	dm.reg.SetCollectionTrading(coll, enabled)
	return nil
}

// SetFeesEnabled switches admin fee collection.
func (dm *DEX) SetFeesEnabled(on bool) {
	dm.reg.SetFeesEnabled(on)
}

// SetAutoForward switches between forwarding admin fees at settlement and
// accruing them.
func (dm *DEX) SetAutoForward(on bool) {
	dm.reg.SetAutoForward(on)
}

// ProcessAccruedFees distributes the accrued fees of the currency as the
// admin account.
func (dm *DEX) ProcessAccruedFees(ctx context.Context, currency dex.Address) (*fees.Distribution, error) {
	return dm.mkt.ProcessAccruedFees(ctx, dm.adminAcct, currency)
}

// Accrued is the amount of the currency's admin fees awaiting distribution.
func (dm *DEX) Accrued(ctx context.Context, currency dex.Address) (uint64, error) {
	return dm.mkt.Accrued(ctx, currency)
}

// ClearListing removes the listing as the admin account.
func (dm *DEX) ClearListing(ctx context.Context, id order.OrderID) error {
	return dm.mkt.ClearListing(ctx, dm.adminAcct, id)
}

// CancelOffer cancels the offer as the admin account. The escrowed price is
// refunded only if refund is set.
func (dm *DEX) CancelOffer(ctx context.Context, id order.OrderID, refund bool) error {
	return dm.mkt.CancelOfferAdmin(ctx, dm.adminAcct, id, refund)
}

// Settlements retrieves up to limit archived settlement records, newest
// first. A zero limit means no limit.
func (dm *DEX) Settlements(ctx context.Context, limit int) ([]*db.Settlement, error) {
	return dm.mkt.Settlements(ctx, &db.SettlementFilter{Limit: limit})
}
