// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/server/asset/sim"
	"decred.org/nftdex/server/db/driver/bolt"
	"decred.org/nftdex/server/db/driver/pg"
	dexsrv "decred.org/nftdex/server/dex"
	"decred.org/nftdex/server/feed"
	"decred.org/nftdex/server/fees"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	defaultConfigFilename      = "nftdexd.conf"
	defaultEnvFilename         = ".env"
	defaultLogFilename         = "nftdexd.log"
	defaultRPCCertFilename     = "rpc.cert"
	defaultRPCKeyFilename      = "rpc.key"
	defaultDataDirname         = "data"
	defaultLogLevel            = "info"
	defaultLogDirname          = "logs"
	defaultCollectionsFilename = "collections.json"
	defaultLedgerFilename      = "ledger.json"
	defaultBoltFilename        = "nftdex.db"
	defaultMaxLogZips          = 16
	defaultPGHost              = "127.0.0.1:5432"
	defaultPGUser              = "nftdex"
	defaultPGDBName            = "nftdex"
	defaultPGQueryTimeout      = 20 * time.Minute
	defaultRPCHost             = "127.0.0.1"
	defaultRPCPort             = "7272"
	defaultAdminSrvAddr        = "127.0.0.1:6272"
	defaultKafkaTopic          = "nftdex.events"
	defaultVerifyInterval      = 10 * time.Minute
)

var defaultAppDataDir = appDataDir()

// appDataDir is the default application home directory.
func appDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

// dexConf is the data that is required to setup the dex.
type dexConf struct {
	DataDir          string
	Escrow           dex.Address
	LedgerDriver     string
	LedgerConfig     string
	CollectionsFile  string
	OwnerFeePolicy   fees.OwnerFeePolicy
	PaymentToken     dex.Address
	Admins           []dex.Address
	AdminAccount     dex.Address
	DBDriver         string
	DBName           string
	DBUser           string
	DBPass           string
	DBHost           string
	DBPort           uint16
	DBQueryTimeout   time.Duration
	BoltPath         string
	RPCCert          string
	RPCKey           string
	RPCListen        []string
	NoTLS            bool
	AltDNSNames      []string
	NoDataAPI        bool
	KafkaBrokers     []string
	KafkaTopic       string
	FeeSweepInterval time.Duration
	VerifyInterval   time.Duration
	AdminSrvOn       bool
	AdminSrvAddr     string
	AdminSrvPW       []byte
	LogMaker         *dex.LoggerMaker
}

type flagsData struct {
	// General application behavior
	AppDataDir  string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	EnvFile     string `long:"envfile" description:"Path to a .env file of NFTDEX_* environment variables"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}, with optional SUBSYS=level pairs"`
	MaxLogZips  int    `long:"maxlogzips" description:"The number of zipped log files created by the log rotator to be retained. Setting to 0 will keep all."`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`

	Escrow          string   `long:"escrow" env:"NFTDEX_ESCROW" description:"The market's escrow account address, the operator of the ledger"`
	LedgerDriver    string   `long:"ledger" description:"The ledger driver"`
	LedgerConfig    string   `long:"ledgerconfig" description:"Path to the ledger driver's configuration file"`
	CollectionsFile string   `long:"collections" description:"Path to the collections registry JSON file"`
	OwnerFeePolicy  string   `long:"ownerfeepolicy" description:"Whether the collection owner fee follows the fee toggle or is always charged {toggle, always}"`
	PaymentToken    string   `long:"paymenttoken" description:"Address of the token accepted for offers and token-priced trades"`
	Admins          []string `long:"admin" description:"An admin account address. May be repeated."`
	AdminAccount    string   `long:"adminaccount" env:"NFTDEX_ADMIN_ACCOUNT" description:"The account acting for the admin server and the fee sweeper"`

	DBDriver         string        `long:"db" description:"The archive driver {bolt, pg}, or none to run without an archive"`
	BoltPath         string        `long:"boltpath" description:"Path to the bolt archive file"`
	PGDBName         string        `long:"pgdbname" description:"PostgreSQL DB name."`
	PGUser           string        `long:"pguser" description:"PostgreSQL DB user."`
	PGPass           string        `long:"pgpass" env:"NFTDEX_PGPASS" description:"PostgreSQL DB password."`
	PGHost           string        `long:"pghost" description:"PostgreSQL server host:port or UNIX socket (e.g. /run/postgresql)."`
	PGQueryTimeout   time.Duration `long:"pgquerytimeout" description:"Timeout of each PostgreSQL query."`
	FeeSweepInterval time.Duration `long:"feesweep" description:"Period of automatic accrued fee distribution. 0 disables the sweeper."`
	VerifyInterval   time.Duration `long:"verifyinterval" description:"Period of order registry verification. 0 disables it."`

	RPCCert     string   `long:"rpccert" description:"RPC server TLS certificate file"`
	RPCKey      string   `long:"rpckey" description:"RPC server TLS private key file"`
	RPCListen   []string `long:"rpclisten" description:"IP addresses on which the RPC server should listen for incoming connections"`
	NoTLS       bool     `long:"notls" description:"Run the RPC server without TLS"`
	AltDNSNames []string `long:"altdnsnames" description:"A list of hostnames to include in the RPC certificate (X509v3 Subject Alternative Name)"`
	NoDataAPI   bool     `long:"nodata" description:"Disable the HTTP data API"`

	KafkaBrokers []string `long:"kafkabroker" env:"NFTDEX_KAFKA_BROKERS" env-delim:"," description:"A Kafka broker address for the event feed. May be repeated."`
	KafkaTopic   string   `long:"kafkatopic" description:"The Kafka topic of the event feed"`

	AdminSrvOn   bool   `long:"adminsrvon" description:"Turn on the admin server."`
	AdminSrvAddr string `long:"adminsrvaddr" description:"Administration HTTPS server address (default: 127.0.0.1:6272)."`
	AdminSrvPW   string `long:"adminsrvpass" env:"NFTDEX_ADMIN_PASS" description:"Admin server password. INSECURE. Do not set unless absolutely necessary."`
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) (*dex.LoggerMaker, error) {
	lm, err := dex.NewLoggerMaker(logWriter{}, debugLevel)
	if err != nil {
		return nil, err
	}
	for subsysID := range lm.Levels {
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return nil, fmt.Errorf(str, subsysID, supportedSubsystems())
		}
	}
	setLoggers(lm)
	return lm, nil
}

// normalizeNetworkAddress checks for a valid local network address format and
// adds default host and port if not present. Invalidates addresses that include
// a protocol identifier.
func normalizeNetworkAddress(a, defaultHost, defaultPort string) (string, error) {
	if strings.Contains(a, "://") {
		return a, fmt.Errorf("address %s contains a protocol identifier, which is not allowed", a)
	}
	if a == "" {
		return net.JoinHostPort(defaultHost, defaultPort), nil
	}
	host, port, err := net.SplitHostPort(a)
	if err != nil {
		if strings.Contains(err.Error(), "missing port in address") {
			normalized := a + ":" + defaultPort
			host, port, err = net.SplitHostPort(normalized)
			if err != nil {
				return a, fmt.Errorf("unable to address %s after port resolution: %v", normalized, err)
			}
		} else {
			return a, fmt.Errorf("unable to normalize address %s: %v", a, err)
		}
	}
	if host == "" {
		host = defaultHost
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port), nil
}

// parseOptionalAddress parses an address, allowing the empty string for the
// zero address.
func parseOptionalAddress(s, what string) (dex.Address, error) {
	if s == "" {
		return dex.Address{}, nil
	}
	addr, err := dex.ParseAddress(s)
	if err != nil {
		return dex.Address{}, fmt.Errorf("invalid %s: %w", what, err)
	}
	return addr, nil
}

// parsePGHost splits the PostgreSQL host:port. UNIX socket paths have no port.
func parsePGHost(pgHost string) (host string, port uint16, err error) {
	if strings.HasPrefix(pgHost, "/") {
		return pgHost, 0, nil
	}
	host, portStr, err := net.SplitHostPort(pgHost)
	if err != nil {
		return "", 0, fmt.Errorf("invalid DB host %q: %v", pgHost, err)
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid DB port %q: %v", portStr, err)
	}
	return host, uint16(p), nil
}

// loadEnvFile sets environment variables from the .env file, without
// overriding variables already set. A missing default file is not an error.
func loadEnvFile(path string, isDefault bool) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if isDefault {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// defaultFlags are the default config values. Defaults for ConfigFile, LogDir,
// and DataDir are set relative to AppDataDir. They are not to be set here.
func defaultFlags() flagsData {
	return flagsData{
		AppDataDir:      defaultAppDataDir,
		MaxLogZips:      defaultMaxLogZips,
		DebugLevel:      defaultLogLevel,
		LedgerDriver:    sim.DriverName,
		LedgerConfig:    defaultLedgerFilename,
		CollectionsFile: defaultCollectionsFilename,
		OwnerFeePolicy:  fees.OwnerFeeFollowsToggle.String(),
		DBDriver:        bolt.DriverName,
		BoltPath:        defaultBoltFilename,
		PGDBName:        defaultPGDBName,
		PGUser:          defaultPGUser,
		PGHost:          defaultPGHost,
		PGQueryTimeout:  defaultPGQueryTimeout,
		VerifyInterval:  defaultVerifyInterval,
		RPCCert:         defaultRPCCertFilename,
		RPCKey:          defaultRPCKeyFilename,
		KafkaTopic:      defaultKafkaTopic,
		AdminSrvAddr:    defaultAdminSrvAddr,
	}
}

// resolveConfig validates the parsed flags and resolves them into a dexConf.
// Relative paths are made relative to the appdata directory. Logging is not
// configured.
func resolveConfig(cfg *flagsData) (*dexConf, error) {
	escrow, err := parseOptionalAddress(cfg.Escrow, "escrow address")
	if err != nil {
		return nil, err
	}
	if escrow == (dex.Address{}) {
		return nil, errors.New("no escrow address")
	}
	paymentToken, err := parseOptionalAddress(cfg.PaymentToken, "payment token")
	if err != nil {
		return nil, err
	}
	adminAcct, err := parseOptionalAddress(cfg.AdminAccount, "admin account")
	if err != nil {
		return nil, err
	}
	admins := make([]dex.Address, 0, len(cfg.Admins))
	for _, s := range cfg.Admins {
		a, err := dex.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid admin: %w", err)
		}
		admins = append(admins, a)
	}
	policy, err := fees.ParseOwnerFeePolicy(cfg.OwnerFeePolicy)
	if err != nil {
		return nil, err
	}
	if cfg.AdminSrvOn && adminAcct == (dex.Address{}) {
		return nil, errors.New("the admin server requires an admin account")
	}

	// Ensure that all specified files are absolute paths, prepending the
	// appdata path if not.
	abs := func(path string) string {
		if path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(cfg.AppDataDir, path)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDirname
	}
	dataDir := dex.CleanAndExpandPath(abs(cfg.DataDir))

	dexCfg := &dexConf{
		DataDir:          dataDir,
		Escrow:           escrow,
		LedgerDriver:     cfg.LedgerDriver,
		LedgerConfig:     abs(cfg.LedgerConfig),
		CollectionsFile:  abs(cfg.CollectionsFile),
		OwnerFeePolicy:   policy,
		PaymentToken:     paymentToken,
		Admins:           admins,
		AdminAccount:     adminAcct,
		RPCCert:          abs(cfg.RPCCert),
		RPCKey:           abs(cfg.RPCKey),
		NoTLS:            cfg.NoTLS,
		AltDNSNames:      cfg.AltDNSNames,
		NoDataAPI:        cfg.NoDataAPI,
		KafkaBrokers:     cfg.KafkaBrokers,
		KafkaTopic:       cfg.KafkaTopic,
		FeeSweepInterval: cfg.FeeSweepInterval,
		VerifyInterval:   cfg.VerifyInterval,
		AdminSrvOn:       cfg.AdminSrvOn,
		AdminSrvAddr:     cfg.AdminSrvAddr,
		AdminSrvPW:       []byte(cfg.AdminSrvPW),
	}

	switch cfg.DBDriver {
	case bolt.DriverName:
		dexCfg.DBDriver = bolt.DriverName
		dexCfg.BoltPath = cfg.BoltPath
		if !filepath.IsAbs(dexCfg.BoltPath) {
			dexCfg.BoltPath = filepath.Join(dataDir, dexCfg.BoltPath)
		}
	case pg.DriverName:
		dexCfg.DBDriver = pg.DriverName
		dexCfg.DBHost, dexCfg.DBPort, err = parsePGHost(cfg.PGHost)
		if err != nil {
			return nil, err
		}
		dexCfg.DBName = cfg.PGDBName
		dexCfg.DBUser = cfg.PGUser
		dexCfg.DBPass = cfg.PGPass
		dexCfg.DBQueryTimeout = cfg.PGQueryTimeout
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.DBDriver)
	}

	// Validate each RPC listen host:port.
	var RPCListen []string
	if len(cfg.RPCListen) == 0 {
		RPCListen = []string{defaultRPCHost + ":" + defaultRPCPort}
	}
	for i := range cfg.RPCListen {
		listen, err := normalizeNetworkAddress(cfg.RPCListen[i], defaultRPCHost, defaultRPCPort)
		if err != nil {
			return nil, err
		}
		RPCListen = append(RPCListen, listen)
	}
	dexCfg.RPCListen = RPCListen

	return dexCfg, nil
}

// loadConfig initializes and parses the config using a config file, a .env
// file and command line options.
func loadConfig() (*dexConf, error) {
	cfg := defaultFlags()

	// Pre-parse the command line options to see if an alternative config file
	// or the version flag was specified. Any errors aside from the help message
	// error can be ignored here since they will be caught by the final parse
	// below.
	var preCfg flagsData // zero values as defaults
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.IgnoreUnknown)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			Version(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Special show command to list supported subsystems and exit.
	if preCfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// If a non-default appdata folder is specified on the command line, it may
	// be necessary adjust the config file location. If the the config file
	// location was not specified on the command line, the default location
	// should be under the non-default appdata directory. However, if the config
	// file was specified on the command line, it should be used regardless of
	// the appdata directory.
	if preCfg.AppDataDir != "" {
		cfg.AppDataDir, err = filepath.Abs(dex.CleanAndExpandPath(preCfg.AppDataDir))
		if err != nil {
			return nil, fmt.Errorf("unable to determine working directory: %v", err)
		}
	}
	isDefaultConfigFile := preCfg.ConfigFile == ""
	if isDefaultConfigFile {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, defaultConfigFilename)
	} else if !filepath.IsAbs(preCfg.ConfigFile) {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, preCfg.ConfigFile)
	}
	isDefaultEnvFile := preCfg.EnvFile == ""
	if isDefaultEnvFile {
		preCfg.EnvFile = filepath.Join(cfg.AppDataDir, defaultEnvFilename)
	}

	// The environment must be set before the parser reads env tags.
	if err = loadEnvFile(preCfg.EnvFile, isDefaultEnvFile); err != nil {
		return nil, fmt.Errorf("error loading env file %s: %w", preCfg.EnvFile, err)
	}

	// Config file name for logging.
	configFile := "NONE (defaults)"

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	// Do not error default config file is missing.
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		// Non-default config file must exist.
		if !isDefaultConfigFile {
			return nil, err
		}
		// Warn about missing default config file, but continue.
		fmt.Printf("Config file (%s) does not exist. Using defaults.\n",
			preCfg.ConfigFile)
	} else {
		// The config file exists, so attempt to parse it.
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			parser.WriteHelp(os.Stderr)
			return nil, err
		}
		configFile = preCfg.ConfigFile
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	// Create the app data directory if it doesn't already exist.
	err = os.MkdirAll(cfg.AppDataDir, 0700)
	if err != nil {
		// Show a nicer error message if it's because a symlink is linked to a
		// directory that does not exist (probably because it's not mounted).
		if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
			if link, lerr := os.Readlink(e.Path); lerr == nil {
				str := "is symlink %s -> %s mounted?"
				err = fmt.Errorf(str, e.Path, link)
			}
		}
		return nil, fmt.Errorf("failed to create home directory: %v", err)
	}

	dexCfg, err := resolveConfig(&cfg)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(dexCfg.DataDir, 0700); err != nil {
		return nil, err
	}

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(cfg.AppDataDir, defaultLogDirname)
	} else if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(cfg.AppDataDir, logDir)
	}
	logDir = dex.CleanAndExpandPath(logDir)

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used. This creates the LogDir if needed.
	if cfg.MaxLogZips < 0 {
		cfg.MaxLogZips = 0
	}
	initLogRotator(filepath.Join(logDir, defaultLogFilename), cfg.MaxLogZips)

	// Parse, validate, and set debug log level(s).
	dexCfg.LogMaker, err = parseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	log.Infof("App data folder: %s", cfg.AppDataDir)
	log.Infof("Data folder:     %s", dexCfg.DataDir)
	log.Infof("Log folder:      %s", logDir)
	log.Infof("Config file:     %s", configFile)

	return dexCfg, nil
}

// dexSrvConf converts the config to the DEX manager's config.
func (cfg *dexConf) dexSrvConf() *dexsrv.DexConf {
	dc := &dexsrv.DexConf{
		LogBackend: cfg.LogMaker,
		Escrow:     cfg.Escrow,
		Ledger: &dexsrv.LedgerConf{
			Driver:     cfg.LedgerDriver,
			ConfigPath: cfg.LedgerConfig,
		},
		CollectionsFile:  cfg.CollectionsFile,
		OwnerFeePolicy:   cfg.OwnerFeePolicy,
		PaymentToken:     cfg.PaymentToken,
		Admins:           cfg.Admins,
		AdminAccount:     cfg.AdminAccount,
		FeeSweepInterval: cfg.FeeSweepInterval,
		VerifyInterval:   cfg.VerifyInterval,
		CommsCfg: &dexsrv.RPCConfig{
			ListenAddrs:    cfg.RPCListen,
			NoTLS:          cfg.NoTLS,
			RPCCert:        cfg.RPCCert,
			RPCKey:         cfg.RPCKey,
			AltDNSNames:    cfg.AltDNSNames,
			DisableDataAPI: cfg.NoDataAPI,
		},
	}
	if cfg.DBDriver != "" {
		dc.DB = &dexsrv.DBConf{
			Driver:       cfg.DBDriver,
			DBName:       cfg.DBName,
			User:         cfg.DBUser,
			Pass:         cfg.DBPass,
			Host:         cfg.DBHost,
			Port:         cfg.DBPort,
			QueryTimeout: cfg.DBQueryTimeout,
			Path:         cfg.BoltPath,
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		dc.Feed = &feed.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}
	}
	return dc
}
