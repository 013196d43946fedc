// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"decred.org/nftdex/server/admin"
	_ "decred.org/nftdex/server/asset/sim" // register the sim ledger
	dexsrv "decred.org/nftdex/server/dex"
	"golang.org/x/sync/errgroup"
)

func mainCore(ctx context.Context) error {
	// Parse the configuration file, and setup logger.
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s config: %v\n", appName, err)
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Request admin server password if admin server is enabled and
	// server password is not set in config.
	var adminSrvAuthSHA [32]byte
	if cfg.AdminSrvOn {
		if len(cfg.AdminSrvPW) == 0 {
			adminSrvAuthSHA, err = admin.PasswordPrompt("Admin interface password: ")
			if err != nil {
				return fmt.Errorf("cannot use password: %v", err)
			}
		} else {
			adminSrvAuthSHA = sha256.Sum256(cfg.AdminSrvPW)
			for i := range cfg.AdminSrvPW {
				cfg.AdminSrvPW[i] = 0
			}
		}
	}

	// Display app version.
	log.Infof("%s version %v (Go version %s)", appName, Version(), runtime.Version())
	log.Infof("Escrow account %s, ledger %q", cfg.Escrow, cfg.LedgerDriver)

	// Create the DEX manager.
	dexMan, err := dexsrv.NewDEX(ctx, cfg.dexSrvConf())
	if err != nil {
		return err
	}

	var adminServer *admin.Server
	if cfg.AdminSrvOn {
		adminServer, err = admin.NewServer(&admin.SrvConfig{
			Core:    dexMan,
			Addr:    cfg.AdminSrvAddr,
			AuthSHA: adminSrvAuthSHA,
			Cert:    cfg.RPCCert,
			Key:     cfg.RPCKey,
		})
		if err != nil {
			return fmt.Errorf("cannot set up admin server: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dexMan.Run(gctx)
	})
	if adminServer != nil {
		g.Go(func() error {
			adminServer.Run(gctx)
			return nil
		})
	}

	log.Info("The market is running. Hit CTRL+C to quit...")
	err = g.Wait()
	if err != nil {
		log.Errorf("Market stopped with error: %v", err)
	}
	log.Info("Bye!")
	return err
}

func main() {
	// Create a context that is canceled when an interrupt or termination
	// signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := mainCore(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}
