package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unnet/isp-console/internal/apiclient"
	"github.com/unnet/isp-console/internal/config"
	"github.com/unnet/isp-console/internal/console"
	"github.com/unnet/isp-console/internal/fieldsync"
	"github.com/unnet/isp-console/internal/lockout"
	prepo "github.com/unnet/isp-console/internal/plan/repo"
	"github.com/unnet/isp-console/internal/router"
	"github.com/unnet/isp-console/internal/session"
	srepo "github.com/unnet/isp-console/internal/setting/repo"
	"github.com/unnet/isp-console/internal/shell"
	"github.com/unnet/isp-console/pkg/utilities"
)

func main() {
	hash := flag.String("hash", "", "print a bcrypt hash of `password` for ADMIN_PASSWORD_HASH and exit")
	flag.Parse()

	if *hash != "" {
		h, err := lockout.HashSecret(*hash, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.InitLogger(cfg.LogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting isp-console", "api", cfg.APIBaseURL, "store", cfg.StoreDriver)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("store: %v", err)
	}
	defer closeStore()

	client, err := apiclient.New(apiclient.Options{
		BaseURL:    cfg.APIBaseURL,
		Timeout:    cfg.APITimeout,
		SigningKey: cfg.APISigningKey,
		Logger:     sugar,
		IDs:        utilities.NewRequestIDs(cfg.SnowflakeNode),
	})
	if err != nil {
		sugar.Fatalf("api client: %v", err)
	}
	if cfg.APISigningKey == "" {
		sugar.Warnw("API_SIGNING_KEY not set: requests to the site API carry no credentials")
	}

	var secret lockout.Secret = lockout.PlainSecret(cfg.AdminPassword)
	if cfg.AdminPasswordHash != "" {
		secret = lockout.BcryptSecret(cfg.AdminPasswordHash)
	}
	guard := lockout.NewGuard(lockout.NewCounter(store), secret, sugar.Named("lockout"))
	guard.MaxFailed = cfg.LockoutMaxFailed
	guard.LockDuration = cfg.LockoutDuration

	clock := clockwork.NewRealClock()
	ctrl := console.New(console.Deps{
		Guard:    guard,
		Session:  session.NewFlag(store),
		Tracker:  fieldsync.New(clock, cfg.SaveBadgeWindow, sugar.Named("fieldsync")),
		Settings: srepo.NewRepo(client),
		Packages: prepo.NewRepo(client),
		Clock:    clock,
		Logger:   sugar.Named("console"),
	})
	defer ctrl.Close()

	sh := shell.New(ctrl, os.Stdin, os.Stdout, sugar)
	if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		sh.Wait = true
	}

	var srv *http.Server
	if cfg.OpsAddr != "" {
		srv = &http.Server{
			Addr:              cfg.OpsAddr,
			Handler:           router.RegisterRoutes(sugar.Named("ops"), ctrl),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sugar.Errorw("ops server failed", "error", err)
			}
		}()
		sugar.Infow("ops endpoint listening", "addr", cfg.OpsAddr)
	}

	if _, err := ctrl.Start(ctx); err != nil {
		sugar.Fatalf("start console: %v", err)
	}

	if err := sh.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Warnw("shell stopped", "error", err)
	}

	sugar.Info("shutting down")

	if srv != nil {
		doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("ops server shutdown failed: %v", err)
		}
	}

	sugar.Info("goodbye")
}
