package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/api"
	"signal-trader/internal/engine"
	"signal-trader/internal/transport"
	"signal-trader/pkg/config"
	"signal-trader/pkg/i18n"
	"signal-trader/pkg/instance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port, cfg.LedgerBackend)
	log.Printf(i18n.Get("InstanceID"), instance.Label())

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	deps := engine.Deps{Version: buildVersion}
	accounts := cfg.Accounts
	if cfg.DryRun {
		log.Println(i18n.Get("DryRunMode"))
		if len(accounts) == 0 {
			accounts = simulatedAccounts()
		}
		// Without Telegram credentials a dry run listens to an in-process
		// channel instead.
		if cfg.TelegramAPIID == 0 {
			deps.Transport = transport.NewMemory()
		}
	}
	if len(accounts) == 0 {
		log.Println(i18n.Get("NoAccounts"))
	}
	log.Printf(i18n.Get("AccountsLoaded"), len(accounts))
	for _, a := range accounts {
		log.Printf(i18n.Get("AccountSummary"), a.Name, a.Exchange, a.Leverage, a.Paper())
	}
	log.Printf(i18n.Get("ChannelsWatched"), len(cfg.ChannelIDs), cfg.ChannelIDs)

	eng, err := engine.New(cfg.ChannelIDs, accounts, cfg, deps)
	if err != nil {
		log.Fatalf(i18n.Get("EngineInitFailed"), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// API
	server := api.NewServer(eng, eng.DB(), eng.Bus(), eng.Metrics(), cfg.JWTSecret, cfg.AdminPasswordHash)
	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	runErr := eng.Run(ctx)
	log.Println(i18n.Get("ShuttingDown"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf(i18n.Get("APIServerError"), err)
	}

	if runErr != nil {
		if errors.Is(runErr, transport.ErrNotAuthorized) {
			log.Println(i18n.Get("NotAuthorized"))
		}
		log.Printf(i18n.Get("EngineRunFailed"), runErr)
		os.Exit(1)
	}
	log.Println(i18n.Get("Stopped"))
}

// simulatedAccounts backs a dry run when no account is configured.
func simulatedAccounts() []config.Account {
	return []config.Account{{
		Name:       "SIM1",
		Index:      1,
		Exchange:   config.ExchangeDryRun,
		Flag:       "1",
		Leverage:   10,
		MarginMode: "cross",
		FixedSize: map[string]decimal.Decimal{
			"BTC": decimal.RequireFromString("0.001"),
			"ETH": decimal.RequireFromString("0.01"),
		},
	}}
}
