package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"routstr/config"
	"routstr/internal/audit"
	"routstr/internal/auth"
	"routstr/internal/cashu"
	"routstr/internal/database"
	"routstr/internal/ledger"
	"routstr/internal/payment"
	"routstr/internal/priceoracle"
	"routstr/internal/pricing"
	"routstr/internal/proxy"
	"routstr/pkg/cache"
	"routstr/pkg/logger"
	"routstr/pkg/queue"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.Settings

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filename)
	configPath := config.Path(root).Join("config.toml", "..", "..")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	db, err := database.NewDB(database.Config{DatabaseURL: Cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database connected and migrated")

	keyRepo := database.NewKeyRepository(db)
	modelRepo := database.NewModelRepository(db)
	settingsRepo := database.NewSettingsRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := settingsRepo.EnsureDefaults(ctx, database.Settings{
		FixedPricing:        Cfg.FixedPricing,
		FixedCostPerRequest: Cfg.FixedCostPerRequest,
		FixedPer1kInput:     Cfg.FixedPer1kInputTokens,
		FixedPer1kOutput:    Cfg.FixedPer1kOutputTokens,
		ExchangeFee:         Cfg.ExchangeFee,
		UpstreamProviderFee: Cfg.UpstreamProviderFee,
	}); err != nil {
		return fmt.Errorf("failed to ensure default settings: %w", err)
	}

	oracle, err := priceoracle.New(Cfg.ExchangeFee, Cfg.UpstreamProviderFee)
	if err != nil {
		return fmt.Errorf("failed to build price oracle: %w", err)
	}

	catalog := pricing.NewCatalog(modelRepo, settingsRepo, oracle)
	if err := catalog.EnsureBootstrapped(ctx, Cfg.ModelsPath, Cfg.UpstreamBaseURL, ""); err != nil {
		return fmt.Errorf("failed to bootstrap pricing catalog: %w", err)
	}

	mints := splitAndTrim(Cfg.CashuMints)
	wallet, err := cashu.NewGateway(mints)
	if err != nil {
		return fmt.Errorf("failed to initialize wallet gateway: %w", err)
	}

	l := ledger.New(keyRepo)
	auditPublisher := audit.NewPublisher(queue.NewStreamQueue(cache.Client))
	if err := auditPublisher.Declare(ctx); err != nil {
		logger.Warn("failed to declare audit consumer group", zap.Error(err))
	} else {
		l.SetAuditSink(auditPublisher)
	}

	machine := payment.New(l, catalog)
	resolver := auth.NewResolver(l, wallet)

	server := proxy.NewServer(resolver, machine, catalog, l, wallet, proxy.Config{
		UpstreamBaseURL: Cfg.UpstreamBaseURL,
		UpstreamAPIKey:  Cfg.UpstreamAPIKey,
		CORSOrigins:     splitAndTrim(Cfg.CORSOrigins),
		RefundCacheTTL:  time.Duration(Cfg.RefundCacheTTLSeconds) * time.Second,
		AdminPassword:   Cfg.AdminPassword,
	})

	go catalog.RefreshLoop(ctx, time.Duration(Cfg.PricingRefreshIntervalSeconds)*time.Second)

	httpServer := &http.Server{
		Addr:    ":8080",
		Handler: server.Routes(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sig:
		logger.Info("shutdown signal received")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
