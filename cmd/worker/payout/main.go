// Command payout runs the periodic treasury sweep (spec §4.H) as its own
// process: it never touches an inbound request, so it has no business
// sharing a binary with the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"routstr/config"
	"routstr/internal/cashu"
	"routstr/internal/database"
	"routstr/internal/ledger"
	"routstr/internal/refund"
	"routstr/pkg/cache"
	"routstr/pkg/logger"

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
	configPath := config.Path(root).Join("config.toml")

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

	keyRepo := database.NewKeyRepository(db)
	l := ledger.New(keyRepo)

	wallet, err := cashu.NewGateway(splitAndTrim(Cfg.CashuMints))
	if err != nil {
		return fmt.Errorf("failed to initialize wallet gateway: %w", err)
	}

	worker := refund.NewWorker(wallet, l, refund.Config{
		ReceiveLNAddress: Cfg.ReceiveLNAddress,
		DevLNAddress:     Cfg.PayoutDevLNAddress,
		DevShareParts:    Cfg.PayoutDevShareParts,
		ThresholdSats:    Cfg.PayoutThresholdSats,
		Interval:         time.Duration(Cfg.PayoutIntervalSeconds) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if Cfg.ReceiveLNAddress == "" {
		logger.Warn("RECEIVE_LN_ADDRESS is unset, payout worker has nothing to do")
	}

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutdown signal received")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("payout worker did not exit cleanly before shutdown timeout")
	}
	return nil
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
