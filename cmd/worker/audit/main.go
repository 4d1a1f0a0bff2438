// Command audit drains the ledger_mutations Redis stream internal/audit
// publishes to and logs each entry, giving operators a replayable record
// of every balance/reserved change outside the database itself.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"routstr/config"
	"routstr/internal/audit"
	"routstr/pkg/cache"
	"routstr/pkg/logger"
	streams "routstr/pkg/queue"

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

	queue := streams.NewStreamQueue(cache.Client)
	consumerName := fmt.Sprintf("audit-worker-%d", time.Now().Unix())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queue.DeclareStream(ctx, audit.StreamName, audit.GroupName); err != nil {
		return fmt.Errorf("failed to declare the consumer group: %w", err)
	}

	go func() {
		err := queue.Consume(ctx, audit.StreamName, audit.GroupName, consumerName,
			func(messageID string, data []byte) error {
				return logMutation(messageID, data)
			})
		if err != nil && err != context.Canceled {
			logger.Error("consumer error", zap.Error(err))
		}
	}()

	logger.Info("audit worker running, waiting for ledger mutations",
		zap.String("stream", audit.StreamName),
		zap.String("group", audit.GroupName),
		zap.String("consumer", consumerName),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(3 * time.Second)
	logger.Info("audit worker shut down gracefully")
	return nil
}

// ledgerMutationEvent mirrors internal/audit's unexported event wire shape.
type ledgerMutationEvent struct {
	HashedKey string `json:"hashed_key"`
	Op        string `json:"op"`
	Msats     int64  `json:"msats"`
	At        int64  `json:"at"`
}

func logMutation(messageID string, data []byte) error {
	var evt ledgerMutationEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		logger.Error("malformed ledger mutation, skipping", zap.String("messageID", messageID), zap.Error(err))
		return nil
	}
	logger.Info("ledger mutation",
		zap.String("messageID", messageID),
		zap.String("hashed_key", evt.HashedKey),
		zap.String("op", evt.Op),
		zap.Int64("msats", evt.Msats),
		zap.Int64("at", evt.At),
	)
	return nil
}
