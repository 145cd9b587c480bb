// Package cli 服务的 cobra 命令
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fulfillment-service/config"
	"fulfillment-service/database"
	"fulfillment-service/printful"
	"fulfillment-service/rabbitmq"
)

var Version = "dev"

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fulfillment-service",
		Short:         "Turns confirmed payments into fulfillment orders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCatalogCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func openDatabase(ctx context.Context, cfg *config.Config, migrate bool) (*sql.DB, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func printfulClient(cfg *config.Config, apiKey string) *printful.Client {
	return printful.NewClient(cfg.PrintfulBaseURL, apiKey,
		printful.WithTimeout(cfg.HTTPClientTimeout),
		printful.WithRateLimit(cfg.PrintfulRatePerSecond),
		printful.WithConfirm(cfg.FulfillmentConfirm),
	)
}

// connectRabbitMQ 连接 RabbitMQ 并声明队列和交换机
func connectRabbitMQ(cfg *config.Config) (*rabbitmq.RabbitMQ, error) {
	rmq, err := rabbitmq.NewRabbitMQ(cfg)
	if err != nil {
		return nil, err
	}
	if err := rmq.SetupQueues(); err != nil {
		rmq.Close()
		return nil, fmt.Errorf("setup rabbitmq queues: %w", err)
	}
	return rmq, nil
}
