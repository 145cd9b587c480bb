package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fulfillment-service/catalog"
	"fulfillment-service/config"
	"fulfillment-service/database"
	"fulfillment-service/fulfillment"
	"fulfillment-service/repository"
	"fulfillment-service/utils"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			db, err := database.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func syncCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-catalog",
		Short: "Pull the provider catalog into local products once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if cfg.CatalogAPIKey == "" {
				return errors.New("PRINTFUL_CATALOG_API_KEY is not set")
			}
			logger := newLogger(cfg.LogLevel, os.Stderr)

			db, err := openDatabase(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer db.Close()

			syncer := catalog.NewSynchronizer(printfulClient(cfg, cfg.CatalogAPIKey), repository.NewMySQLGateway(db),
				logger, cfg.CatalogDetailAttempts, catalogRetryBackoff)
			res, err := syncer.Sync(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func submitCmd() *cobra.Command {
	var release bool

	cmd := &cobra.Command{
		Use:   "submit <order-id>",
		Short: "Resubmit a failed fulfillment",
		Long: `Resubmit an order whose fulfillment failed.

Orders left in payment_succeeded by a crash can be released first:
  fulfillment-service submit 6f1c... --release`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if cfg.FulfillmentAPIKey == "" {
				return errors.New("PRINTFUL_FULFILLMENT_API_KEY is not set")
			}
			logger := newLogger(cfg.LogLevel, os.Stderr)

			db, err := openDatabase(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer db.Close()

			var alerts fulfillment.AlertPublisher
			if rmq, err := connectRabbitMQ(cfg); err != nil {
				logger.Warn("rabbitmq unavailable, alerts will only be logged", "error", err)
			} else {
				defer rmq.Close()
				alerts = rmq
			}

			submitter := fulfillment.NewSubmitter(repository.NewMySQLGateway(db),
				printfulClient(cfg, cfg.FulfillmentAPIKey), alerts, logger)
			if release {
				if err := submitter.Release(cmd.Context(), args[0], "released from cli"); err != nil {
					return err
				}
			}
			res, err := submitter.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().BoolVar(&release, "release", false, "move a payment_succeeded order to fulfillment_failed before submitting")

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			token, err := utils.IssueToken(subject, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "operator name recorded on requests")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
