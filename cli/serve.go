package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fulfillment-service/catalog"
	"fulfillment-service/config"
	"fulfillment-service/consumers"
	"fulfillment-service/controllers"
	"fulfillment-service/fulfillment"
	"fulfillment-service/middlewares"
	"fulfillment-service/orchestrator"
	"fulfillment-service/repository"
	"fulfillment-service/stripe"
	"fulfillment-service/webhook"
)

const (
	catalogRetryBackoff = 500 * time.Millisecond
	shutdownTimeout     = 10 * time.Second
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and resubmission consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply database migrations before serving")

	return cmd
}

func runServe(parent context.Context, cfg *config.Config, migrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.LogLevel, os.Stdout)

	// 初始化数据库
	db, err := openDatabase(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer db.Close()
	store := repository.NewMySQLGateway(db)

	// 初始化RabbitMQ
	rmq, err := connectRabbitMQ(cfg)
	if err != nil {
		return err
	}
	defer rmq.Close()

	// 组装业务组件
	submitter := fulfillment.NewSubmitter(store, printfulClient(cfg, cfg.FulfillmentAPIKey), rmq, logger)
	orch := orchestrator.New(store, submitter, rmq, logger)
	syncer := catalog.NewSynchronizer(printfulClient(cfg, cfg.CatalogAPIKey), store, logger,
		cfg.CatalogDetailAttempts, catalogRetryBackoff)

	// 启动消息消费者
	if err := consumers.StartFulfillmentConsumer(ctx, rmq.Channel, cfg, submitter, logger); err != nil {
		return err
	}

	// 创建Gin路由
	router := controllers.Router{
		Webhook:   controllers.NewWebhookController(webhook.NewVerifier(cfg.WebhookSecret, cfg.ReplayTolerance()), orch, cfg.MaxWebhookPayloadBytes, logger),
		Checkout:  controllers.NewCheckoutController(store, stripe.NewClient(cfg.StripeBaseURL, cfg.StripeSecretKey, cfg.HTTPClientTimeout), cfg.Currency, logger),
		Orders:    controllers.NewOrderController(store, submitter, rmq, logger),
		Catalog:   controllers.NewCatalogController(store, syncer, logger),
		JWTSecret: cfg.JWTSecret,
		Limiter:   middlewares.NewIPRateLimiter(cfg.CheckoutRatePerSecond, 10),
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 定时同步商品目录
	if cfg.CatalogSyncInterval > 0 {
		go runCatalogSchedule(ctx, syncer, cfg.CatalogSyncInterval, logger)
	}

	// 启动服务器
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("fulfillment service starting", "addr", cfg.HTTPAddr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// 优雅关闭
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type catalogSyncer interface {
	Sync(ctx context.Context) (catalog.Result, error)
}

// runCatalogSchedule 启动时同步一次, 之后每隔 interval 同步
func runCatalogSchedule(ctx context.Context, syncer catalogSyncer, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := syncer.Sync(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduled catalog sync failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
