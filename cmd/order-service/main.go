// @title                       Ordenes order & payment service
// @version                     1.0
// @description                 Checkout, payment instructions and gateway reconciliation.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	_ "github.com/MikeMC777/ordenes-pagos/docs"
	"github.com/MikeMC777/ordenes-pagos/internal/cache"
	"github.com/MikeMC777/ordenes-pagos/internal/cart"
	"github.com/MikeMC777/ordenes-pagos/internal/checkout"
	"github.com/MikeMC777/ordenes-pagos/internal/config"
	"github.com/MikeMC777/ordenes-pagos/internal/db"
	"github.com/MikeMC777/ordenes-pagos/internal/events"
	"github.com/MikeMC777/ordenes-pagos/internal/gateway"
	"github.com/MikeMC777/ordenes-pagos/internal/khqr"
	"github.com/MikeMC777/ordenes-pagos/internal/logging"
	"github.com/MikeMC777/ordenes-pagos/internal/memstore"
	"github.com/MikeMC777/ordenes-pagos/internal/notify"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
	"github.com/MikeMC777/ordenes-pagos/internal/product"
	"github.com/MikeMC777/ordenes-pagos/internal/reconcile"
)

const serviceName = "order-service"

var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Order checkout and payment reconciliation service",
		Version:      Version,
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), khqrCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log, err := logging.New(cfg.Env)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = log.Sync() }()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			cfg.Log(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

type repos struct {
	orders   order.Repository
	payments payment.Repository
	txs      payment.TransactionRepository
	carts    cart.Repository
	products product.Repository
}

func openRepos(ctx context.Context, cfg config.Config, log *zap.Logger) (repos, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN not set; using the in-memory ledger")
		st := memstore.New()
		return repos{st.Orders, st.Payments, st.Transactions, st.Carts, st.Products}, func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return repos{}, nil, err
	}
	return repos{
		orders:   order.NewPGRepo(pool),
		payments: payment.NewPGRepo(pool),
		txs:      payment.NewPGTransactionRepo(pool),
		carts:    cart.NewPGRepo(pool),
		products: product.NewPGRepo(pool),
	}, pool.Close, nil
}

func openCache(cfg config.Config, log *zap.Logger) (cache.Store, func()) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryStore(), func() {}
	}
	rs, err := cache.NewRedisStore(cfg.RedisAddr)
	if err != nil {
		log.Warn("redis unavailable; rate limits and replay marks are per-process", zap.Error(err))
		return cache.NewMemoryStore(), func() {}
	}
	return rs, func() { _ = rs.Close() }
}

func openSink(cfg config.Config, log *zap.Logger) (events.Sink, func()) {
	if cfg.AMQPURL == "" {
		return events.Discard{}, func() {}
	}
	s, err := events.DialAMQP(cfg.AMQPURL, "orders")
	if err != nil {
		log.Warn("amqp unavailable; domain events are dropped", zap.Error(err))
		return events.Discard{}, func() {}
	}
	return s, func() { _ = s.Close() }
}

func merchant(cfg config.Config) khqr.Merchant {
	return khqr.Merchant{
		Name:       cfg.KHQR.MerchantName,
		City:       cfg.KHQR.City,
		PostalCode: cfg.KHQR.PostalCode,
		Bank:       cfg.KHQR.Bank,
		MerchantID: cfg.KHQR.MerchantID,
		TerminalID: cfg.KHQR.TerminalID,
	}
}

func buildGateways(cfg config.Config, log *zap.Logger) *gateway.Registry {
	return gateway.NewRegistry(
		gateway.NewCashAdapter(),
		gateway.NewQRAdapter(gateway.QRConfig{
			Merchant:      merchant(cfg),
			WebhookSecret: cfg.KHQR.WebhookSecret,
			Production:    cfg.IsProduction(),
		}, log),
		gateway.NewCardAdapter(gateway.CardConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			ClientURL:     cfg.ClientURL,
		}, log),
	)
}

func buildNotifier(cfg config.Config, sink events.Sink, log *zap.Logger) *notify.Dispatcher {
	channels := []notify.Channel{notify.NewInApp(sink)}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Warn("telegram channel disabled", zap.Error(err))
		} else {
			channels = append(channels, tg)
		}
	}
	if cfg.SendGrid.APIKey != "" {
		channels = append(channels, notify.NewEmail(cfg.SendGrid.APIKey, cfg.SendGrid.From))
	}
	return notify.NewDispatcher(log, channels...)
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	rp, closeRepos, err := openRepos(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepos()
	kv, closeKV := openCache(cfg, log)
	defer closeKV()
	sink, closeSink := openSink(cfg, log)
	defer closeSink()

	gateways := buildGateways(cfg, log)
	co := checkout.New(checkout.Deps{
		Orders:          rp.orders,
		Payments:        rp.payments,
		Carts:           rp.carts,
		Products:        rp.products,
		Gateways:        gateways,
		Events:          sink,
		Log:             log,
		GatewayTimeout:  cfg.GatewayTimeout,
		DefaultCurrency: cfg.DefaultCurrency,
	})
	rc := reconcile.New(reconcile.Deps{
		Orders:                rp.orders,
		Payments:              rp.payments,
		Transactions:          rp.txs,
		Gateways:              gateways,
		Notifier:              buildNotifier(cfg, sink, log),
		Events:                sink,
		Cache:                 kv,
		Log:                   log,
		GatewayTimeout:        cfg.GatewayTimeout,
		ManualVerifyAdminOnly: cfg.ManualVerifyAdminOnly,
	})

	router := newRouter(&server{
		checkout:    co,
		reconcile:   rc,
		cache:       kv,
		log:         log,
		jwtSecret:   cfg.JWTSecret,
		rateMax:     cfg.RateLimit.Max,
		rateWindow:  cfg.RateLimit.Window,
		swaggerDocs: !cfg.IsProduction(),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	errc := make(chan error, 2)
	go func() {
		log.Info(serviceName+" grpc health listening", zap.String("addr", cfg.GRPCAddr))
		errc <- gs.Serve(lis)
	}()
	go func() {
		log.Info(serviceName+" listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		log.Error("server stopped", zap.Error(err))
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	gs.GracefulStop()
	log.Info(serviceName + " stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.PostgresDSN == "" {
				return errors.New("POSTGRES_DSN is required")
			}
			pool, err := db.Connect(cmd.Context(), cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			return runMigrate(cmd.Context(), pool)
		},
	}
}

func runMigrate(ctx context.Context, pool *pgxpool.Pool) error {
	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Println("schema applied")
	return nil
}

func khqrCmd() *cobra.Command {
	var (
		amount   string
		currency string
		orderID  string
		pngPath  string
	)
	cmd := &cobra.Command{
		Use:   "khqr",
		Short: "Print the KHQR payload for the configured merchant",
		Long: `Builds the same payload the qr-bank gateway hands to buyers, so a
merchant can scan it with a banking app before going live.

Examples:
  order-service khqr --amount 25.50 --currency USD
  order-service khqr --currency KHR --png static.png`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			req := khqr.Request{OrderID: orderID, Currency: currency, Merchant: merchant(cfg)}
			if amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("amount: %w", err)
				}
				req.Amount = &d
			}
			payload, err := khqr.Encode(req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, payload)
			fmt.Fprintln(out, khqr.DeepLink(payload))
			if pngPath != "" {
				png, err := khqr.PNG(payload, 300)
				if err != nil {
					return err
				}
				if err := os.WriteFile(pngPath, png, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote %s\n", pngPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount; omit for a static code")
	cmd.Flags().StringVar(&currency, "currency", "USD", "USD or KHR")
	cmd.Flags().StringVar(&orderID, "order", "", "order id to embed as the bill number")
	cmd.Flags().StringVar(&pngPath, "png", "", "also write the QR image to this file")
	return cmd
}
