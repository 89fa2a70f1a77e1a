package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/archive"
	"github.com/food-bundles/food-bundles-bn-sub001/carts"
	"github.com/food-bundles/food-bundles-bn-sub001/controllers"
	"github.com/food-bundles/food-bundles-bn-sub001/events"
	"github.com/food-bundles/food-bundles-bn-sub001/idempotency"
	"github.com/food-bundles/food-bundles-bn-sub001/initializers"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/middlewares"
	"github.com/food-bundles/food-bundles-bn-sub001/notifications"
	"github.com/food-bundles/food-bundles-bn-sub001/orders"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/providers/flutterwave"
	"github.com/food-bundles/food-bundles-bn-sub001/providers/paypack"
	"github.com/food-bundles/food-bundles-bn-sub001/routes"
	"github.com/food-bundles/food-bundles-bn-sub001/subscriptions"
	"github.com/food-bundles/food-bundles-bn-sub001/utils"
	"github.com/food-bundles/food-bundles-bn-sub001/wallets"
	"github.com/food-bundles/food-bundles-bn-sub001/webhooks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	initializers.LoadEnv()
	configPath := os.Getenv("FB_CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := initializers.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg initializers.Config, logger *slog.Logger) error {
	if err := initializers.ConnectToDB(cfg); err != nil {
		return err
	}
	if err := initializers.SyncDatabase(); err != nil {
		return err
	}
	if err := initializers.ConnectToRedis(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	notifier, notifierClosers, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, notifierClosers...)

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	if c, ok := publisher.(io.Closer); ok {
		closers = append(closers, c)
	}

	db := initializers.DB
	walletSvc := wallets.NewService(db,
		wallets.WithEvents(publisher),
		wallets.WithNotifier(notifier),
		wallets.WithCurrency(cfg.Payments.Currency),
	)

	orderOpts := []orders.Option{
		orders.WithEvents(publisher),
		orders.WithNotifier(notifier),
		orders.WithWalletRefunder(walletSvc),
		orders.WithCurrency(cfg.Payments.Currency),
	}
	if cfg.Security.CardCipherKey != "" {
		cipher, err := utils.NewCardCipher(cfg.Security.CardCipherKey)
		if err != nil {
			return err
		}
		orderOpts = append(orderOpts, orders.WithCardCipher(cipher))
	}
	orderSvc := orders.NewService(db, orderOpts...)

	dispatcher := payments.NewDispatcher(db, orderSvc, buildProviders(cfg), walletSvc, payments.Config{
		Timeout:     cfg.Payments.Timeout,
		Currency:    cfg.Payments.Currency,
		RedirectURL: cfg.Flutterwave.RedirectURL,
	})
	walletSvc.SetCharger(dispatcher)

	subSvc := subscriptions.NewService(db, dispatcher,
		subscriptions.WithEvents(publisher),
		subscriptions.WithNotifier(notifier),
	)
	go subscriptions.NewJob(subSvc, cfg.Subscriptions.SweepInterval).Run(ctx)

	var archiver archive.Archiver = archive.Nop{}
	if cfg.Archive.Bucket != "" {
		s3, err := archive.NewS3Archiver(ctx, cfg.Archive.Bucket)
		if err != nil {
			return err
		}
		archiver = s3
	}

	reconciler := webhooks.NewReconciler(webhooks.Deps{
		DB:            db,
		Orders:        orderSvc,
		Wallets:       walletSvc,
		Subscriptions: subSvc,
		Verifier:      dispatcher,
		Archiver:      archiver,
		Signatures: map[string]webhooks.SignatureVerifier{
			flutterwave.Name: webhooks.FlutterwaveHash{Secret: cfg.Flutterwave.WebhookHash},
			paypack.Name:     webhooks.PaypackHMAC{Secret: cfg.Paypack.WebhookSecret},
		},
	})

	var store idempotency.Store = idempotency.Disabled{}
	if initializers.Redis != nil {
		store = idempotency.NewRedisStore(initializers.Redis, cfg.Idempotency.TTL)
		closers = append(closers, initializers.Redis)
	}

	controllers.Setup(controllers.Services{
		Carts:         carts.NewService(db),
		Orders:        orderSvc,
		Payments:      dispatcher,
		Wallets:       walletSvc,
		Subscriptions: subSvc,
		Webhooks:      reconciler,
		Idempotency:   store,
	})

	server := gin.New()
	server.Use(gin.Recovery(), middlewares.RequestLogger(logger), middlewares.Metrics())
	server.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CorsOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", controllers.IdempotencyHeader},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	routes.Register(server, middlewares.RequireAuth(cfg.Security.JWTSecret))

	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.App.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// buildProviders registers the adapters that have credentials. Paypack is
// tried first for mobile money with Flutterwave as the fallback.
func buildProviders(cfg initializers.Config) payments.Providers {
	p := payments.Providers{Verifiers: map[string]payments.Verifier{}}
	if cfg.Paypack.ClientID != "" {
		pp := paypack.New(paypack.Config{
			BaseURL:      cfg.Paypack.BaseURL,
			ClientID:     cfg.Paypack.ClientID,
			ClientSecret: cfg.Paypack.ClientSecret,
			Timeout:      cfg.Payments.Timeout,
		})
		p.MobileMoney = append(p.MobileMoney, pp)
		p.Verifiers[pp.Name()] = pp
	}
	if cfg.Flutterwave.SecretKey != "" {
		fw := flutterwave.New(flutterwave.Config{
			BaseURL:   cfg.Flutterwave.BaseURL,
			SecretKey: cfg.Flutterwave.SecretKey,
			Timeout:   cfg.Payments.Timeout,
		})
		p.MobileMoney = append(p.MobileMoney, fw)
		p.Card = fw
		p.BankTransfer = fw
		p.Verifiers[fw.Name()] = fw
	}
	return p
}

// buildNotifier sends through RabbitMQ when configured, with a consumer in
// this process draining the queue. Without a broker messages go straight to
// the senders.
func buildNotifier(cfg initializers.Config) (notifications.Notifier, []io.Closer, error) {
	senders := map[notifications.Channel]notifications.Sender{}
	if cfg.SMS.Token != "" {
		senders[notifications.ChannelSMS] = notifications.NewSMSSender(notifications.SMSConfig{
			BaseURL: cfg.SMS.BaseURL,
			Token:   cfg.SMS.Token,
			Sender:  cfg.SMS.Sender,
		})
	}
	if cfg.SMTP.Address != "" {
		senders[notifications.ChannelEmail] = notifications.NewEmailSender(notifications.SMTPConfig{
			Address:  cfg.SMTP.Address,
			Host:     cfg.SMTP.Host,
			From:     cfg.SMTP.From,
			Password: cfg.SMTP.Password,
		})
	}
	router := notifications.NewRouter(senders)
	if cfg.RabbitMQ.URL == "" {
		return router, nil, nil
	}

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, nil, err
	}
	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := notifications.DeclareTopology(pubCh, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	subCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := notifications.NewConsumer(subCh, cfg.RabbitMQ.Queue, router).Start(); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return notifications.NewRabbitPublisher(pubCh, cfg.RabbitMQ.Exchange), []io.Closer{conn}, nil
}
