package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"secscan.app/internal/accounts"
	"secscan.app/internal/affiliate"
	"secscan.app/internal/auth"
	"secscan.app/internal/checkout"
	"secscan.app/internal/config"
	"secscan.app/internal/httpapi"
	"secscan.app/internal/migrate"
	"secscan.app/internal/obs"
	"secscan.app/internal/payment"
	"secscan.app/internal/recovery"
	"secscan.app/internal/store"
	"secscan.app/internal/store/pg"
	"secscan.app/internal/stream"
	"secscan.app/internal/validate"
	"secscan.app/internal/webhook"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	log := obs.Logger()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, closeStore, err := openStore(ctx, cfg, log)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer closeStore()

	dedup, closeDedup := openDedup(cfg, log)
	defer closeDedup()

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL, auth.WithIssuerName(cfg.Auth.Issuer))
	if err != nil {
		log.WithError(err).Fatal("configure token issuer (set SECSCAN_AUTH_SECRET)")
	}

	v := validate.New()
	processor := payment.NewMercadoPago(cfg.MercadoPago.AccessToken, cfg.MercadoPago.PublicKey, cfg.MercadoPago.Timeout,
		payment.WithBaseURL(cfg.MercadoPago.BaseURL))
	if cfg.MercadoPago.AccessToken == "" {
		log.Warn("MERCADO_PAGO_ACCESS_TOKEN is not set; payment calls will fail")
	}
	notifier := webhook.NewNotifier(webhook.Endpoints{
		PaymentConfirmed: cfg.Webhooks.PaymentConfirmed,
		PaymentExpired:   cfg.Webhooks.PaymentExpired,
		RecoveryCode:     cfg.Webhooks.RecoveryCode,
	}, cfg.Webhooks.Timeout, dedup)

	affiliates := affiliate.NewService(st, processor, v)
	accts := accounts.NewService(st, issuer, v)
	if err := accts.EnsureAdmin(context.Background(), cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.WithError(err).Fatal("bootstrap admin")
	}

	events := stream.New()
	probe := httpapi.ReadyProbe{Store: st}
	api := httpapi.New(probe, version, httpapi.Deps{
		Store:      st,
		Payments:   processor,
		Checkout:   checkout.NewService(st, processor, affiliates, notifier, v, checkout.WithEvents(events)),
		Affiliates: affiliates,
		Accounts:   accts,
		Recovery:   recovery.NewService(st, notifier, cfg.Recovery.CodeTTL, cfg.Recovery.MaxAttempts),
		Issuer:     issuer,
		Events:     events,
	},
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSec),
		httpapi.WithTrustedProxies(cfg.HTTP.TrustedProxies),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	httpapi.NewGRPCServer(probe).Register(grpcServer)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("listen grpc")
	}

	log.WithFields(logrus.Fields{"version": version, "http": cfg.HTTPAddr, "grpc": cfg.GRPCAddr}).Info("starting secscan-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen http")
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Fatal("serve grpc")
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down")
	obs.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	log.Info("stopped")
}

// openStore connects to PostgreSQL when a DSN is configured and falls back
// to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (store.Store, func(), error) {
	if cfg.PGDSN == "" {
		log.Warn("SECSCAN_PG_DSN is not set; using in-memory store")
		return store.NewInMemory(), func() {}, nil
	}
	pgs, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pgs.Ping(ctx); err != nil {
		_ = pgs.Close()
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		migrations, seeds := migrate.Embedded()
		mgr := migrate.NewManager(pgs.DB(), migrations, seeds)
		if err := mgr.Up(ctx); err != nil {
			_ = pgs.Close()
			return nil, nil, err
		}
		if err := mgr.Seed(ctx); err != nil {
			_ = pgs.Close()
			return nil, nil, err
		}
		log.Info("migrations applied")
	}
	return pgs, func() { _ = pgs.Close() }, nil
}

// openDedup shares webhook dedup state through Redis when configured.
func openDedup(cfg *config.Config, log *logrus.Logger) (webhook.Dedup, func()) {
	if cfg.RedisAddr == "" {
		return webhook.NewMemoryDedup(cfg.Webhooks.DedupTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable; webhook dedup is process-local")
		_ = client.Close()
		return webhook.NewMemoryDedup(cfg.Webhooks.DedupTTL), func() {}
	}
	return webhook.NewRedisDedup(client, cfg.Webhooks.DedupTTL), func() { _ = client.Close() }
}
