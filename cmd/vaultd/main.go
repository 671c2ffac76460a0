package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/opencustody/assetvault/internal/amm"
	"github.com/opencustody/assetvault/internal/assets"
	"github.com/opencustody/assetvault/internal/config"
	"github.com/opencustody/assetvault/internal/gateway"
	"github.com/opencustody/assetvault/internal/pricing"
	"github.com/opencustody/assetvault/internal/rbac"
	"github.com/opencustody/assetvault/internal/vault"
	"github.com/opencustody/assetvault/internal/venue"
	"github.com/opencustody/assetvault/pkg/messaging"
	"github.com/opencustody/assetvault/pkg/metrics"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	venueClient := venue.NewClient(cfg.VenueURL, cfg.WrappedNative)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	feed := pricing.NewRedisFeed(rdb, "feed:")

	converter := amm.NewConverter(venueClient, venueClient, cfg.BaseAsset, cfg.NativeAsset)
	valuer := pricing.NewProvider(feed, converter)

	registry := assets.NewRegistry(assets.Asset{
		ID:       cfg.BaseAsset,
		Decimals: 0,
		Source:   assets.ValuationSource{Kind: assets.SourceOracle, Ref: cfg.BaseAssetFeedRef},
	}, valuer, venueClient)

	limits, err := vault.NewLimits(cfg.Capacity, cfg.WithdrawalLimit)
	if err != nil {
		log.Fatalf("limits: %v", err)
	}

	var journal vault.Journal = vault.NopJournal{}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		pg := vault.NewPostgresJournal(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("journal schema: %v", err)
		}
		journal = pg
	}

	sinks := messaging.Fanout{}
	if cfg.NATSURL != "" {
		natsClient, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATSURL,
			Name:           "vaultd",
			ReconnectWait:  time.Second,
			MaxReconnects:  10,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer natsClient.Close()
		sinks = append(sinks, natsClient)
	}

	hub := gateway.NewHub()
	sinks = append(sinks, hub)

	var recorder *metrics.Recorder
	if cfg.InfluxURL != "" {
		recorder = metrics.NewRecorder(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		defer recorder.Close()
	}

	svc := vault.NewService(vault.Config{
		Registry:   registry,
		Ledger:     vault.NewLedger(),
		Limits:     limits,
		Roles:      rbac.NewRegistry(cfg.RootAdmin),
		Valuer:     valuer,
		Transferor: venueClient,
		Sink:       sinks,
		Journal:    journal,
		Metrics:    recorder,
	})

	gw := gateway.New(gateway.Config{
		JWTSecret:       cfg.JWTSecret,
		RateLimitWindow: cfg.RateLimitWindow,
		RateLimitMax:    cfg.RateLimitMax,
	}, svc, hub)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: gw.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("vaultd listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("vaultd: %v", err)
	}
	log.Println("vaultd stopped")
}
