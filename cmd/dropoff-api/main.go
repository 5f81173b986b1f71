// README: Entry point; loads config, wires services, starts HTTP server and background workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropoff/internal/config"
	httptransport "dropoff/internal/http"
	"dropoff/internal/infra"
	"dropoff/internal/logging"
	"dropoff/internal/modules/incentive"
	"dropoff/internal/modules/location"
	"dropoff/internal/modules/matching"
	"dropoff/internal/modules/order"
	"dropoff/internal/modules/pricing"
	"dropoff/internal/modules/rider"
	"dropoff/internal/notify"
)

func main() {
	cfg, err := config.Load(os.Getenv("DROPOFF_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("dropoff-api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	var (
		orderRepo order.Repository = order.NewMemoryStore()
		riderRepo rider.Repository = rider.NewMemoryStore()
	)
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN, infra.DBOptions{MaxConns: cfg.DB.MaxConns})
		if err != nil {
			return err
		}
		defer pool.Close()
		orderRepo = order.NewStore(pool)
		riderRepo = rider.NewStore(pool)
	} else {
		log.Warn("no database configured, using in-memory stores")
	}

	hub := notify.NewHub(log.Named("ws"), cfg.Notify.AllowedOrigins...)
	defer hub.Close()
	sinks := []notify.Sink{hub}

	var (
		index  matching.Index = matching.NewMemoryIndex()
		locker order.Locker
	)
	if cfg.Redis.Addr != "" {
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return err
		}
		defer client.Close()
		index = matching.NewStore(client)
		locker = infra.NewRedisLocker(client)
		sinks = append(sinks, notify.NewRedisSink(client, cfg.Redis.ChannelPrefix))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		k := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer k.Close()
		sinks = append(sinks, k)
	}
	if cfg.AMQP.URL != "" {
		a, err := notify.NewAMQPSink(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer a.Close()
		sinks = append(sinks, a)
	}

	var verifier infra.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
		if cfg.Auth.Enabled {
			if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
				return err
			}
		}
		if cfg.Firebase.Push {
			msg, err := infra.NewMessaging(ctx, app)
			if err != nil {
				return err
			}
			sinks = append(sinks, notify.NewFCMSink(msg))
		}
		if cfg.Firebase.DatabaseURL != "" {
			rtdb, err := infra.NewRealtimeDB(ctx, app)
			if err != nil {
				return err
			}
			sinks = append(sinks, notify.NewRTDBSink(rtdb, cfg.Firebase.LiveRoot))
		}
	}

	dispatcher := notify.NewDispatcher(cfg.Notify.QueueSize, log.Named("notify"), sinks...)

	eta, err := location.NewETAService(cfg.Maps.APIKey, cfg.Maps.Region, cfg.Maps.AverageSpeedKmh)
	if err != nil {
		return err
	}
	engine, err := incentive.NewEngine(cfg.Incentives)
	if err != nil {
		return err
	}

	riderSvc := rider.NewService(riderRepo, index, nil, log.Named("rider"))
	incentiveSvc := incentive.NewService(riderRepo, engine, nil, log.Named("incentive"))
	orderSvc := order.NewService(order.Deps{
		Repo:         orderRepo,
		Pricing:      pricing.NewService(cfg.Fees),
		Riders:       riderSvc,
		Incentives:   incentiveSvc,
		Notifier:     dispatcher,
		ETA:          eta,
		Log:          log.Named("order"),
		Hub:          cfg.Hub,
		MaxUnpaidAge: cfg.Cleanup.MaxAge,
	})
	matchingSvc := matching.NewService(index, riderSvc, cfg.Matching, log.Named("matching"))

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Order:      orderSvc,
		Matching:   matchingSvc,
		Rider:      riderSvc,
		Incentives: incentiveSvc,
		Hub:        hub,
		Verifier:   verifier,
		Log:        log.Named("http"),
	})
	server := httptransport.NewServer(httptransport.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, router, log.Named("http"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})
	if cfg.Cleanup.Enabled {
		sweeper := order.NewSweeper(orderSvc, cfg.Cleanup.SweepConfig(), locker, log.Named("cleanup"))
		g.Go(func() error {
			sweeper.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return server.Run(ctx)
	})
	return g.Wait()
}
