package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"lexflow.io/internal/audit"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/blob"
	"lexflow.io/internal/casefile"
	"lexflow.io/internal/cases"
	"lexflow.io/internal/clients"
	"lexflow.io/internal/config"
	"lexflow.io/internal/httpapi"
	"lexflow.io/internal/migrate"
	"lexflow.io/internal/notify"
	"lexflow.io/internal/obs"
	"lexflow.io/internal/search"
	"lexflow.io/internal/security"
	"lexflow.io/internal/session"
	"lexflow.io/internal/store/pg"
	"lexflow.io/internal/stream"
	"lexflow.io/internal/tenant"
	"lexflow.io/internal/workflow"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Error("lexflow-api stopped", err, nil)
		os.Exit(1)
	}
	obs.Info("lexflow-api stopped", nil)
}

func run(ctx context.Context, cfg config.Config) error {
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := pg.Open(startCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if pending, err := migrate.NewDirManager(store.DB(), cfg.MigrationsDir, "").Pending(startCtx); err != nil {
		obs.Warn("migration status unavailable", map[string]any{"error": err.Error()})
	} else if len(pending) > 0 {
		obs.Warn("database has pending migrations", map[string]any{"pending": pending})
	}

	settings := security.Load(startCtx, store)
	if cfg.MaxBodyBytes > 0 && settings.MaxBodyBytes > cfg.MaxBodyBytes {
		settings.MaxBodyBytes = cfg.MaxBodyBytes
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL, settings.SessionTimeout)
	if err != nil {
		return err
	}
	defer sessions.Close()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, auth.WithAudience(cfg.JWTAudience))
	if err != nil {
		return err
	}
	gate := auth.NewGate(auth.NewResolver(store))
	guard := audit.NewGuard(gate, audit.NewWriter(store, gate))

	hub := stream.New()
	events := notify.Multi{hub}
	if cfg.AMQPURL != "" {
		mq, err := notify.NewRabbitMQ(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer mq.Close()
		events = append(events, mq)
	}

	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliKey)
	}
	index := search.NewService(meili, search.NewPgFallback(store.DB()))
	defer index.Close()

	ready := httpapi.Readiness{
		{Name: "postgres", Check: store.Ping},
		{Name: "redis", Check: sessions.Ping},
	}

	var blobs casefile.Blobs
	if cfg.MinioEndpoint != "" {
		bs, err := blob.New(startCtx, blob.Options{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.MinioBucket,
			UseSSL:     cfg.MinioUseSSL,
			PresignTTL: cfg.PresignTTL,
		})
		if err != nil {
			return err
		}
		blobs = bs
		ready = append(ready, httpapi.Probe{Name: "minio", Check: bs.Ping})
	}

	tenantOpts := []tenant.Option{tenant.WithEvents(events)}
	if cfg.DemoOrgID != "" {
		tenantOpts = append(tenantOpts, tenant.WithDemoOrg(cfg.DemoOrgID))
	}
	caseSvc := cases.NewService(store, guard, index)

	api := httpapi.New(httpapi.Deps{
		Verifier: verifier,
		Gate:     gate,
		Tenant:   tenant.NewService(store, sessions, store, guard, tenantOpts...),
		Cases:    caseSvc,
		Stages:   workflow.NewService(store, caseSvc.Access(), guard, events),
		Clients:  clients.NewService(store, store, guard, events, cfg.DefaultPassword),
		Files:    casefile.NewService(store, blobs, caseSvc.Access(), guard, events),
		Audit:    guard,
		Events:   hub,
		Scopes:   caseSvc.Access(),
		Ready:    ready,
	}, httpapi.Options{
		Version:        version,
		Security:       settings,
		AllowedOrigins: []string{cfg.PublicAppURL},
		SecureCookies:  strings.HasPrefix(cfg.PublicAppURL, "https://"),
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(ready, 10*time.Second)
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.Info("http listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		obs.Info("grpc listening", map[string]any{"addr": cfg.GRPCAddr})
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		obs.Info("shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
