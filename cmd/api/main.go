package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clmhub.io/internal/config"
	"clmhub.io/internal/grpcsvc"
	"clmhub.io/internal/httpapi"
	"clmhub.io/internal/obs"
	"clmhub.io/internal/store/memory"
	"clmhub.io/internal/store/pg"
	"clmhub.io/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := settings.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store httpapi.Store
	if settings.PGDSN != "" {
		pgStore, err := pg.Open(settings.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		obs.Warn("memory_store", map[string]any{"reason": "CLM_PG_DSN not set; data is lost on exit"})
		store = memory.New()
	}

	hub := stream.NewHub()
	var events stream.Publisher = hub
	if settings.RedisURL != "" {
		client, err := stream.OpenRedis(ctx, settings.RedisURL)
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer client.Close()
		relay := stream.NewRelay(hub, client)
		events = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				obs.Error("stream_relay_stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	deps, emitter, err := httpapi.NewDeps(store, settings, hub, events)
	if err != nil {
		log.Fatalf("wire services: %v", err)
	}
	deps.Version = version
	api := httpapi.New(deps)

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// no WriteTimeout: SSE and WebSocket responses stay open
		IdleTimeout: 60 * time.Second,
	}

	health := grpcsvc.NewHealth(deps.Probe)
	go health.Run(ctx, 5*time.Second)
	if settings.GRPCAddr != "" {
		lis, err := net.Listen("tcp", settings.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go func() {
			if err := grpcsvc.Serve(ctx, lis, health); err != nil {
				obs.Error("grpc_serve_failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	obs.Info("server_starting", map[string]any{
		"version": version,
		"http":    settings.HTTPAddr,
		"grpc":    settings.GRPCAddr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("server_stopping", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	emitter.Wait()
	obs.Info("server_stopped", nil)
}
