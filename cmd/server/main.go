// server runs the BridgeService gRPC API with standard health, plus a side listener for
// /metrics and /healthz.
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

	"github.com/sirupsen/logrus"

	"lms-bridge/internal/app"
	"lms-bridge/internal/config"
	"lms-bridge/internal/health"
	"lms-bridge/internal/logging"
	"lms-bridge/internal/server"
	"lms-bridge/internal/telemetry"
)

const healthInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	svc, policy, err := a.BuildBridge(ctx)
	if err != nil {
		a.Close(context.Background())
		log.WithError(err).Fatal("bridge setup failed")
	}
	tokens, err := app.NewTokenProvider(cfg)
	if err != nil {
		a.Close(context.Background())
		log.WithError(err).Fatal("access token verifier")
	}

	grpcServer, healthServer := server.NewGRPCServer(server.Deps{
		Bridge:  svc,
		Tokens:  tokens,
		Audit:   a.Audit,
		Events:  a.Events,
		Tracing: cfg.OTLPEndpoint != "",
		Logger:  log,
	})
	checker := health.NewChecker(a.DB, policy, log)
	go checker.Watch(ctx, healthServer, healthInterval)

	var side *http.Server
	if cfg.MetricsAddr != "" {
		side = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           server.NewSideRouter(a.Metrics.Handler(), checker),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.WithField("addr", cfg.MetricsAddr).Info("metrics listener started")
			if err := side.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics listener failed")
			}
		}()
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		a.Close(context.Background())
		log.WithError(err).Fatal("listen")
	}
	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("serve")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	healthServer.Shutdown()
	grpcServer.GracefulStop()
	if side != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = side.Shutdown(shutdownCtx)
		cancel()
	}
	// Let in-flight async event emits finish before the providers go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Close(closeCtx)
	log.Info("server stopped")
}
