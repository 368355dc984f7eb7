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

	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/nasopt/dynas/internal/nasd"
	"github.com/nasopt/dynas/pkg/logger"
)

func main() {
	var (
		grpcAddr        string
		httpAddr        string
		logLevel        string
		logFormat       string
		spoolDir        string
		jwtSecret       string
		shutdownTimeout time.Duration
	)

	flag.StringVar(&grpcAddr, "grpc-addr", ":50051", "gRPC listen address")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flag.StringVar(&spoolDir, "spool-dir", "", "directory watched for search configurations to submit")
	flag.StringVar(&jwtSecret, "jwt-secret", os.Getenv("NASD_JWT_SECRET"), "HS256 secret required on HTTP requests (default $NASD_JWT_SECRET, empty disables auth)")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for running searches to stop")
	flag.Parse()

	logger.SetDefault(logger.FromFormat(logFormat, logLevel, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor := nasd.NewExecutor(nasd.NewSearchStore(), nasd.ExecutorOptions{})

	grpcServer := grpc.NewServer()
	nasd.RegisterSearchServiceServer(grpcServer, nasd.NewSearchGRPCServer(executor))

	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", grpcAddr, "error", err)
		os.Exit(1)
	}

	if jwtSecret == "" {
		logger.Warn("HTTP API is unauthenticated; set --jwt-secret to require tokens")
	}
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           nasd.RequireToken([]byte(jwtSecret), nasd.NewHTTPServer(executor).Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("gRPC server listening", "addr", grpcAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	if spoolDir != "" {
		go func() {
			if err := nasd.NewSpool(spoolDir, executor).Run(ctx); err != nil {
				logger.Error("spool stopped", "dir", spoolDir, "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// searches first, so event streams see a terminal status and close
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Error("searches did not stop in time", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	grpcServer.GracefulStop()
}
