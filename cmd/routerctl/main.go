package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/routerctl/internal/audit"
	"github.com/HerbHall/routerctl/internal/auth"
	"github.com/HerbHall/routerctl/internal/config"
	"github.com/HerbHall/routerctl/internal/ident"
	"github.com/HerbHall/routerctl/internal/netstate"
	"github.com/HerbHall/routerctl/internal/server"
	"github.com/HerbHall/routerctl/internal/version"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("routerctl starting", zap.String("version", version.Short()))

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	passwordHash := cfg.GetString("auth.password_hash")
	if passwordHash == "" {
		logger.Fatal("auth.password_hash is not configured")
	}

	// Kernel-facing managers; both need netlink sockets.
	routeMgr, err := netstate.NewRouteManager(logger)
	if err != nil {
		logger.Fatal("failed to open rtnetlink", zap.Error(err))
	}
	defer routeMgr.Close()

	wiphyMgr, err := netstate.NewWiphyManager(logger)
	if err != nil {
		logger.Fatal("failed to open nl80211", zap.Error(err))
	}
	defer wiphyMgr.Close()

	network := netstate.NewService(routeMgr, wiphyMgr, logger)
	resolver := ident.NewResolver(routeMgr, logger)

	sessions, err := auth.NewService(
		passwordHash,
		cfg.GetDuration("auth.session_ttl"),
		cfg.GetDuration("auth.cooldown"),
		logger,
	)
	if err != nil {
		logger.Fatal("failed to initialize auth", zap.Error(err))
	}

	trail, err := audit.Open(cfg.GetString("audit.path"), logger)
	if err != nil {
		logger.Fatal("failed to open audit store", zap.Error(err))
	}
	defer trail.Close()

	addr := fmt.Sprintf("%s:%d", cfg.GetString("server.host"), cfg.GetInt("server.port"))
	srv := server.New(addr, network, sessions, resolver, trail, logger)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("routerctl ready", zap.String("addr", addr))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("routerctl stopped")
}
