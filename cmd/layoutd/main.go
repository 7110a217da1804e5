package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/g960059/layoutsync/internal/config"
	"github.com/g960059/layoutsync/internal/gateway"
	"github.com/g960059/layoutsync/internal/layout"
	"github.com/g960059/layoutsync/internal/logging"
	"github.com/g960059/layoutsync/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("LAYOUT_CONFIG"), "YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	adapter := flag.String("persist", "", "persistence adapter: log or relational (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *adapter != "" {
		parsed, err := config.ParseAdapter(*adapter)
		if err != nil {
			fatal(err)
		}
		cfg.Persist.Adapter = parsed
	}

	base := logging.New(cfg.LogLevel, logging.ParseFormat(cfg.LogFormat))
	defer base.Sync() //nolint:errcheck
	logger := base.Sugar()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := gateway.OpenAdapter(cfg.Persist, logger)
	if err != nil {
		fatal(err)
	}
	gw := gateway.New(store, logger, gateway.WithTimeout(cfg.Persist.OpTimeout))

	svc := layout.NewService(gw, logger)
	svc.Restore(ctx)

	srv := server.NewServer(cfg, svc, gw, logger)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "layoutd: %v\n", err)
	os.Exit(1)
}
