package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/osgeonepal/obe/internal/app"
	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/server"
	"github.com/osgeonepal/obe/internal/logger"
	"github.com/osgeonepal/obe/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	_ = godotenv.Load(".env")

	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "obe-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	opts := server.Options{}
	if cfg.Metrics.Enabled {
		p, err := metrics.New(metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		})
		if err != nil {
			appLog.Error("metrics setup failed", "err", err)
			return 1
		}
		opts.Metrics = p.Handler()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("service setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("shutdown", "err", err)
		}
	}()
	opts.Ready = a.Ready

	appLog.Info("starting obe-server", "addr", cfg.Addr, "version", Version)
	if err := server.Run(ctx, cfg, appLog, a.Service, opts); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
