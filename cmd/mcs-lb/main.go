package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/maxrios/mcs/internal/config"
	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/lb"
	"github.com/maxrios/mcs/internal/logging"
	"github.com/maxrios/mcs/internal/metrics"
)

func main() {
	logging.Set(logging.New("text", slog.LevelInfo, os.Stderr))
	cfg := config.LoadLB()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := directory.New(cfg.RedisURL)
	if err != nil {
		logging.L().Error("connect redis", "err", err)
		os.Exit(1)
	}
	defer dir.Close()

	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		logging.L().Error("load tls keypair", "err", err)
		os.Exit(1)
	}
	tlsConf := &tls.Config{Certificates: []tls.Certificate{cert}}

	balancer := lb.New(dir, tlsConf, cfg.PerIPConnPerSec, cfg.PerIPBandwidthBps, cfg.PerIPBurstBytes)

	go balancer.RunDiscovery(ctx)
	go balancer.RunHealthChecks(ctx)
	go balancer.RunQuotaCleanup(ctx)

	metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
	defer metrics.Shutdown(context.Background(), metricsSrv)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logging.L().Error("listen", "addr", cfg.ListenAddr, "err", err)
		os.Exit(1)
	}

	logging.L().Info("mcs-lb listening", "addr", cfg.ListenAddr)
	if err := balancer.Serve(ctx, ln); err != nil {
		logging.L().Error("serve", "err", err)
		os.Exit(1)
	}
}
