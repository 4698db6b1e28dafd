package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/maxrios/mcs/internal/auth"
	"github.com/maxrios/mcs/internal/bus"
	"github.com/maxrios/mcs/internal/chat"
	"github.com/maxrios/mcs/internal/config"
	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/logging"
	"github.com/maxrios/mcs/internal/metrics"
	"github.com/maxrios/mcs/internal/node"
	"github.com/maxrios/mcs/internal/session"
	"github.com/maxrios/mcs/internal/store"
)

func main() {
	if len(os.Args) > 1 && runCLI(os.Args[1:]) {
		return
	}

	logging.Set(logging.New("text", slog.LevelInfo, os.Stderr))
	cfg := config.LoadServer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := directory.New(cfg.RedisURL)
	if err != nil {
		logging.L().Error("connect redis", "err", err)
		os.Exit(1)
	}
	defer dir.Close()

	st, err := store.Open(ctx, cfg.PostgresURL)
	if err != nil {
		logging.L().Error("connect postgres", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		logging.L().Error("load tls keypair", "err", err)
		os.Exit(1)
	}
	tlsConf := &tls.Config{Certificates: []tls.Certificate{cert}}

	b := bus.New()
	go func() {
		if err := dir.Subscribe(ctx, b.Publish); err != nil && ctx.Err() == nil {
			logging.L().Error("directory subscription ended", "err", err)
		}
	}()

	authSvc := auth.New(st, dir)
	chatSvc := chat.New(st, dir)
	engine := session.NewEngine(authSvc, chatSvc, b)

	selfAddr := net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))
	nodeSvc := node.New(dir, selfAddr)
	go nodeSvc.Run(ctx)

	metricsSrv := metrics.StartHTTP(net.JoinHostPort("", strconv.Itoa(cfg.MetricsPort)))
	defer metrics.Shutdown(context.Background(), metricsSrv)

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		logging.L().Error("listen", "addr", selfAddr, "err", err)
		os.Exit(1)
	}
	tlsLn := tls.NewListener(ln, tlsConf)
	defer tlsLn.Close()

	logging.L().Info("mcs-server listening", "addr", selfAddr)

	go func() {
		<-ctx.Done()
		tlsLn.Close()
	}()

	for {
		conn, err := tlsLn.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.L().Warn("accept failed", "err", err)
			continue
		}
		go engine.Serve(ctx, conn)
	}
}
