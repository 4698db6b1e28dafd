package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maxrios/mcs/internal/config"
	"github.com/maxrios/mcs/internal/store"
)

// version is stamped at build time via -ldflags, defaulting to "dev".
var version = "dev"

// runCLI handles subcommand execution. Returns true if a subcommand was
// handled, mirroring the teacher's subcommand-dispatch-before-flag-parse
// convention.
func runCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "version":
		fmt.Printf("mcs-server %s\n", version)
		return true
	case "status":
		cliStatus()
		return true
	default:
		return false
	}
}

// cliStatus prints the configured directory/store endpoints and probes
// whether each is currently reachable.
func cliStatus() {
	cfg := config.LoadServer()
	fmt.Printf("mcs-server %s\n", version)
	fmt.Printf("listen:   %s\n", net.JoinHostPort(cfg.Hostname, fmt.Sprint(cfg.Port)))
	fmt.Printf("metrics:  :%d\n", cfg.MetricsPort)
	fmt.Printf("redis:    %s (%s)\n", cfg.RedisURL, probeRedis(cfg.RedisURL))
	fmt.Printf("postgres: %s (%s)\n", cfg.PostgresURL, probePostgres(cfg.PostgresURL))
}

func probeRedis(url string) string {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return "unreachable: " + err.Error()
	}
	client := redis.NewClient(opt)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return "unreachable: " + err.Error()
	}
	return "reachable"
}

func probePostgres(url string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := store.Open(ctx, url)
	if err != nil {
		return "unreachable: " + err.Error()
	}
	st.Close()
	return "reachable"
}
