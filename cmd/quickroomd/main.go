// Command quickroomd serves the room directory API and the room relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/quickroom/internal/config"
	"github.com/christopherjohns/quickroom/internal/room"
	"github.com/christopherjohns/quickroom/internal/server"
	"github.com/christopherjohns/quickroom/internal/ws"
)

func main() {
	cfg, err := parseConfig(flag.NewFlagSet("quickroomd", flag.ExitOnError), os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	slog.SetDefault(logger)

	ops := map[string]gfshutdown.Operation{}
	var opts []server.Option
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		logger.Info("connected to redis", slog.String("addr", cfg.RedisAddr))
		opts = append(opts, server.WithRegistry(room.NewRedisRegistry(rdb)))
		ops["redis"] = func(context.Context) error {
			return rdb.Close()
		}
	}

	opts = append(opts,
		server.WithLogger(logger),
		server.WithHub(newHub(cfg, logger)),
		server.WithCreateLimit(cfg.CreateLimit, cfg.CreateWindow),
	)
	srv := server.New(cfg.Addr, opts...)

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	ops["http"] = srv.Shutdown
	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)
	exitCode := <-wait
	logger.Info("quickroomd exited", slog.Int("code", exitCode))
	os.Exit(exitCode)
}

// newHub builds the relay hub with connection limits from cfg. Room
// occupancy changes are logged at debug level.
func newHub(cfg config.Server, logger *slog.Logger) *ws.Hub {
	conns := ws.NewConnManager(
		ws.WithMaxConns(cfg.MaxConns),
		ws.WithIdleTimeout(cfg.IdleTimeout),
		ws.WithConnLogger(logger),
	)
	return ws.NewHub(
		ws.WithConnManager(conns),
		ws.WithHubLogger(logger),
		ws.WithCountHook(func(code string, n int) {
			logger.Debug("room occupancy", slog.String("room", code), slog.Int("clients", n))
		}),
	)
}

// parseConfig applies defaults, environment, the optional config file and
// then any flags given explicitly.
func parseConfig(fs *flag.FlagSet, args []string) (config.Server, error) {
	var (
		path  string
		flags config.Server
	)
	fs.StringVar(&path, "config", "", "YAML config file")
	fs.StringVar(&flags.Addr, "addr", "", "HTTP listen address")
	fs.StringVar(&flags.RedisAddr, "redis-addr", "", "Redis address for the room registry (in-memory when empty)")
	fs.IntVar(&flags.CreateLimit, "create-limit", 0, "rooms each client IP may create per window")
	fs.DurationVar(&flags.CreateWindow, "create-window", 0, "room creation rate-limit window")
	fs.IntVar(&flags.MaxConns, "max-conns", 0, "maximum relay connections (0 = unlimited)")
	fs.DurationVar(&flags.IdleTimeout, "idle-timeout", 0, "close relay connections idle this long (0 = never)")
	fs.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown deadline")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return config.Server{}, fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := config.LoadServer(path)
	if err != nil {
		return config.Server{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = flags.Addr
		case "redis-addr":
			cfg.RedisAddr = flags.RedisAddr
		case "create-limit":
			cfg.CreateLimit = flags.CreateLimit
		case "create-window":
			cfg.CreateWindow = flags.CreateWindow
		case "max-conns":
			cfg.MaxConns = flags.MaxConns
		case "idle-timeout":
			cfg.IdleTimeout = flags.IdleTimeout
		case "shutdown-timeout":
			cfg.ShutdownTimeout = flags.ShutdownTimeout
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		}
	})
	return cfg, nil
}
