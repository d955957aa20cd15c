// Command server runs the aussiebot engine: it terminates operator
// WebSocket sessions, bridges the platform adapters over Redis pub/sub and
// dispatches every inbound event against the installed rule configuration.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iamllama/aussiebot/internal/auth"
	"github.com/iamllama/aussiebot/internal/cache"
	"github.com/iamllama/aussiebot/internal/db"
	"github.com/iamllama/aussiebot/internal/engine"
	"github.com/iamllama/aussiebot/internal/gateway"
	"github.com/iamllama/aussiebot/internal/lock"
	"github.com/iamllama/aussiebot/internal/msg"
	"github.com/iamllama/aussiebot/internal/observability/logging"
	"github.com/iamllama/aussiebot/internal/pubsub"
	"github.com/iamllama/aussiebot/internal/rules"
	"github.com/iamllama/aussiebot/internal/serverutil"
)

func main() {
	addr := flag.String("addr", "", "listen address for the WebSocket gateway (default :8080)")
	channelFlag := flag.String("channel", "", "channel this instance moderates")
	configDirFlag := flag.String("config-dir", "", "directory holding cmds.json, filters.json, timers.json and users.json (default config)")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	redisAddr := flag.String("redis-addr", "", "redis address (default localhost:6379)")
	redisAddrs := flag.String("redis-addrs", "", "comma separated redis addresses for cluster or sentinel")
	redisUsername := flag.String("redis-username", "", "redis username")
	redisPassword := flag.String("redis-password", "", "redis password")
	redisMasterName := flag.String("redis-master-name", "", "redis sentinel master name")
	redisTLSCA := flag.String("redis-tls-ca", "", "redis TLS CA bundle path")
	redisTLSCert := flag.String("redis-tls-cert", "", "redis TLS client certificate path")
	redisTLSKey := flag.String("redis-tls-key", "", "redis TLS client key path")
	redisTLSServerName := flag.String("redis-tls-server-name", "", "redis TLS server name override")
	postgresDSN := flag.String("postgres-dsn", "", "postgres connection string; empty disables persistence")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum postgres pool connections")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum postgres pool connections")
	postgresConnLifetime := flag.Duration("postgres-conn-lifetime", 0, "maximum postgres connection lifetime")
	postgresConnIdle := flag.Duration("postgres-conn-idle", 0, "maximum postgres connection idle time")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to postgres (default aussiebot)")
	upstreamChannel := flag.String("upstream-channel", "", "pub/sub channel carrying adapter-to-engine traffic (default aussiebot)")
	downstreamChannel := flag.String("downstream-channel", "", "pub/sub channel carrying engine-to-adapter traffic (default aussiebot_down)")
	allowedOrigins := flag.String("allowed-origins", "", "comma separated Origin headers accepted by the gateway; empty allows any")
	authRatelimitCount := flag.Int("auth-ratelimit-count", 0, "auth attempts allowed per peer per window")
	authRatelimitWindow := flag.Duration("auth-ratelimit-window", 0, "auth rate limit window")
	tlsCert := flag.String("tls-cert", "", "TLS certificate path for the gateway listener")
	tlsKey := flag.String("tls-key", "", "TLS key path for the gateway listener")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown bound")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("AUSSIEBOT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("AUSSIEBOT_LOG_FORMAT")),
	})

	channel := firstNonEmpty(*channelFlag, os.Getenv("AUSSIEBOT_CHANNEL"))
	if channel == "" {
		logger.Error("no channel configured: provide --channel or AUSSIEBOT_CHANNEL")
		os.Exit(1)
	}
	configDir := resolveConfigDir(*configDirFlag, os.Getenv("AUSSIEBOT_CONFIG_DIR"))
	listenAddr := resolveListenAddr(*addr, os.Getenv("AUSSIEBOT_ADDR"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewClient(cache.RedisConfig{
		Addr:       firstNonEmpty(*redisAddr, os.Getenv("AUSSIEBOT_REDIS_ADDR"), "localhost:6379"),
		Addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("AUSSIEBOT_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*redisUsername, os.Getenv("AUSSIEBOT_REDIS_USERNAME")),
		Password:   firstNonEmpty(*redisPassword, os.Getenv("AUSSIEBOT_REDIS_PASSWORD")),
		MasterName: firstNonEmpty(*redisMasterName, os.Getenv("AUSSIEBOT_REDIS_SENTINEL_MASTER")),
		TLS: cache.TLSConfig{
			CAFile:     firstNonEmpty(*redisTLSCA, os.Getenv("AUSSIEBOT_REDIS_TLS_CA")),
			CertFile:   firstNonEmpty(*redisTLSCert, os.Getenv("AUSSIEBOT_REDIS_TLS_CERT")),
			KeyFile:    firstNonEmpty(*redisTLSKey, os.Getenv("AUSSIEBOT_REDIS_TLS_KEY")),
			ServerName: firstNonEmpty(*redisTLSServerName, os.Getenv("AUSSIEBOT_REDIS_TLS_SERVER_NAME")),
		},
	})
	if err != nil {
		logger.Error("failed to configure redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	cacheActor := cache.New(ctx, client, logging.WithComponent(logger, "cache"))
	locker := lock.New(ctx, client, logging.WithComponent(logger, "lock"))

	var store *db.Store
	if dsn := resolvePostgresDSN(*postgresDSN); dsn != "" {
		store, err = db.New(ctx, db.Config{
			DSN:             dsn,
			MaxConnections:  int32(resolveInt(*postgresMaxConns, "AUSSIEBOT_POSTGRES_MAX_CONNS")),
			MinConnections:  int32(resolveInt(*postgresMinConns, "AUSSIEBOT_POSTGRES_MIN_CONNS")),
			MaxConnLifetime: resolveDuration(*postgresConnLifetime, "AUSSIEBOT_POSTGRES_CONN_LIFETIME", 0),
			MaxConnIdleTime: resolveDuration(*postgresConnIdle, "AUSSIEBOT_POSTGRES_CONN_IDLE", 0),
			ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("AUSSIEBOT_POSTGRES_APP_NAME"), "aussiebot"),
			Logger:          logging.WithComponent(logger, "db"),
		})
		if err != nil {
			logger.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply postgres schema", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := store.Close(closeCtx); err != nil {
				logger.Error("failed to close postgres", "error", err)
			}
		}()
	} else {
		logger.Warn("postgres not configured; points, watchtime and moderation records are disabled")
	}

	ruleConfig, err := rules.Load(configDir, logging.WithComponent(logger, "rules"))
	if err != nil {
		logger.Error("failed to load rule config", "dir", configDir, "error", err)
		os.Exit(1)
	}

	eng := engine.New(cacheActor, locker, store, ruleConfig, engine.Config{
		Channel:   channel,
		ConfigDir: configDir,
		Logger:    logging.WithComponent(logger, "engine"),
	})

	users, err := auth.LoadUsers(configDir)
	if err != nil {
		logger.Error("failed to load operator accounts", "dir", configDir, "error", err)
		os.Exit(1)
	}
	authenticator := auth.New(cacheActor, eng.Out(), users, auth.Config{
		Channel:        channel,
		RatelimitCount: uint64(resolveInt(*authRatelimitCount, "AUSSIEBOT_AUTH_RATELIMIT_COUNT")),
		RatelimitBurst: resolveDuration(*authRatelimitWindow, "AUSSIEBOT_AUTH_RATELIMIT_WINDOW", 0),
		Logger:         logging.WithComponent(logger, "auth"),
	})

	inbound := make(chan msg.Frame, 32)
	gw := gateway.New(ctx, authenticator, inbound, gateway.Config{
		AllowedOrigins: splitAndTrim(firstNonEmpty(*allowedOrigins, os.Getenv("AUSSIEBOT_ALLOWED_ORIGINS"))),
		Logger:         logging.WithComponent(logger, "gateway"),
	})
	bridge, err := pubsub.New(client, pubsub.Config{
		UpstreamChannel:   firstNonEmpty(*upstreamChannel, os.Getenv("AUSSIEBOT_UPSTREAM_CHANNEL")),
		DownstreamChannel: firstNonEmpty(*downstreamChannel, os.Getenv("AUSSIEBOT_DOWNSTREAM_CHANNEL")),
		Logger:            logging.WithComponent(logger, "pubsub"),
	})
	if err != nil {
		logger.Error("failed to configure pub/sub bridge", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		bridge.Run(ctx, inbound)
		return nil
	})
	group.Go(func() error {
		eng.Run(ctx, inbound, bridge, gw)
		return nil
	})
	group.Go(func() error {
		return serverutil.Run(ctx, serverutil.Config{
			Server: httpServer,
			TLS: serverutil.TLSConfig{
				CertFile: firstNonEmpty(*tlsCert, os.Getenv("AUSSIEBOT_TLS_CERT")),
				KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("AUSSIEBOT_TLS_KEY")),
			},
			ShutdownTimeout: resolveDuration(*shutdownTimeout, "AUSSIEBOT_SHUTDOWN_TIMEOUT", 0),
		})
	})

	logger.Info("aussiebot started",
		"channel", channel,
		"addr", listenAddr,
		"config_dir", configDir,
		"persistence", store != nil,
		"operators", len(users))

	if err := group.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func resolveListenAddr(flagValue, envValue string) string {
	if addr := firstNonEmpty(flagValue, envValue); addr != "" {
		return addr
	}
	return ":8080"
}

func resolveConfigDir(flagValue, envValue string) string {
	if dir := firstNonEmpty(flagValue, envValue); dir != "" {
		return dir
	}
	return "config"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("AUSSIEBOT_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
