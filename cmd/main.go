package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/parleyhq/parley/pkg/account"
	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/bridge"
	"github.com/parleyhq/parley/pkg/cache"
	"github.com/parleyhq/parley/pkg/completion"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/filter"
	"github.com/parleyhq/parley/pkg/limit"
	"github.com/parleyhq/parley/pkg/middleware"
	"github.com/parleyhq/parley/pkg/policy"
	"github.com/parleyhq/parley/pkg/provider"
	"github.com/parleyhq/parley/pkg/storage"
	"github.com/parleyhq/parley/pkg/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	cfgStore, err := config.LoadAndWatch()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	cfg := cfgStore.Get()
	if cfg == nil {
		logrus.Fatal("config could not be read")
	}

	var rdb *cache.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logrus.WithError(err).Fatal("could not connect to redis")
		}
		logrus.Info("connected to redis")
	}

	users := newUserStore(cfg, rdb)

	var logs storage.Store
	if cfg.Logging.Enabled {
		retentionDays := cfg.Logging.RetentionDays
		if retentionDays == 0 {
			retentionDays = 30
		}
		if rdb != nil {
			logs = storage.NewRedisStore(rdb, time.Duration(retentionDays)*24*time.Hour)
		} else {
			logs = storage.NewMemoryStore()
		}
		logrus.WithField("retention_days", retentionDays).Info("completion logging enabled")
	}

	operatorKey := cfg.Provider.OperatorKey
	if operatorKey == "" {
		operatorKey = os.Getenv("OPENAI_API_KEY")
	}

	var freeTier provider.Provider
	if cfg.Bridge.Command != "" {
		freeTier = bridge.New(cfg.Bridge)
		logrus.WithField("command", cfg.Bridge.Command).Info("free-tier bridge enabled")
	}

	var moderator filter.Moderator
	if operatorKey != "" {
		moderator = filter.NewOpenAIModerator(operatorKey)
	}

	polSrc := policy.NewConfigSource(cfgStore)
	orch := completion.New(
		polSrc,
		limit.New(),
		account.New(users),
		provider.NewResolver(operatorKey, freeTier),
		filter.New(moderator),
		logs,
		time.Duration(cfg.Provider.RequestTimeout)*time.Second,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	api.NewAdminAPI(users, logs, polSrc, cfgStore).RegisterRoutes(mux)

	completionMux := http.NewServeMux()
	api.NewCompletionAPI(orch).RegisterRoutes(completionMux)
	mux.Handle("/v1/", middleware.Identify(cfgStore, users)(completionMux))

	// Outer layers apply to every route, including admin and metrics.
	var handler http.Handler = mux
	handler = middleware.NewGuard(cfgStore, rdb)(handler)
	handler = middleware.Metrics(handler)
	handler = middleware.RequestLogger(handler)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: handler,
	}

	go func() {
		logrus.WithField("addr", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logrus.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("graceful shutdown failed")
	}
}

// newUserStore picks the user persistence backend. Memory is the default so
// the server runs with no external services at all.
func newUserStore(cfg *config.Config, rdb *cache.Client) store.Store {
	switch cfg.Storage.Backend {
	case "postgres":
		if !cfg.Postgres.Enabled {
			logrus.Fatal("storage backend is postgres but postgres is not enabled")
		}
		db, err := store.NewPostgresDB(cfg.Postgres)
		if err != nil {
			logrus.WithError(err).Fatal("could not connect to postgres")
		}
		logrus.Info("connected to postgres")
		return store.NewPostgresStore(db)
	case "redis":
		if rdb == nil {
			logrus.Fatal("storage backend is redis but redis is not enabled")
		}
		return store.NewRedisStore(rdb)
	default:
		logrus.Warn("using in-memory user store, users are lost on restart")
		return store.NewMemoryStore()
	}
}
