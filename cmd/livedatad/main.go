// Command livedatad runs the reactive-publish server: it upgrades
// WebSocket connections to DDP sessions, serves live Mongo queries through
// the polling driver and oplog tailer, and exposes /healthz and /debugz
// for operators. Grounded on idledungeon/cmd/server/main.go's flag
// parsing, zap logger construction, and signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"livedata/internal/config"
	"livedata/internal/corelog"
	"livedata/internal/crossbar"
	"livedata/internal/debugapi"
	"livedata/internal/oplog"
	"livedata/internal/registry"
	"livedata/internal/server"
	"livedata/internal/store"
	"livedata/internal/store/cache"
)

func main() {
	watchFlag := flag.String("watch", "", "comma-separated collections to tail via change streams (falls back to polling for the rest)")
	flag.Parse()

	cfg := config.FromEnv()
	if err := corelog.SetLevel(cfg.LogLevel); err != nil {
		corelog.Error("failed to set log level", zap.Error(err))
	}
	logger := corelog.L()
	defer logger.Sync()

	if cfg.DisableWebsockets {
		logger.Warn("DISABLE_WEBSOCKETS is set but this build only serves the WebSocket transport; the option has no effect")
	}
	if cfg.UseJSessionID {
		logger.Warn("USE_JSESSIONID is set but session-affinity cookies only matter for multi-server fan-out, which this build doesn't support")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal("failed to connect to mongo", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())
	if err := mongoClient.Ping(ctx, nil); err != nil {
		logger.Fatal("failed to ping mongo", zap.Error(err))
	}
	logger.Info("connected to mongo", zap.String("uri", cfg.MongoURI), zap.String("database", cfg.MongoDatabase))

	db := mongoClient.Database(cfg.MongoDatabase)
	st, closeCache := buildStore(db, cfg, logger)
	if closeCache != nil {
		defer closeCache()
	}

	bar := crossbar.New()
	reg := registry.New(st, bar)
	srv := server.New(reg, cfg.HeartbeatInterval, cfg.HeartbeatTimeout,
		int64(cfg.PollingThrottle/time.Millisecond), int64(cfg.PollingInterval/time.Millisecond))
	srv.SetForwardedCount(cfg.ForwardedCount)

	tailer := oplog.NewTailer(db, bar)
	defer tailer.Stop()
	for _, collection := range splitCSV(*watchFlag) {
		if err := tailer.Watch(collection); err != nil {
			logger.Warn("failed to tail collection, falling back to polling", zap.String("collection", collection), zap.Error(err))
			continue
		}
		logger.Info("tailing collection via change stream", zap.String("collection", collection))
	}

	mux := http.NewServeMux()
	debug := debugapi.New(reg, srv)
	mux.Handle("/healthz", debug)
	mux.Handle("/debugz/", debug)
	mux.Handle("/", srv.Handler())

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	logger.Info("livedata listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("livedata shut down cleanly")
}

// buildStore wraps the Mongo store in a read-through cache per
// CACHE_BACKEND, returning a cleanup func to close the backing cache. The
// cleanup func is nil only for "none", which returns the bare Mongo store;
// every cached choice, memory included, returns a func that closes it.
func buildStore(db *mongo.Database, cfg config.Config, logger *zap.Logger) (store.Store, func()) {
	mongoStore := store.NewMongo(db)

	switch cfg.CacheBackend {
	case "redis":
		backing, err := cache.NewRedis[map[string]any](cfg.RedisAddr, nil)
		if err != nil {
			logger.Fatal("failed to connect to redis cache backend", zap.Error(err))
		}
		logger.Info("using redis cache backend", zap.String("addr", cfg.RedisAddr))
		return store.NewCached(mongoStore, backing), func() { _ = backing.Close() }
	case "badger":
		backing, err := cache.NewBadger[map[string]any](cfg.BadgerPath, nil)
		if err != nil {
			logger.Fatal("failed to open badger cache backend", zap.Error(err))
		}
		logger.Info("using badger cache backend", zap.String("path", cfg.BadgerPath))
		return store.NewCached(mongoStore, backing), func() { _ = backing.Close() }
	case "none":
		return mongoStore, nil
	default:
		backing := cache.NewMemory[map[string]any](nil)
		logger.Info("using in-process memory cache backend")
		return store.NewCached(mongoStore, backing), func() { _ = backing.Close() }
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := trim(s[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trim(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
