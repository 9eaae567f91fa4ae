// Command registry runs the stream module registry server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/StreamWeave/module_registry/internal/config"
	"github.com/StreamWeave/module_registry/internal/httpapi"
	"github.com/StreamWeave/module_registry/internal/logging"
	"github.com/StreamWeave/module_registry/internal/metrics"
	"github.com/StreamWeave/module_registry/internal/middleware"
	"github.com/StreamWeave/module_registry/internal/module"
	"github.com/StreamWeave/module_registry/internal/parser"
	"github.com/StreamWeave/module_registry/internal/storage/cache"
	"github.com/StreamWeave/module_registry/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadOrDefault()
	log := logging.New("registry")

	var (
		registry module.Registry
		deps     module.DependencyIndex
	)
	if cfg.Database.URL != "" {
		store, err := postgres.Open(cfg.Database.URL)
		if err != nil {
			log.WithError(err).Fatal("failed to open database")
		}
		defer store.Close()
		registry, deps = store, store
		log.Info("using postgres store")
	} else {
		mem := module.NewMemoryStore()
		registry, deps = mem, mem
		log.Warn("DATABASE_URL not set; definitions will not survive restarts")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		registry = cache.New(registry, client, cfg.Redis.TTL.Std())
		log.WithField("addr", cfg.Redis.Addr).Info("definition cache enabled")
	}

	svc := module.New(registry, parser.New(registry), deps, log)

	router := mux.NewRouter()
	httpapi.New(svc, log).Routes(router)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	limiter.StartCleanup(time.Minute)

	// Auth runs before rate limiting so the limiter can key on the subject.
	var handler http.Handler = router
	handler = limiter.Handler(handler)
	if cfg.Auth.Secret != "" {
		handler = middleware.BearerAuth([]byte(cfg.Auth.Secret))(handler)
	}
	handler = middleware.CORS(handler)
	handler = metrics.InstrumentHandler(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("module registry listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
