package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/activityfeed/internal/api"
	"example.com/activityfeed/internal/auth"
	"example.com/activityfeed/internal/config"
	"example.com/activityfeed/internal/feed"
	"example.com/activityfeed/internal/push"
	"example.com/activityfeed/internal/source/postgres"
	httptransport "example.com/activityfeed/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)
	aggregator := feed.NewAggregator(repo.Sources())

	newReader := func() push.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.PushTopic,
			GroupID: cfg.PushGroupID,
		})
	}
	listener := push.NewListener(newReader, aggregator, push.WithBufferSize(cfg.NewEventsBuffer))
	listener.Open(ctx, cfg.WatchedProjects)
	defer listener.Close()

	refresher := feed.NewRefresher(aggregator, func() []string { return cfg.WatchedProjects }, cfg.RefreshInterval, cfg.FeedLimit)
	go refresher.Start(ctx)

	handler := api.NewHandler(aggregator, listener, cfg.WatchedProjects, cfg.FeedLimit)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("activity-feed listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	listener.Close()
	refresher.Wait()
}
