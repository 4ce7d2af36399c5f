package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/cheese-relay/internal/archive"
	"github.com/park285/cheese-relay/internal/board"
	"github.com/park285/cheese-relay/internal/config"
	"github.com/park285/cheese-relay/internal/httpapi"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/room"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("env file error: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := obslog.Init(cfg.Log)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_failed", zap.String("dir", cfg.MessagesDir), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openArchive(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("archive_init_failed", zap.Error(err))
	}

	rooms := room.NewRegistry(room.WithLogger(logger))
	hub := relay.NewHub(rooms, relay.WithSendTimeout(cfg.SendTimeout), relay.WithHubLogger(logger))
	disp := relay.NewDispatcher(rooms, hub,
		relay.WithRecorder(store),
		relay.WithDispatcherLogger(logger),
	)

	api := httpapi.New(httpapi.Deps{
		Rooms:      rooms,
		Hub:        hub,
		Dispatcher: disp,
		History:    store,
		Board:      board.NewRenderer(),
		Messages:   msgs,
		Logger:     logger,
	},
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins),
		httpapi.WithReadLimit(cfg.WSReadLimit),
		httpapi.WithHistoryLimit(cfg.HistoryLimit),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	closeReaped := func(codes []string) {
		for _, code := range codes {
			hub.CloseRoom(code, msgs.Text("ws.room_closed", nil, "Room closed"))
		}
	}
	if cfg.ReapInterval > 0 {
		closeReaped(rooms.ReapStale(cfg.RoomMaxAge))
		go rooms.RunReaper(ctx, cfg.ReapInterval, cfg.RoomMaxAge, closeReaped)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay_listen",
			zap.String("addr", cfg.ListenAddr),
			zap.Strings("origins", cfg.AllowedOrigins),
			zap.Duration("room_max_age", cfg.RoomMaxAge),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("relay_shutdown", zap.Int("rooms", rooms.Len()))
	case err := <-errCh:
		if err != nil {
			logger.Error("relay_listen_failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// websocket handlers are hijacked and not tracked by Shutdown
	hub.CloseAll(msgs.Text("ws.shutdown", nil, "Server shutting down"))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("relay_shutdown_incomplete", zap.Error(err))
	}
	disp.Wait()
	if err := store.Close(); err != nil {
		logger.Warn("archive_close_failed", zap.Error(err))
	}
}

// openArchive always keeps an in-memory store and adds Redis and Postgres
// when configured. Reads go to the most durable one.
func openArchive(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (archive.Store, error) {
	var stores archive.Multi
	if cfg.DatabaseURL != "" {
		if cfg.DatabaseMigrate {
			if err := archive.Migrate(cfg.DatabaseURL, logger); err != nil {
				return nil, err
			}
		}
		repo, err := archive.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		stores = append(stores, repo)
		logger.Info("archive_postgres_enabled")
	}
	if cfg.RedisURL != "" {
		rs, err := archive.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		stores = append(stores, rs)
		logger.Info("archive_redis_enabled")
	}
	stores = append(stores, archive.NewMemoryStore())
	return stores, nil
}
