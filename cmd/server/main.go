package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/config"
	"github.com/iliyamo/room-reservation/internal/database"
	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/lock"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/observability"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/router"
	"github.com/iliyamo/room-reservation/internal/service"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable; using in-process locks, local rate limits and no cache")
	} else {
		defer rdb.Close()
	}

	locker, backend := newLocker(cfg.Reservation, rdb, logger)
	metrics := observability.NewMetrics(backend)

	reservations := repository.NewReservationRepo(db)
	rooms := repository.NewRoomRepo(db)
	engine := booking.NewEngine(reservations,
		booking.WithLocker(locker),
		booking.WithRooms(rooms),
		booking.WithCalendar(booking.NewCalendar(cfg.Reservation.Location)),
		booking.WithDailyQuota(cfg.Reservation.DailyQuota),
		booking.WithLockTimeout(cfg.Reservation.LockTimeout),
		booking.WithLogger(logger.With(slog.String("component", "booking"))),
		booking.WithRecorder(metrics),
	)

	var publisher service.EventPublisher = service.NopPublisher{}
	if cfg.Events.Enabled {
		amqpPub := service.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Queue, logger)
		defer amqpPub.Close()
		publisher = amqpPub
		go runConsumer(ctx, cfg.Events, logger)
	}

	cacheCfg := config.LoadCacheConfig()
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(logger))

	router.RegisterRoutes(e, db, metrics.Handler())
	users := repository.NewUserRepo(db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db)), cfg.JWTSecret)
	router.RegisterRooms(e,
		handler.NewRoomHandler(rooms, engine, func(ctx context.Context) error {
			return middleware.InvalidateCache(ctx, cacheCfg, rdb)
		}),
		handler.NewReviewHandler(repository.NewReviewRepo(db), rooms, reservations),
		cfg.JWTSecret,
		middleware.NewRedisCache(cacheCfg, rdb),
	)
	router.RegisterReservations(e,
		handler.NewReservationHandler(engine, rooms, users, publisher),
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env),
			slog.String("db", cfg.DBDriver), slog.String("lock", backend))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("err", err))
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Env == "dev" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.EqualFold(cfg.DBDriver, "sqlite") {
		return database.OpenSQLite(cfg.SQLitePath)
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, database.DialectMySQL); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newLocker(rc config.ReservationConfig, rdb *redis.Client, logger *slog.Logger) (booking.Locker, string) {
	if strings.EqualFold(rc.LockBackend, "redis") {
		if rdb != nil {
			return lock.NewRedis(rdb, rc.LockPrefix, rc.LockTTL), "redis"
		}
		logger.Warn("LOCK_BACKEND=redis but redis is unavailable; admission is only safe with a single instance")
	}
	return lock.NewLocal(), "local"
}

func runConsumer(ctx context.Context, ec config.EventsConfig, logger *slog.Logger) {
	if dir := filepath.Dir(ec.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("event log directory", slog.Any("err", err))
			return
		}
	}
	out := &lumberjack.Logger{
		Filename:   ec.LogFile,
		MaxSize:    ec.LogMaxSizeMB,
		MaxBackups: ec.LogMaxFiles,
		Compress:   true,
	}
	defer out.Close()
	c := &queue.Consumer{
		URL:   ec.AMQPURL,
		Queue: ec.Queue,
		Out:   out,
		Log:   logger.With(slog.String("component", "event-consumer")),
	}
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("event consumer stopped", slog.Any("err", err))
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}
