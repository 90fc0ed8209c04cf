package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/seeddata"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("api-server", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New("api-server", cfg.Env, cfg.LogLevel)
	log.Info().Str("http_port", cfg.HTTPPort).Str("store", cfg.StoreDriver).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hours, err := schedule.Load(cfg.ScheduleFile)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule load error")
	}

	tokens := auth.NewTokens(cfg.AuthSecret, cfg.AuthTokenTTL)

	var (
		svc  *appointment.Service
		deps []api.Dependency
	)

	switch cfg.StoreDriver {
	case config.StoreMemory:
		repo := appointment.NewMemoryRepository()
		seedMemory(repo, tokens, log)
		svc = appointment.NewService(repo, redisclient.NewLocalSlotLocker(cfg.LockTTL), hours,
			appointment.WithLogger(log))

	default:
		pool, rdb := connectStores(rootCtx, cfg, log)
		defer pool.Close()
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing redis")
			}
		}()

		svc = appointment.NewService(
			appointment.NewPgRepository(pool),
			redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
			hours,
			appointment.WithLogger(log),
			appointment.WithPublisher(redisclient.NewEventPublisher(rdb, cfg.EventsChannel)),
		)
		deps = []api.Dependency{
			{Name: "postgres", Critical: true, Ping: pool.Ping},
			{Name: "redis", Critical: true, Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Tokens:         tokens,
		Logger:         log,
		Dependencies:   deps,
		RequestTimeout: cfg.RequestTimeout,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

func connectStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (*pgxpool.Pool, *redis.Client) {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	defer cancelPg()

	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	if err := db.Migrate(pgCtx, pool); err != nil {
		log.Fatal().Err(err).Msg("schema migration error")
	}
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	log.Info().Msg("connected to Redis")

	return pool, rdb
}

// seedMemory fills an empty in-memory store and logs a token per party so
// the server is usable without a separate seed step.
func seedMemory(repo *appointment.MemoryRepository, tokens *auth.Tokens, log zerolog.Logger) {
	dir := seeddata.Generate(uint64(time.Now().UnixNano()), 3, 5)
	seeddata.LoadMemory(repo, dir)

	for _, d := range dir.Doctors {
		token, err := tokens.Issue(appointment.Actor{ID: d.ID, Role: appointment.RoleDoctor})
		if err != nil {
			log.Warn().Err(err).Msg("issue doctor token")
			continue
		}
		log.Info().Str("doctor_id", d.ID.String()).Str("name", d.Name).Str("token", token).Msg("seeded doctor")
	}
	for _, p := range dir.Patients {
		token, err := tokens.Issue(appointment.Actor{ID: p.ID, Role: appointment.RolePatient})
		if err != nil {
			log.Warn().Err(err).Msg("issue patient token")
			continue
		}
		log.Info().Str("patient_id", p.ID.String()).Str("name", p.Name).Str("token", token).Msg("seeded patient")
	}
}
