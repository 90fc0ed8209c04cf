package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logger"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const summaryInterval = time.Minute

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		bootLog := logger.New("event-worker", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New("event-worker", cfg.Env, cfg.LogLevel)
	log.Info().Str("channel", cfg.EventsChannel).Msg("event-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	events, err := redisclient.Subscribe(rootCtx, rdb, cfg.EventsChannel)
	if err != nil {
		log.Fatal().Err(err).Msg("subscribe error")
	}

	ticker := time.NewTicker(summaryInterval)
	defer ticker.Stop()

	counts := map[string]int{}
	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping event worker")
			return
		case <-ticker.C:
			logSummary(log, counts)
			counts = map[string]int{}
		case payload, ok := <-events:
			if !ok {
				log.Warn().Msg("event subscription closed")
				return
			}
			var ev appointment.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				log.Warn().Err(err).Msg("drop malformed event")
				continue
			}
			counts[ev.Type]++
			notify(log, ev)
		}
	}
}

// notify emits one notification line per party that did not cause the event.
func notify(log zerolog.Logger, ev appointment.Event) {
	recipients := map[appointment.Role]string{
		appointment.RoleDoctor:  ev.DoctorID.String(),
		appointment.RolePatient: ev.PatientID.String(),
	}
	delete(recipients, ev.ActorRole)

	for role, id := range recipients {
		log.Info().
			Str("event", ev.Type).
			Str("appointment_id", ev.AppointmentID.String()).
			Str("recipient_role", string(role)).
			Str("recipient_id", id).
			Str("status", string(ev.To)).
			Time("scheduled_at", ev.ScheduledAt).
			Msg("notification")
	}
}

func logSummary(log zerolog.Logger, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	dict := zerolog.Dict()
	for k, v := range counts {
		dict = dict.Int(k, v)
	}
	log.Info().Dict("events", dict).Msg("event summary")
}
