package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/seeddata"
)

func main() {
	doctors := flag.Int("doctors", 20, "number of doctors to create")
	patients := flag.Int("patients", 2000, "number of patients to create")
	tokens := flag.Int("tokens", 3, "print bearer tokens for this many doctors and patients")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "faker seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("seed", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New("seed", cfg.Env, cfg.LogLevel)

	if cfg.StoreDriver != config.StorePostgres {
		log.Fatal().Str("store", cfg.StoreDriver).Msg("seed only writes to postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("schema migration")
	}

	dir := seeddata.Generate(*seed, *doctors, *patients)
	log.Info().Int("doctors", len(dir.Doctors)).Int("patients", len(dir.Patients)).Msg("seeding")

	if err := seeddata.InsertPostgres(ctx, pool, dir, 500); err != nil {
		log.Fatal().Err(err).Msg("seed directory")
	}
	log.Info().Msg("seed complete")

	issuer := auth.NewTokens(cfg.AuthSecret, cfg.AuthTokenTTL)
	for _, d := range dir.Doctors[:min(*tokens, len(dir.Doctors))] {
		printToken(issuer, appointment.Actor{ID: d.ID, Role: appointment.RoleDoctor}, d.Name+" ("+d.Specialization+", fee "+d.ConsultationFee.StringFixed(2)+")")
	}
	for _, p := range dir.Patients[:min(*tokens, len(dir.Patients))] {
		printToken(issuer, appointment.Actor{ID: p.ID, Role: appointment.RolePatient}, p.Name)
	}
}

func printToken(issuer *auth.Tokens, actor appointment.Actor, label string) {
	token, err := issuer.Issue(actor)
	if err != nil {
		fmt.Printf("%s %s: %v\n", actor.Role, actor.ID, err)
		return
	}
	fmt.Printf("%-7s %s  %s\n        %s\n", actor.Role, actor.ID, label, token)
}
