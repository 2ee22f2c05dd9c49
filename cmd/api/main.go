package main

import (
	"context"
	"time"

	"rectrade-backend/internal/app"
	"rectrade-backend/internal/config"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app create")
	}

	ctx := context.Background()
	go a.Worker.Run(ctx)

	// Periodic expiry sweep; the matching walk handles orders it meets
	// lazily, the sweeper catches the rest.
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SweepIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if n := a.Engine.SweepExpired(ctx); n > 0 {
				log.Info().Int("orders", n).Msg("expired orders swept")
			}
		}
	}()

	// Re-enqueue transactions whose notarization stalled.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := a.Worker.RequeuePending(ctx, 10*time.Minute); err != nil {
				log.Error().Err(err).Msg("notary requeue")
			} else if n > 0 {
				log.Info().Int("transactions", n).Msg("pending notarizations requeued")
			}
		}
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := a.Fiber.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}
