package main

import (
	"flag"
	"os"

	"github.com/noah-isme/backend-promo/internal/app"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/obs"
)

func main() {
	steps := flag.Int("steps", 0, "number of migrations to roll back with down (0 = all)")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "migrate").Logger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	direction := "up"
	if flag.NArg() > 0 {
		direction = flag.Arg(0)
	}

	m, err := app.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() {
		if err := app.CloseMigrator(m); err != nil {
			logger.Error().Err(err).Msg("close migrator")
		}
	}()

	switch direction {
	case "up":
		err = app.RunMigrations(m)
	case "down":
		err = app.RollbackMigrations(m, *steps)
	default:
		logger.Error().Str("direction", direction).Msg("usage: migrate [-steps n] up|down")
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("direction", direction).Msg("migrate")
	}
	version, dirty, verr := m.Version()
	logger.Info().Str("direction", direction).Uint("version", version).Bool("dirty", dirty).AnErr("version_err", verr).Msg("migrations complete")
}
