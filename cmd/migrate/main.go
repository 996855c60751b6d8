package main

import (
	"context"
	"flag"
	"fmt"

	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	var (
		up      = flag.Bool("up", false, "apply all pending migrations")
		down    = flag.Bool("down", false, "roll back all migrations")
		to      = flag.Int("to", -1, "migrate up or down to this version")
		version = flag.Bool("version", false, "print the applied version")
	)
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Debug("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	bunDB, err := database.Connect(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.Options{SourceURL: cfg.Database.MigrationsPath}, log)
	defer runner.Close()

	switch {
	case *down:
		err = runner.MigrateDown()
	case *to >= 0:
		err = runner.MigrateTo(uint(*to))
	case *version:
		var (
			v     uint
			dirty bool
		)
		v, dirty, err = runner.Version()
		if err == nil {
			log.Info("MIGRATION", fmt.Sprintf("version %d (dirty: %t)", v, dirty))
			return
		}
	case *up:
		err = runner.RunMigrations()
	default:
		flag.Usage()
		return
	}
	if err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	log.Info("MIGRATION", "Done")
}
