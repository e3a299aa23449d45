package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ms-canteen/internal/config"
	"ms-canteen/internal/database"
	"ms-canteen/internal/database/migrations"
	"ms-canteen/internal/logger"
)

// Standalone migration entrypoint for deploy pipelines that run schema
// changes before rolling the service.
func main() {
	down := flag.Bool("down", false, "roll back all migrations instead of applying them")
	dir := flag.String("dir", "./migrations", "directory containing migration files")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	bunDB, err := database.Connect(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("PostgreSQL connection failed: %v", err))
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: *dir,
		AutoMigrate:   true,
	})
	if err := runner.Initialize(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration init failed: %v", err))
	}
	defer runner.Close()

	if *down {
		if err := runner.MigrateDown(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Rollback failed: %v", err))
		}
		log.Info("DATABASE", "Rollback complete")
		os.Exit(0)
	}

	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	log.Info("DATABASE", "Migrations applied")
}
