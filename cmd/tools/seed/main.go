// main.go - scenario-driven data seeding tool
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"insightcore/internal/config"
	"insightcore/internal/database"
	"insightcore/internal/eventstore"
	"insightcore/internal/logging"
	"insightcore/internal/seeder"
)

func main() {
	scenarioPath := flag.String("scenario", "scenarios/default.yaml", "path to the YAML scenario file")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.GetConfig()
	logger := logging.NewLogger(cfg)

	scenario, err := seeder.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}

	db, err := database.Connect(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := database.Migrate(db, logger); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ingestor := eventstore.NewIngestor(db, nil, logger)
	if err := seeder.New(ingestor, logger).Run(context.Background(), scenario); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
