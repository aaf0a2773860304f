package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"dutydesk/config"
	"dutydesk/db"
	"dutydesk/handlers"
	"dutydesk/models"

	"github.com/joho/godotenv"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
)

func main() {
	file := pflag.StringP("file", "f", "scripts/configs.jsonc", "JSONC file holding an array of test configs")
	envFile := pflag.String("env-file", ".env", "environment file to load before reading configuration")
	dryRun := pflag.Bool("dry-run", false, "validate the file without writing")
	pflag.Parse()

	jww.SetStdoutThreshold(jww.LevelInfo)

	// Load environment variables
	if err := godotenv.Load(*envFile); err != nil {
		jww.WARN.Println("No .env file found, using system environment variables")
	}

	configs, err := readConfigs(*file)
	if err != nil {
		jww.FATAL.Fatalf("Failed to read %s: %v", *file, err)
	}

	if *dryRun {
		jww.INFO.Printf("✅ %d configs are valid", len(configs))
		return
	}

	// Load configuration
	cfg := config.Load()

	ctx := context.Background()
	store, err := db.Open(ctx, cfg.Store)
	if err != nil {
		jww.FATAL.Fatalf("Failed to open %s store: %v", cfg.Store.Backend, err)
	}
	defer store.Close()

	jww.INFO.Println("🌱 Starting database seeding...")

	if err := seedConfigs(ctx, store, configs); err != nil {
		jww.FATAL.Fatalf("Failed to seed configs: %v", err)
	}

	jww.INFO.Println("✅ Database seeding completed successfully!")
}

func readConfigs(path string) ([]models.TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var configs []models.TestConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &configs); err != nil {
		return nil, fmt.Errorf("failed to parse configs: %w", err)
	}

	for i := range configs {
		if err := handlers.ValidateConfig(&configs[i]); err != nil {
			return nil, fmt.Errorf("config #%d: %w", i+1, err)
		}
	}
	return configs, nil
}

func seedConfigs(ctx context.Context, store db.Store, configs []models.TestConfig) error {
	for i := range configs {
		if err := store.PutConfig(ctx, &configs[i]); err != nil {
			return fmt.Errorf("failed to save config %s: %w", configs[i].TestName, err)
		}
		jww.INFO.Printf("  ✓ Saved config: %s (%ds, %d questions, %d mistakes allowed)",
			configs[i].TestName, configs[i].TimeLimitSeconds, configs[i].QuestionsCount, configs[i].MaxMistakes)
	}
	return nil
}
