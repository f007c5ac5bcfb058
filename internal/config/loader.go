package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig loads and validates the saasbase configuration.
//
// Steps, in order:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load a .env file if present (non-fatal if missing; existing
//     environment variables are never overridden).
//  3. Process envconfig struct tags to populate the Config struct.
//  4. Validate the populated struct with go-playground/validator.
//
// Any validation failure is returned as an error; callers are expected to
// treat it as fatal.
func LoadConfig() (*Config, error) {
	// Step 1: Enforce UTC.
	time.Local = time.UTC

	// Step 2: .env file, if any.
	_ = godotenv.Load()

	// Step 3: envconfig processing. The empty prefix means tags are read
	// verbatim (envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment configuration: %w", err)
	}

	// Step 4: struct validation.
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
