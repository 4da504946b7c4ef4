// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string

	// AIGatewayURL fronts the model vendors; AIGatewayKey authenticates to it.
	AIGatewayURL string
	AIGatewayKey string

	// RelayDomain is the private-relay email domain used as a fallback when
	// an external identity token carries no email claim.
	RelayDomain string

	AllowedOrigins []string
}

// Load reads the environment, overlaying a .env file if one exists.
// DATABASE_URL and JWT_SECRET are required; everything else has a
// development default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		AIGatewayURL: getenv("AI_GATEWAY_URL", "http://localhost:9090"),
		AIGatewayKey: os.Getenv("AI_GATEWAY_KEY"),
		RelayDomain:  getenv("RELAY_DOMAIN", "privaterelay.example.com"),
		AllowedOrigins: []string{
			getenv("ALLOWED_ORIGIN", "http://localhost:3000"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
