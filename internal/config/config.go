package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig holds all configuration for the dispatch service.
type ServiceConfig struct {
	Port     string
	AppEnv   string
	DB       DatabaseConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Matching MatchingConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DatabaseURL builds the URL form of the DSN used by the migration runner.
func (c DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// DSN builds the keyword/value DSN used by the GORM driver.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// KafkaConfig holds broker addresses and the consumer group prefix.
type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret string
}

// MatchingConfig holds the recognized matching and geofencing options.
type MatchingConfig struct {
	MatchRadiusMeters             float64
	MaxCandidates                 int
	OfferTimeout                  time.Duration
	PickupRegionRadiusMeters      float64
	DestinationRegionRadiusMeters float64
}

// Load reads configuration from DISPATCH_-prefixed environment variables,
// falling back to defaults suitable for local development.
func Load() (*ServiceConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("DISPATCH")
	v.AutomaticEnv()

	v.SetDefault("SERVICE_PORT", ":8084")
	v.SetDefault("APP_ENV", "development")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "dispatch")
	v.SetDefault("DB_PASSWORD", "dispatch")
	v.SetDefault("DB_NAME", "dispatch")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_PREFIX", "velora.")

	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("MATCH_RADIUS_METERS", 5000.0)
	v.SetDefault("MAX_CANDIDATES", 1)
	v.SetDefault("OFFER_TIMEOUT_SECONDS", 7)
	v.SetDefault("PICKUP_REGION_RADIUS_METERS", 25.0)
	v.SetDefault("DESTINATION_REGION_RADIUS_METERS", 25.0)

	cfg := &ServiceConfig{
		Port:   v.GetString("SERVICE_PORT"),
		AppEnv: v.GetString("APP_ENV"),
		DB: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.Split(v.GetString("KAFKA_BROKERS"), ","),
			GroupPrefix: v.GetString("KAFKA_GROUP_PREFIX"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		Matching: MatchingConfig{
			MatchRadiusMeters:             v.GetFloat64("MATCH_RADIUS_METERS"),
			MaxCandidates:                 v.GetInt("MAX_CANDIDATES"),
			OfferTimeout:                  time.Duration(v.GetInt("OFFER_TIMEOUT_SECONDS")) * time.Second,
			PickupRegionRadiusMeters:      v.GetFloat64("PICKUP_REGION_RADIUS_METERS"),
			DestinationRegionRadiusMeters: v.GetFloat64("DESTINATION_REGION_RADIUS_METERS"),
		},
	}

	if cfg.AppEnv != "development" && cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("DISPATCH_JWT_SECRET is required outside development")
	}
	if cfg.Matching.MatchRadiusMeters <= 0 {
		return nil, fmt.Errorf("DISPATCH_MATCH_RADIUS_METERS must be positive")
	}
	if cfg.Matching.MaxCandidates < 1 {
		return nil, fmt.Errorf("DISPATCH_MAX_CANDIDATES must be at least 1")
	}
	if cfg.Matching.OfferTimeout <= 0 {
		return nil, fmt.Errorf("DISPATCH_OFFER_TIMEOUT_SECONDS must be positive")
	}
	return cfg, nil
}
