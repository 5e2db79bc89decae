package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level

	Site      SiteConfig      `mapstructure:"site" validate:"required"`
	Forecast  ForecastConfig  `mapstructure:"forecast" validate:"required"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Meter     MeterConfig     `mapstructure:"meter"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

// SiteConfig describes the PV installation. Azimuth follows the
// Forecast.Solar convention: 0 south, 90 west, -90 east.
type SiteConfig struct {
	Latitude     float64 `mapstructure:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude    float64 `mapstructure:"longitude" validate:"required,gte=-180,lte=180"`
	Declination  float64 `mapstructure:"declination" validate:"gte=0,lte=90"`
	Azimuth      float64 `mapstructure:"azimuth" validate:"gte=-180,lte=180"`
	KilowattPeak float64 `mapstructure:"kwp" validate:"required,gt=0"`
	Damping      float64 `mapstructure:"damping" validate:"gte=0,lte=1"`
	Confidence   float64 `mapstructure:"confidence"`
}

type ForecastConfig struct {
	// Providers defines both fallback order and display order.
	Providers       []string `mapstructure:"providers" validate:"required,min=1"`
	PrimaryProvider string   `mapstructure:"primary_provider" validate:"required"`
	FallbackEnabled bool     `mapstructure:"fallback_enabled"`
	LogAllProviders bool     `mapstructure:"log_all_providers"`

	CallTimeoutSeconds uint `mapstructure:"call_timeout_seconds"`

	LowVarianceThreshold  float64 `mapstructure:"low_variance_threshold"`
	HighVarianceThreshold float64 `mapstructure:"high_variance_threshold"`
}

type ProvidersConfig struct {
	Solcast       SolcastConfig       `mapstructure:"solcast"`
	ForecastSolar ForecastSolarConfig `mapstructure:"forecast_solar"`
}

type SolcastConfig struct {
	APIKey string `mapstructure:"api_key"`
	// ResourceIds is a comma separated list of rooftop site ids, one per
	// panel array.
	ResourceIds string `mapstructure:"resource_ids"`
	DailyLimit  int    `mapstructure:"daily_limit"`
}

type ForecastSolarConfig struct {
	APIKey     string `mapstructure:"api_key"`
	DailyLimit int    `mapstructure:"daily_limit"`
}

type StorageConfig struct {
	// Backend is one of csv, postgres, memory.
	Backend     string `mapstructure:"backend" validate:"oneof=csv postgres memory"`
	DataDir     string `mapstructure:"data_dir"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// MeterConfig points at the SunSpec inverter used to measure realized
// production. Reads only; never writes control registers.
type MeterConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Host       string `mapstructure:"host"`
	Port       uint   `mapstructure:"port"`
	InverterId uint   `mapstructure:"inverter_id"`
}

type MQTTConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	BaseTopic string `mapstructure:"base_topic"`
}

// ScheduleConfig holds the cron expressions for the three daily jobs.
type ScheduleConfig struct {
	// ForecastCron runs the nightly forecast for the next day.
	ForecastCron string `mapstructure:"forecast_cron"`
	// BaselineCron samples the inverter's lifetime counter at day boundaries.
	BaselineCron string `mapstructure:"baseline_cron"`
	// ReconcileCron completes yesterday's accuracy records.
	ReconcileCron string `mapstructure:"reconcile_cron"`
}

var validate = validator.New()

// Validate checks field bounds and the cross-field constraints the
// struct tags cannot express.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	found := false
	for _, id := range cfg.Forecast.Providers {
		if id == cfg.Forecast.PrimaryProvider {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config param forecast.primary_provider (%s) must be in forecast.providers",
			cfg.Forecast.PrimaryProvider)
	}

	if cfg.Forecast.LowVarianceThreshold > cfg.Forecast.HighVarianceThreshold {
		return fmt.Errorf("config param forecast.low_variance_threshold (%.1f) must not exceed forecast.high_variance_threshold (%.1f)",
			cfg.Forecast.LowVarianceThreshold, cfg.Forecast.HighVarianceThreshold)
	}

	if cfg.Storage.Backend == "postgres" && cfg.Storage.PostgresDSN == "" {
		return errors.New("config param storage.postgres_dsn is required for the postgres backend")
	}
	if cfg.Meter.Enable && cfg.Meter.Host == "" {
		return errors.New("config param meter.host is required when the meter is enabled")
	}
	return nil
}

// BudgetLimits maps each provider to its configured daily request ceiling.
// Zero means unlimited.
func (cfg *Config) BudgetLimits() map[string]int {
	return map[string]int{
		"solcast":        cfg.Providers.Solcast.DailyLimit,
		"forecast.solar": cfg.Providers.ForecastSolar.DailyLimit,
	}
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
