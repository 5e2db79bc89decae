package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/forecast2mqtt/internal/adapter/actor"
	"github.com/berfenger/forecast2mqtt/internal/adapter/meter"
	"github.com/berfenger/forecast2mqtt/internal/adapter/provider"
	"github.com/berfenger/forecast2mqtt/internal/adapter/storage"
	"github.com/berfenger/forecast2mqtt/internal/config"
	"github.com/berfenger/forecast2mqtt/internal/core/actor"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
	"github.com/berfenger/forecast2mqtt/internal/core/service"
	"github.com/berfenger/forecast2mqtt/internal/scheduler"
	"github.com/berfenger/forecast2mqtt/internal/server"
	"github.com/berfenger/forecast2mqtt/internal/util/actorutil"
	"github.com/berfenger/forecast2mqtt/pkg/sunspec_energy"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	slog.Info("forecast2mqtt", "version", versioninfo.Short())

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// domain services
	store, err := buildStore(cfg, logger)
	if err != nil {
		panic(err)
	}
	tracker := service.NewAccuracyTracker(store, logger)

	providers, err := provider.Build(cfg.Forecast.Providers, provider.Credentials{
		SolcastAPIKey:       cfg.Providers.Solcast.APIKey,
		SolcastResourceIds:  cfg.Providers.Solcast.ResourceIds,
		ForecastSolarAPIKey: cfg.Providers.ForecastSolar.APIKey,
	}, siteFromConfig(cfg), logger)
	if err != nil {
		panic(err)
	}

	manager, err := service.NewProviderManager(providers, cfg.Forecast.PrimaryProvider,
		cfg.Forecast.FallbackEnabled, cfg.Forecast.LogAllProviders,
		time.Duration(cfg.Forecast.CallTimeoutSeconds)*time.Second,
		service.NewRateBudgetTracker(cfg.BudgetLimits(), logger),
		service.NewComparisonEngine(cfg.Forecast.LowVarianceThreshold, cfg.Forecast.HighVarianceThreshold, logger),
		logger)
	if err != nil {
		panic(err)
	}

	productionMeter, err := buildMeter(cfg, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, func() *adactor.ForecastActor {
			return adactor.NewForecastActor(manager, tracker, siteFromConfig(cfg), logger)
		}, func() *adactor.AccuracyActor {
			return adactor.NewAccuracyActor(tracker, productionMeter, logger)
		}, func() *adactor.MQTTActor {
			return adactor.NewMQTTActor(cfg, logger)
		}, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	// cron jobs
	jobs := scheduler.NewJobScheduler(cfg.Schedule, ctx, pid, logger)
	if err := jobs.Start(context.Background()); err != nil {
		panic(err)
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	jobs.Stop()
	ctx.Stop(pid)
	as.Shutdown()

	if err := store.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}
}

func initConfig() (*config.Config, error) {

	// alias PORT => FORECAST2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("FORECAST2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("forecast2mqtt")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func siteFromConfig(cfg *config.Config) provider.Site {
	return provider.Site{
		Latitude:     cfg.Site.Latitude,
		Longitude:    cfg.Site.Longitude,
		Declination:  cfg.Site.Declination,
		Azimuth:      cfg.Site.Azimuth,
		KilowattPeak: cfg.Site.KilowattPeak,
		Damping:      cfg.Site.Damping,
		Confidence:   cfg.Site.Confidence,
	}
}

func buildStore(cfg *config.Config, logger *zap.Logger) (port.ForecastStore, error) {
	switch cfg.Storage.Backend {
	case "csv":
		return storage.NewCSVStore(cfg.Storage.DataDir, logger)
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewPostgresStore(ctx, cfg.Storage.PostgresDSN, logger)
	case "memory":
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
}

func buildMeter(cfg *config.Config, logger *zap.Logger) (port.ProductionMeter, error) {
	if !cfg.Meter.Enable {
		return nil, nil
	}
	reader, err := sunspec_energy.CreateIntSFEnergyReader(cfg.Meter.Host, cfg.Meter.Port,
		uint8(cfg.Meter.InverterId), 1*time.Second, logger, nil)
	if err != nil {
		return nil, err
	}
	return meter.NewSunSpecProductionMeter(reader, cfg.Storage.DataDir, logger)
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.base_topic", "forecast2mqtt")
	viper.SetDefault("forecast.fallback_enabled", true)
	viper.SetDefault("forecast.log_all_providers", false)
	viper.SetDefault("forecast.call_timeout_seconds", 30)
	viper.SetDefault("forecast.low_variance_threshold", 15)
	viper.SetDefault("forecast.high_variance_threshold", 30)
	viper.SetDefault("providers.solcast.daily_limit", 10)
	viper.SetDefault("providers.forecast_solar.daily_limit", 12)
	viper.SetDefault("storage.backend", "csv")
	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("meter.enable", false)
	viper.SetDefault("meter.port", 502)
	viper.SetDefault("schedule.forecast_cron", "0 0 22 * * *")
	viper.SetDefault("schedule.baseline_cron", "0 0 0 * * *")
	viper.SetDefault("schedule.reconcile_cron", "0 30 6 * * *")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Providers.Solcast.APIKey = "*redacted*"
	cfg.Providers.ForecastSolar.APIKey = "*redacted*"
	slog.Info("Using", "config", cfg)
}
