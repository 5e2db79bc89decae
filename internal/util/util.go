package util

import (
	"github.com/berfenger/forecast2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Site: config.SiteConfig{
			Latitude:     40.4,
			Longitude:    -3.7,
			Declination:  30,
			Azimuth:      0,
			KilowattPeak: 5.5,
		},
		Forecast: config.ForecastConfig{
			Providers:       []string{"forecast.solar", "solcast"},
			PrimaryProvider: "forecast.solar",
			FallbackEnabled: true,
		},
		Storage: config.StorageConfig{
			Backend: "memory",
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "forecast2mqtt",
		},
		Port: 8080,
	}
}
