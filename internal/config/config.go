package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration read from the environment
type Config struct {
	DatabaseURL string
	Port        string
	Env         string

	Redis struct {
		Addr     string
		Password string
		DB       int
		Stream   string
	}

	MQTT struct {
		Broker   string
		ClientID string
		Username string
		Password string
		Topic    string
		QoS      byte
	}

	RoutingProviderURL string
	RoutingAPIKey      string
	MLServiceURL       string

	Route struct {
		UpdateInterval time.Duration
		BaseSpeedKmh   float64
		RefreshTick    time.Duration
	}

	DemoFeed         bool
	DemoFeedInterval time.Duration

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment with defaults
func Load() *Config {
	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("GO_ENV", "development"),
		RoutingProviderURL: getEnv("ROUTING_PROVIDER_URL", ""),
		RoutingAPIKey:      getEnv("ROUTING_API_KEY", ""),
		MLServiceURL:       getEnv("ML_SERVICE_URL", "http://localhost:8000"),
		DemoFeed:           getEnv("DEMO_FEED", "false") == "true",
		DemoFeedInterval:   getDuration("DEMO_FEED_INTERVAL", 15*time.Second),
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getInt("REDIS_DB", 0)
	cfg.Redis.Stream = getEnv("NOTIFY_STREAM", "traffic:events")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "trafficcore-ingest")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "traffic/observations")
	cfg.MQTT.QoS = byte(getInt("MQTT_QOS", 1))

	cfg.Route.UpdateInterval = getDuration("ROUTE_UPDATE_INTERVAL", 30*time.Second)
	cfg.Route.BaseSpeedKmh = getFloat("ROUTE_BASE_SPEED_KMH", 50)
	cfg.Route.RefreshTick = getDuration("ROUTE_REFRESH_TICK", 5*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("30s") or plain seconds ("30")
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
