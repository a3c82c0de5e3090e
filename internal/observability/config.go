package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/splitledger/internal/config"
)

// Config holds observability settings layered over the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	TracingEnabled bool
	MetricsEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
	SamplingRatio  float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "splitledger"
	}

	protocol := strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	otelDefault := endpoint != ""

	return Config{
		ServiceName:    serviceName,
		Environment:    strings.TrimSpace(cfg.Environment),
		Version:        strings.TrimSpace(cfg.AppVersion),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getenv("LOG_FORMAT", "json")),
		TracingEnabled: getenvBool("OTEL_TRACES_ENABLED", otelDefault),
		MetricsEnabled: getenvBool("OTEL_METRICS_ENABLED", otelDefault),
		OTLPEndpoint:   endpoint,
		OTLPProtocol:   protocol,
		SamplingRatio:  clampRatio(getenvFloat("OTEL_SAMPLING_RATIO", 0.1)),
	}
}

func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return value
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}
