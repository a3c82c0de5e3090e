package observability

import (
	"testing"

	"github.com/smallbiznis/splitledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "4")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_TRACES_ENABLED", "")

	cfg := LoadConfig(config.Config{AppName: " ", Environment: "production", OTLPEndpoint: "collector:4317"})

	assert.Equal(t, "splitledger", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, 1.0, cfg.SamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestDebugFollowsLevelAndEnvironment(t *testing.T) {
	assert.True(t, Config{LogLevel: "debug", Environment: "production"}.Debug())
	assert.True(t, Config{LogLevel: "info", Environment: "Local"}.Debug())

	logCfg := Config{LogLevel: "info", Environment: "test"}.Logger()
	assert.True(t, logCfg.Debug)
	assert.True(t, logCfg.IncludeStackOnError)
}
