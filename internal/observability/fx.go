package observability

import (
	"github.com/smallbiznis/splitledger/internal/observability/logger"
	"github.com/smallbiznis/splitledger/internal/observability/metrics"
	"github.com/smallbiznis/splitledger/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the zap logger, the OTLP trace and meter providers, the
// settlement instruments and the prometheus collectors for HTTP and the
// scheduler.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.SchedulerWithConfig,
	),
	// The tracer provider installs itself globally; force its construction.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func (c Config) Logger() logger.Config {
	debug := c.Debug()
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               debug,
		IncludeCaller:       true,
		IncludeStackOnError: debug,
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.TracingEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OTLPEndpoint,
		ExporterProtocol: c.OTLPProtocol,
		SamplingRatio:    c.SamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.MetricsEnabled,
		ExporterEndpoint: c.OTLPEndpoint,
		ExporterProtocol: c.OTLPProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
