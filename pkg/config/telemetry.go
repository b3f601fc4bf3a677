package config

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/version"
)

// Telemetry owns the otel meter provider created by SetupTelemetry.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
}

// SetupTelemetry installs a global meter provider exporting to
// TelemetryEndpoint. The endpoint value "stdout" selects the stdout
// exporter, anything else is treated as an otlp grpc target.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName("timing-session-manager"),
			semconv.ServiceVersion(version.Version),
		))
	if err != nil {
		return nil, err
	}
	var exporter sdkmetric.Exporter
	if TelemetryEndpoint == "stdout" {
		exporter, err = stdoutmetric.New(
			stdoutmetric.WithWriter(os.Stdout))
	} else {
		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(TelemetryEndpoint),
			otlpmetricgrpc.WithInsecure())
	}
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)
	return &Telemetry{provider: provider}, nil
}

func (t *Telemetry) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		log.Warn("telemetry shutdown", log.ErrorField(err))
	}
}
