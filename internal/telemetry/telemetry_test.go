package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowgraph/config"
)

// keepGlobals 在测试结束时恢复全局 provider
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func enabledProviders(t *testing.T, serviceName string) *Providers {
	t.Helper()
	keepGlobals(t)
	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  serviceName,
		SampleRate:   1.0,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	// 没有 collector，导出失败可忽略
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestInit_Disabled(t *testing.T) {
	keepGlobals(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)

	_, isNoop := p.TracerProvider().(noop.TracerProvider)
	assert.True(t, isNoop)
	assert.NotNil(t, p.Meter())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledRegistersGlobals(t *testing.T) {
	p := enabledProviders(t, "flowgraph-test")
	assert.True(t, p.Enabled())

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)

	tp, ok := p.TracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)
	_, span := tp.Tracer("test").Start(context.Background(), "workflow.step")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestProviders_NilReceiver(t *testing.T) {
	var p *Providers
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Meter())
	_, isNoop := p.TracerProvider().(noop.TracerProvider)
	assert.True(t, isNoop)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProviders_ShutdownWithoutCollector(t *testing.T) {
	p := enabledProviders(t, "flowgraph-shutdown-test")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制的 Main.Version 为 (devel)
	assert.Equal(t, "dev", buildVersion())
}
