package storage

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce       sync.Once
	storageOperations metric.Int64Counter
	storageDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/groupbuy/groupbuy-client/internal/storage")

		var err error
		storageOperations, err = meter.Int64Counter(
			"storage.operations",
			metric.WithDescription("Total storage operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		storageDuration, err = meter.Float64Histogram(
			"storage.operation.duration",
			metric.WithDescription("Storage operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a KVStore with metrics and span attributes.
type Instrumented struct {
	wrapped     KVStore
	storageType string
}

func NewInstrumented(store KVStore, storageType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:     store,
		storageType: storageType,
	}
}

func (i *Instrumented) GetString(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()

	value, found, err := i.wrapped.GetString(ctx, key)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, found, err
}

func (i *Instrumented) SetString(ctx context.Context, key string, value string) error {
	start := time.Now()
	err := i.wrapped.SetString(ctx, key, value)
	i.record(ctx, "set", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.wrapped.Delete(ctx, key)
	i.record(ctx, "delete", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) AllKeys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := i.wrapped.AllKeys(ctx)
	i.record(ctx, "keys", outcome(err), time.Since(start))
	return keys, err
}

func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (i *Instrumented) record(ctx context.Context, operation, status string, duration time.Duration) {
	if storageOperations != nil {
		storageOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("storage.type", i.storageType),
				attribute.String("storage.operation", operation),
				attribute.String("storage.status", status),
			),
		)
	}

	if storageDuration != nil {
		storageDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("storage.type", i.storageType),
				attribute.String("storage.operation", operation),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("storage.type", i.storageType),
		attribute.String("storage."+operation+".status", status),
		attribute.Float64("storage."+operation+".duration", duration.Seconds()),
	)
}
