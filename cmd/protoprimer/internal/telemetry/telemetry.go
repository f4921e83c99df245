// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry records spans and metrics for one process image.
//
// Both outputs are off unless their environment variable names a file:
//
//	PROTOPRIMER_TRACE_FILE    spans appended as JSON by the stdout exporter
//	PROTOPRIMER_METRICS_FILE  Prometheus text format, rewritten on Flush
//
// The trace file is opened for append so every image of one exec chain
// adds to the same file. Flush must run before the process is replaced.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
)

const (
	// EnvTraceFile names the span output file.
	EnvTraceFile = "PROTOPRIMER_TRACE_FILE"

	// EnvMetricsFile names the metrics textfile.
	EnvMetricsFile = "PROTOPRIMER_METRICS_FILE"

	metricsNamespace = "protoprimer"
)

// Config controls telemetry for one process image.
type Config struct {
	// ServiceName identifies the primer in spans.
	ServiceName string

	// TraceFile enables span export when non-empty.
	TraceFile string

	// MetricsFile enables the metrics textfile when non-empty.
	MetricsFile string

	// StartID ties the spans and metrics of one exec chain together.
	StartID string

	// PyExec is the stride of this process image.
	PyExec string
}

// ConfigFromEnv reads the file locations from the environment.
func ConfigFromEnv(getenv func(string) string) Config {
	return Config{
		ServiceName: "protoprimer",
		TraceFile:   getenv(EnvTraceFile),
		MetricsFile: getenv(EnvMetricsFile),
	}
}

// Telemetry owns the tracer provider and the metrics registry.
//
// # Thread Safety
//
// StateEvaluated and ProcessReplaced are safe for concurrent use; Flush
// and Shutdown are not.
type Telemetry struct {
	cfg       Config
	tracer    trace.Tracer
	provider  *sdktrace.TracerProvider
	traceFile *os.File

	registry      *prometheus.Registry
	stateEvals    *prometheus.CounterVec
	stateDuration *prometheus.HistogramVec
	execs         *prometheus.CounterVec
	logEntries    *prometheus.CounterVec
	runInfo       *prometheus.GaugeVec
}

// Setup creates telemetry for cfg.
//
// # Outputs
//
//   - *Telemetry: Always usable; spans go to a no-op tracer when TraceFile is empty
//   - error: Non-nil if the trace file or the exporter cannot be created
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "protoprimer"
	}
	t := &Telemetry{cfg: cfg, registry: prometheus.NewRegistry()}
	t.registerMetrics()

	if cfg.TraceFile == "" {
		t.tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.TraceFile), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("protoprimer.start_id", cfg.StartID),
			attribute.String("protoprimer.py_exec", cfg.PyExec),
		),
	)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	t.tracer = t.provider.Tracer(cfg.ServiceName)
	t.traceFile = f
	return t, nil
}

func (t *Telemetry) registerMetrics() {
	t.stateEvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "state_evaluations_total",
			Help:      "State evaluator runs by state and status",
		},
		[]string{"state", "status"},
	)
	t.stateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "state_evaluation_seconds",
			Help:      "State evaluator duration in seconds, including parents evaluated on demand",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"state"},
	)
	t.execs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "process_replacements_total",
			Help:      "Process replacements by target stride",
		},
		[]string{"py_exec"},
	)
	t.logEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "log_entries_total",
			Help:      "Log entries at or above the stderr level, by level",
		},
		[]string{"level"},
	)
	t.runInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_info",
			Help:      "Identity of the process image that wrote this file",
		},
		[]string{"start_id", "py_exec"},
	)
	t.registry.MustRegister(t.stateEvals, t.stateDuration, t.execs, t.logEntries, t.runInfo)
	t.runInfo.WithLabelValues(t.cfg.StartID, t.cfg.PyExec).Set(1)
}

// Tracer returns the tracer for state spans.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Registry returns the metrics registry.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// StateEvaluated records one evaluator run.
func (t *Telemetry) StateEvaluated(name string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.stateEvals.WithLabelValues(name, status).Inc()
	t.stateDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// ProcessReplaced records an exec towards pyExec.
func (t *Telemetry) ProcessReplaced(pyExec string) {
	t.execs.WithLabelValues(pyExec).Inc()
}

// LogExporter returns a logging exporter that counts entries by level.
func (t *Telemetry) LogExporter() logging.LogExporter {
	return logCounter{entries: t.logEntries}
}

type logCounter struct {
	entries *prometheus.CounterVec
}

func (c logCounter) Export(_ context.Context, entry logging.LogEntry) error {
	c.entries.WithLabelValues(entry.Level.String()).Inc()
	return nil
}

// Flush is a no-op; the counter is written by Telemetry.Flush.
func (c logCounter) Flush(context.Context) error { return nil }
func (c logCounter) Close() error                { return nil }

// Flush exports pending spans and writes the metrics file.
func (t *Telemetry) Flush(ctx context.Context) error {
	var errs []error
	if t.provider != nil {
		if err := t.provider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush spans: %w", err))
		}
	}
	if t.cfg.MetricsFile != "" {
		if err := os.MkdirAll(filepath.Dir(t.cfg.MetricsFile), 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create metrics directory: %w", err))
		} else if err := prometheus.WriteToTextfile(t.cfg.MetricsFile, t.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and releases the trace file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	err := t.Flush(ctx)
	if t.provider != nil {
		err = errors.Join(err, t.provider.Shutdown(ctx))
		t.provider = nil
	}
	if t.traceFile != nil {
		err = errors.Join(err, t.traceFile.Close())
		t.traceFile = nil
	}
	return err
}

// Compile-time interface compliance check.
var _ graph.Observer = (*Telemetry)(nil)
