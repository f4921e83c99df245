// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
)

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{EnvTraceFile: "/tmp/t.json", EnvMetricsFile: "/tmp/m.prom"}
	cfg := ConfigFromEnv(func(k string) string { return env[k] })
	assert.Equal(t, "/tmp/t.json", cfg.TraceFile)
	assert.Equal(t, "/tmp/m.prom", cfg.MetricsFile)
	assert.Equal(t, "protoprimer", cfg.ServiceName)
}

func TestSetup_DisabledIsUsable(t *testing.T) {
	tel, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer())

	_, span := tel.Tracer().Start(context.Background(), "x")
	span.End()
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestStateEvaluated_Counts(t *testing.T) {
	tel, err := Setup(context.Background(), Config{})
	require.NoError(t, err)

	tel.StateEvaluated("a", time.Millisecond, nil)
	tel.StateEvaluated("a", time.Millisecond, nil)
	tel.StateEvaluated("b", time.Millisecond, errors.New("boom"))
	tel.ProcessReplaced("py_exec_venv")

	assert.Equal(t, 2.0, testutil.ToFloat64(tel.stateEvals.WithLabelValues("a", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.stateEvals.WithLabelValues("b", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.execs.WithLabelValues("py_exec_venv")))
}

func TestLogExporter_CountsEntriesByLevel(t *testing.T) {
	tel, err := Setup(context.Background(), Config{})
	require.NoError(t, err)

	logger := logging.New(logging.Config{
		Level:    logging.LevelWarn,
		Writer:   &bytes.Buffer{},
		Exporter: tel.LogExporter(),
	})
	logger.Info("below level")
	logger.Warn("link kept")
	logger.Warn("link kept again")
	logger.Error("venv failed")

	assert.Equal(t, 0.0, testutil.ToFloat64(tel.logEntries.WithLabelValues("INFO")))
	assert.Equal(t, 2.0, testutil.ToFloat64(tel.logEntries.WithLabelValues("WARNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.logEntries.WithLabelValues("ERROR")))
	assert.NoError(t, logger.Close())
}

func TestFlush_WritesMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics", "protoprimer.prom")
	tel, err := Setup(context.Background(), Config{MetricsFile: path, StartID: "run-1", PyExec: "py_exec_required"})
	require.NoError(t, err)
	tel.StateEvaluated("input_py_exec_var_loaded", time.Millisecond, nil)

	require.NoError(t, tel.Flush(context.Background()))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `protoprimer_state_evaluations_total{state="input_py_exec_var_loaded",status="ok"} 1`)
	assert.Contains(t, string(content), `protoprimer_run_info{py_exec="py_exec_required",start_id="run-1"} 1`)
}

func TestTraceFile_AppendsSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	ctx := context.Background()

	for _, name := range []string{"first_state", "second_state"} {
		tel, err := Setup(ctx, Config{TraceFile: path, StartID: "run-1"})
		require.NoError(t, err)
		_, span := tel.Tracer().Start(ctx, name)
		span.End()
		require.NoError(t, tel.Shutdown(ctx))
	}

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "first_state")
	assert.Contains(t, string(content), "second_state")
	assert.Contains(t, string(content), "run-1")
}

func TestObserver_WiredIntoGraph(t *testing.T) {
	tel, err := Setup(context.Background(), Config{})
	require.NoError(t, err)

	g := graph.New(graph.WithTracer(tel.Tracer()), graph.WithObserver(tel))
	require.NoError(t, g.Register(graph.NewNode("root", nil, func(context.Context, *graph.Node) (any, error) {
		return 1, nil
	})))
	_, err = g.Eval(context.Background(), "root")
	require.NoError(t, err)
	_, err = g.Eval(context.Background(), "root")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.stateEvals.WithLabelValues("root", "ok")))
}
