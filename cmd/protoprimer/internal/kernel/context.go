// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel wires the closed set of primer states into a graph and
// evaluates it for one process image.
//
// An EnvContext lives exactly as long as its process image. States that
// must run under a different interpreter replace the process; the next
// image rebuilds a fresh context from the environment variables set here.
package kernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/process"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/regen"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/stride"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/wizard"
	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
	"github.com/AleutianAI/ProtoPrimer/pkg/ux"
)

// =============================================================================
// Environment Variables
// =============================================================================

const (
	// EnvPyExec carries the stride name reached by the process that exec'ed us.
	EnvPyExec = "PROTOPRIMER_PY_EXEC"

	// EnvStartID ties the images of one exec chain together.
	EnvStartID = "PROTOPRIMER_START_ID"

	// EnvProtoCode is the absolute path of the proto-kernel script.
	EnvProtoCode = "PROTOPRIMER_PROTO_CODE"

	// EnvStderrLogLevel is the effective level of the previous image.
	EnvStderrLogLevel = "PROTOPRIMER_STDERR_LOG_LEVEL"

	// EnvDefaultLogLevel seeds the level when no CLI verbosity is given.
	EnvDefaultLogLevel = "PROTOPRIMER_DEFAULT_LOG_LEVEL"
)

// =============================================================================
// Run Modes
// =============================================================================

// RunMode selects what the CLI does with the graph.
type RunMode string

const (
	ModePrime   RunMode = "prime"
	ModeUpgrade RunMode = "upgrade"
	ModeConfig  RunMode = "config"
	ModeCheck   RunMode = "check"
	ModeStart   RunMode = "start"
	ModeDag     RunMode = "dag"
)

// RunModes lists every mode in help order.
var RunModes = []RunMode{ModePrime, ModeUpgrade, ModeConfig, ModeCheck, ModeStart, ModeDag}

// ReadOnly reports whether the mode must leave the filesystem untouched.
func (m RunMode) ReadOnly() bool {
	return m == ModeConfig || m == ModeCheck || m == ModeDag
}

// Wizard stages.
const (
	WizardStarted  = "wizard_started"
	WizardFinished = "wizard_finished"
)

// =============================================================================
// Args and Deps
// =============================================================================

// Args are the parsed command line of this process image.
type Args struct {
	RunMode     RunMode
	FinalState  string
	EnvDir      string
	Reinstall   bool
	RefRoot     string
	PyExec      string
	ProtoCode   string
	WizardStage string

	// Verbosity is the -v count.
	Verbosity int
	Quiet     bool
	Silent    bool

	// Command is the start-mode command line.
	Command string

	// Argv is the original argument list without the program name. It is
	// replayed on every process replacement.
	Argv []string
}

// Deps are the process-level collaborators of a context.
//
// Zero fields are filled with production implementations by New.
type Deps struct {
	Environ  []string
	Getwd    func() (string, error)
	LookPath func(string) (string, error)
	Execer   Execer
	PM       process.Manager
	Locator  regen.Locator

	// Stdin feeds the wizard. Nil disables the wizard.
	Stdin wizard.InputReader

	// Stderr receives log output and wizard prompts.
	Stderr io.Writer

	// Logger overrides the logger built from the resolved level.
	Logger *logging.Logger

	// LogExporter receives a copy of each logged entry. Ignored with Logger.
	LogExporter logging.LogExporter

	Tracer    trace.Tracer
	Observers []graph.Observer
}

func (d *Deps) fill() {
	if d.Environ == nil {
		d.Environ = os.Environ()
	}
	if d.Getwd == nil {
		d.Getwd = os.Getwd
	}
	if d.LookPath == nil {
		d.LookPath = exec.LookPath
	}
	if d.Execer == nil {
		d.Execer = UnixExecer{}
	}
	if d.PM == nil {
		d.PM = process.NewDefaultManager()
	}
	if d.Locator == nil {
		d.Locator = regen.NewPythonLocator(d.PM)
	}
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
}

// =============================================================================
// EnvContext
// =============================================================================

// PreExecHook runs right before the process is replaced.
//
// target is the py_exec name of the next image, or the shell path when
// start mode hands over to the user's shell.
type PreExecHook func(target string) error

// EnvContext owns the graph and the per-image run state.
//
// # Thread Safety
//
// Not thread-safe. A context evaluates on a single goroutine.
type EnvContext struct {
	args    Args
	deps    Deps
	env     *util.EnvVars
	graph   *graph.Graph
	logger  *logging.Logger
	printer *ux.Printer
	cursor  *stride.Cursor
	pyExec  stride.PyExec
	level   logging.Level
	startID string
	hooks   []PreExecHook
}

// New builds the context for one process image.
//
// # Description
//
// Resolves the entry stride, the log level and the start id from the
// arguments and the environment, then registers every state. The
// graph is validated against the closed state list before returning.
//
// # Outputs
//
//   - *EnvContext: Ready to evaluate
//   - error: stride.ErrUnknownPyExec, a log level error, or a graph
//     registration error
func New(args Args, deps Deps) (*EnvContext, error) {
	deps.fill()
	env := util.FromEnviron(deps.Environ)

	pyExecName := args.PyExec
	if pyExecName == "" {
		pyExecName = env.Get(EnvPyExec)
	}
	pyExec, err := stride.ParsePyExec(pyExecName)
	if err != nil {
		return nil, err
	}

	level, err := ResolveLogLevel(env.Get, args)
	if err != nil {
		return nil, err
	}

	startID := env.Get(EnvStartID)
	if startID == "" {
		startID = uuid.NewString()
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.New(logging.Config{
			Level:    level,
			Service:  "protoprimer",
			Writer:   deps.Stderr,
			Exporter: deps.LogExporter,
		})
	}
	logger = logger.With("start_id", startID, "py_exec", pyExec.String())

	c := &EnvContext{
		args:    args,
		deps:    deps,
		env:     env,
		logger:  logger,
		printer: ux.NewPrinter(deps.Stderr),
		cursor:  stride.NewCursor(stride.FromPyExec(pyExec)),
		pyExec:  pyExec,
		level:   level,
		startID: startID,
	}

	opts := []graph.Option{graph.WithLogger(logger)}
	if deps.Tracer != nil {
		opts = append(opts, graph.WithTracer(deps.Tracer))
	}
	for _, o := range deps.Observers {
		opts = append(opts, graph.WithObserver(o))
	}
	c.graph = graph.New(opts...)
	if err := buildGraph(c, c.graph); err != nil {
		return nil, err
	}

	c.AddPreExecHook(func(string) error {
		return logger.Flush()
	})
	return c, nil
}

// ResolveLogLevel picks the stderr level of this image.
//
// Precedence: PROTOPRIMER_STDERR_LOG_LEVEL, then -s/-q/-v, then
// PROTOPRIMER_DEFAULT_LOG_LEVEL, then WARNING.
func ResolveLogLevel(getenv func(string) string, args Args) (logging.Level, error) {
	if v := getenv(EnvStderrLogLevel); v != "" {
		return logging.ParseLevel(v)
	}
	switch {
	case args.Silent:
		return logging.LevelSilent, nil
	case args.Quiet:
		return logging.LevelError, nil
	case args.Verbosity >= 2:
		return logging.LevelDebug, nil
	case args.Verbosity == 1:
		return logging.LevelInfo, nil
	}
	if v := getenv(EnvDefaultLogLevel); v != "" {
		return logging.ParseLevel(v)
	}
	return logging.LevelWarn, nil
}

// Eval evaluates a state by name.
func (c *EnvContext) Eval(ctx context.Context, name string) (any, error) {
	return c.graph.Eval(ctx, name)
}

// Run evaluates the final state of the run mode.
func (c *EnvContext) Run(ctx context.Context) (any, error) {
	final, err := c.Eval(ctx, InputFinalStateEvalFinalized)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("evaluating final state", "state", final)
	return c.Eval(ctx, final.(string))
}

// Graph returns the state graph.
func (c *EnvContext) Graph() *graph.Graph {
	return c.graph
}

// Logger returns the run logger.
func (c *EnvContext) Logger() *logging.Logger {
	return c.logger
}

// StartID returns the id of the exec chain.
func (c *EnvContext) StartID() string {
	return c.startID
}

// PyExec returns the entry stride category of this image.
func (c *EnvContext) PyExec() stride.PyExec {
	return c.pyExec
}

// Cursor returns the stride cursor.
func (c *EnvContext) Cursor() *stride.Cursor {
	return c.cursor
}

// Args returns the parsed arguments.
func (c *EnvContext) Args() Args {
	return c.args
}

// Execer returns the process replacer.
func (c *EnvContext) Execer() Execer {
	return c.deps.Execer
}

// Environ returns the environment this image was started with.
func (c *EnvContext) Environ() *util.EnvVars {
	return c.env.Clone()
}

// ReadOnly reports whether the run must not modify anything.
func (c *EnvContext) ReadOnly() bool {
	return c.args.RunMode.ReadOnly()
}

// AddPreExecHook registers a hook run before every process replacement.
func (c *EnvContext) AddPreExecHook(h PreExecHook) {
	c.hooks = append(c.hooks, h)
}

// RunPreExecHooks runs every hook, logging failures.
func (c *EnvContext) RunPreExecHooks(target string) {
	for _, h := range c.hooks {
		if err := h(target); err != nil {
			c.logger.Warn("pre-exec hook failed", "error", err)
		}
	}
}

// =============================================================================
// Process Replacement
// =============================================================================

// execRequest is what every exec state needs to replace the process.
type execRequest struct {
	target    stride.Stride
	python    string
	protoCode string
}

// replaceProcess execs python with the proto-kernel and the original args.
//
// # Description
//
// The carry-forward variables name the target stride, so the next image
// starts with its cursor there. --py_exec is dropped from the replayed
// args because the variable already carries it.
//
// # Outputs
//
//   - error: ErrReadOnly in read-only runs, the Execer error otherwise.
//     A real Execer does not return on success.
func (c *EnvContext) replaceProcess(req execRequest) error {
	pyExec := req.target.PyExec()
	if c.ReadOnly() {
		return fmt.Errorf("%w: would re-exec %s as %s", ErrReadOnly, req.python, pyExec)
	}

	argv := append([]string{req.python, "-I", req.protoCode}, StripPyExec(c.args.Argv)...)
	env := c.env.Clone()
	env.MustSet(EnvPyExec, pyExec.String())
	env.MustSet(EnvStartID, c.startID)
	env.MustSet(EnvProtoCode, req.protoCode)
	env.MustSet(EnvStderrLogLevel, c.level.String())

	c.logger.Info("replacing process",
		"target", pyExec.String(),
		"python", req.python,
		"argv", strings.Join(argv, " "),
	)
	c.RunPreExecHooks(pyExec.String())
	return c.deps.Execer.Exec(req.python, argv, env.ToSlice())
}

// StripPyExec removes --py_exec and its value from argv.
func StripPyExec(argv []string) []string {
	out := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if arg == "--py_exec" {
			i++
			continue
		}
		if strings.HasPrefix(arg, "--py_exec=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// IsStateName reports whether name is in the closed state list.
func IsStateName(name string) bool {
	return slices.Contains(StateNames(), name)
}
