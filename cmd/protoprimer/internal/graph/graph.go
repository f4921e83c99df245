// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
)

// Edge is a directed parent -> child relation.
type Edge struct {
	From string
	To   string
}

// Observer receives one callback per completed evaluator run.
type Observer interface {
	StateEvaluated(name string, duration time.Duration, err error)
}

// Option configures a Graph.
type Option func(*Graph)

// WithTracer sets the tracer used for per-state spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Graph) {
		g.tracer = tracer
	}
}

// WithObserver registers an evaluation observer.
func WithObserver(o Observer) Option {
	return func(g *Graph) {
		g.observers = append(g.observers, o)
	}
}

// WithLogger sets the logger for evaluation traces.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// Graph is the registry of state nodes.
//
// # Description
//
// Registration records every parent -> child edge. Evaluation is on demand:
// Eval resolves the node and recurses into whatever parents its evaluator
// reads. The set of nodes is fixed once evaluation starts.
//
// # Thread Safety
//
// Not thread-safe.
type Graph struct {
	nodes      map[string]*Node
	order      []string
	edges      []Edge
	evaluating map[string]bool
	visits     []string
	tracer     trace.Tracer
	observers  []Observer
	logger     *logging.Logger
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		nodes:      make(map[string]*Node),
		evaluating: make(map[string]bool),
		tracer:     otel.Tracer("protoprimer.graph"),
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register inserts a node and records its edges.
//
// # Outputs
//
//   - error: ErrDuplicateState if the name is already registered
func (g *Graph) Register(n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrUnknownState)
	}
	if _, exists := g.nodes[n.name]; exists {
		return &StateError{State: n.name, Err: ErrDuplicateState}
	}
	n.graph = g
	g.nodes[n.name] = n
	g.order = append(g.order, n.name)
	for _, parent := range n.parents {
		g.edges = append(g.edges, Edge{From: parent, To: n.name})
	}
	return nil
}

// Get returns a registered node.
//
// # Outputs
//
//   - error: ErrUnknownState if name is not registered
func (g *Graph) Get(name string) (*Node, error) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, &StateError{State: name, Err: ErrUnknownState}
	}
	return n, nil
}

// Has reports whether name is registered.
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Names returns state names in registration order.
func (g *Graph) Names() []string {
	return slices.Clone(g.order)
}

// Edges returns all parent -> child edges in registration order.
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// ReverseEdges returns the child -> parents index.
func (g *Graph) ReverseEdges() map[string][]string {
	reverse := make(map[string][]string, len(g.nodes))
	for _, e := range g.edges {
		reverse[e.To] = append(reverse[e.To], e.From)
	}
	return reverse
}

// Children returns the registered children of name in registration order.
func (g *Graph) Children(name string) []string {
	var children []string
	for _, e := range g.edges {
		if e.From == name {
			children = append(children, e.To)
		}
	}
	return children
}

// Sinks returns states nothing depends on, in registration order.
func (g *Graph) Sinks() []string {
	hasChild := make(map[string]bool)
	for _, e := range g.edges {
		hasChild[e.From] = true
	}
	var sinks []string
	for _, name := range g.order {
		if !hasChild[name] {
			sinks = append(sinks, name)
		}
	}
	return sinks
}

// VisitOrder returns states in the order their evaluators completed.
func (g *Graph) VisitOrder() []string {
	return slices.Clone(g.visits)
}

// Validate checks the registry after construction.
//
// # Description
//
// Every expected name must be registered, every declared parent must be
// registered, and the parent relation must be acyclic. Nothing else may be
// registered beyond the expected set.
//
// # Inputs
//
//   - expected: The closed enumeration of state names
//
// # Outputs
//
//   - error: ErrMissingState, ErrUnknownState or a *CycleError
func (g *Graph) Validate(expected []string) error {
	want := make(map[string]bool, len(expected))
	for _, name := range expected {
		want[name] = true
		if _, ok := g.nodes[name]; !ok {
			return &StateError{State: name, Err: ErrMissingState}
		}
	}
	for _, name := range g.order {
		if !want[name] {
			return &StateError{State: name, Err: fmt.Errorf("%w: not in the state enumeration", ErrUnknownState)}
		}
	}
	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			return &StateError{State: e.To, Err: fmt.Errorf("%w: parent %s", ErrUnknownState, e.From)}
		}
	}
	return g.detectCycles()
}

// detectCycles walks parents depth-first in registration order.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(name string) error
	dfs = func(name string) error {
		visited[name] = true
		recStack[name] = true
		path = append(path, name)

		for _, parent := range g.nodes[name].parents {
			if !visited[parent] {
				if err := dfs(parent); err != nil {
					return err
				}
			} else if recStack[parent] {
				start := slices.Index(path, parent)
				cycle := append(slices.Clone(path[start:]), parent)
				return &CycleError{Path: cycle}
			}
		}

		path = path[:len(path)-1]
		recStack[name] = false
		return nil
	}

	for _, name := range g.order {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Eval evaluates a state by name.
func (g *Graph) Eval(ctx context.Context, name string) (any, error) {
	n, err := g.Get(name)
	if err != nil {
		return nil, err
	}
	return n.Eval(ctx)
}

// evalNode runs the evaluator of an uncached node inside a span.
func (g *Graph) evalNode(ctx context.Context, n *Node) (any, error) {
	if n.eval == nil {
		return nil, &StateError{State: n.name, Err: ErrNoEvaluator}
	}
	if g.evaluating[n.name] {
		return nil, &CycleError{Path: []string{n.name, n.name}}
	}
	g.evaluating[n.name] = true
	defer delete(g.evaluating, n.name)

	ctx, span := g.tracer.Start(ctx, n.name,
		trace.WithAttributes(
			attribute.String("state", n.name),
			attribute.Int("parents", len(n.parents)),
		),
	)
	defer span.End()

	start := time.Now()
	n.evalCount++
	value, err := n.eval(ctx, n)
	elapsed := time.Since(start)

	for _, o := range g.observers {
		o.StateEvaluated(n.name, elapsed, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrapStateError(n.name, err)
	}

	n.value = value
	n.evaluated = true
	g.visits = append(g.visits, n.name)
	span.SetStatus(codes.Ok, "")
	g.logger.Debug("state evaluated", "state", n.name, "value", fmt.Sprintf("%v", value))
	return value, nil
}
