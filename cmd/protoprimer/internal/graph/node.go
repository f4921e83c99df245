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
)

// EvalFunc computes a state's own value.
//
// It may read only the parents declared on n, through n.EvalParent or the
// typed Parent helper.
type EvalFunc func(ctx context.Context, n *Node) (any, error)

// Node is a single named state with a cached value.
//
// # Description
//
// A Node evaluates at most once per process image. The first successful
// Eval stores the value; later calls return it without re-running the
// evaluator. A failed evaluation caches nothing.
//
// # Thread Safety
//
// Not thread-safe. Evaluation is single-threaded and recursive.
type Node struct {
	name      string
	parents   []string
	eval      EvalFunc
	value     any
	evaluated bool
	evalCount int
	graph     *Graph
}

// NewNode creates an unregistered node.
//
// # Inputs
//
//   - name: State name from the closed enumeration
//   - parents: Declared parents in the order the DAG printer walks them
//   - eval: Evaluator for the node's own value
func NewNode(name string, parents []string, eval EvalFunc) *Node {
	return &Node{
		name:    name,
		parents: slices.Clone(parents),
		eval:    eval,
	}
}

// Name returns the state name.
func (n *Node) Name() string {
	return n.name
}

// Parents returns a copy of the declared parents.
func (n *Node) Parents() []string {
	return slices.Clone(n.parents)
}

// Evaluated reports whether the value is cached.
func (n *Node) Evaluated() bool {
	return n.evaluated
}

// Value returns the cached value, if any.
func (n *Node) Value() (any, bool) {
	return n.value, n.evaluated
}

// EvalCount returns how many times the evaluator ran.
func (n *Node) EvalCount() int {
	return n.evalCount
}

// Eval returns the cached value, evaluating the node on first use.
func (n *Node) Eval(ctx context.Context) (any, error) {
	if n.evaluated {
		return n.value, nil
	}
	if n.graph == nil {
		return nil, &StateError{State: n.name, Err: fmt.Errorf("%w: node is not registered", ErrUnknownState)}
	}
	return n.graph.evalNode(ctx, n)
}

// EvalParent evaluates a declared parent.
//
// # Outputs
//
//   - any: The parent's value
//   - error: ErrUndeclaredParent when name is not among the declared parents
func (n *Node) EvalParent(ctx context.Context, name string) (any, error) {
	if !slices.Contains(n.parents, name) {
		return nil, &StateError{
			State: n.name,
			Err:   fmt.Errorf("%w: %s reads %s", ErrUndeclaredParent, n.name, name),
		}
	}
	return n.graph.Eval(ctx, name)
}

// Parent evaluates a declared parent and asserts its value type.
//
// # Example
//
//	dir, err := graph.Parent[string](ctx, n, StateRefRootDirAbsPath)
func Parent[T any](ctx context.Context, n *Node, name string) (T, error) {
	var zero T
	v, err := n.EvalParent(ctx, name)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &StateError{
			State: n.name,
			Err:   fmt.Errorf("%w: parent %s is %T, want %T", ErrValueType, name, v, zero),
		}
	}
	return typed, nil
}
