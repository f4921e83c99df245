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
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// Sink Printer
// =============================================================================

// PrintIndent is the per-level indentation of the DAG printer.
const PrintIndent = "    "

// SinkPrinter prints the reduced parent tree of a sink state.
//
// # Description
//
// Each visited state is printed as
//
//	<indent><state>: <space-joined parents>
//
// or `<state>: [none]` for roots. The walk is depth-first in declared parent
// order, so a state reached a second time already has its whole ancestry on
// the page; it and its subtree are omitted. Duplicate parents in one list are
// visited once.
//
// # Thread Safety
//
// Not thread-safe. Use one printer per walk.
type SinkPrinter struct {
	graph   *Graph
	printed map[string]bool
	w       io.Writer
	err     error
}

// NewSinkPrinter creates a printer writing to w.
func NewSinkPrinter(g *Graph, w io.Writer) *SinkPrinter {
	return &SinkPrinter{graph: g, printed: make(map[string]bool), w: w}
}

// Print walks the tree rooted at sink.
//
// # Outputs
//
//   - error: ErrUnknownState for an unregistered sink, or the first write error
func (p *SinkPrinter) Print(sink string) error {
	if _, err := p.graph.Get(sink); err != nil {
		return err
	}
	p.visit(sink, 0)
	return p.err
}

func (p *SinkPrinter) visit(name string, depth int) {
	if p.err != nil {
		return
	}
	if p.printed[name] {
		return
	}

	parents := dedupe(p.graph.nodes[name].parents)
	line := strings.Join(parents, " ")
	if len(parents) == 0 {
		line = "[none]"
	}
	if _, err := fmt.Fprintf(p.w, "%s%s: %s\n", strings.Repeat(PrintIndent, depth), name, line); err != nil {
		p.err = err
		return
	}
	p.printed[name] = true

	for _, parent := range parents {
		p.visit(parent, depth+1)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
