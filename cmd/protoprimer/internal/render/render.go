// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package render prints the effective configuration as commented YAML.

The resolved config is turned into a node tree

	RootNode -> DictNode -> (ValueNode | ListNode | DictNode)*

and every node is emitted as a YAML key with a comment line above it:

  - present fields carry their help text,
  - recognized fields missing from a file are emitted commented out with
    an example value, keeping nested indentation inside the comment,
  - keys that are not recognized are emitted as-is and marked [unused].

With colors off the output parses as YAML and yields exactly the present
and unused values.
*/
package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/pkg/ux"
)

// Indent is the per-level YAML indentation.
const Indent = "    "

// Status classifies a rendered field.
type Status int

const (
	// StatusPresent is a recognized field set in the file.
	StatusPresent Status = iota

	// StatusAbsent is a recognized field missing from the file.
	StatusAbsent

	// StatusUnused is a key that is not a recognized field.
	StatusUnused
)

// =============================================================================
// Node Tree
// =============================================================================

// Node is one element of the rendered tree.
type Node interface {
	key() string
	meta() (string, Status)
}

type base struct {
	Key     string
	Comment string
	Status  Status
}

func (b base) key() string            { return b.Key }
func (b base) meta() (string, Status) { return b.Comment, b.Status }

// ValueNode is a scalar.
type ValueNode struct {
	base
	Value any
}

// ListNode is a sequence of scalars.
type ListNode struct {
	base
	Items []any
}

// DictNode is a mapping with ordered children.
type DictNode struct {
	base
	Children []Node
}

// RootNode is the whole document.
type RootNode struct {
	Sections []*DictNode
}

// File is one config tier as loaded.
type File struct {
	Leap   conf.Leap
	Path   string
	Exists bool
	Data   conf.Data
}

// Pair is a named derived value.
type Pair struct {
	Name  string
	Value any
}

// FileSection builds the section of a config file.
//
// Recognized fields come first in catalog order, then unknown keys sorted.
func FileSection(f File) *DictNode {
	comment := fmt.Sprintf("%s config: %s", f.Leap, f.Path)
	if !f.Exists {
		comment += " (missing)"
	}
	section := &DictNode{base: base{Key: f.Leap.String() + "_conf", Comment: comment}}

	for _, spec := range conf.Fields(f.Leap) {
		if v, ok := f.Data[spec.Name]; ok {
			section.Children = append(section.Children, build(spec.Name, v, spec.Help, StatusPresent))
			continue
		}
		section.Children = append(section.Children, build(spec.Name, spec.Example, "[absent] "+spec.Help, StatusAbsent))
	}
	for _, k := range f.Data.Unknown(f.Leap) {
		section.Children = append(section.Children,
			build(k, f.Data[k], fmt.Sprintf("[unused] not a recognized %s field", f.Leap), StatusUnused))
	}
	return section
}

// ValuesSection builds a section of derived values.
func ValuesSection(name, comment string, pairs []Pair) *DictNode {
	section := &DictNode{base: base{Key: name, Comment: comment}}
	for _, p := range pairs {
		section.Children = append(section.Children, build(p.Name, p.Value, "", StatusPresent))
	}
	return section
}

func build(key string, v any, comment string, status Status) Node {
	b := base{Key: key, Comment: comment, Status: status}
	switch tv := v.(type) {
	case map[string]any:
		// children of an absent dict are commented out through the parent
		childStatus := status
		if status == StatusAbsent {
			childStatus = StatusPresent
		}
		d := &DictNode{base: b}
		for _, k := range sortedKeys(tv) {
			d.Children = append(d.Children, build(k, tv[k], "", childStatus))
		}
		return d
	case conf.Data:
		return build(key, map[string]any(tv), comment, status)
	case map[string][]string:
		m := make(map[string]any, len(tv))
		for k, list := range tv {
			m[k] = list
		}
		return build(key, m, comment, status)
	case []any:
		return &ListNode{base: b, Items: tv}
	case []string:
		items := make([]any, len(tv))
		for i, s := range tv {
			items[i] = s
		}
		return &ListNode{base: b, Items: items}
	default:
		return &ValueNode{base: b, Value: v}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Renderer
// =============================================================================

// Renderer writes a RootNode.
type Renderer struct {
	p *ux.Printer
}

// New creates a renderer on top of p; colors follow p.
func New(p *ux.Printer) *Renderer {
	return &Renderer{p: p}
}

// Render writes root as YAML.
func (r *Renderer) Render(root *RootNode) error {
	var b strings.Builder
	for i, section := range root.Sections {
		if i > 0 {
			b.WriteString("\n")
		}
		r.node(&b, section, 0, false)
	}
	_, err := io.WriteString(r.p.Writer(), b.String())
	return err
}

func (r *Renderer) node(b *strings.Builder, n Node, depth int, commented bool) {
	comment, status := n.meta()
	indent := strings.Repeat(Indent, depth)
	if status == StatusAbsent {
		commented = true
	}

	if comment != "" {
		b.WriteString(indent + r.p.Style(commentKind(status), "# "+comment) + "\n")
	}

	prefix := indent
	if commented {
		prefix = indent + "# "
	}
	key := scalar(n.key())

	write := func(text string) {
		if commented {
			text = r.p.Style(ux.KindMuted, text)
		}
		b.WriteString(text + "\n")
	}

	switch tn := n.(type) {
	case *ValueNode:
		write(prefix + key + ": " + scalar(tn.Value))
	case *ListNode:
		if len(tn.Items) == 0 {
			write(prefix + key + ": []")
			return
		}
		write(prefix + key + ":")
		for _, item := range tn.Items {
			write(prefix + Indent + "- " + scalar(item))
		}
	case *DictNode:
		if len(tn.Children) == 0 {
			write(prefix + key + ": {}")
			return
		}
		write(prefix + key + ":")
		for _, child := range tn.Children {
			if commented {
				r.commentedChild(b, child, depth+1)
				continue
			}
			r.node(b, child, depth+1, false)
		}
	}
}

// commentedChild renders a child of a commented-out dict. The "# " stays
// at the parent's column so the nested indentation survives uncommenting.
func (r *Renderer) commentedChild(b *strings.Builder, n Node, depth int) {
	var inner strings.Builder
	r.node(&inner, n, depth, false)
	outer := strings.Repeat(Indent, depth-1)
	for _, line := range strings.Split(strings.TrimSuffix(inner.String(), "\n"), "\n") {
		line = strings.TrimPrefix(line, outer)
		b.WriteString(r.p.Style(ux.KindMuted, outer+"# "+line) + "\n")
	}
}

func commentKind(s Status) ux.Kind {
	switch s {
	case StatusAbsent:
		return ux.KindWarning
	case StatusUnused:
		return ux.KindError
	default:
		return ux.KindMuted
	}
}

// scalar encodes a single value as a flow YAML scalar.
func scalar(v any) string {
	switch tv := v.(type) {
	case []any, map[string]any:
		node := &yaml.Node{}
		if err := node.Encode(tv); err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(tv))
		}
		node.Style = yaml.FlowStyle
		out, err := yaml.Marshal(node)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(tv))
		}
		return strings.TrimSpace(string(out))
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return strings.TrimSpace(string(out))
}
