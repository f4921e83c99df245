// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides styled terminal output for the primer CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Primer palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorSlate       = lipgloss.Color("#6C8A94")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = ColorSlate
)

// Kind selects one of the printer's styles.
type Kind int

const (
	KindPlain Kind = iota
	KindTitle
	KindSuccess
	KindWarning
	KindError
	KindMuted
	KindHighlight
)

// Icon provides status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// styles holds renderer-bound lipgloss styles for one writer.
type styles struct {
	title     lipgloss.Style
	success   lipgloss.Style
	warning   lipgloss.Style
	err       lipgloss.Style
	muted     lipgloss.Style
	highlight lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:     r.NewStyle().Bold(true).Foreground(ColorTealBright),
		success:   r.NewStyle().Foreground(ColorSuccess),
		warning:   r.NewStyle().Foreground(ColorWarning),
		err:       r.NewStyle().Foreground(ColorError).Bold(true),
		muted:     r.NewStyle().Foreground(ColorMuted),
		highlight: r.NewStyle().Foreground(ColorTealPrimary).Bold(true),
	}
}

// Printer writes styled lines to a single destination.
//
// Colors are only emitted when the destination is a terminal and NO_COLOR
// is unset, so piping primer output into files or tests yields plain text.
type Printer struct {
	w      io.Writer
	color  bool
	styles styles
}

// NewPrinter creates a Printer that auto-detects color support for w.
func NewPrinter(w io.Writer) *Printer {
	return NewPrinterWithColor(w, ColorEnabled(w))
}

// NewPrinterWithColor creates a Printer with color explicitly on or off.
func NewPrinterWithColor(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{w: w, color: color, styles: newStyles(r)}
}

// ColorEnabled reports whether w is a terminal that should receive ANSI colors.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsInteractive reports whether f is attached to a terminal.
func IsInteractive(f *os.File) bool {
	return f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Writer returns the destination.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Color reports whether the printer emits ANSI sequences.
func (p *Printer) Color() bool {
	return p.color
}

// Style renders text in the given kind, or returns it unchanged when
// colors are off.
func (p *Printer) Style(kind Kind, text string) string {
	if !p.color {
		return text
	}
	switch kind {
	case KindTitle:
		return p.styles.title.Render(text)
	case KindSuccess:
		return p.styles.success.Render(text)
	case KindWarning:
		return p.styles.warning.Render(text)
	case KindError:
		return p.styles.err.Render(text)
	case KindMuted:
		return p.styles.muted.Render(text)
	case KindHighlight:
		return p.styles.highlight.Render(text)
	default:
		return text
	}
}

// Println writes a raw line.
func (p *Printer) Println(text string) {
	fmt.Fprintln(p.w, text)
}

// Title prints a styled title
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.Style(KindTitle, text))
}

// Success prints a success line with a checkmark.
func (p *Printer) Success(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Style(KindSuccess, string(IconSuccess)), p.Style(KindSuccess, text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Style(KindWarning, string(IconWarning)), p.Style(KindWarning, text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Style(KindMuted, "│"), text)
}

// Muted prints secondary text.
func (p *Printer) Muted(text string) {
	fmt.Fprintln(p.w, p.Style(KindMuted, text))
}

// Failure prints the top-level failure report.
//
// The report names the running executable and its full argv so a failure
// inside any process image of the exec chain can be reproduced.
func (p *Printer) Failure(err error, executable string, argv []string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Style(KindError, "FAILURE:"), err)
	fmt.Fprintf(p.w, "%s %s %s\n",
		p.Style(KindMuted, string(IconArrow)),
		p.Style(KindMuted, executable),
		p.Style(KindMuted, strings.Join(argv, " ")),
	)
}
