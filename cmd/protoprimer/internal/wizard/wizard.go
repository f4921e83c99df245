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
Package wizard elicits config field values interactively, one field at a
time.

For every field:

 1. A warning, if the field cannot be set here, is shown and acknowledged
    with any non-empty line; the field is then skipped.
 2. The default is shown; an empty answer accepts it.
 3. The value is validated; an invalid value is reported and re-prompted.
 4. A review is shown and answered with y or n. y writes the value into
    the file data, n goes back to step 2, anything else repeats the review.
*/
package wizard

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/pkg/ux"
)

// ErrInputClosed is returned when input ends before a field is settled.
var ErrInputClosed = errors.New("wizard input closed")

// =============================================================================
// Input
// =============================================================================

// InputReader abstracts line input for testability.
type InputReader interface {
	// ReadLine returns the next line with surrounding whitespace trimmed,
	// or io.EOF once input is exhausted.
	ReadLine() (string, error)
}

// LineReader implements InputReader over any io.Reader.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// ReadLine reads up to the next newline.
//
// A final line without a trailing newline is still returned; io.EOF is
// reported only when nothing was read.
func (r *LineReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// Field
// =============================================================================

// Field describes how one config field is elicited.
//
// Every hook receives the file data being edited so that help, defaults
// and reviews can reflect what is already set.
type Field struct {
	// Name is the config key written by the default Write.
	Name string

	// Help renders the explanation shown before prompting.
	Help func(data conf.Data) string

	// Warn returns a non-empty message when the field must not be set here.
	Warn func(data conf.Data) string

	// Default returns the value used for an empty answer.
	Default func(data conf.Data) string

	// Validate returns a non-empty message for an invalid value.
	Validate func(value string) string

	// Review returns the confirmation question for a value.
	Review func(value string) string

	// Write stores an accepted value. Defaults to data[Name] = value.
	Write func(data conf.Data, value string)
}

func (f Field) help(data conf.Data) string {
	if f.Help == nil {
		return ""
	}
	return f.Help(data)
}

func (f Field) warn(data conf.Data) string {
	if f.Warn == nil {
		return ""
	}
	return f.Warn(data)
}

func (f Field) defaultValue(data conf.Data) string {
	if f.Default == nil {
		return ""
	}
	return f.Default(data)
}

func (f Field) validate(value string) string {
	if f.Validate == nil {
		return ""
	}
	return f.Validate(value)
}

func (f Field) review(value string) string {
	if f.Review == nil {
		return fmt.Sprintf("Use %s = %q?", f.Name, value)
	}
	return f.Review(value)
}

func (f Field) write(data conf.Data, value string) {
	if f.Write == nil {
		data[f.Name] = value
		return
	}
	f.Write(data, value)
}

// =============================================================================
// Wizard
// =============================================================================

// Wizard runs the field protocol against an input and a printer.
//
// # Thread Safety
//
// Not thread-safe.
type Wizard struct {
	in  InputReader
	out *ux.Printer
}

// New creates a wizard.
func New(in InputReader, out *ux.Printer) *Wizard {
	return &Wizard{in: in, out: out}
}

// Outcome reports what happened to one field.
type Outcome int

const (
	// OutcomeWritten means the field value was written into the data.
	OutcomeWritten Outcome = iota

	// OutcomeSkipped means a warning blocked the field.
	OutcomeSkipped
)

// Run elicits every field in order, stopping at the first error.
func (w *Wizard) Run(data conf.Data, fields []Field) error {
	for _, f := range fields {
		if _, err := w.RunField(data, f); err != nil {
			return err
		}
	}
	return nil
}

// RunField elicits one field.
//
// # Outputs
//
//   - Outcome: Whether the field was written or skipped
//   - error: ErrInputClosed if input ends first
func (w *Wizard) RunField(data conf.Data, f Field) (Outcome, error) {
	w.out.Title(f.Name)
	if help := f.help(data); help != "" {
		w.out.Info(help)
	}

	if msg := f.warn(data); msg != "" {
		w.out.Warning(msg)
		for {
			w.prompt("Type anything and press Enter to continue: ")
			line, err := w.readLine(f)
			if err != nil {
				return OutcomeSkipped, err
			}
			if line != "" {
				return OutcomeSkipped, nil
			}
		}
	}

	for {
		def := f.defaultValue(data)
		w.prompt(fmt.Sprintf("%s [%s]: ", f.Name, w.out.Style(ux.KindMuted, def)))
		value, err := w.readLine(f)
		if err != nil {
			return OutcomeSkipped, err
		}
		if value == "" {
			value = def
		}

		if msg := f.validate(value); msg != "" {
			w.out.Warning(msg)
			continue
		}

		accepted, err := w.confirm(f, value)
		if err != nil {
			return OutcomeSkipped, err
		}
		if accepted {
			f.write(data, value)
			w.out.Success(fmt.Sprintf("%s = %q", f.Name, value))
			return OutcomeWritten, nil
		}
	}
}

func (w *Wizard) confirm(f Field, value string) (bool, error) {
	question := f.review(value)
	for {
		w.prompt(question + " [y/n]: ")
		answer, err := w.readLine(f)
		if err != nil {
			return false, err
		}
		switch answer {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
	}
}

func (w *Wizard) prompt(text string) {
	fmt.Fprint(w.out.Writer(), text)
}

func (w *Wizard) readLine(f Field) (string, error) {
	line, err := w.in.ReadLine()
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(w.out.Writer())
		return "", fmt.Errorf("%w while setting %s", ErrInputClosed, f.Name)
	}
	return line, err
}
