// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
)

// Data is the raw content of one config file.
//
// Unknown keys are kept so that a rewrite never drops what a user (or a
// newer primer) put there.
type Data map[string]any

// Clone returns a shallow copy.
func (d Data) Clone() Data {
	c := make(Data, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// Keys returns the keys in sorted order.
func (d Data) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unknown returns the keys that are not recognized fields of leap.
func (d Data) Unknown(leap Leap) []string {
	var unknown []string
	for _, k := range d.Keys() {
		if !IsKnown(leap, k) {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

// String returns a string field and whether it was present with that type.
func (d Data) String(field string) (string, bool) {
	v, ok := d[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// =============================================================================
// Reading
// =============================================================================

// Load reads a config file.
//
// # Description
//
// A missing file is not an error: Load returns (nil, false, nil) so the
// caller can decide whether to generate it. Anything that exists but is not
// a JSON object is ErrBadConfig.
//
// # Inputs
//
//   - leap: Tier the file belongs to, for error attribution
//   - path: Absolute file path
//
// # Outputs
//
//   - Data: Parsed content
//   - bool: Whether the file exists
//   - error: *FieldError wrapping ErrBadConfig
func Load(leap Leap, path string) (Data, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Bad(leap, path, "", err.Error())
	}
	data, err := Parse(raw)
	if err != nil {
		return nil, true, Bad(leap, path, "", err.Error())
	}
	return data, true, nil
}

// Parse decodes a JSON object.
func Parse(raw []byte) (Data, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid JSON: trailing data after the top-level object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level JSON value must be an object, got %s", jsonKind(v))
	}
	return Data(obj), nil
}

// =============================================================================
// Writing
// =============================================================================

// Marshal encodes data as 4-space-indented UTF-8 JSON with sorted keys.
func Marshal(data Data) ([]byte, error) {
	if data == nil {
		data = Data{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes data atomically, skipping the write when nothing changed.
//
// # Outputs
//
//   - bool: True if the file was (re)written
//   - error: Non-nil if encoding or writing fails
func Save(path string, data Data) (bool, error) {
	raw, err := Marshal(data)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", path, err)
	}
	return util.WriteFileAtomic(path, raw, 0o644)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
	}
}
