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

// =============================================================================
// Leaps
// =============================================================================

// Leap is a tier of the configuration chain.
//
// Each tier's file location is resolved by the tier before it:
// input -> primer -> client -> env.
type Leap int

const (
	LeapInput Leap = iota
	LeapPrimer
	LeapClient
	LeapEnv
)

func (l Leap) String() string {
	switch l {
	case LeapInput:
		return "input"
	case LeapPrimer:
		return "primer"
	case LeapClient:
		return "client"
	case LeapEnv:
		return "env"
	default:
		return "unknown"
	}
}

// Leaps lists the file-backed tiers in resolution order.
var Leaps = []Leap{LeapPrimer, LeapClient, LeapEnv}

// =============================================================================
// File Layout
// =============================================================================

const (
	// PrimerFileBasename sits next to the proto-kernel script.
	PrimerFileBasename = "proto_kernel.conf_primer.json"

	// ClientFileBasename is the client tier file name.
	ClientFileBasename = "proto_kernel.conf_client.json"

	// EnvFileBasename lives in the env directory the link points to.
	EnvFileBasename = "proto_kernel.conf_env.json"

	// ProtoCodeBasename is the proto-kernel script name under the ref root.
	ProtoCodeBasename = "proto_kernel.py"
)

// Coded defaults.
const (
	DefaultRefRootDirRelPath     = "."
	DefaultConfClientFileRelPath = "gconf/" + ClientFileBasename
	DefaultLinkNameDirRelPath    = "lconf"
	DefaultVenvDirRelPath        = "venv"
	DefaultLogDirRelPath         = "log"
	DefaultTmpDirRelPath         = "tmp"
	DefaultCacheDirRelPath       = "cache"
	DefaultProjectRelPath        = "."
	DefaultPythonBasename        = "python3"
	DefaultPackageDriver         = DriverPip
	DriverPip                    = "driver_pip"
	DriverUv                     = "driver_uv"
)

// =============================================================================
// Field Names
// =============================================================================

const (
	FieldPrimerRefRootDirRelPath     = "primer_ref_root_dir_rel_path"
	FieldPrimerConfClientFileRelPath = "primer_conf_client_file_rel_path"

	FieldClientLinkNameDirRelPath   = "client_link_name_dir_rel_path"
	FieldClientDefaultEnvDirRelPath = "client_default_env_dir_rel_path"

	FieldEnvLocalPythonFileAbsPath     = "env_local_python_file_abs_path"
	FieldEnvLocalVenvDirRelPath        = "env_local_venv_dir_rel_path"
	FieldEnvProjectRelPathToExtrasDict = "env_project_rel_path_to_extras_dict"
	FieldEnvLocalLogDirRelPath         = "env_local_log_dir_rel_path"
	FieldEnvLocalTmpDirRelPath         = "env_local_tmp_dir_rel_path"
	FieldEnvLocalCacheDirRelPath       = "env_local_cache_dir_rel_path"
	FieldEnvPackageDriver              = "env_package_driver"
)

// FieldSpec describes one recognized config field.
type FieldSpec struct {
	// Name is the JSON key.
	Name string

	// Leap is the tier that owns the field.
	Leap Leap

	// Help is a one-line description used in comments and wizard prompts.
	Help string

	// Example is a representative value for commented-out rendering.
	Example any
}

var fieldSpecs = []FieldSpec{
	{
		Name:    FieldPrimerRefRootDirRelPath,
		Leap:    LeapPrimer,
		Help:    "Path to the client ref root, relative to the directory of the proto-kernel script.",
		Example: DefaultRefRootDirRelPath,
	},
	{
		Name:    FieldPrimerConfClientFileRelPath,
		Leap:    LeapPrimer,
		Help:    "Path to the client config file, relative to the ref root.",
		Example: DefaultConfClientFileRelPath,
	},
	{
		Name:    FieldClientLinkNameDirRelPath,
		Leap:    LeapClient,
		Help:    "Name of the symlink under the ref root that selects the active env directory.",
		Example: DefaultLinkNameDirRelPath,
	},
	{
		Name:    FieldClientDefaultEnvDirRelPath,
		Leap:    LeapClient,
		Help:    "Env directory the symlink is created for when --env is not given.",
		Example: "dst/default_env",
	},
	{
		Name:    FieldEnvLocalPythonFileAbsPath,
		Leap:    LeapEnv,
		Help:    "Absolute path of the interpreter used to create the venv.",
		Example: "/usr/bin/python3",
	},
	{
		Name:    FieldEnvLocalVenvDirRelPath,
		Leap:    LeapEnv,
		Help:    "Venv directory, relative to the ref root.",
		Example: DefaultVenvDirRelPath,
	},
	{
		Name:    FieldEnvProjectRelPathToExtrasDict,
		Leap:    LeapEnv,
		Help:    "Projects to install in editable mode, mapped to their extras.",
		Example: map[string]any{DefaultProjectRelPath: []any{}},
	},
	{
		Name:    FieldEnvLocalLogDirRelPath,
		Leap:    LeapEnv,
		Help:    "Log directory, relative to the ref root.",
		Example: DefaultLogDirRelPath,
	},
	{
		Name:    FieldEnvLocalTmpDirRelPath,
		Leap:    LeapEnv,
		Help:    "Temp directory, relative to the ref root.",
		Example: DefaultTmpDirRelPath,
	},
	{
		Name:    FieldEnvLocalCacheDirRelPath,
		Leap:    LeapEnv,
		Help:    "Cache directory (shell rc files), relative to the ref root.",
		Example: DefaultCacheDirRelPath,
	},
	{
		Name:    FieldEnvPackageDriver,
		Leap:    LeapEnv,
		Help:    "Package manager used for the venv: driver_pip or driver_uv.",
		Example: DefaultPackageDriver,
	},
}

// Fields returns the recognized fields of a leap in declaration order.
func Fields(leap Leap) []FieldSpec {
	var out []FieldSpec
	for _, spec := range fieldSpecs {
		if spec.Leap == leap {
			out = append(out, spec)
		}
	}
	return out
}

// LookupField returns the spec of a recognized field.
func LookupField(name string) (FieldSpec, bool) {
	for _, spec := range fieldSpecs {
		if spec.Name == name {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// IsKnown reports whether name is a recognized field of leap.
func IsKnown(leap Leap, name string) bool {
	spec, ok := LookupField(name)
	return ok && spec.Leap == leap
}
