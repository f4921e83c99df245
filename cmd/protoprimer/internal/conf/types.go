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
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// confValidate is the validator for all config tiers.
// Initialized in init() with the path validators.
var confValidate *validator.Validate

func init() {
	confValidate = validator.New()

	// Report JSON names so errors match what the user sees in the file.
	confValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = confValidate.RegisterValidation("relpath", validateRelPath)
	_ = confValidate.RegisterValidation("nodotdot", validateNoDotDot)
	_ = confValidate.RegisterValidation("abspath", validateAbsPath)
	_ = confValidate.RegisterValidation("subdir", validateSubdir)
}

// validateRelPath accepts a non-empty path that is not absolute.
func validateRelPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	return p != "" && !filepath.IsAbs(p)
}

// validateNoDotDot rejects any ".." path segment.
func validateNoDotDot(fl validator.FieldLevel) bool {
	return !HasDotDot(fl.Field().String())
}

// validateSubdir accepts a relative path naming a directory strictly below
// its anchor: no ".." segment and not the anchor itself.
func validateSubdir(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	return p != "" && !filepath.IsAbs(p) && !HasDotDot(p) && filepath.Clean(p) != "."
}

// validateAbsPath accepts an absolute path.
func validateAbsPath(fl validator.FieldLevel) bool {
	return filepath.IsAbs(fl.Field().String())
}

// HasDotDot reports whether p has a ".." segment before cleaning.
func HasDotDot(p string) bool {
	return slices.Contains(strings.Split(filepath.ToSlash(p), "/"), "..")
}

// =============================================================================
// Typed Tiers
// =============================================================================

// PrimerConf is the decoded primer tier.
type PrimerConf struct {
	RefRootDirRelPath     string `json:"primer_ref_root_dir_rel_path" validate:"required,relpath"`
	ConfClientFileRelPath string `json:"primer_conf_client_file_rel_path" validate:"required,relpath,nodotdot"`
}

// ClientConf is the decoded client tier.
type ClientConf struct {
	LinkNameDirRelPath   string `json:"client_link_name_dir_rel_path" validate:"omitempty,relpath,nodotdot"`
	DefaultEnvDirRelPath string `json:"client_default_env_dir_rel_path" validate:"omitempty,relpath,nodotdot"`
}

// EnvConf is the decoded env tier.
//
// Every field may also be set in the client tier under the same name; see
// MergeEnv.
type EnvConf struct {
	LocalPythonFileAbsPath     string              `json:"env_local_python_file_abs_path" validate:"omitempty,abspath"`
	LocalVenvDirRelPath        string              `json:"env_local_venv_dir_rel_path" validate:"omitempty,subdir"`
	ProjectRelPathToExtrasDict map[string][]string `json:"env_project_rel_path_to_extras_dict" validate:"omitempty,dive,keys,relpath,nodotdot,endkeys"`
	LocalLogDirRelPath         string              `json:"env_local_log_dir_rel_path" validate:"omitempty,subdir"`
	LocalTmpDirRelPath         string              `json:"env_local_tmp_dir_rel_path" validate:"omitempty,subdir"`
	LocalCacheDirRelPath       string              `json:"env_local_cache_dir_rel_path" validate:"omitempty,subdir"`
	PackageDriver              string              `json:"env_package_driver" validate:"omitempty,oneof=driver_pip driver_uv"`
}

// ApplyDefaults fills every empty field except the interpreter path.
//
// The interpreter has no static default: it is discovered from PATH when
// the env file is generated.
func (c *EnvConf) ApplyDefaults() {
	if c.LocalVenvDirRelPath == "" {
		c.LocalVenvDirRelPath = DefaultVenvDirRelPath
	}
	if c.ProjectRelPathToExtrasDict == nil {
		c.ProjectRelPathToExtrasDict = map[string][]string{DefaultProjectRelPath: {}}
	}
	if c.LocalLogDirRelPath == "" {
		c.LocalLogDirRelPath = DefaultLogDirRelPath
	}
	if c.LocalTmpDirRelPath == "" {
		c.LocalTmpDirRelPath = DefaultTmpDirRelPath
	}
	if c.LocalCacheDirRelPath == "" {
		c.LocalCacheDirRelPath = DefaultCacheDirRelPath
	}
	if c.PackageDriver == "" {
		c.PackageDriver = DefaultPackageDriver
	}
}

// ApplyDefaults fills the link name.
func (c *ClientConf) ApplyDefaults() {
	if c.LinkNameDirRelPath == "" {
		c.LinkNameDirRelPath = DefaultLinkNameDirRelPath
	}
}

// =============================================================================
// Decoding
// =============================================================================

// Decode converts raw data into a typed tier and validates it.
//
// # Description
//
// Known fields with the wrong JSON type and values failing validation are
// both reported as ErrBadConfig naming the offending field. Unknown keys
// are ignored here; they stay in the raw Data.
//
// # Inputs
//
//   - leap: Tier, for error attribution
//   - path: File path, for error attribution
//   - data: Raw file content
//   - out: Pointer to PrimerConf, ClientConf or EnvConf
//
// # Outputs
//
//   - error: *FieldError wrapping ErrBadConfig
func Decode(leap Leap, path string, data Data, out any) error {
	raw, err := json.Marshal(map[string]any(data))
	if err != nil {
		return Bad(leap, path, "", err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Bad(leap, path, typeErr.Field, fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value))
		}
		return Bad(leap, path, "", err.Error())
	}
	if err := confValidate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Bad(leap, path, fieldName(fe), describe(fe))
		}
		return Bad(leap, path, "", err.Error())
	}
	return nil
}

// CheckField validates one value of a recognized field in isolation.
//
// Required sibling fields are filled with their coded defaults so only
// the given field can fail.
func CheckField(field string, value any) error {
	spec, ok := LookupField(field)
	if !ok {
		return Bad(LeapInput, "", field, "unknown field")
	}
	var data Data
	var out any
	switch spec.Leap {
	case LeapPrimer:
		data, out = NewPrimerData(DefaultRefRootDirRelPath), &PrimerConf{}
	case LeapClient:
		data, out = Data{}, &ClientConf{}
	default:
		data, out = Data{}, &EnvConf{}
	}
	data[field] = value
	return Decode(spec.Leap, "", data, out)
}

// fieldName strips the struct prefix and any map key suffix.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	name, _, _ := strings.Cut(ns, "[")
	return name
}

func describe(fe validator.FieldError) string {
	value := fmt.Sprintf("%q", fmt.Sprint(fe.Value()))
	switch fe.Tag() {
	case "required":
		return "value is required"
	case "relpath":
		return value + " must be a non-empty relative path"
	case "nodotdot":
		return value + " must not contain '..'"
	case "abspath":
		return value + " must be an absolute path"
	case "subdir":
		return value + " must be a relative path below its anchor, without '..'"
	case "oneof":
		return value + " is not one of " + fe.Param()
	default:
		return fmt.Sprintf("%s failed %q", value, fe.Tag())
	}
}

// MergeEnv overlays env-tier data on the env fields found in the client tier.
//
// # Description
//
// Env fields missing from the env file fall back to the same field name in
// the client file; coded defaults are applied after decoding.
func MergeEnv(client, env Data) Data {
	merged := Data{}
	for _, spec := range Fields(LeapEnv) {
		if v, ok := client[spec.Name]; ok {
			merged[spec.Name] = v
		}
	}
	for k, v := range env {
		merged[k] = v
	}
	return merged
}

// =============================================================================
// Generation
// =============================================================================

// NewPrimerData returns the content of a generated primer file.
func NewPrimerData(refRootRelPath string) Data {
	return Data{
		FieldPrimerRefRootDirRelPath:     refRootRelPath,
		FieldPrimerConfClientFileRelPath: DefaultConfClientFileRelPath,
	}
}

// NewClientData returns the content of a generated client file.
func NewClientData() Data {
	return Data{
		FieldClientLinkNameDirRelPath: DefaultLinkNameDirRelPath,
	}
}

// NewEnvData returns the content of a generated env file.
//
// # Inputs
//
//   - pythonAbsPath: Interpreter discovered on PATH; omitted when empty
func NewEnvData(pythonAbsPath string) Data {
	data := Data{
		FieldEnvLocalVenvDirRelPath:        DefaultVenvDirRelPath,
		FieldEnvProjectRelPathToExtrasDict: map[string]any{DefaultProjectRelPath: []any{}},
		FieldEnvPackageDriver:              DefaultPackageDriver,
	}
	if pythonAbsPath != "" {
		data[FieldEnvLocalPythonFileAbsPath] = pythonAbsPath
	}
	return data
}
