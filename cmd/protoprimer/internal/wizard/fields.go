// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wizard

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
)

// Context is what the standard fields know about the current run.
type Context struct {
	// ProtoCodeDir is the directory of the proto-kernel script.
	ProtoCodeDir string

	// RefRootArg is the --ref_root value, if any.
	RefRootArg string

	// EnvArg is the --env value, if any.
	EnvArg string
}

// Fields returns the wizard fields for a leap.
//
// Only scalar fields are elicited. The project map is left to the
// generated default and manual edits.
func Fields(leap conf.Leap, wc Context) []Field {
	switch leap {
	case conf.LeapPrimer:
		return []Field{
			{
				Name: conf.FieldPrimerRefRootDirRelPath,
				Help: specHelp(conf.FieldPrimerRefRootDirRelPath),
				Warn: func(conf.Data) string {
					if wc.RefRootArg != "" {
						return "--ref_root is given; the ref root is taken from it for this file."
					}
					return ""
				},
				Default:  current(conf.FieldPrimerRefRootDirRelPath, conf.DefaultRefRootDirRelPath),
				Validate: checkField(conf.FieldPrimerRefRootDirRelPath),
				Review: func(v string) string {
					return fmt.Sprintf("Use ref root %s?", filepath.Join(wc.ProtoCodeDir, v))
				},
			},
			{
				Name:     conf.FieldPrimerConfClientFileRelPath,
				Help:     specHelp(conf.FieldPrimerConfClientFileRelPath),
				Default:  current(conf.FieldPrimerConfClientFileRelPath, conf.DefaultConfClientFileRelPath),
				Validate: checkField(conf.FieldPrimerConfClientFileRelPath),
			},
		}
	case conf.LeapClient:
		return []Field{
			{
				Name:     conf.FieldClientLinkNameDirRelPath,
				Help:     specHelp(conf.FieldClientLinkNameDirRelPath),
				Default:  current(conf.FieldClientLinkNameDirRelPath, conf.DefaultLinkNameDirRelPath),
				Validate: checkField(conf.FieldClientLinkNameDirRelPath),
			},
			{
				Name: conf.FieldClientDefaultEnvDirRelPath,
				Help: specHelp(conf.FieldClientDefaultEnvDirRelPath),
				Warn: func(conf.Data) string {
					if wc.EnvArg != "" {
						return fmt.Sprintf("--env %s is given; the client default is not used for this run.", wc.EnvArg)
					}
					return ""
				},
				Default: current(conf.FieldClientDefaultEnvDirRelPath, ""),
				Validate: func(v string) string {
					if v == "" {
						return ""
					}
					return checkField(conf.FieldClientDefaultEnvDirRelPath)(v)
				},
				Review: func(v string) string {
					if v == "" {
						return "Leave the default env unset (--env is then required on first run)?"
					}
					return fmt.Sprintf("Use %s as the default env?", v)
				},
				Write: func(data conf.Data, v string) {
					if v == "" {
						delete(data, conf.FieldClientDefaultEnvDirRelPath)
						return
					}
					data[conf.FieldClientDefaultEnvDirRelPath] = v
				},
			},
		}
	case conf.LeapEnv:
		return []Field{
			{
				Name:    conf.FieldEnvLocalPythonFileAbsPath,
				Help:    specHelp(conf.FieldEnvLocalPythonFileAbsPath),
				Default: current(conf.FieldEnvLocalPythonFileAbsPath, ""),
				Validate: func(v string) string {
					if msg := checkField(conf.FieldEnvLocalPythonFileAbsPath)(v); msg != "" {
						return msg
					}
					if !util.IsExecutable(v) {
						return fmt.Sprintf("%s is not an executable file", v)
					}
					return ""
				},
			},
			{
				Name:     conf.FieldEnvLocalVenvDirRelPath,
				Help:     specHelp(conf.FieldEnvLocalVenvDirRelPath),
				Default:  current(conf.FieldEnvLocalVenvDirRelPath, conf.DefaultVenvDirRelPath),
				Validate: checkField(conf.FieldEnvLocalVenvDirRelPath),
			},
			{
				Name:     conf.FieldEnvPackageDriver,
				Help:     specHelp(conf.FieldEnvPackageDriver),
				Default:  current(conf.FieldEnvPackageDriver, conf.DefaultPackageDriver),
				Validate: checkField(conf.FieldEnvPackageDriver),
			},
		}
	default:
		return nil
	}
}

func specHelp(field string) func(conf.Data) string {
	return func(conf.Data) string {
		spec, _ := conf.LookupField(field)
		return spec.Help
	}
}

// current defaults to the value already in the file, then to fallback.
func current(field, fallback string) func(conf.Data) string {
	return func(data conf.Data) string {
		if v, ok := data.String(field); ok && v != "" {
			return v
		}
		return fallback
	}
}

func checkField(field string) func(string) string {
	return func(v string) string {
		if v == "" {
			return "a value is required"
		}
		if err := conf.CheckField(field, v); err != nil {
			var fieldErr *conf.FieldError
			if errors.As(err, &fieldErr) && fieldErr.Detail != "" {
				return fieldErr.Detail
			}
			return err.Error()
		}
		return ""
	}
}
