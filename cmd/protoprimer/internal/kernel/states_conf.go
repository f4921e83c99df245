// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/envlink"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/stride"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/wizard"
)

// ConfFile is the loaded content of one config tier.
type ConfFile struct {
	Leap conf.Leap
	Path string
	Data conf.Data

	// Exists reports whether the file was on disk before this run.
	Exists bool

	// Written reports whether this run created or rewrote the file.
	Written bool
}

// =============================================================================
// Shared Helpers
// =============================================================================

// wizardEnabled reports whether this image may prompt for config values.
//
// Only the first image of a chain prompts; later images would otherwise
// ask again after every exec.
func (c *EnvContext) wizardEnabled(ctx context.Context, n *graph.Node) (bool, error) {
	stage, err := graph.Parent[string](ctx, n, InputWizardStageArgLoaded)
	if err != nil {
		return false, err
	}
	pyExec, err := graph.Parent[stride.PyExec](ctx, n, InputPyExecVarLoaded)
	if err != nil {
		return false, err
	}
	return stage == WizardStarted &&
		stride.FromPyExec(pyExec) < stride.StridePyRequired &&
		!c.ReadOnly() &&
		c.deps.Stdin != nil, nil
}

// loadTier reads a tier file, generating it when missing.
//
// # Description
//
// generate is called only when the file is missing and the run may write.
// When the wizard is enabled it runs over the (loaded or generated) data
// before the file is saved. A read-only run never writes and reports a
// missing file as ErrMissingConfig.
func (c *EnvContext) loadTier(ctx context.Context, n *graph.Node, leap conf.Leap, path string,
	generate func() (conf.Data, error), wc wizard.Context) (ConfFile, error) {

	data, exists, err := conf.Load(leap, path)
	if err != nil {
		return ConfFile{}, err
	}
	file := ConfFile{Leap: leap, Path: path, Data: data, Exists: exists}

	if !exists {
		if c.ReadOnly() {
			return file, conf.Missing(leap, path, "", "file does not exist and this run is read-only")
		}
		if file.Data, err = generate(); err != nil {
			return file, err
		}
	}

	useWizard, err := c.wizardEnabled(ctx, n)
	if err != nil {
		return file, err
	}
	if useWizard {
		c.printer.Title(fmt.Sprintf("%s config: %s", leap, path))
		if err := wizard.New(c.deps.Stdin, c.printer).Run(file.Data, wizard.Fields(leap, wc)); err != nil {
			return file, fmt.Errorf("%s config wizard: %w", leap, err)
		}
	}

	if !exists || useWizard {
		written, err := conf.Save(path, file.Data)
		if err != nil {
			return file, err
		}
		file.Written = written
		if written {
			c.logger.Info("config file written", "leap", leap.String(), "path", path)
		}
	}
	return file, nil
}

func (c *EnvContext) wizardContext(ctx context.Context, n *graph.Node) wizard.Context {
	wc := wizard.Context{RefRootArg: c.args.RefRoot, EnvArg: c.args.EnvDir}
	if slices.Contains(n.Parents(), InputProtoCodeDirAbsPathEvalFinalized) {
		wc.ProtoCodeDir, _ = graph.Parent[string](ctx, n, InputProtoCodeDirAbsPathEvalFinalized)
	}
	return wc
}

// =============================================================================
// Primer Leap
// =============================================================================

func (c *EnvContext) evalPrimerData(ctx context.Context, n *graph.Node) (any, error) {
	path, err := graph.Parent[string](ctx, n, InputProtoConfPrimerFileAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	protoDir, err := graph.Parent[string](ctx, n, InputProtoCodeDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	refRootArg, err := graph.Parent[string](ctx, n, InputRefRootDirAbsPathArgLoaded)
	if err != nil {
		return nil, err
	}

	refRel := ""
	if refRootArg != "" {
		if !util.DirExists(refRootArg) {
			return nil, conf.Bad(conf.LeapInput, "", "--ref_root", fmt.Sprintf("%s is not a directory", refRootArg))
		}
		if refRel, err = filepath.Rel(protoDir, refRootArg); err != nil {
			return nil, conf.Bad(conf.LeapInput, "", "--ref_root", err.Error())
		}
	}

	generate := func() (conf.Data, error) {
		if refRel == "" {
			return nil, conf.Missing(conf.LeapPrimer, path, conf.FieldPrimerRefRootDirRelPath,
				"no primer config next to the proto-kernel: pass --ref_root on first run")
		}
		return conf.NewPrimerData(refRel), nil
	}
	file, err := c.loadTier(ctx, n, conf.LeapPrimer, path, generate, c.wizardContext(ctx, n))
	if err != nil {
		return nil, err
	}

	// --ref_root overrides the file for this run without rewriting it.
	if refRel != "" {
		if v, _ := file.Data.String(conf.FieldPrimerRefRootDirRelPath); filepath.Clean(v) != filepath.Clean(refRel) {
			c.logger.Warn("--ref_root overrides the primer config",
				"file_value", v, "arg_value", refRel, "path", path)
			file.Data = file.Data.Clone()
			file.Data[conf.FieldPrimerRefRootDirRelPath] = refRel
		}
	}
	return file, nil
}

func (c *EnvContext) primerConf(ctx context.Context, n *graph.Node) (ConfFile, conf.PrimerConf, error) {
	var pc conf.PrimerConf
	file, err := graph.Parent[ConfFile](ctx, n, PrimerConfFileDataLoaded)
	if err != nil {
		return file, pc, err
	}
	err = conf.Decode(conf.LeapPrimer, file.Path, file.Data, &pc)
	return file, pc, err
}

func (c *EnvContext) evalRefRoot(ctx context.Context, n *graph.Node) (any, error) {
	file, pc, err := c.primerConf(ctx, n)
	if err != nil {
		return nil, err
	}
	protoDir, err := graph.Parent[string](ctx, n, InputProtoCodeDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	refRoot := filepath.Join(protoDir, pc.RefRootDirRelPath)
	if !util.DirExists(refRoot) {
		return nil, conf.Bad(conf.LeapPrimer, file.Path, conf.FieldPrimerRefRootDirRelPath,
			fmt.Sprintf("ref root %s is not a directory", refRoot))
	}
	return refRoot, nil
}

func (c *EnvContext) evalClientFile(ctx context.Context, n *graph.Node) (any, error) {
	_, pc, err := c.primerConf(ctx, n)
	if err != nil {
		return nil, err
	}
	refRoot, err := graph.Parent[string](ctx, n, PrimerRefRootDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	return filepath.Join(refRoot, pc.ConfClientFileRelPath), nil
}

// =============================================================================
// Client Leap
// =============================================================================

func (c *EnvContext) evalClientData(ctx context.Context, n *graph.Node) (any, error) {
	path, err := graph.Parent[string](ctx, n, PrimerConfClientFileAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	generate := func() (conf.Data, error) {
		return conf.NewClientData(), nil
	}
	return c.loadTier(ctx, n, conf.LeapClient, path, generate, c.wizardContext(ctx, n))
}

func (c *EnvContext) clientConf(ctx context.Context, n *graph.Node) (ConfFile, conf.ClientConf, error) {
	var cc conf.ClientConf
	file, err := graph.Parent[ConfFile](ctx, n, ClientConfFileDataLoaded)
	if err != nil {
		return file, cc, err
	}
	if err := conf.Decode(conf.LeapClient, file.Path, file.Data, &cc); err != nil {
		return file, cc, err
	}
	cc.ApplyDefaults()
	return file, cc, nil
}

func (c *EnvContext) evalLinkName(ctx context.Context, n *graph.Node) (any, error) {
	_, cc, err := c.clientConf(ctx, n)
	if err != nil {
		return nil, err
	}
	refRoot, err := graph.Parent[string](ctx, n, PrimerRefRootDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	return filepath.Join(refRoot, cc.LinkNameDirRelPath), nil
}

func (c *EnvContext) evalDefaultEnv(ctx context.Context, n *graph.Node) (any, error) {
	_, cc, err := c.clientConf(ctx, n)
	if err != nil {
		return nil, err
	}
	return cc.DefaultEnvDirRelPath, nil
}

// evalEnvDir resolves the env link and returns the link path itself.
//
// Every env-relative path goes through the link so that re-targeting it
// is the only change needed to switch envs.
func (c *EnvContext) evalEnvDir(ctx context.Context, n *graph.Node) (any, error) {
	linkPath, err := graph.Parent[string](ctx, n, ClientLinkNameDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	clientDefault, err := graph.Parent[string](ctx, n, ClientDefaultEnvDirRelPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	envArg, err := graph.Parent[string](ctx, n, InputEnvDirRelPathArgLoaded)
	if err != nil {
		return nil, err
	}
	refRoot, err := graph.Parent[string](ctx, n, PrimerRefRootDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}

	res, err := envlink.Ensure(envlink.Request{
		RefRoot:       refRoot,
		LinkPath:      linkPath,
		EnvArg:        envArg,
		ClientDefault: clientDefault,
		AllowCreate:   !c.ReadOnly(),
	}, c.logger)
	switch {
	case errors.Is(err, envlink.ErrNoTarget):
		return nil, conf.Missing(conf.LeapClient, "", conf.FieldClientDefaultEnvDirRelPath,
			fmt.Sprintf("%s does not exist and no env is selected: run prime --env <dir> on first run", linkPath))
	case errors.Is(err, envlink.ErrLinkMissing):
		return nil, conf.Missing(conf.LeapClient, "", conf.FieldClientLinkNameDirRelPath,
			fmt.Sprintf("%s does not exist and this run is read-only", linkPath))
	case err != nil:
		return nil, err
	}
	c.logger.Debug("env selected", "link", linkPath, "target", res.TargetRelPath)
	return linkPath, nil
}

func (c *EnvContext) evalEnvFile(ctx context.Context, n *graph.Node) (any, error) {
	dir, err := graph.Parent[string](ctx, n, ClientConfEnvDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	return filepath.Join(dir, conf.EnvFileBasename), nil
}

// =============================================================================
// Env Leap
// =============================================================================

func (c *EnvContext) evalEnvData(ctx context.Context, n *graph.Node) (any, error) {
	path, err := graph.Parent[string](ctx, n, ClientConfEnvFileAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	generate := func() (conf.Data, error) {
		python, err := c.deps.LookPath(conf.DefaultPythonBasename)
		if err != nil {
			c.logger.Warn("no interpreter on PATH for the generated env config", "name", conf.DefaultPythonBasename)
			python = ""
		}
		if python != "" && !filepath.IsAbs(python) {
			python, _ = filepath.Abs(python)
		}
		return conf.NewEnvData(python), nil
	}
	return c.loadTier(ctx, n, conf.LeapEnv, path, generate, c.wizardContext(ctx, n))
}

// envConf decodes the env tier merged over the client tier.
func (c *EnvContext) envConf(ctx context.Context, n *graph.Node) (ConfFile, conf.EnvConf, error) {
	var ec conf.EnvConf
	envFile, err := graph.Parent[ConfFile](ctx, n, EnvConfFileDataLoaded)
	if err != nil {
		return envFile, ec, err
	}
	clientFile, err := graph.Parent[ConfFile](ctx, n, ClientConfFileDataLoaded)
	if err != nil {
		return envFile, ec, err
	}
	merged := conf.MergeEnv(clientFile.Data, envFile.Data)
	if err := conf.Decode(conf.LeapEnv, envFile.Path, merged, &ec); err != nil {
		return envFile, ec, err
	}
	ec.ApplyDefaults()
	return envFile, ec, nil
}

func (c *EnvContext) evalPython(ctx context.Context, n *graph.Node) (any, error) {
	file, ec, err := c.envConf(ctx, n)
	if err != nil {
		return nil, err
	}
	if ec.LocalPythonFileAbsPath == "" {
		return nil, conf.Missing(conf.LeapEnv, file.Path, conf.FieldEnvLocalPythonFileAbsPath,
			"no interpreter configured")
	}
	return ec.LocalPythonFileAbsPath, nil
}

// envDirEval resolves a ref-root-relative env field.
func envDirEval(field func(conf.EnvConf) string) evalMethod {
	return func(c *EnvContext, ctx context.Context, n *graph.Node) (any, error) {
		_, ec, err := c.envConf(ctx, n)
		if err != nil {
			return nil, err
		}
		refRoot, err := graph.Parent[string](ctx, n, PrimerRefRootDirAbsPathEvalFinalized)
		if err != nil {
			return nil, err
		}
		return filepath.Join(refRoot, field(ec)), nil
	}
}

func (c *EnvContext) evalProjects(ctx context.Context, n *graph.Node) (any, error) {
	_, ec, err := c.envConf(ctx, n)
	if err != nil {
		return nil, err
	}
	refRoot, err := graph.Parent[string](ctx, n, PrimerRefRootDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	projects := make(map[string][]string, len(ec.ProjectRelPathToExtrasDict))
	for rel, extras := range ec.ProjectRelPathToExtrasDict {
		projects[filepath.Join(refRoot, rel)] = append([]string{}, extras...)
	}
	return projects, nil
}

func (c *EnvContext) evalPackageDriver(ctx context.Context, n *graph.Node) (any, error) {
	_, ec, err := c.envConf(ctx, n)
	if err != nil {
		return nil, err
	}
	return ec.PackageDriver, nil
}
