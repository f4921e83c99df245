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

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
)

// =============================================================================
// State Names
// =============================================================================

// Input leap.
const (
	InputStderrLogLevelEvalFinalized             = "input_stderr_log_level_eval_finalized"
	InputRunModeArgLoaded                        = "input_run_mode_arg_loaded"
	InputFinalStateEvalFinalized                 = "input_final_state_eval_finalized"
	InputWizardStageArgLoaded                    = "input_wizard_stage_arg_loaded"
	InputReinstallEvalFinalized                  = "input_reinstall_eval_finalized"
	InputStartIDVarLoaded                        = "input_start_id_var_loaded"
	InputPyExecVarLoaded                         = "input_py_exec_var_loaded"
	InputCwdDirAbsPathEvalFinalized              = "input_cwd_dir_abs_path_eval_finalized"
	InputRefRootDirAbsPathArgLoaded              = "input_ref_root_dir_abs_path_arg_loaded"
	InputEnvDirRelPathArgLoaded                  = "input_env_dir_rel_path_arg_loaded"
	InputProtoCodeFileAbsPathEvalFinalized       = "input_proto_code_file_abs_path_eval_finalized"
	InputProtoCodeDirAbsPathEvalFinalized        = "input_proto_code_dir_abs_path_eval_finalized"
	InputProtoConfPrimerFileAbsPathEvalFinalized = "input_proto_conf_primer_file_abs_path_eval_finalized"
)

// Primer leap.
const (
	PrimerConfFileDataLoaded                 = "primer_conf_file_data_loaded"
	PrimerRefRootDirAbsPathEvalFinalized     = "primer_ref_root_dir_abs_path_eval_finalized"
	PrimerConfClientFileAbsPathEvalFinalized = "primer_conf_client_file_abs_path_eval_finalized"
)

// Client leap.
const (
	ClientConfFileDataLoaded                = "client_conf_file_data_loaded"
	ClientLinkNameDirAbsPathEvalFinalized   = "client_link_name_dir_abs_path_eval_finalized"
	ClientDefaultEnvDirRelPathEvalFinalized = "client_default_env_dir_rel_path_eval_finalized"
	ClientConfEnvDirAbsPathEvalFinalized    = "client_conf_env_dir_abs_path_eval_finalized"
	ClientConfEnvFileAbsPathEvalFinalized   = "client_conf_env_file_abs_path_eval_finalized"
)

// Env leap.
const (
	EnvConfFileDataLoaded                  = "env_conf_file_data_loaded"
	EnvLocalPythonFileAbsPathEvalFinalized = "env_local_python_file_abs_path_eval_finalized"
	EnvLocalVenvDirAbsPathEvalFinalized    = "env_local_venv_dir_abs_path_eval_finalized"
	EnvProjectDescriptorsEvalFinalized     = "env_project_descriptors_eval_finalized"
	EnvPackageDriverEvalFinalized          = "env_package_driver_eval_finalized"
	EnvLocalLogDirAbsPathEvalFinalized     = "env_local_log_dir_abs_path_eval_finalized"
	EnvLocalTmpDirAbsPathEvalFinalized     = "env_local_tmp_dir_abs_path_eval_finalized"
	EnvLocalCacheDirAbsPathEvalFinalized   = "env_local_cache_dir_abs_path_eval_finalized"
	EnvPythonVersionVerified               = "env_python_version_verified"
)

// Phase ladder.
const (
	PyExecArbitraryReached   = "py_exec_arbitrary_reached"
	PyExecRequiredReached    = "py_exec_required_reached"
	PyVenvDirCreated         = "py_venv_dir_created"
	PyExecVenvReached        = "py_exec_venv_reached"
	PyDepsInstalled          = "py_deps_installed"
	PyExecDepsUpdatedReached = "py_exec_deps_updated_reached"
	ProtoCodeRegenerated     = "proto_code_regenerated"
	PyExecSrcUpdatedReached  = "py_exec_src_updated_reached"
)

// ChecksVerified runs the read-only environment checks.
const ChecksVerified = "checks_verified"

// =============================================================================
// State Table
// =============================================================================

type stateDef struct {
	name    string
	parents []string
	eval    func(c *EnvContext) graph.EvalFunc
}

type evalMethod func(*EnvContext, context.Context, *graph.Node) (any, error)

// bind adapts a context method to a graph evaluator.
func bind(m evalMethod) func(c *EnvContext) graph.EvalFunc {
	return func(c *EnvContext) graph.EvalFunc {
		return func(ctx context.Context, n *graph.Node) (any, error) {
			return m(c, ctx, n)
		}
	}
}

// stateTable is the closed set of states in registration order.
var stateTable = []stateDef{
	// input
	{InputStderrLogLevelEvalFinalized, nil, bind((*EnvContext).evalStderrLogLevel)},
	{InputRunModeArgLoaded, nil, bind((*EnvContext).evalRunMode)},
	{InputFinalStateEvalFinalized, []string{InputRunModeArgLoaded}, bind((*EnvContext).evalFinalState)},
	{InputWizardStageArgLoaded, nil, bind((*EnvContext).evalWizardStage)},
	{InputReinstallEvalFinalized, []string{InputRunModeArgLoaded}, bind((*EnvContext).evalReinstall)},
	{InputStartIDVarLoaded, nil, bind((*EnvContext).evalStartID)},
	{InputPyExecVarLoaded, nil, bind((*EnvContext).evalPyExecVar)},
	{InputCwdDirAbsPathEvalFinalized, nil, bind((*EnvContext).evalCwd)},
	{InputRefRootDirAbsPathArgLoaded, []string{InputCwdDirAbsPathEvalFinalized}, bind((*EnvContext).evalRefRootArg)},
	{InputEnvDirRelPathArgLoaded, nil, bind((*EnvContext).evalEnvArg)},
	{InputProtoCodeFileAbsPathEvalFinalized, []string{InputCwdDirAbsPathEvalFinalized, InputRefRootDirAbsPathArgLoaded}, bind((*EnvContext).evalProtoCodeFile)},
	{InputProtoCodeDirAbsPathEvalFinalized, []string{InputProtoCodeFileAbsPathEvalFinalized}, bind((*EnvContext).evalProtoCodeDir)},
	{InputProtoConfPrimerFileAbsPathEvalFinalized, []string{InputProtoCodeDirAbsPathEvalFinalized}, bind((*EnvContext).evalPrimerFile)},

	// primer
	{PrimerConfFileDataLoaded, []string{
		InputProtoConfPrimerFileAbsPathEvalFinalized,
		InputProtoCodeDirAbsPathEvalFinalized,
		InputRefRootDirAbsPathArgLoaded,
		InputWizardStageArgLoaded,
		InputPyExecVarLoaded,
	}, bind((*EnvContext).evalPrimerData)},
	{PrimerRefRootDirAbsPathEvalFinalized, []string{PrimerConfFileDataLoaded, InputProtoCodeDirAbsPathEvalFinalized}, bind((*EnvContext).evalRefRoot)},
	{PrimerConfClientFileAbsPathEvalFinalized, []string{PrimerConfFileDataLoaded, PrimerRefRootDirAbsPathEvalFinalized}, bind((*EnvContext).evalClientFile)},

	// client
	{ClientConfFileDataLoaded, []string{
		PrimerConfClientFileAbsPathEvalFinalized,
		InputWizardStageArgLoaded,
		InputPyExecVarLoaded,
	}, bind((*EnvContext).evalClientData)},
	{ClientLinkNameDirAbsPathEvalFinalized, []string{ClientConfFileDataLoaded, PrimerRefRootDirAbsPathEvalFinalized}, bind((*EnvContext).evalLinkName)},
	{ClientDefaultEnvDirRelPathEvalFinalized, []string{ClientConfFileDataLoaded}, bind((*EnvContext).evalDefaultEnv)},
	{ClientConfEnvDirAbsPathEvalFinalized, []string{
		ClientLinkNameDirAbsPathEvalFinalized,
		ClientDefaultEnvDirRelPathEvalFinalized,
		InputEnvDirRelPathArgLoaded,
		PrimerRefRootDirAbsPathEvalFinalized,
	}, bind((*EnvContext).evalEnvDir)},
	{ClientConfEnvFileAbsPathEvalFinalized, []string{ClientConfEnvDirAbsPathEvalFinalized}, bind((*EnvContext).evalEnvFile)},

	// env
	{EnvConfFileDataLoaded, []string{
		ClientConfEnvFileAbsPathEvalFinalized,
		InputWizardStageArgLoaded,
		InputPyExecVarLoaded,
	}, bind((*EnvContext).evalEnvData)},
	{EnvLocalPythonFileAbsPathEvalFinalized, []string{EnvConfFileDataLoaded, ClientConfFileDataLoaded}, bind((*EnvContext).evalPython)},
	{EnvLocalVenvDirAbsPathEvalFinalized, envDirParents(), bind(envDirEval(func(ec conf.EnvConf) string { return ec.LocalVenvDirRelPath }))},
	{EnvProjectDescriptorsEvalFinalized, envDirParents(), bind((*EnvContext).evalProjects)},
	{EnvPackageDriverEvalFinalized, []string{EnvConfFileDataLoaded, ClientConfFileDataLoaded}, bind((*EnvContext).evalPackageDriver)},
	{EnvLocalLogDirAbsPathEvalFinalized, envDirParents(), bind(envDirEval(func(ec conf.EnvConf) string { return ec.LocalLogDirRelPath }))},
	{EnvLocalTmpDirAbsPathEvalFinalized, envDirParents(), bind(envDirEval(func(ec conf.EnvConf) string { return ec.LocalTmpDirRelPath }))},
	{EnvLocalCacheDirAbsPathEvalFinalized, envDirParents(), bind(envDirEval(func(ec conf.EnvConf) string { return ec.LocalCacheDirRelPath }))},
	{EnvPythonVersionVerified, []string{EnvLocalPythonFileAbsPathEvalFinalized}, bind((*EnvContext).evalPythonVersion)},

	// ladder
	{PyExecArbitraryReached, []string{InputPyExecVarLoaded}, bind((*EnvContext).evalArbitrary)},
	{PyExecRequiredReached, []string{
		PyExecArbitraryReached,
		EnvLocalPythonFileAbsPathEvalFinalized,
		EnvPythonVersionVerified,
		InputProtoCodeFileAbsPathEvalFinalized,
		InputStartIDVarLoaded,
		InputStderrLogLevelEvalFinalized,
	}, bind((*EnvContext).evalRequired)},
	{PyVenvDirCreated, []string{
		PyExecRequiredReached,
		EnvLocalVenvDirAbsPathEvalFinalized,
		EnvLocalPythonFileAbsPathEvalFinalized,
		EnvPackageDriverEvalFinalized,
		InputReinstallEvalFinalized,
		EnvLocalLogDirAbsPathEvalFinalized,
		EnvLocalTmpDirAbsPathEvalFinalized,
	}, bind((*EnvContext).evalVenvCreated)},
	{PyExecVenvReached, execParents(PyVenvDirCreated), bind((*EnvContext).evalVenvReached)},
	{PyDepsInstalled, []string{
		PyExecVenvReached,
		EnvProjectDescriptorsEvalFinalized,
		EnvPackageDriverEvalFinalized,
		InputReinstallEvalFinalized,
		EnvLocalVenvDirAbsPathEvalFinalized,
	}, bind((*EnvContext).evalDepsInstalled)},
	{PyExecDepsUpdatedReached, execParents(PyDepsInstalled), bind((*EnvContext).evalDepsUpdated)},
	{ProtoCodeRegenerated, []string{PyExecDepsUpdatedReached, InputProtoCodeFileAbsPathEvalFinalized, EnvLocalVenvDirAbsPathEvalFinalized}, bind((*EnvContext).evalRegenerated)},
	{PyExecSrcUpdatedReached, execParents(ProtoCodeRegenerated), bind((*EnvContext).evalSrcUpdated)},

	// verification
	{ChecksVerified, []string{
		EnvConfFileDataLoaded,
		EnvPythonVersionVerified,
		EnvLocalVenvDirAbsPathEvalFinalized,
		EnvPackageDriverEvalFinalized,
		EnvProjectDescriptorsEvalFinalized,
		InputProtoCodeFileAbsPathEvalFinalized,
	}, bind((*EnvContext).evalChecks)},
}

// execParents lists what a venv-interpreter exec state reads after the
// state it climbs from.
func execParents(prev string) []string {
	return []string{
		prev,
		EnvLocalVenvDirAbsPathEvalFinalized,
		InputProtoCodeFileAbsPathEvalFinalized,
		InputStartIDVarLoaded,
		InputStderrLogLevelEvalFinalized,
	}
}

func envDirParents() []string {
	return []string{EnvConfFileDataLoaded, ClientConfFileDataLoaded, PrimerRefRootDirAbsPathEvalFinalized}
}

// StateNames returns the closed state enumeration in registration order.
func StateNames() []string {
	names := make([]string, len(stateTable))
	for i, def := range stateTable {
		names[i] = def.name
	}
	return names
}

// buildGraph registers every state of the table on g.
func buildGraph(c *EnvContext, g *graph.Graph) error {
	for _, def := range stateTable {
		if err := g.Register(graph.NewNode(def.name, def.parents, def.eval(c))); err != nil {
			return err
		}
	}
	return g.Validate(StateNames())
}
