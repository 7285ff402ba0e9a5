// Package engine drives the external backup engine and orchestrates one
// complete backup invocation: preflight, lock, chain location, decision,
// engine run, result verification, and retention pruning.
//
// The engine itself (xtrabackup, mariabackup, or compatible) performs all
// data copy and apply-log work. This package only knows its invocation
// contract and its result sentinel.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/chainbak/chainbak/pkg/config"
	"github.com/chainbak/chainbak/pkg/planner"
	"github.com/chainbak/chainbak/pkg/plog"
)

// ErrEngineFailed is returned when the engine ran but did not report success
// through its completion marker. The exit code alone is never trusted.
var ErrEngineFailed = errors.New("backup engine did not report success")

// ErrAmbiguousSuccess is returned when the completion marker is present but
// the artifact path could not be extracted from the output. The run is
// considered successful, but the declared backup path must not be assumed.
var ErrAmbiguousSuccess = errors.New("engine reported success but the artifact path could not be extracted")

// completionMarker is the sentinel the engine prints as its final output
// line on success. Its absence means failure regardless of exit status.
const completionMarker = "completed OK!"

// artifactPattern extracts the produced artifact path from the engine's
// output. The single-quoted fragment is the engine's stable message shape.
var artifactPattern = regexp.MustCompile(`Backup created in directory '([^']+)'`)

// Result is the structured outcome of one engine invocation. It is consumed
// once per run and never persisted.
type Result struct {
	Success      bool
	ArtifactPath string
	// Diagnostics is the engine's full combined output, preserved for
	// inspection when a run fails or parses ambiguously.
	Diagnostics string
}

// Invoker abstracts the engine invocation so the orchestrator and its tests
// do not depend on a real external process.
type Invoker interface {
	Invoke(ctx context.Context, mode planner.Mode, targetDir, baseDir string) (Result, error)
}

// commandExecutor matches exec.CommandContext and is swapped out in tests.
type commandExecutor func(ctx context.Context, name string, args ...string) *exec.Cmd

// Adapter invokes the configured engine binary. It implements Invoker.
type Adapter struct {
	binary          string
	defaultsFile    string
	extraArgs       []string
	commandExecutor commandExecutor
}

// Statically assert that *Adapter implements the Invoker interface.
var _ Invoker = (*Adapter)(nil)

// NewAdapter creates an Adapter from the engine configuration.
func NewAdapter(cfg config.EngineConfig) *Adapter {
	return &Adapter{
		binary:          cfg.Binary,
		defaultsFile:    cfg.DefaultsFile,
		extraArgs:       cfg.ExtraArgs,
		commandExecutor: exec.CommandContext,
	}
}

// buildArgs assembles the engine's argument list for one invocation.
func (a *Adapter) buildArgs(mode planner.Mode, targetDir, baseDir string) []string {
	var args []string
	// --defaults-file must precede every other option; the engine rejects it
	// anywhere else on the command line.
	if a.defaultsFile != "" {
		args = append(args, "--defaults-file="+a.defaultsFile)
	}
	args = append(args, "--backup", "--target-dir="+targetDir)
	if mode == planner.Incremental {
		args = append(args, "--incremental-basedir="+baseDir)
	}
	args = append(args, a.extraArgs...)
	return args
}

// Invoke runs the engine exactly once with the decided parameters and
// interprets its output. There is no retry: a partial target directory may
// already exist after a failure, and blindly retrying risks corrupting the
// chain.
func (a *Adapter) Invoke(ctx context.Context, mode planner.Mode, targetDir, baseDir string) (Result, error) {
	args := a.buildArgs(mode, targetDir, baseDir)

	cmd := a.commandExecutor(ctx, a.binary, args...)
	setProcAttrs(cmd)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	plog.Info("Invoking backup engine", "binary", a.binary, "mode", mode.String(), "target", targetDir)
	plog.Debug("Engine arguments", "args", strings.Join(args, " "))

	runErr := cmd.Run()
	res := parseEngineOutput(output.String())

	if !res.Success {
		if runErr != nil {
			return res, fmt.Errorf("engine exited abnormally (%v): %w", runErr, ErrEngineFailed)
		}
		// A clean exit without the completion marker is still a failure.
		return res, ErrEngineFailed
	}

	if res.ArtifactPath == "" {
		return res, ErrAmbiguousSuccess
	}
	return res, nil
}

// parseEngineOutput is the single place that scrapes the engine's free-text
// output. Success is determined by the completion marker on the final
// non-empty line; the artifact path is matched anywhere in the output.
// Everything downstream works with the typed Result, so the engine's output
// format can evolve without touching the rest of the system.
func parseEngineOutput(output string) Result {
	res := Result{Diagnostics: output}

	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		res.Success = strings.Contains(line, completionMarker)
		break
	}
	if !res.Success {
		return res
	}

	if m := artifactPattern.FindStringSubmatch(output); m != nil {
		res.ArtifactPath = m[1]
	}
	return res
}
