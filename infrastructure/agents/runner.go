// Package agents runs the external coding agent as a subprocess. The
// agent binary is treated as an untrusted black box: its output is
// captured verbatim, its exit status is data, and the only hard
// intervention is the wall-clock timeout.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
)

var _ ports.AgentRunner = (*Runner)(nil)

// Runner executes one agent binary per invocation.
type Runner struct {
	// command is the agent binary or wrapper script.
	command string

	// extraArgs are appended to every invocation.
	extraArgs []string
}

// NewRunner builds a subprocess runner for the given agent command.
func NewRunner(command string, extraArgs ...string) *Runner {
	return &Runner{command: command, extraArgs: extraArgs}
}

// usageLine is the optional machine-readable stats record agents emit as
// their final stdout line.
type usageLine struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
	APICalls  int     `json:"api_calls"`
}

// args renders the invocation argument list.
func (r *Runner) args(inv ports.AgentInvocation) []string {
	out := append([]string{}, r.extraArgs...)
	out = append(out, "--model", inv.Model, "--prompt-file", inv.PromptPath)
	return out
}

// Run invokes the agent inside the workspace and captures its output.
// A non-zero exit is reported inside the result; only the timeout and
// spawn failures surface as errors.
func (r *Runner) Run(ctx context.Context, inv ports.AgentInvocation) (domain.AgentResult, error) {
	timeout := time.Duration(inv.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command, r.args(inv)...)
	cmd.Dir = inv.WorkspaceDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started).Seconds()

	result := domain.AgentResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		DurationS: elapsed,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		result.TimedOut = true
		result.ErrorMessage = fmt.Sprintf("agent exceeded %s timeout", timeout)
		return result, domain.ErrAgentTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.ErrorMessage = err.Error()
		} else {
			// The binary never started; nothing useful was captured.
			return result, fmt.Errorf("spawning agent %s: %w", r.command, err)
		}
	}

	applyUsage(&result)
	return result, nil
}

// applyUsage parses the trailing JSON stats line, when the agent emits
// one, into the result's accounting fields.
func applyUsage(result *domain.AgentResult) {
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	for i := len(lines) - 1; i >= 0 && i >= len(lines)-5; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var usage usageLine
		if err := json.Unmarshal([]byte(line), &usage); err != nil {
			continue
		}
		if usage.TokensIn == 0 && usage.TokensOut == 0 && usage.CostUSD == 0 {
			continue
		}
		result.Tokens = domain.TokenStats{Input: usage.TokensIn, Output: usage.TokensOut}
		result.CostUSD = usage.CostUSD
		result.APICalls = usage.APICalls
		return
	}
}

// ReplayScript renders a standalone shell script reproducing the exact
// invocation, written next to the agent artifacts before execution.
func (r *Runner) ReplayScript(inv ports.AgentInvocation) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Reproduces this trial's agent invocation.\n")
	fmt.Fprintf(&b, "cd %s\n", shellQuote(inv.WorkspaceDir))
	b.WriteString(shellQuote(r.command))
	for _, arg := range r.args(inv) {
		b.WriteString(" ")
		b.WriteString(shellQuote(arg))
	}
	b.WriteString("\n")
	return b.String()
}

// shellQuote single-quotes a value for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
