// Package pipeline runs the build, format and test checks that validate
// a workspace. Failures of the code under test are data for the judges,
// never errors; only infrastructure problems (unknown language, missing
// toolchain) surface as errors.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
)

var _ ports.PipelineRunner = (*Runner)(nil)

// checkTimeout bounds each individual check so a hung test binary
// cannot stall the experiment.
const checkTimeout = 15 * time.Minute

// check is one validation step.
type check struct {
	name string
	argv []string

	// outputFails marks checks like gofmt -l where a zero exit with
	// non-empty output still means failure.
	outputFails bool
}

// languages maps the config's language value to its check set.
var languages = map[string][]check{
	"go": {
		{name: "build", argv: []string{"go", "build", "./..."}},
		{name: "format", argv: []string{"gofmt", "-l", "."}, outputFails: true},
		{name: "test", argv: []string{"go", "test", "./..."}},
	},
	"rust": {
		{name: "build", argv: []string{"cargo", "build", "--quiet"}},
		{name: "format", argv: []string{"cargo", "fmt", "--check"}},
		{name: "test", argv: []string{"cargo", "test", "--quiet"}},
	},
	"python": {
		{name: "build", argv: []string{"python", "-m", "compileall", "-q", "."}},
		{name: "format", argv: []string{"ruff", "format", "--check", "."}},
		{name: "test", argv: []string{"python", "-m", "pytest", "-q"}},
	},
}

// Runner executes language check sets inside workspaces.
type Runner struct{}

// NewRunner returns a pipeline runner.
func NewRunner() *Runner { return &Runner{} }

// Run executes the language's build, format and test checks in order.
// Every check runs even after earlier failures so the judges see the
// complete picture.
func (r *Runner) Run(ctx context.Context, workspaceDir, language string) (domain.PipelineResult, error) {
	checks, ok := languages[strings.ToLower(language)]
	if !ok {
		return domain.PipelineResult{}, fmt.Errorf("no validation pipeline for language %q", language)
	}

	var result domain.PipelineResult
	for _, c := range checks {
		passed, output := runCheck(ctx, workspaceDir, c)
		switch c.name {
		case "build":
			result.BuildPassed = passed
			result.BuildOutput = output
		case "format":
			result.FormatPassed = passed
			result.FormatOutput = output
		case "test":
			result.TestPassed = passed
			result.TestOutput = output
		}
	}
	result.AllPassed = result.BuildPassed && result.FormatPassed && result.TestPassed
	return result, ctx.Err()
}

// runCheck executes one check and reports pass/fail with its output,
// truncated to keep artifacts bounded.
func runCheck(ctx context.Context, dir string, c check) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := truncate(out.String(), 64<<10)

	if err != nil {
		return false, output
	}
	if c.outputFails && strings.TrimSpace(output) != "" {
		return false, output
	}
	return true, output
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (output truncated)"
}
