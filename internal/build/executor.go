package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/smelt/internal/spec"
)

// PhaseRequest is everything a phase needs to run.
type PhaseRequest struct {
	Spec  *spec.ConcreteSpec
	Phase string

	// Prefix is the node's install prefix. It exists when the phase runs.
	Prefix string

	// StageDir holds the unpacked sources, or is empty when the package
	// declares none.
	StageDir string

	// DepPrefixes maps every dependency in the node's closure to its
	// install prefix.
	DepPrefixes map[string]string

	// Commands are the package's commands for this phase, unexpanded.
	Commands []string
}

// PhaseResult is what a phase reports back.
type PhaseResult struct {
	Output []byte
}

// PhaseExecutor performs one external build step.
//
// Implementations must honor ctx: a cancelled or expired context should
// interrupt the step and return an error.
type PhaseExecutor interface {
	Execute(ctx context.Context, req PhaseRequest) (PhaseResult, error)
}

// FuncExecutor adapts a function to PhaseExecutor.
type FuncExecutor func(ctx context.Context, req PhaseRequest) (PhaseResult, error)

// Execute calls f.
func (f FuncExecutor) Execute(ctx context.Context, req PhaseRequest) (PhaseResult, error) {
	return f(ctx, req)
}

// ShellExecutor runs each phase command with a shell in the node's stage
// directory, or its prefix when there is no stage. Phases without commands
// succeed without running anything.
type ShellExecutor struct {
	// Shell defaults to /bin/sh.
	Shell string
	// Env is appended to the process environment.
	Env []string
}

// Execute runs req.Commands in order and stops at the first failure.
func (e ShellExecutor) Execute(ctx context.Context, req PhaseRequest) (PhaseResult, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	var out bytes.Buffer
	for _, raw := range req.Commands {
		line, err := ExpandCommand(raw, req)
		if err != nil {
			return PhaseResult{Output: out.Bytes()}, err
		}
		cmd := exec.CommandContext(ctx, shell, "-c", line)
		cmd.Dir = req.Prefix
		if req.StageDir != "" {
			cmd.Dir = req.StageDir
		}
		cmd.Env = append(os.Environ(), e.Env...)
		cmd.Env = append(cmd.Env,
			"SMELT_PREFIX="+req.Prefix,
			"SMELT_PACKAGE="+req.Spec.Name,
			"SMELT_VERSION="+req.Spec.Version.String(),
			"SMELT_PHASE="+req.Phase,
			"SMELT_STAGE="+req.StageDir,
		)
		cmd.Stdout = &out
		cmd.Stderr = &out
		// Background children may hold the output pipe after a kill.
		cmd.WaitDelay = waitDelay
		if err := cmd.Run(); err != nil {
			return PhaseResult{Output: out.Bytes()}, fmt.Errorf("command %q: %w", line, err)
		}
	}
	return PhaseResult{Output: out.Bytes()}, nil
}

const waitDelay = 2 * time.Second

var placeholder = regexp.MustCompile(`\{([a-z]+)(?::([A-Za-z0-9_.+-]+))?\}`)

// ExpandCommand substitutes {prefix}, {stage}, {name}, {version} and {dep:<name>}
// in a phase command. Naming a dependency outside the node's closure is an
// error; unknown placeholders are left as written.
func ExpandCommand(cmd string, req PhaseRequest) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(cmd, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		switch sub[1] {
		case "prefix":
			if sub[2] == "" {
				return req.Prefix
			}
		case "stage":
			if sub[2] == "" && req.StageDir != "" {
				return req.StageDir
			}
		case "name":
			if sub[2] == "" {
				return req.Spec.Name
			}
		case "version":
			if sub[2] == "" {
				return req.Spec.Version.String()
			}
		case "dep":
			if p, ok := req.DepPrefixes[sub[2]]; ok {
				return p
			}
			missing = append(missing, sub[2])
		}
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("command %q: %s is not a dependency of %s",
			cmd, strings.Join(missing, ", "), req.Spec.Name)
	}
	return out, nil
}
