package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"teststability/pkg/cmdutil"
)

// DefaultAllowedCommands are the test runners `record --exec` may start.
var DefaultAllowedCommands = map[string]bool{
	"go":        true,
	"gotestsum": true,
	"make":      true,
	"mvn":       true,
	"gradle":    true,
	"./gradlew": true,
	"ant":       true,
	"npm":       true,
	"npx":       true,
	"yarn":      true,
	"pnpm":      true,
	"pytest":    true,
	"python":    true,
	"python3":   true,
	"tox":       true,
	"cargo":     true,
	"dotnet":    true,
	"bundle":    true,
	"rake":      true,
	"rspec":     true,
	"phpunit":   true,
}

// SandboxedExecutor runs allow-listed commands without a shell.
type SandboxedExecutor struct {
	// AllowedCommands is the map of commands that are permitted to run.
	AllowedCommands map[string]bool

	// WorkDir is the working directory for command execution.
	WorkDir string

	// Env is passed to the command. Nil inherits the current environment.
	Env []string

	// Timeout bounds each command. Zero means no limit.
	Timeout time.Duration

	// AllowShellMetachars permits shell metacharacters in arguments.
	AllowShellMetachars bool

	// OutputLimit caps the captured output, keeping its end.
	OutputLimit int
}

// NewSandboxedExecutor creates an executor limited to DefaultAllowedCommands.
func NewSandboxedExecutor(workDir string) *SandboxedExecutor {
	allowed := make(map[string]bool, len(DefaultAllowedCommands))
	for cmd := range DefaultAllowedCommands {
		allowed[cmd] = true
	}
	return &SandboxedExecutor{
		AllowedCommands: allowed,
		WorkDir:         workDir,
	}
}

// Execute validates and runs cmdParts. A command that runs but exits
// non-zero returns both its result and an error.
func (e *SandboxedExecutor) Execute(ctx context.Context, cmdParts []string) (*cmdutil.Result, error) {
	if err := e.ValidateCommandParts(cmdParts); err != nil {
		return nil, err
	}

	return cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:            e.WorkDir,
		Env:            e.Env,
		Timeout:        e.Timeout,
		CombinedOutput: true,
		OutputLimit:    e.OutputLimit,
	}, cmdParts)
}

// ValidateCommandParts checks a command against the allow-list and, unless
// AllowShellMetachars is set, rejects arguments with shell metacharacters.
func (e *SandboxedExecutor) ValidateCommandParts(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	baseCmd := cmdParts[0]
	if !e.AllowedCommands[baseCmd] {
		return fmt.Errorf("command not allowed: %s (must be one of: %s)",
			baseCmd, strings.Join(e.allowedCommandsList(), ", "))
	}

	if !e.AllowShellMetachars {
		for i, arg := range cmdParts[1:] {
			if containsShellMetachars(arg) {
				return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
			}
		}
	}

	return nil
}

// AddAllowedCommand adds a command to the allowed list.
func (e *SandboxedExecutor) AddAllowedCommand(cmd string) {
	if e.AllowedCommands == nil {
		e.AllowedCommands = make(map[string]bool)
	}
	e.AllowedCommands[cmd] = true
}

// IsCommandAllowed checks if a command is in the allowed list.
func (e *SandboxedExecutor) IsCommandAllowed(cmd string) bool {
	return e.AllowedCommands[cmd]
}

func (e *SandboxedExecutor) allowedCommandsList() []string {
	commands := make([]string, 0, len(e.AllowedCommands))
	for cmd := range e.AllowedCommands {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

// containsShellMetachars reports whether s has characters a shell would
// interpret. Test selectors such as -run '^TestX$' trip this check and need
// AllowShellMetachars.
func containsShellMetachars(s string) bool {
	return strings.ContainsAny(s, ";|&$`\n><(){}*?[]\\'\"")
}
