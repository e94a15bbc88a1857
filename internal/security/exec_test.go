package security

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSandboxedExecutor_Execute(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	tests := []struct {
		name        string
		cmdParts    []string
		allowShell  bool
		errContains string
	}{
		{"echo not allowed", []string{"echo", "hello"}, false, "command not allowed"},
		{"rm not allowed", []string{"rm", "-rf", "/"}, false, "command not allowed"},
		{"bash not allowed", []string{"bash", "-c", "whoami"}, false, "command not allowed"},
		{"curl not allowed", []string{"curl", "evil.com"}, false, "command not allowed"},
		{"semicolon injection", []string{"go", "test; rm -rf /"}, false, "shell metacharacters"},
		{"pipe injection", []string{"go", "test | tee out"}, false, "shell metacharacters"},
		{"ampersand injection", []string{"make", "test && curl evil.com"}, false, "shell metacharacters"},
		{"backtick injection", []string{"mvn", "test `whoami`"}, false, "shell metacharacters"},
		{"dollar injection", []string{"pytest", "$(whoami)"}, false, "shell metacharacters"},
		{"redirect injection", []string{"npm", "test > /etc/passwd"}, false, "shell metacharacters"},
		{"quote injection", []string{"cargo", "test 'x'"}, false, "shell metacharacters"},
		{"empty command", []string{}, false, "empty command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewSandboxedExecutor(tmpDir)
			executor.AllowShellMetachars = tt.allowShell

			_, err := executor.Execute(ctx, tt.cmdParts)
			if err == nil {
				t.Fatal("Execute() should fail")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Execute() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestSandboxedExecutor_RunsAllowedCommand(t *testing.T) {
	executor := NewSandboxedExecutor(t.TempDir())

	result, err := executor.Execute(context.Background(), []string{"go", "version"})
	if err != nil {
		t.Skipf("go toolchain not runnable here: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(string(result.Output), "go version") {
		t.Errorf("Output = %q, want go version banner", result.Output)
	}
}

func TestSandboxedExecutor_ValidateCommandParts(t *testing.T) {
	executor := NewSandboxedExecutor("/tmp")

	tests := []struct {
		name     string
		cmdParts []string
		wantErr  bool
	}{
		{"go test", []string{"go", "test", "./..."}, false},
		{"gradle wrapper", []string{"./gradlew", "test"}, false},
		{"pytest with flags", []string{"pytest", "--junitxml=report.xml", "-q"}, false},
		{"blocked command", []string{"rm", "-rf", "/"}, true},
		{"empty command", []string{}, true},
		{"selector needs metachars", []string{"go", "test", "-run", "^TestX$"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.ValidateCommandParts(tt.cmdParts)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommandParts() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	executor.AllowShellMetachars = true
	if err := executor.ValidateCommandParts([]string{"go", "test", "-run", "^TestX$"}); err != nil {
		t.Errorf("ValidateCommandParts() with metachars allowed error = %v", err)
	}
}

func TestSandboxedExecutor_AddAllowedCommand(t *testing.T) {
	executor := NewSandboxedExecutor("/tmp")

	if executor.IsCommandAllowed("bazel") {
		t.Fatal("bazel should not be allowed by default")
	}

	executor.AddAllowedCommand("bazel")
	if !executor.IsCommandAllowed("bazel") {
		t.Error("AddAllowedCommand() failed to add command")
	}
	if err := executor.ValidateCommandParts([]string{"bazel", "test", "//..."}); err != nil {
		t.Errorf("Command should be allowed after adding: %v", err)
	}

	// The default list is not shared between executors.
	if NewSandboxedExecutor("/tmp").IsCommandAllowed("bazel") {
		t.Error("AddAllowedCommand() leaked into DefaultAllowedCommands")
	}
	if DefaultAllowedCommands["bazel"] {
		t.Error("DefaultAllowedCommands was modified")
	}

	var empty SandboxedExecutor
	empty.AddAllowedCommand("go")
	if !empty.IsCommandAllowed("go") {
		t.Error("AddAllowedCommand() on zero value failed")
	}
}

func TestContainsShellMetachars(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple string", "test", false},
		{"package pattern", "./...", false},
		{"flag with equals", "--junitxml=out/report.xml", false},
		{"with colon", "http://example.com", false},
		{"with @", "user@host", false},

		{"semicolon", "cmd; malicious", true},
		{"pipe", "cmd | grep", true},
		{"ampersand", "cmd && other", true},
		{"dollar", "cmd $(whoami)", true},
		{"backtick", "cmd `whoami`", true},
		{"redirect output", "cmd > file", true},
		{"redirect input", "cmd < file", true},
		{"subshell", "(sub)", true},
		{"brace", "{a,b}", true},
		{"asterisk", "*.txt", true},
		{"question mark", "?.txt", true},
		{"bracket", "[abc]", true},
		{"backslash", "\\n", true},
		{"single quote", "'quoted'", true},
		{"double quote", "\"quoted\"", true},
		{"newline", "cmd\nmalicious", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := containsShellMetachars(tt.input); got != tt.want {
				t.Errorf("containsShellMetachars(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSandboxedExecutor_Timeout(t *testing.T) {
	executor := NewSandboxedExecutor(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := executor.Execute(ctx, []string{"go", "version"}); err == nil {
		t.Error("Execute() should fail with cancelled context")
	}

	executor.Timeout = time.Nanosecond
	if _, err := executor.Execute(context.Background(), []string{"go", "version"}); err == nil {
		t.Error("Execute() should fail when the timeout expires")
	}
}

func BenchmarkValidateCommandParts(b *testing.B) {
	executor := NewSandboxedExecutor("/tmp")

	for i := 0; i < b.N; i++ {
		_ = executor.ValidateCommandParts([]string{"go", "test", "./..."})
	}
}
