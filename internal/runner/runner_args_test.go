package runner

import (
	"errors"
	"strings"
	"testing"
)

func TestParseArgsExecuteFlags(t *testing.T) {
	t.Parallel()

	args := []string{
		"execute",
		"-p", "staging",
		"--cluster", "web",
		"-s", "api",
		"--task", "deadbeef",
		"-n", "app",
		"--region", "eu-west-1",
		"-V",
	}

	opts, err := parseArgs(args)
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.subcommand != "execute" {
		t.Fatalf("subcommand = %q, want execute", opts.subcommand)
	}
	if opts.profile != "staging" || opts.cluster != "web" || opts.service != "api" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.task != "deadbeef" || opts.container != "app" || opts.region != "eu-west-1" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if !opts.verbose {
		t.Fatal("expected verbose to be set")
	}
	if len(opts.command) != 0 {
		t.Fatalf("unexpected command slice: %+v", opts.command)
	}
}

func TestParseArgsEqualsForms(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{"execute", "--profile=prod", "--cluster=jobs", "--region=us-west-2"})
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.profile != "prod" || opts.cluster != "jobs" || opts.region != "us-west-2" {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseArgsCommandAfterSeparator(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{"execute", "-c", "web", "--", "ls", "-la", "/tmp"})
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	want := []string{"ls", "-la", "/tmp"}
	if len(opts.command) != len(want) {
		t.Fatalf("expected %d command args, got %d: %+v", len(want), len(opts.command), opts.command)
	}
	for i := range want {
		if opts.command[i] != want[i] {
			t.Fatalf("command arg %d mismatch: want %q got %q", i, want[i], opts.command[i])
		}
	}
}

func TestParseArgsFlagsAfterSeparatorAreNotParsed(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{"execute", "--", "--verbose"})
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.verbose {
		t.Fatal("flags after '--' must not be interpreted")
	}
	if len(opts.command) != 1 || opts.command[0] != "--verbose" {
		t.Fatalf("unexpected command slice: %+v", opts.command)
	}
}

func TestParseArgsMissingFlagValue(t *testing.T) {
	t.Parallel()

	for _, flag := range []string{"-p", "--cluster", "--region"} {
		if _, err := parseArgs([]string{"execute", flag}); err == nil {
			t.Fatalf("expected error for %s without value", flag)
		}
	}
}

func TestParseArgsUnknownFlag(t *testing.T) {
	t.Parallel()

	_, err := parseArgs([]string{"execute", "--bogus"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "--bogus") {
		t.Fatalf("error should name the flag, got %v", err)
	}
}

func TestParseArgsHelp(t *testing.T) {
	t.Parallel()

	for _, arg := range []string{"-h", "--help", "help"} {
		if _, err := parseArgs([]string{arg}); !errors.Is(err, errShowUsage) {
			t.Fatalf("parseArgs(%q) error = %v, want errShowUsage", arg, err)
		}
	}
}

func TestParseArgsExtraPositional(t *testing.T) {
	t.Parallel()

	if _, err := parseArgs([]string{"execute", "stray"}); err == nil {
		t.Fatal("expected error for positional argument outside '--'")
	}
}

func TestCommandName(t *testing.T) {
	t.Parallel()

	if got := commandName(nil); got != "awsconnect" {
		t.Fatalf("commandName(nil) = %q", got)
	}
	if got := commandName([]string{"/usr/local/bin/awsconnect"}); got != "awsconnect" {
		t.Fatalf("commandName = %q, want awsconnect", got)
	}
	if got := commandName([]string{"  "}); got != "awsconnect" {
		t.Fatalf("commandName blank = %q, want awsconnect", got)
	}
}

func TestUsageMentionsCommands(t *testing.T) {
	t.Parallel()

	text := usage("awsconnect")
	for _, want := range []string{"login", "execute", "--profile", "--cluster", "--container", "AWSCONNECT_HOME"} {
		if !strings.Contains(text, want) {
			t.Fatalf("usage text missing %q", want)
		}
	}
}
