package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/opsdeck/awsconnect/internal/runner"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	args := os.Args
	if len(args) > 1 && args[1] == "--version" {
		printVersion()
		return
	}

	runner.SetVersion(version)
	if err := runner.Main(args); err != nil {
		var exitErr *runner.ExitCodeError
		if errors.As(err, &exitErr) {
			// A cause-less ExitCodeError just mirrors the child's exit status;
			// the child already wrote its own diagnostics.
			if exitErr.Unwrap() != nil {
				fmt.Fprintln(os.Stderr, exitErr.Error())
			}
			os.Exit(exitErr.ExitCode())
		}
		log.Fatal(err)
	}
}

func printVersion() {
	shortHash := commit
	if len(shortHash) > 7 {
		shortHash = shortHash[:7]
	}
	fmt.Printf("version: %s\n", version)
	fmt.Printf("git hash: %s\n", shortHash)
	fmt.Printf("build date: %s\n", buildDate)
}
