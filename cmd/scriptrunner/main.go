// Package main implements scriptrunner, which runs a work item's test script
// and reports its results back to the orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"

	"scriptrunner/internal/app"
)

const usage = `Usage: scriptrunner [--config config.json] [--setting name=value]... --script <path> [--args "<string>"] [-- arg...]

Runs <payload-dir>/<script> with the remaining arguments, then uploads
<working-dir>/execution/testResults.xml and reports a completion event.
The exit code is the script's exit code.

`

// parseArgs turns the command line into a Command. Positional arguments
// after the flags are passed to the script untouched.
func parseArgs(args []string, stderr io.Writer) (app.Command, error) {
	fs := flag.NewFlagSet("scriptrunner", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	var cmd app.Command
	fs.StringVar(&cmd.Script, "script", "", "Script to run, relative to the payload directory (required)")
	fs.StringVar(&cmd.ScriptArgs, "args", "", "Free-form arguments, logged verbatim")
	fs.StringVar(&cmd.ConfigPath, "config", "", "Settings file (JSON or YAML)")
	fs.Var(&cmd.Overrides, "setting", "Setting override as name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return app.Command{}, err
	}
	if cmd.Script == "" {
		fs.Usage()
		return app.Command{}, fmt.Errorf("--script is required")
	}
	cmd.Args = fs.Args()
	return cmd, nil
}

// doMain is separate from main so deferred calls run before os.Exit.
func doMain(args []string, stdout, stderr io.Writer) int {
	cmd, err := parseArgs(args, stderr)
	if err == flag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "scriptrunner: %v\n", err)
		return app.ExitConfigError
	}

	logger := log.New(stdout, "", log.LstdFlags|log.LUTC)
	cmd.Logger = logger
	cmd.LookupEnv = os.LookupEnv

	// While the script runs, SIGINT and SIGTERM terminate scriptrunner as
	// usual. Once it has exited they only cut short reporting.
	cmd.ReportSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

	result, err := cmd.Run(context.Background())
	if err != nil {
		logger.Printf("error: %v", err)
		return app.ExitCode(err)
	}

	logger.Printf("Run %s finished: %s, exit code %d", result.RunID, result.Outcome.Status, result.ExitCode)
	return result.ExitCode
}

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}
