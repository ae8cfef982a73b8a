package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"code.cloudfoundry.org/clock"

	"scriptrunner/internal/config"
	"scriptrunner/internal/core"
	"scriptrunner/internal/event"
	"scriptrunner/internal/reporter"
	"scriptrunner/internal/results"
	"scriptrunner/internal/runner"
	"scriptrunner/internal/storage"
)

const (
	ExitRuntimeError = 1
	ExitConfigError  = 2
)

// Command is one invocation: run Script from the payload directory, then
// report what it left behind.
type Command struct {
	Script     string
	ScriptArgs string
	Args       []string
	ConfigPath string
	Overrides  config.Overrides
	LookupEnv  func(string) (string, bool)

	Logger     *log.Logger
	Clock      clock.Clock
	HTTPClient *http.Client

	// ReportSignals cancel uploads and event delivery. They are trapped
	// only after the child has exited; while it runs they keep their
	// default action.
	ReportSignals []os.Signal

	// Optional replacements for the collaborators built from settings.
	Runner   runner.Runner
	Uploader core.Uploader
	Events   core.EventSender
}

type Result struct {
	RunID    string
	ExitCode int
	Outcome  core.Outcome
}

// ConfigError wraps anything that stops the child from being started
// because of how the invocation was set up.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// ExitCode maps a Run error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	return ExitRuntimeError
}

// Run returns the child's exit code in Result.ExitCode whenever the child
// ran and its results were reported, even if event delivery failed. A
// results file that exists but cannot be read or uploaded is an error.
func (c Command) Run(ctx context.Context) (Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	if c.Script == "" {
		return Result{}, &ConfigError{Err: fmt.Errorf("--script is required")}
	}

	logger.Printf("Script runner starting")
	if c.ScriptArgs != "" {
		logger.Printf("Script arguments: %s", c.ScriptArgs)
	}

	settings, err := config.Load(c.ConfigPath, c.Overrides, c.LookupEnv)
	if err != nil {
		return Result{}, &ConfigError{Err: err}
	}
	wi := settings.WorkItem()

	uploader := c.Uploader
	if uploader == nil {
		if uploader, err = storage.NewFromURI(ctx, wi.OutputURI); err != nil {
			return Result{}, &ConfigError{Err: err}
		}
	}

	events := c.Events
	if events == nil {
		sender, err := event.NewFromURI(wi.EventURI, c.HTTPClient, clk)
		if err != nil {
			return Result{}, &ConfigError{Err: err}
		}
		if closer, ok := sender.(io.Closer); ok {
			defer closer.Close()
		}
		events = sender
	}

	procRunner := c.Runner
	if procRunner == nil {
		procRunner = runner.NewProcessRunner(logger, clk)
	}

	runID, err := core.NewRunID()
	if err != nil {
		return Result{}, err
	}
	rc := core.RunContext{RunID: runID, WorkItem: wi, Logger: logger}

	ledger := openLedger(ctx, settings.LedgerDSN, clk, logger)
	defer ledger.Close()
	ledger.createRun(ctx, core.RunRecord{
		RunID:         runID,
		WorkItemID:    wi.ID,
		FriendlyName:  wi.FriendlyName,
		CorrelationID: wi.CorrelationID,
		Script:        c.Script,
		Args:          c.ScriptArgs,
		StartedAt:     clk.Now(),
		Status:        core.RunStatusRunning,
	})

	scriptPath, err := resolveScript(wi.PayloadDir, c.Script)
	if err != nil {
		ledger.finishRun(ctx, runID, core.Outcome{Status: core.RunStatusFailed, ExitCode: ExitRuntimeError})
		return Result{RunID: runID}, err
	}
	args := append([]string{scriptPath}, c.Args...)
	execResult, err := procRunner.Run(ctx, runner.Command{
		Args:        args,
		Cwd:         wi.PayloadDir,
		ConsolePath: settings.ConsoleLog,
	})
	if err != nil {
		ledger.finishRun(ctx, runID, core.Outcome{Status: core.RunStatusFailed, ExitCode: ExitRuntimeError})
		return Result{RunID: runID}, fmt.Errorf("run script: %w", err)
	}
	ledger.recordExecution(ctx, runID, execResult)

	reportCtx := ctx
	if len(c.ReportSignals) > 0 {
		var stop context.CancelFunc
		reportCtx, stop = signal.NotifyContext(ctx, c.ReportSignals...)
		defer stop()
	}

	outcome, err := reporter.New(uploader, events).Report(reportCtx, rc, execResult.ExitCode)
	if err != nil {
		ledger.finishRun(ctx, runID, core.Outcome{Status: core.RunStatusFailed, ExitCode: execResult.ExitCode})
		return Result{RunID: runID}, err
	}

	if outcome.ResultsURI != "" {
		artifact, err := results.NewArtifact(runID, "results", outcome.ResultsPath, outcome.ResultsURI, clk.Now())
		if err != nil {
			logger.Printf("error: describe artifact %s: %v", outcome.ResultsPath, err)
		} else {
			ledger.addArtifact(ctx, artifact)
		}
	}
	ledger.finishRun(ctx, runID, outcome)

	return Result{
		RunID:    runID,
		ExitCode: execResult.ExitCode,
		Outcome:  outcome,
	}, nil
}

// resolveScript makes the script path absolute so exec never searches PATH
// for it.
func resolveScript(payloadDir, script string) (string, error) {
	path := filepath.FromSlash(script)
	if !filepath.IsAbs(path) {
		path = filepath.Join(payloadDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve script %s: %w", script, err)
	}
	return abs, nil
}
