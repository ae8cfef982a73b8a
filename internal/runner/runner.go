package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

type Command struct {
	Args []string
	// Env is added on top of the parent environment. Nil leaves the child
	// with the parent environment unchanged.
	Env map[string]string
	Cwd string
	// ConsolePath, if set, receives a copy of everything the child prints.
	ConsolePath string
}

type ExecResult struct {
	ExitCode    int
	StartedAt   time.Time
	FinishedAt  time.Time
	ConsolePath string
	DurationMs  int64
}

type Runner interface {
	Run(ctx context.Context, cmd Command) (ExecResult, error)
}

// ProcessRunner runs a child to completion and logs its output line by line.
// The child is never killed by this package: ctx is only checked before the
// process starts.
type ProcessRunner struct {
	logger *log.Logger
	clock  clock.Clock
}

func NewProcessRunner(logger *log.Logger, clk clock.Clock) *ProcessRunner {
	return &ProcessRunner{logger: logger, clock: clk}
}

func (r *ProcessRunner) Run(ctx context.Context, cmd Command) (ExecResult, error) {
	if len(cmd.Args) == 0 {
		return ExecResult{}, fmt.Errorf("command args required")
	}
	if err := ctx.Err(); err != nil {
		return ExecResult{}, err
	}

	execCmd := exec.Command(cmd.Args[0], cmd.Args[1:]...)
	if cmd.Cwd != "" {
		execCmd.Dir = cmd.Cwd
	}

	if len(cmd.Env) > 0 {
		execCmd.Env = append(os.Environ(), envSlice(cmd.Env)...)
	}

	lines := newLineLogger(r.logger, "[child] ")
	var output io.Writer = lines

	if cmd.ConsolePath != "" {
		consoleFile, err := os.Create(cmd.ConsolePath)
		if err != nil {
			return ExecResult{}, fmt.Errorf("create console log: %w", err)
		}
		defer consoleFile.Close()
		output = io.MultiWriter(lines, consoleFile)
	}

	// Same writer for both streams so exec serializes the writes.
	execCmd.Stdout = output
	execCmd.Stderr = output

	r.logger.Printf("Running %q in %s", cmd.Args, execCmd.Dir)
	start := r.clock.Now()
	err := execCmd.Run()
	lines.Flush()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return ExecResult{}, fmt.Errorf("run %s: %w", cmd.Args[0], err)
	}

	finished := r.clock.Now()
	code := exitCode(err)
	r.logger.Printf("Child exited with code %d", code)
	return ExecResult{
		ExitCode:    code,
		StartedAt:   start,
		FinishedAt:  finished,
		ConsolePath: cmd.ConsolePath,
		DurationMs:  finished.Sub(start).Milliseconds(),
	}, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// lineLogger forwards complete lines to a logger, holding back any trailing
// partial line until more output or Flush arrives.
type lineLogger struct {
	mu     sync.Mutex
	logger *log.Logger
	prefix string
	buf    bytes.Buffer
}

func newLineLogger(logger *log.Logger, prefix string) *lineLogger {
	return &lineLogger{logger: logger, prefix: prefix}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(l.buf.Next(i+1), "\r\n"))
		l.logger.Print(l.prefix + line)
	}
	return len(p), nil
}

func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buf.Len() > 0 {
		l.logger.Print(l.prefix + l.buf.String())
		l.buf.Reset()
	}
}
