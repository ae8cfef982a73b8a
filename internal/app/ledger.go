package app

import (
	"context"
	"log"

	"code.cloudfoundry.org/clock"

	"scriptrunner/internal/core"
	"scriptrunner/internal/runner"
	"scriptrunner/internal/store"
)

// runLedger records the invocation when a ledger is configured. Every
// failure is logged and swallowed so the ledger can never change the
// exit code.
type runLedger struct {
	ledger *store.Ledger
	logger *log.Logger
}

func openLedger(ctx context.Context, dsn string, clk clock.Clock, logger *log.Logger) *runLedger {
	rl := &runLedger{logger: logger}
	if dsn == "" {
		return rl
	}

	ledger, err := store.Open(dsn, clk)
	if err != nil {
		logger.Printf("error: open ledger: %v", err)
		return rl
	}
	if err := ledger.Init(ctx); err != nil {
		logger.Printf("error: init ledger: %v", err)
		ledger.Close()
		return rl
	}
	rl.ledger = ledger
	return rl
}

func (l *runLedger) createRun(ctx context.Context, run core.RunRecord) {
	if l.ledger == nil {
		return
	}
	if err := l.ledger.CreateRun(ctx, run); err != nil {
		l.logger.Printf("error: record run %s: %v", run.RunID, err)
	}
}

// recordExecution stores when the child actually ran. Runners that report
// no start time leave the registration time in place.
func (l *runLedger) recordExecution(ctx context.Context, runID string, res runner.ExecResult) {
	if l.ledger == nil || res.StartedAt.IsZero() {
		return
	}
	if err := l.ledger.RecordExecution(ctx, runID, res.StartedAt, res.FinishedAt, res.DurationMs); err != nil {
		l.logger.Printf("error: record execution of run %s: %v", runID, err)
	}
}

func (l *runLedger) finishRun(ctx context.Context, runID string, outcome core.Outcome) {
	if l.ledger == nil {
		return
	}
	if err := l.ledger.FinishRun(ctx, runID, outcome); err != nil {
		l.logger.Printf("error: finish run %s: %v", runID, err)
	}
}

func (l *runLedger) addArtifact(ctx context.Context, artifact core.ArtifactRecord) {
	if l.ledger == nil {
		return
	}
	if err := l.ledger.AddArtifact(ctx, artifact); err != nil {
		l.logger.Printf("error: record artifact %s: %v", artifact.Path, err)
	}
}

func (l *runLedger) Close() {
	if l.ledger != nil {
		l.ledger.Close()
	}
}
