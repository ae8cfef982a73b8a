// Package reporter turns the state a test script left behind into exactly
// one completion event.
//
// After the child exits the reporter checks once for the results artifact.
// If it exists the test count is extracted, the artifact is uploaded and a
// success event carrying the URI and count is sent. If it does not exist a
// failure event is sent and nothing is uploaded. The child's exit code is
// carried through untouched either way, unless the artifact exists but
// cannot be read or stored, which aborts the invocation.
package reporter

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"scriptrunner/internal/core"
	"scriptrunner/internal/results"
)

type Reporter struct {
	uploader core.Uploader
	events   core.EventSender
}

func New(uploader core.Uploader, events core.EventSender) *Reporter {
	return &Reporter{uploader: uploader, events: events}
}

// Report runs the found/missing branch for a child that exited with
// exitCode. A results artifact that exists but cannot be read or uploaded
// is returned as an error: no event is sent, since a success event needs
// the uploaded URI and a failure event would misreport results that were
// produced. A delivery failure is recorded in Outcome.Err and does not
// change Outcome.ExitCode.
func (r *Reporter) Report(ctx context.Context, rc core.RunContext, exitCode int) (core.Outcome, error) {
	wi := rc.WorkItem
	resultsPath, found := results.Locate(wi.WorkingDir)
	if !found {
		return r.reportMissing(ctx, rc, resultsPath, exitCode), nil
	}
	return r.reportFound(ctx, rc, resultsPath, exitCode)
}

func (r *Reporter) reportFound(ctx context.Context, rc core.RunContext, resultsPath string, exitCode int) (core.Outcome, error) {
	logger := rc.Logger
	outcome := core.Outcome{
		Status:      core.RunStatusResultsFound,
		ExitCode:    exitCode,
		ResultsPath: resultsPath,
	}

	logger.Printf("Uploading results from %s", resultsPath)
	count, err := results.CountTests(resultsPath)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("results artifact %s exists but is unreadable: %w", resultsPath, err)
	}
	outcome.TestCount = count

	key := path.Join(rc.WorkItem.ID, filepath.Base(resultsPath))
	uri, err := r.uploader.Upload(ctx, resultsPath, key)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("upload results %s: %w", resultsPath, err)
	}
	outcome.ResultsURI = uri

	event := core.NewSuccessEvent(rc.WorkItem, uri, count)
	outcome.Event = event
	logger.Printf("Sending completion event")
	if err := r.events.Send(ctx, event); err != nil {
		logger.Printf("error: send %s event: %v", event.EventType(), err)
		outcome.Err = fmt.Errorf("send completion event: %w", err)
	}
	return outcome, nil
}

func (r *Reporter) reportMissing(ctx context.Context, rc core.RunContext, resultsPath string, exitCode int) core.Outcome {
	logger := rc.Logger
	logger.Printf("error: no exception thrown, but results not created at %s", resultsPath)

	event := core.NewFailureEvent(rc.WorkItem, core.FailureResultsNotProduced)
	outcome := core.Outcome{
		Status:      core.RunStatusResultsMissing,
		ExitCode:    exitCode,
		ResultsPath: resultsPath,
		Event:       event,
	}
	if err := r.events.Send(ctx, event); err != nil {
		logger.Printf("error: send %s event: %v", event.EventType(), err)
		outcome.Err = fmt.Errorf("send failure report: %w", err)
	}
	return outcome
}
