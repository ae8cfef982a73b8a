package reporter

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"scriptrunner/internal/core"
)

type fakeUploader struct {
	calls []string
	uri   string
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, path string, key string) (string, error) {
	f.calls = append(f.calls, key)
	if f.err != nil {
		return "", f.err
	}
	return f.uri, nil
}

type fakeSender struct {
	events []core.CompletionEvent
	err    error
}

func (f *fakeSender) Send(ctx context.Context, event core.CompletionEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func newRunContext(t *testing.T, resultsContent *string) (core.RunContext, *bytes.Buffer) {
	t.Helper()
	workingDir := t.TempDir()
	if resultsContent != nil {
		dir := filepath.Join(workingDir, "execution")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "testResults.xml"), []byte(*resultsContent), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	return core.RunContext{
		RunID: "run-1",
		WorkItem: core.WorkItem{
			ID:            "wi-1",
			FriendlyName:  "System.Runtime.Tests",
			CorrelationID: "corr-1",
			WorkingDir:    workingDir,
		},
		Logger: log.New(&buf, "", 0),
	}, &buf
}

func ptr(s string) *string { return &s }

func TestReportResultsMissing(t *testing.T) {
	t.Parallel()
	for _, exitCode := range []int{0, 1, 137} {
		rc, logs := newRunContext(t, nil)
		up := &fakeUploader{uri: "unused"}
		sender := &fakeSender{}

		outcome, err := New(up, sender).Report(context.Background(), rc, exitCode)
		if err != nil {
			t.Fatalf("Report() error = %v", err)
		}
		if len(up.calls) != 0 {
			t.Errorf("Upload called %d times, want 0", len(up.calls))
		}
		want := []core.CompletionEvent{core.FailureEvent{
			Type:                 "XUnitTestFailure",
			WorkItemID:           "wi-1",
			WorkItemFriendlyName: "System.Runtime.Tests",
			CorrelationID:        "corr-1",
			FailureType:          "test-results-not-produced",
		}}
		if diff := cmp.Diff(want, sender.events); diff != "" {
			t.Errorf("events mismatch (-want +got):\n%s", diff)
		}
		if outcome.Status != core.RunStatusResultsMissing || outcome.ExitCode != exitCode {
			t.Errorf("outcome = %+v; want missing with exit code %d", outcome, exitCode)
		}
		if !strings.Contains(logs.String(), "error: no exception thrown, but results not created") {
			t.Errorf("log missing diagnostic; got:\n%s", logs)
		}
	}
}

func TestReportResultsFound(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name      string
		content   string
		wantCount int
	}{
		{"total", `<assembly name="A" total="42">`, 42},
		{"no total", `<assembly name="A">`, 0},
		{"first line wins", "<assembly name=\"A\" total=\"3\">\n<assembly name=\"B\" total=\"9\">\n", 3},
		{"empty", "", 0},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rc, _ := newRunContext(t, ptr(tc.content))
			up := &fakeUploader{uri: "s3://bucket/wi-1/testResults.xml"}
			sender := &fakeSender{}

			outcome, err := New(up, sender).Report(context.Background(), rc, 2)
			if err != nil {
				t.Fatalf("Report() error = %v", err)
			}
			if diff := cmp.Diff([]string{"wi-1/testResults.xml"}, up.calls); diff != "" {
				t.Errorf("upload keys mismatch (-want +got):\n%s", diff)
			}
			want := []core.CompletionEvent{core.SuccessEvent{
				Type:                 "XUnitTestResult",
				WorkItemID:           "wi-1",
				WorkItemFriendlyName: "System.Runtime.Tests",
				CorrelationID:        "corr-1",
				ResultsXMLURI:        "s3://bucket/wi-1/testResults.xml",
				TestCount:            tc.wantCount,
			}}
			if diff := cmp.Diff(want, sender.events); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
			if outcome.Status != core.RunStatusResultsFound || outcome.ExitCode != 2 || outcome.TestCount != tc.wantCount {
				t.Errorf("outcome = %+v", outcome)
			}
			if outcome.Err != nil {
				t.Errorf("outcome.Err = %v, want nil", outcome.Err)
			}
		})
	}
}

func TestReportUploadFailure(t *testing.T) {
	t.Parallel()
	rc, _ := newRunContext(t, ptr(`<assembly total="5">`))
	uploadErr := errors.New("bucket gone")
	sender := &fakeSender{}

	_, err := New(&fakeUploader{err: uploadErr}, sender).Report(context.Background(), rc, 0)
	if !errors.Is(err, uploadErr) {
		t.Fatalf("Report() error = %v, want %v", err, uploadErr)
	}
	if len(sender.events) != 0 {
		t.Errorf("sent %d events after a failed upload, want 0", len(sender.events))
	}
}

func TestReportDeliveryFailure(t *testing.T) {
	t.Parallel()
	sendErr := errors.New("connection refused")

	rc, _ := newRunContext(t, ptr(`<assembly total="5">`))
	sender := &fakeSender{err: sendErr}
	outcome, err := New(&fakeUploader{uri: "u"}, sender).Report(context.Background(), rc, 4)
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if !errors.Is(outcome.Err, sendErr) || outcome.ExitCode != 4 || len(sender.events) != 1 {
		t.Errorf("found branch: outcome = %+v, events = %d", outcome, len(sender.events))
	}

	rc, _ = newRunContext(t, nil)
	sender = &fakeSender{err: sendErr}
	outcome, err = New(&fakeUploader{}, sender).Report(context.Background(), rc, 4)
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if !errors.Is(outcome.Err, sendErr) || outcome.ExitCode != 4 || len(sender.events) != 1 {
		t.Errorf("missing branch: outcome = %+v, events = %d", outcome, len(sender.events))
	}
}

func TestReportUnreadableResults(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root can read files regardless of mode")
	}
	rc, _ := newRunContext(t, ptr(`<assembly total="5">`))
	path := filepath.Join(rc.WorkItem.WorkingDir, "execution", "testResults.xml")
	if err := os.Chmod(path, 0); err != nil {
		t.Fatal(err)
	}
	up := &fakeUploader{uri: "u"}
	sender := &fakeSender{}

	if _, err := New(up, sender).Report(context.Background(), rc, 0); err == nil {
		t.Fatal("Report() succeeded on an unreadable artifact")
	}
	if len(up.calls) != 0 || len(sender.events) != 0 {
		t.Errorf("uploads = %d, events = %d; want none after a fatal read error", len(up.calls), len(sender.events))
	}
}
