package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning        = "running"
	RunStatusResultsFound   = "results_found"
	RunStatusResultsMissing = "results_missing"
	RunStatusFailed         = "failed"
)

const (
	EventTypeTestResult  = "XUnitTestResult"
	EventTypeTestFailure = "XUnitTestFailure"

	FailureResultsNotProduced = "test-results-not-produced"
)

// WorkItem identifies the unit of work for one invocation.
type WorkItem struct {
	ID            string
	FriendlyName  string
	CorrelationID string
	PayloadDir    string
	WorkingDir    string
	EventURI      string
	OutputURI     string
}

// CompletionEvent is either a SuccessEvent or a FailureEvent.
type CompletionEvent interface {
	EventType() string
	WorkItem() string
}

type SuccessEvent struct {
	Type                 string `json:"Type"`
	WorkItemID           string `json:"WorkItemId"`
	WorkItemFriendlyName string `json:"WorkItemFriendlyName"`
	CorrelationID        string `json:"CorrelationId"`
	ResultsXMLURI        string `json:"ResultsXmlUri"`
	TestCount            int    `json:"TestCount"`
}

func NewSuccessEvent(wi WorkItem, resultsURI string, testCount int) SuccessEvent {
	return SuccessEvent{
		Type:                 EventTypeTestResult,
		WorkItemID:           wi.ID,
		WorkItemFriendlyName: wi.FriendlyName,
		CorrelationID:        wi.CorrelationID,
		ResultsXMLURI:        resultsURI,
		TestCount:            testCount,
	}
}

func (e SuccessEvent) EventType() string { return e.Type }
func (e SuccessEvent) WorkItem() string  { return e.WorkItemID }

type FailureEvent struct {
	Type                 string `json:"Type"`
	WorkItemID           string `json:"WorkItemId"`
	WorkItemFriendlyName string `json:"WorkItemFriendlyName,omitempty"`
	CorrelationID        string `json:"CorrelationId,omitempty"`
	FailureType          string `json:"FailureType"`
}

func NewFailureEvent(wi WorkItem, failureType string) FailureEvent {
	return FailureEvent{
		Type:                 EventTypeTestFailure,
		WorkItemID:           wi.ID,
		WorkItemFriendlyName: wi.FriendlyName,
		CorrelationID:        wi.CorrelationID,
		FailureType:          failureType,
	}
}

func (e FailureEvent) EventType() string { return e.Type }
func (e FailureEvent) WorkItem() string  { return e.WorkItemID }

// Outcome is what the reporter decided and did for one invocation.
type Outcome struct {
	Status      string
	ExitCode    int
	ResultsPath string
	ResultsURI  string
	TestCount   int
	Event       CompletionEvent
	Err         error
}

type RunRecord struct {
	RunID         string
	WorkItemID    string
	FriendlyName  string
	CorrelationID string
	Script        string
	Args          string
	StartedAt     time.Time
	ChildExitedAt time.Time
	DurationMs    int64
	FinishedAt    time.Time
	Status        string
	ExitCode      int
	TestCount     int
	ResultsURI    string
	EventType     string
}

type ArtifactRecord struct {
	RunID     string
	Kind      string
	Path      string
	URI       string
	SHA256    string
	SizeBytes int64
	CreatedAt time.Time
}

func NewRunID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
