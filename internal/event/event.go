// Package event delivers completion events to the orchestrator.
package event

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"code.cloudfoundry.org/clock"

	"scriptrunner/internal/core"
)

var ErrUnsupportedScheme = errors.New("unsupported event scheme")

// NewFromURI picks a sender from the event URI: http(s)://… posts JSON,
// file:///path appends JSON lines. A nil httpClient means
// http.DefaultClient.
func NewFromURI(rawURI string, httpClient *http.Client, clk clock.Clock) (core.EventSender, error) {
	if rawURI == "" {
		return nil, fmt.Errorf("event uri required")
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("parse event uri: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPClient(rawURI, httpClient), nil
	case "file":
		sink, err := NewFileSink(filepath.FromSlash(u.Path), clk)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
