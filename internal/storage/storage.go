// Package storage persists result artifacts and hands back a URI the
// orchestrator can fetch them from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"scriptrunner/internal/core"
)

var ErrUnsupportedScheme = errors.New("unsupported storage scheme")

// NewFromURI picks a backend from the output URI: s3://bucket/prefix,
// file:///dir, or a plain directory path.
func NewFromURI(ctx context.Context, rawURI string) (core.Uploader, error) {
	if rawURI == "" {
		return nil, fmt.Errorf("output uri required")
	}
	if !strings.Contains(rawURI, "://") {
		return NewFileUploader(rawURI), nil
	}

	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("parse output uri: %w", err)
	}

	switch u.Scheme {
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("output uri %q has no bucket", rawURI)
		}
		uploader, err := NewS3FromConfig(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, err
		}
		return uploader, nil
	case "file":
		return NewFileUploader(filepath.FromSlash(u.Path)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
