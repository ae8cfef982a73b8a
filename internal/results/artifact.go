package results

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"scriptrunner/internal/core"
)

// NewArtifact describes an uploaded file for the ledger.
func NewArtifact(runID string, kind string, path string, uri string, now time.Time) (core.ArtifactRecord, error) {
	sum, size, err := fileSHA256(path)
	if err != nil {
		return core.ArtifactRecord{}, err
	}
	return core.ArtifactRecord{
		RunID:     runID,
		Kind:      kind,
		Path:      path,
		URI:       uri,
		SHA256:    sum,
		SizeBytes: size,
		CreatedAt: now,
	}, nil
}

func fileSHA256(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
