package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"scriptrunner/internal/core"
)

var _ core.Uploader = (*FileUploader)(nil)

// FileUploader copies artifacts under a local or mounted directory.
type FileUploader struct {
	root string
}

func NewFileUploader(root string) *FileUploader {
	return &FileUploader{root: root}
}

func (u *FileUploader) Upload(ctx context.Context, path string, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest, err := filepath.Abs(filepath.Join(u.root, filepath.FromSlash(key)))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	if err := copyFile(path, dest); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String(), nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
