// Package blob publishes assembled permit packages to a local directory or
// an S3-compatible object store.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/permitpack/safeio"
)

// Store uploads a local file under key and returns where it landed.
type Store interface {
	Put(ctx context.Context, key, localPath string) (location string, err error)
}

// Key returns the object key for a run's package. An empty project ID
// files the run under "unassigned".
func Key(projectID, runID string) string {
	if strings.TrimSpace(projectID) == "" {
		projectID = "unassigned"
	}
	return path.Join("projects", projectID, "permits", runID+".pdf")
}

// LocalStore copies packages under a base directory.
type LocalStore struct {
	Dir string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Dir: dir}
}

// Put copies localPath to Dir/key through a temp file and returns the
// destination path. Keys escaping Dir are rejected.
func (s *LocalStore) Put(ctx context.Context, key, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest, err := safeio.SafePath(s.Dir, key)
	if err != nil {
		return "", fmt.Errorf("blob: key %q: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("blob: mkdir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("blob: open %s: %w", localPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("blob: temp: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: rename: %w", err)
	}
	return dest, nil
}
