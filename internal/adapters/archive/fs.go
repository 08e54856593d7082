// Package archive stores original annual-report bundles on the local
// filesystem.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

// FS keeps bundles under a root directory. Paths are slash separated and
// relative to the root.
type FS struct {
	root string
}

var _ ports.ArchiveStore = (*FS)(nil)

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("archive root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive root: %w", err)
	}
	return &FS{root: root}, nil
}

func (a *FS) resolve(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if p == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &domain.ValidationError{Field: "path", Reason: fmt.Sprintf("%q escapes the archive", p)}
	}
	return filepath.Join(a.root, clean), nil
}

// Put writes atomically: a reader never sees a partial bundle.
func (a *FS) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := a.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".part-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), full)
}

func (a *FS) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := a.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &domain.NotFoundError{Entity: "archived document", Key: p}
	}
	return data, err
}
