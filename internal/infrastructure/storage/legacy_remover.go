package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wms-platform/purchasing-service/internal/domain"
)

// ErrOutsideUploadDir is returned for paths that would escape the upload
// directory.
var ErrOutsideUploadDir = errors.New("path is outside the upload directory")

// LegacyRemover deletes bills that were stored on local disk under
// /uploads/ before blob storage was introduced.
type LegacyRemover struct {
	dir string
}

func NewLegacyRemover(dir string) *LegacyRemover {
	return &LegacyRemover{dir: filepath.Clean(dir)}
}

// Remove deletes the file behind a legacy document URL. A file that is
// already gone is not an error.
func (r *LegacyRemover) Remove(_ context.Context, path string) error {
	target, err := r.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func (r *LegacyRemover) resolve(path string) (string, error) {
	rel, ok := strings.CutPrefix(path, domain.LegacyUploadPrefix)
	if !ok || rel == "" {
		return "", fmt.Errorf("%q is not a legacy upload", path)
	}

	target := filepath.Join(r.dir, filepath.FromSlash(rel))
	within, err := filepath.Rel(r.dir, target)
	if err != nil || within == "." || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", ErrOutsideUploadDir
	}
	return target, nil
}
