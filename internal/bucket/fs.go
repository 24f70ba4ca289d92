// Package bucket provides object-store implementations behind the
// domain.ObjectStore contract. Remote stores (S3/B2 compatible) stay
// external collaborators; the filesystem store serves local corpora and
// tests.
package bucket

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alexban14/ai.dok/internal/domain"
)

// FS is a directory-backed object store. Source ids are slash-separated
// paths relative to the root; listing is recursive and sorted so
// enumeration order is stable across runs.
type FS struct {
	root string
	exts map[string]bool
}

var _ domain.ObjectStore = (*FS)(nil)

// NewFS creates a filesystem store over root. exts filters by lowercase
// extension (".pdf", ".txt"); empty means every regular file.
func NewFS(root string, exts ...string) *FS {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[strings.ToLower(e)] = true
	}
	return &FS{root: root, exts: m}
}

// List enumerates the corpus.
func (s *FS) List(_ context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(s.exts) > 0 && !s.exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", domain.ErrExternalUnavailable, s.root, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get reads one source document.
func (s *FS) Get(_ context.Context, sourceID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(sourceID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, sourceID)
		}
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrExternalUnavailable, sourceID, err)
	}
	return data, nil
}
