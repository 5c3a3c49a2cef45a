// Package filesystem stores skill bundles on the local filesystem.
package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/skillmesh/skillmesh/pkg/resources"
)

// Store lays bundles out as {base}/skills/{groupID}/{versionID}/{name}.
type Store struct {
	base string
}

// New creates a filesystem resource store rooted at base.
func New(base string) (*Store, error) {
	if base == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(filepath.Join(base, "skills"), 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &Store{base: base}, nil
}

func (s *Store) bundleDir(groupID, versionID string) string {
	return filepath.Join(s.base, "skills", groupID, versionID)
}

// Save writes the files under the version directory. On any write failure the
// whole directory is removed, so a bundle is either complete or absent.
func (s *Store) Save(ctx context.Context, groupID, versionID string, files []resources.File) (string, []string, error) {
	if groupID == "" || versionID == "" {
		return "", nil, fmt.Errorf("group and version IDs are required")
	}

	dir := s.bundleDir(groupID, versionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create bundle directory: %w", err)
	}

	var manifest []string
	for _, f := range files {
		name, err := cleanName(f.Name)
		if err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}

		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("write %s: %w", name, err)
		}
		manifest = append(manifest, name)
	}

	sort.Strings(manifest)
	uri := "file://" + filepath.ToSlash(dir)
	return uri, manifest, nil
}

func (s *Store) Load(ctx context.Context, groupID, versionID, name string) ([]byte, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.bundleDir(groupID, versionID), filepath.FromSlash(clean))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, resources.ErrNotFound{GroupID: groupID, VersionID: versionID, Name: clean}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, groupID, versionID string) ([]string, error) {
	dir := s.bundleDir(groupID, versionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bundle directory: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

func (s *Store) Delete(ctx context.Context, groupID, versionID string) error {
	if groupID == "" || versionID == "" {
		return fmt.Errorf("group and version IDs are required")
	}
	return os.RemoveAll(s.bundleDir(groupID, versionID))
}

func (s *Store) Close() error {
	return nil
}

// cleanName rejects names that would escape the bundle directory.
func cleanName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("file name is required")
	}
	clean := filepath.ToSlash(filepath.Clean(name))
	if strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") || clean == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return clean, nil
}

var _ resources.Store = (*Store)(nil)
