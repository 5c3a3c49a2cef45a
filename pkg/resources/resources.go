// Package resources stores the scripts and supporting files bundled with a
// skill version.
package resources

import (
	"context"
	"fmt"
)

// File is one named artifact in a skill bundle.
type File struct {
	// Name is the path within the bundle, e.g. "scripts/export.py".
	Name    string
	Content []byte
}

// Store persists skill bundles keyed by group and version.
type Store interface {
	// Save writes all files for a version and returns the bundle URI plus
	// the manifest of stored file names. Partial writes are cleaned up.
	Save(ctx context.Context, groupID, versionID string, files []File) (uri string, manifest []string, err error)

	// Load reads one file from a version's bundle.
	Load(ctx context.Context, groupID, versionID, name string) ([]byte, error)

	// List returns the stored file names for a version. A version with no
	// bundle yields an empty list, not an error.
	List(ctx context.Context, groupID, versionID string) ([]string, error)

	// Delete removes a version's bundle. Deleting a missing bundle is a no-op.
	Delete(ctx context.Context, groupID, versionID string) error

	Close() error
}

// ErrNotFound indicates a missing bundle file.
type ErrNotFound struct {
	GroupID   string
	VersionID string
	Name      string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("resource not found: %s/%s/%s", e.GroupID, e.VersionID, e.Name)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}
