package filesystem_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skillmesh/skillmesh/pkg/resources"
	"github.com/skillmesh/skillmesh/pkg/resources/filesystem"
)

func newStore(t *testing.T) *filesystem.Store {
	t.Helper()
	st, err := filesystem.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	uri, manifest, err := st.Save(ctx, "g1", "v1", []resources.File{
		{Name: "scripts/export.py", Content: []byte("print('hi')\n")},
		{Name: "README.md", Content: []byte("# bundle\n")},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Errorf("uri missing scheme: %q", uri)
	}
	want := []string{"README.md", "scripts/export.py"}
	if len(manifest) != 2 || manifest[0] != want[0] || manifest[1] != want[1] {
		t.Errorf("manifest not sorted: %v", manifest)
	}

	data, err := st.Load(ctx, "g1", "v1", "scripts/export.py")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != "print('hi')\n" {
		t.Errorf("wrong content: %q", data)
	}
}

func TestSaveRejectsEscapingNames(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, _, err := st.Save(ctx, "g1", "v1", []resources.File{
		{Name: "ok.txt", Content: []byte("fine")},
		{Name: "../escape.txt", Content: []byte("nope")},
	})
	if err == nil {
		t.Fatal("expected error for escaping name")
	}

	// The partial write must be cleaned up with the rest.
	names, err := st.List(ctx, "g1", "v1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("bundle not cleaned up: %v", names)
	}
}

func TestListMissingBundle(t *testing.T) {
	st := newStore(t)

	names, err := st.List(context.Background(), "g1", "never-saved")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if names != nil {
		t.Errorf("expected nil, got %v", names)
	}
}

func TestLoadMissingFile(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if _, _, err := st.Save(ctx, "g1", "v1", []resources.File{
		{Name: "a.txt", Content: []byte("a")},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := st.Load(ctx, "g1", "v1", "b.txt")
	if !resources.IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	uri, _, err := st.Save(ctx, "g1", "v1", []resources.File{
		{Name: "a.txt", Content: []byte("a")},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := st.Delete(ctx, "g1", "v1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Delete(ctx, "g1", "v1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	dir := strings.TrimPrefix(uri, "file://")
	if _, err := os.Stat(filepath.FromSlash(dir)); !os.IsNotExist(err) {
		t.Errorf("bundle directory still present: %v", err)
	}
}
