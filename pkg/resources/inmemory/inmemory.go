// Package inmemory provides a map-backed resource store for tests and
// ephemeral runs.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/skillmesh/skillmesh/pkg/resources"
)

type Store struct {
	mu      sync.RWMutex
	bundles map[string]map[string][]byte // groupID/versionID -> name -> content
}

func New() *Store {
	return &Store{bundles: make(map[string]map[string][]byte)}
}

func key(groupID, versionID string) string {
	return groupID + "/" + versionID
}

func (s *Store) Save(ctx context.Context, groupID, versionID string, files []resources.File) (string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bundle := make(map[string][]byte, len(files))
	var manifest []string
	for _, f := range files {
		content := make([]byte, len(f.Content))
		copy(content, f.Content)
		bundle[f.Name] = content
		manifest = append(manifest, f.Name)
	}

	s.bundles[key(groupID, versionID)] = bundle
	sort.Strings(manifest)
	return "mem://" + key(groupID, versionID), manifest, nil
}

func (s *Store) Load(ctx context.Context, groupID, versionID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, ok := s.bundles[key(groupID, versionID)]
	if !ok {
		return nil, resources.ErrNotFound{GroupID: groupID, VersionID: versionID, Name: name}
	}
	content, ok := bundle[name]
	if !ok {
		return nil, resources.ErrNotFound{GroupID: groupID, VersionID: versionID, Name: name}
	}

	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (s *Store) List(ctx context.Context, groupID, versionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, ok := s.bundles[key(groupID, versionID)]
	if !ok {
		return nil, nil
	}

	names := make([]string, 0, len(bundle))
	for name := range bundle {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Delete(ctx context.Context, groupID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bundles, key(groupID, versionID))
	return nil
}

func (s *Store) Close() error {
	return nil
}

var _ resources.Store = (*Store)(nil)
