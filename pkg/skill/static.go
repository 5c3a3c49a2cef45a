package skill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// BundleManifestName is the definition file inside a folder-bundled skill.
const BundleManifestName = "SKILL.md"

// StaticLoader reads author-maintained skill definitions from a directory
// tree and exposes them as pseudo-groups alongside stored ones.
//
// Two on-disk formats are supported:
//
//	<dir>/<name>.md              single-file skill (frontmatter + markdown body)
//	<dir>/<name>/SKILL.md        folder bundle; scripts/ and resources/ siblings
//	                             are listed into the version's resource manifest
//
// The loader owns an instance-level cache; Refresh reloads it and Watch
// re-triggers Refresh when the directory changes.
type StaticLoader struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	groups []*Group
}

// NewStaticLoader creates a loader rooted at dir. The directory does not
// need to exist yet; a missing directory loads as zero skills.
func NewStaticLoader(dir string, logger *zap.Logger) *StaticLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticLoader{dir: dir, logger: logger}
}

// Groups returns the cached static skill pseudo-groups, loading on first use.
func (l *StaticLoader) Groups() []*Group {
	l.mu.RLock()
	cached := l.groups
	l.mu.RUnlock()

	if cached == nil {
		l.Refresh()
		l.mu.RLock()
		cached = l.groups
		l.mu.RUnlock()
	}

	out := make([]*Group, len(cached))
	copy(out, cached)
	return out
}

// Refresh reloads the static skill cache from disk. Unparseable entries are
// logged and skipped; a missing directory yields an empty set.
func (l *StaticLoader) Refresh() {
	groups := l.scan()

	l.mu.Lock()
	l.groups = groups
	l.mu.Unlock()

	l.logger.Debug("static skills refreshed",
		zap.String("dir", l.dir),
		zap.Int("count", len(groups)),
	)
}

// Watch re-runs Refresh whenever the skill directory changes. It blocks
// until the context is cancelled or the watcher fails.
func (l *StaticLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug("static skill change detected", zap.String("path", event.Name))
			l.Refresh()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("static skill watcher error", zap.Error(err))
		}
	}
}

func (l *StaticLoader) scan() []*Group {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("read static skills directory", zap.Error(err))
		}
		return []*Group{}
	}

	var groups []*Group
	for _, entry := range entries {
		var g *Group
		var err error

		switch {
		case entry.IsDir():
			g, err = l.loadBundle(filepath.Join(l.dir, entry.Name()))
		case strings.HasSuffix(entry.Name(), ".md"):
			g, err = l.loadFile(filepath.Join(l.dir, entry.Name()))
		default:
			continue
		}

		if err != nil {
			l.logger.Warn("skipping unparseable static skill",
				zap.String("entry", entry.Name()),
				zap.Error(err),
			)
			continue
		}
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// loadFile loads a single-file static skill.
func (l *StaticLoader) loadFile(path string) (*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static skill: %w", err)
	}

	def, err := ParseStaticMD(string(data))
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), ".md")
	}

	return def.toGroup(nil), nil
}

// loadBundle loads a folder-bundled static skill: SKILL.md plus any files
// under scripts/ and resources/ recorded into the resource manifest.
func (l *StaticLoader) loadBundle(dir string) (*Group, error) {
	data, err := os.ReadFile(filepath.Join(dir, BundleManifestName))
	if err != nil {
		return nil, fmt.Errorf("read bundle manifest: %w", err)
	}

	def, err := ParseStaticMD(string(data))
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = filepath.Base(dir)
	}

	var manifest []string
	for _, sub := range []string{"scripts", "resources"} {
		subEntries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			continue
		}
		for _, e := range subEntries {
			if e.IsDir() {
				continue
			}
			manifest = append(manifest, filepath.Join(sub, e.Name()))
		}
	}

	g := def.toGroup(manifest)
	g.ProductionVersion.ResourceURI = "file://" + dir
	return g, nil
}

// StaticDef is the parsed form of a static skill definition file.
type StaticDef struct {
	Name        string
	Description string
	Category    string
	Tags        []string
	Content     string
	CreatedAt   time.Time
}

// toGroup wraps the definition as a single-version pseudo-group. Static
// skills are globally visible and carry their ID as the production version
// id by construction.
func (d *StaticDef) toGroup(manifest []string) *Group {
	id := "static:" + d.Name
	v := &Version{
		ID:               id,
		GroupID:          id,
		Version:          1,
		Description:      d.Description,
		MarkdownContent:  d.Content,
		ResourceManifest: manifest,
		CreatedAt:        d.CreatedAt,
	}
	return &Group{
		ID:                  id,
		Name:                d.Name,
		Description:         d.Description,
		Category:            d.Category,
		Type:                TypeAuthored,
		Scope:               ScopeGlobal,
		ProductionVersionID: id,
		VersionCount:        1,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.CreatedAt,
		ProductionVersion:   v,
	}
}

// RenderStaticMD renders a static skill definition as its on-disk markdown
// representation (frontmatter + body).
func RenderStaticMD(d *StaticDef) string {
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", d.Name)
	fmt.Fprintf(&b, "description: %s\n", d.Description)
	if d.Category != "" {
		fmt.Fprintf(&b, "category: %s\n", d.Category)
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(&b, "tags: [%s]\n", strings.Join(d.Tags, ", "))
	}
	if !d.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "created_at: %s\n", d.CreatedAt.Format(time.RFC3339))
	}
	b.WriteString("---\n\n")
	b.WriteString(d.Content)

	if !strings.HasSuffix(d.Content, "\n") {
		b.WriteString("\n")
	}

	return b.String()
}

// ParseStaticMD parses the frontmatter + body format of a static skill file.
func ParseStaticMD(content string) (*StaticDef, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, errors.New("missing frontmatter delimiter")
	}

	rest := content[4:]
	before, after, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return nil, errors.New("missing closing frontmatter delimiter")
	}

	def := &StaticDef{
		Content: strings.TrimSpace(after),
	}

	for line := range strings.SplitSeq(before, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "name":
			def.Name = value
		case "description":
			def.Description = value
		case "category":
			def.Category = value
		case "tags":
			def.Tags = parseBracketList(value)
		case "created_at":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				def.CreatedAt = t
			}
		}
	}

	return def, nil
}

func parseBracketList(s string) []string {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
