package skill

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleStaticMD = `---
name: deploy-checklist
description: Steps for a safe production deploy
category: ops
tags: [deploy, checklist]
---

## Checklist

1. Run the test suite
2. Tag the release
`

func TestParseStaticMD(t *testing.T) {
	def, err := ParseStaticMD(sampleStaticMD)
	if err != nil {
		t.Fatalf("ParseStaticMD: %v", err)
	}
	if def.Name != "deploy-checklist" {
		t.Errorf("name: %q", def.Name)
	}
	if def.Description != "Steps for a safe production deploy" {
		t.Errorf("description: %q", def.Description)
	}
	if def.Category != "ops" {
		t.Errorf("category: %q", def.Category)
	}
	if len(def.Tags) != 2 || def.Tags[0] != "deploy" || def.Tags[1] != "checklist" {
		t.Errorf("tags: %v", def.Tags)
	}
	if def.Content == "" || def.Content[0] != '#' {
		t.Errorf("content: %q", def.Content)
	}
}

func TestParseStaticMDRejectsMissingFrontmatter(t *testing.T) {
	if _, err := ParseStaticMD("# no frontmatter\n"); err == nil {
		t.Error("expected error for missing frontmatter")
	}
	if _, err := ParseStaticMD("---\nname: x\nno closing delimiter"); err == nil {
		t.Error("expected error for unterminated frontmatter")
	}
}

func TestRenderStaticMDRoundTrip(t *testing.T) {
	created, _ := time.Parse(time.RFC3339, "2026-01-15T10:00:00Z")
	def := &StaticDef{
		Name:        "deploy-checklist",
		Description: "Steps for a safe production deploy",
		Category:    "ops",
		Tags:        []string{"deploy", "checklist"},
		Content:     "## Checklist\n\n1. Run the test suite",
		CreatedAt:   created,
	}

	parsed, err := ParseStaticMD(RenderStaticMD(def))
	if err != nil {
		t.Fatalf("ParseStaticMD: %v", err)
	}
	if parsed.Name != def.Name || parsed.Description != def.Description || parsed.Category != def.Category {
		t.Errorf("frontmatter mismatch: %+v", parsed)
	}
	if len(parsed.Tags) != 2 {
		t.Errorf("tags: %v", parsed.Tags)
	}
	if !parsed.CreatedAt.Equal(created) {
		t.Errorf("created_at: %v", parsed.CreatedAt)
	}
	if parsed.Content != def.Content {
		t.Errorf("content mismatch: %q", parsed.Content)
	}
}

func TestLoaderSingleFileSkill(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "deploy-checklist.md"), []byte(sampleStaticMD), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewStaticLoader(dir, nil)
	groups := loader.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}

	g := groups[0]
	if g.ID != "static:deploy-checklist" {
		t.Errorf("id: %q", g.ID)
	}
	if g.Type != TypeAuthored || g.Scope != ScopeGlobal {
		t.Errorf("type/scope: %s/%s", g.Type, g.Scope)
	}
	if g.ProductionVersion == nil || g.ProductionVersion.MarkdownContent == "" {
		t.Error("production version not populated")
	}
}

func TestLoaderFileNameFallback(t *testing.T) {
	dir := t.TempDir()
	content := "---\ndescription: Unnamed skill\n---\n\nbody\n"
	if err := os.WriteFile(filepath.Join(dir, "from-filename.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	groups := NewStaticLoader(dir, nil).Groups()
	if len(groups) != 1 || groups[0].Name != "from-filename" {
		t.Fatalf("expected name from file name, got %v", groups)
	}
}

func TestLoaderBundleManifest(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "deploy-checklist")
	for _, sub := range []string{"scripts", "resources"} {
		if err := os.MkdirAll(filepath.Join(bundle, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(bundle, "SKILL.md"):                sampleStaticMD,
		filepath.Join(bundle, "scripts", "deploy.sh"):    "#!/bin/sh\n",
		filepath.Join(bundle, "resources", "runbook.md"): "# runbook\n",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	groups := NewStaticLoader(dir, nil).Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}

	manifest := groups[0].ProductionVersion.ResourceManifest
	if len(manifest) != 2 {
		t.Fatalf("manifest: %v", manifest)
	}
	if groups[0].ProductionVersion.ResourceURI == "" {
		t.Error("bundle resource URI not set")
	}
}

func TestLoaderSkipsUnparseableEntries(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.md"), []byte("no frontmatter"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "good.md"), []byte(sampleStaticMD), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	groups := NewStaticLoader(dir, nil).Groups()
	if len(groups) != 1 || groups[0].Name != "deploy-checklist" {
		t.Fatalf("expected only the parseable skill, got %v", groups)
	}
}

func TestLoaderMissingDirectory(t *testing.T) {
	loader := NewStaticLoader(filepath.Join(t.TempDir(), "never-created"), nil)
	if groups := loader.Groups(); len(groups) != 0 {
		t.Errorf("expected no groups, got %d", len(groups))
	}
}

func TestRefreshPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	loader := NewStaticLoader(dir, nil)
	if len(loader.Groups()) != 0 {
		t.Fatal("expected empty load")
	}

	if err := os.WriteFile(filepath.Join(dir, "deploy-checklist.md"), []byte(sampleStaticMD), 0o644); err != nil {
		t.Fatal(err)
	}
	loader.Refresh()
	if len(loader.Groups()) != 1 {
		t.Error("refresh did not pick up the new skill")
	}
}
