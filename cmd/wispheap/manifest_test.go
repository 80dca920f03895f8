package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, data string) string {
	t.Helper()
	path := filepath.Join(dir, manifestName)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write wisp.toml: %v", err)
	}
	return path
}

func TestFindWispTomlWalksUp(t *testing.T) {
	root := t.TempDir()
	want := writeManifest(t, root, "[package]\nname = \"demo\"\n")

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, ok, err := findWispToml(nested)
	if err != nil {
		t.Fatalf("findWispToml: %v", err)
	}
	if !ok {
		t.Fatal("expected manifest to be found")
	}
	if got != want {
		t.Fatalf("findWispToml = %q, want %q", got, want)
	}
}

func TestFindWispTomlMissing(t *testing.T) {
	_, ok, err := findWispToml(t.TempDir())
	if err != nil {
		t.Fatalf("findWispToml: %v", err)
	}
	if ok {
		t.Fatal("expected no manifest in an empty tree")
	}
}

func TestLoadManifestReadsSections(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `[package]
name = "demo"

[heap]
arena_bytes = 65536
debug_fill = true

[stress]
ops = 500
seed = 7
workers = 2
`)

	m, ok, err := loadManifest(root, "")
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if !ok {
		t.Fatal("expected manifest to be found")
	}
	if m.Root != root {
		t.Fatalf("m.Root = %q, want %q", m.Root, root)
	}
	if m.Config.Package.Name != "demo" {
		t.Fatalf("package name = %q, want demo", m.Config.Package.Name)
	}
	if m.Config.Heap.ArenaBytes != 65536 || !m.Config.Heap.DebugFill {
		t.Fatalf("unexpected heap section: %+v", m.Config.Heap)
	}
	if m.Config.Stress.Ops != 500 || m.Config.Stress.Seed != 7 || m.Config.Stress.Workers != 2 {
		t.Fatalf("unexpected stress section: %+v", m.Config.Stress)
	}
	if !m.Meta.IsDefined("stress", "seed") {
		t.Fatal("expected stress.seed to be marked defined")
	}
	if m.Meta.IsDefined("stress", "max_payload") {
		t.Fatal("expected stress.max_payload to be undefined")
	}
}

func TestLoadManifestRequiresPackageName(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[stress]\nops = 10\n")

	_, _, err := loadManifest(root, "")
	if err == nil || !strings.Contains(err.Error(), "[package]") {
		t.Fatalf("expected missing [package] error, got %v", err)
	}
}

func TestLoadManifestRejectsExplicitInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{
			name: "zero workers",
			data: "[package]\nname = \"demo\"\n\n[stress]\nworkers = 0\n",
			want: "workers",
		},
		{
			name: "tiny arena",
			data: "[package]\nname = \"demo\"\n\n[heap]\narena_bytes = 64\n",
			want: "arena_bytes",
		},
		{
			name: "zero ops",
			data: "[package]\nname = \"demo\"\n\n[stress]\nops = 0\n",
			want: "ops",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			writeManifest(t, root, tc.data)

			_, _, err := loadManifest(root, "")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %s error, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadManifestExplicitPath(t *testing.T) {
	manifestDir := t.TempDir()
	path := writeManifest(t, manifestDir, "[package]\nname = \"demo\"\n")

	// The start directory has no manifest of its own; the explicit path
	// wins over discovery.
	m, ok, err := loadManifest(t.TempDir(), path)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if !ok {
		t.Fatal("expected explicit manifest to load")
	}
	if m.Path != path {
		t.Fatalf("m.Path = %q, want %q", m.Path, path)
	}
}

func TestApplyManifestPrefersChangedFlags(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `[package]
name = "demo"

[heap]
arena_bytes = 65536

[stress]
ops = 500
seed = 7
`)

	m, _, err := loadManifest(root, "")
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}

	s := stressSettings{arena: 4096, ops: 100, seed: 1, maxPayload: 32}
	changed := func(name string) bool { return name == "ops" }
	applyManifest(&s, m, changed)

	if s.ops != 100 {
		t.Fatalf("ops = %d, want the flag value 100", s.ops)
	}
	if s.arena != 65536 {
		t.Fatalf("arena = %d, want the manifest value 65536", s.arena)
	}
	if s.seed != 7 {
		t.Fatalf("seed = %d, want the manifest value 7", s.seed)
	}
	if s.maxPayload != 32 {
		t.Fatalf("maxPayload = %d, want the untouched default 32", s.maxPayload)
	}
}
