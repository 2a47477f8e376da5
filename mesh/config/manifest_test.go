package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLoadManifestYAML(t *testing.T) {
	p := writeTemp(t, "manifest.yaml", `
uri: app-1
predefined_graphs:
  - name: default
    auto_start: true
    nodes:
      - type: extension
        name: a
        addon: addon-a
    connections:
      - extension: a
        cmd:
          - extension: a
`)
	m, err := LoadManifest(p)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.URI != "app-1" {
		t.Errorf("URI = %q, want app-1", m.URI)
	}
	if len(m.PredefinedGraphs) != 1 {
		t.Fatalf("expected 1 predefined graph, got %d", len(m.PredefinedGraphs))
	}
	g := m.PredefinedGraphs[0]
	if g.Name != "default" || !g.AutoStart {
		t.Errorf("graph = %+v, want name=default auto_start=true", g)
	}
	if len(g.Nodes) != 1 || g.Nodes[0].Addon != "addon-a" {
		t.Errorf("nodes = %+v", g.Nodes)
	}
}

func TestLoadManifestAcceptsJSONAsYAMLSubset(t *testing.T) {
	p := writeTemp(t, "manifest.json", `{"uri": "app-2", "predefined_graphs": []}`)
	m, err := LoadManifest(p)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.URI != "app-2" {
		t.Errorf("URI = %q, want app-2", m.URI)
	}
}

func TestLoadManifestMissingFileErrors(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error loading a nonexistent manifest")
	}
}

func TestLoadPropertiesYAML(t *testing.T) {
	p := writeTemp(t, "properties.yaml", `
extensions:
  ext-a:
    greeting: hello
    retries: 3
`)
	props, err := LoadProperties(p)
	if err != nil {
		t.Fatalf("LoadProperties: %v", err)
	}
	extA, ok := props.Extensions["ext-a"]
	if !ok {
		t.Fatal("expected 'ext-a' entry")
	}
	if extA["greeting"] != "hello" {
		t.Errorf("greeting = %v, want hello", extA["greeting"])
	}
}
