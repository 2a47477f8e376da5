// Package config loads the two documents an App is configured from: its
// manifest (app uri, predefined graphs) and its property
// overrides, both accepted as JSON or YAML, plus optional hot-reload.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// GraphConnection and GraphNode mirror the on-disk shape of a predefined
// graph's declaration; mesh.GraphDecl is built from these after load.
type GraphNode struct {
	Type           string                 `yaml:"type" json:"type"`
	Name           string                 `yaml:"name" json:"name"`
	Addon          string                 `yaml:"addon" json:"addon"`
	ExtensionGroup string                 `yaml:"extension_group,omitempty" json:"extension_group,omitempty"`
	App            string                 `yaml:"app,omitempty" json:"app,omitempty"`
	Property       map[string]interface{} `yaml:"property,omitempty" json:"property,omitempty"`
}

type GraphDestRule struct {
	Name           string `yaml:"name,omitempty" json:"name,omitempty"`
	App            string `yaml:"app,omitempty" json:"app,omitempty"`
	Graph          string `yaml:"graph,omitempty" json:"graph,omitempty"`
	ExtensionGroup string `yaml:"extension_group,omitempty" json:"extension_group,omitempty"`
	Extension      string `yaml:"extension,omitempty" json:"extension,omitempty"`
}

type GraphConnection struct {
	App        string          `yaml:"app,omitempty" json:"app,omitempty"`
	Extension  string          `yaml:"extension" json:"extension"`
	Cmd        []GraphDestRule `yaml:"cmd,omitempty" json:"cmd,omitempty"`
	Data       []GraphDestRule `yaml:"data,omitempty" json:"data,omitempty"`
	AudioFrame []GraphDestRule `yaml:"audio_frame,omitempty" json:"audio_frame,omitempty"`
	VideoFrame []GraphDestRule `yaml:"video_frame,omitempty" json:"video_frame,omitempty"`
}

type PredefinedGraph struct {
	Name            string            `yaml:"name" json:"name"`
	AutoStart       bool              `yaml:"auto_start,omitempty" json:"auto_start,omitempty"`
	LongRunningMode bool              `yaml:"long_running_mode,omitempty" json:"long_running_mode,omitempty"`
	Nodes           []GraphNode       `yaml:"nodes" json:"nodes"`
	Connections     []GraphConnection `yaml:"connections" json:"connections"`
}

// Manifest is an App's addon/graph manifest document.
type Manifest struct {
	URI              string            `yaml:"uri" json:"uri"`
	PredefinedGraphs []PredefinedGraph `yaml:"predefined_graphs,omitempty" json:"predefined_graphs,omitempty"`
}

// Properties is the free-form property-override document, keyed by
// extension name then property path.
type Properties struct {
	Extensions map[string]map[string]interface{} `yaml:"extensions,omitempty" json:"extensions,omitempty"`
}

// LoadManifest reads and parses a manifest document. Both JSON and YAML
// manifests are accepted, since yaml.v3 parses JSON as a YAML subset.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadProperties reads and parses a property-override document.
func LoadProperties(path string) (*Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Properties
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
