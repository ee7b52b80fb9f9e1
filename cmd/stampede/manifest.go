// ABOUTME: YAML run-manifest loading for the stampede CLI.
// ABOUTME: A manifest bundles a pipeline path with run settings so "stampede run.yaml" works.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RunManifest is a YAML description of a pipeline run: the DOT source to
// execute plus the settings that would otherwise come from flags.
type RunManifest struct {
	Pipeline      string            `yaml:"pipeline"`
	Goal          string            `yaml:"goal,omitempty"`
	CheckpointDir string            `yaml:"checkpoint_dir,omitempty"`
	ArtifactDir   string            `yaml:"artifact_dir,omitempty"`
	DataDir       string            `yaml:"data_dir,omitempty"`
	Retry         string            `yaml:"retry,omitempty"`
	Backend       string            `yaml:"backend,omitempty"`
	BaseURL       string            `yaml:"base_url,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
}

// isManifestPath reports whether path looks like a YAML run manifest.
func isManifestPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// loadRunManifest reads and parses a run manifest. The pipeline field is
// required; everything else is optional.
func loadRunManifest(path string) (*RunManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m RunManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Pipeline == "" {
		return nil, fmt.Errorf("manifest %s has no pipeline field", path)
	}

	return &m, nil
}

// applyManifest loads the manifest at cfg.pipelineFile and folds its values
// into cfg. Values given on the command line keep priority; manifest values
// fill fields still at their defaults. The pipeline path resolves relative
// to the manifest file. Env entries never clobber existing variables.
func applyManifest(cfg *config) error {
	m, err := loadRunManifest(cfg.pipelineFile)
	if err != nil {
		return err
	}

	pipeline := m.Pipeline
	if !filepath.IsAbs(pipeline) {
		pipeline = filepath.Join(filepath.Dir(cfg.pipelineFile), pipeline)
	}
	cfg.pipelineFile = pipeline

	if cfg.checkpointDir == "" {
		cfg.checkpointDir = m.CheckpointDir
	}
	if (cfg.artifactDir == "" || cfg.artifactDir == ".") && m.ArtifactDir != "" {
		cfg.artifactDir = m.ArtifactDir
	}
	if cfg.dataDir == "" {
		cfg.dataDir = m.DataDir
	}
	if (cfg.retryPolicy == "" || cfg.retryPolicy == "none") && m.Retry != "" {
		cfg.retryPolicy = m.Retry
	}
	if cfg.backendType == "" {
		cfg.backendType = m.Backend
	}
	if cfg.baseURL == "" {
		cfg.baseURL = m.BaseURL
	}
	if cfg.goalOverride == "" {
		cfg.goalOverride = m.Goal
	}

	for k, v := range m.Env {
		if _, exists := os.LookupEnv(k); !exists {
			os.Setenv(k, v)
		}
	}

	return nil
}
