package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"wisp/internal/heap"
)

const manifestName = "wisp.toml"

// manifest is a loaded wisp.toml with its location and decode metadata. The
// metadata distinguishes keys the file sets explicitly from zero values.
type manifest struct {
	Path   string
	Root   string
	Meta   toml.MetaData
	Config manifestConfig
}

type manifestConfig struct {
	Package packageConfig `toml:"package"`
	Heap    heap.Config   `toml:"heap"`
	Stress  stressConfig  `toml:"stress"`
}

type packageConfig struct {
	Name string `toml:"name"`
}

type stressConfig struct {
	Ops          int   `toml:"ops"`
	Seed         int64 `toml:"seed"`
	MaxPayload   int   `toml:"max_payload"`
	CollectEvery int   `toml:"collect_every"`
	Workers      int   `toml:"workers"`
}

// findWispToml walks from startDir toward the filesystem root looking for a
// wisp.toml.
func findWispToml(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, manifestName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// loadManifest loads an explicit manifest path, or discovers one upward from
// startDir. A missing manifest is not an error; the tool runs on defaults.
func loadManifest(startDir, explicitPath string) (*manifest, bool, error) {
	path := explicitPath
	if path == "" {
		found, ok, err := findWispToml(startDir)
		if err != nil || !ok {
			return nil, ok, err
		}
		path = found
	}

	var cfg manifestConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, true, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("package") {
		return nil, true, fmt.Errorf("%s: missing [package]", path)
	}
	if !meta.IsDefined("package", "name") || strings.TrimSpace(cfg.Package.Name) == "" {
		return nil, true, fmt.Errorf("%s: missing [package].name", path)
	}
	if meta.IsDefined("heap", "arena_bytes") && cfg.Heap.ArenaBytes < heap.MinArenaBytes {
		return nil, true, fmt.Errorf("%s: [heap].arena_bytes must be at least %d", path, heap.MinArenaBytes)
	}
	if meta.IsDefined("stress", "workers") && cfg.Stress.Workers <= 0 {
		return nil, true, fmt.Errorf("%s: [stress].workers must be positive", path)
	}
	if meta.IsDefined("stress", "ops") && cfg.Stress.Ops <= 0 {
		return nil, true, fmt.Errorf("%s: [stress].ops must be positive", path)
	}

	return &manifest{
		Path:   path,
		Root:   filepath.Dir(path),
		Meta:   meta,
		Config: cfg,
	}, true, nil
}
