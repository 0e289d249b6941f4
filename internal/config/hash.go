package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest written next to a locked config file.
const ChecksumFile = ".checksums"

const checksumVersion = 1

// ChecksumManifest records the BLAKE3 hash of a locked config by basename.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockResult describes a `config lock` run.
type LockResult struct {
	ConfigPath   string
	ChecksumPath string
	Hash         string
	Written      bool
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LockConfig hashes the config at configPath (a file or a directory holding
// config.yaml) and, unless dryRun, writes a manifest for it beside the file.
// An existing manifest in that directory is replaced.
func LockConfig(configPath string, dryRun bool) (*LockResult, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}
	hash, err := hashFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", filepath.Base(absPath), err)
	}

	res := &LockResult{
		ConfigPath:   absPath,
		ChecksumPath: filepath.Join(filepath.Dir(absPath), ChecksumFile),
		Hash:         hash,
	}
	if dryRun {
		return res, nil
	}

	data, err := yaml.Marshal(ChecksumManifest{
		Version:     checksumVersion,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(absPath): hash},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(res.ChecksumPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	res.Written = true
	return res, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'dingtalk-gw config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != checksumVersion {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// verifyConfigHash enforces the manifest beside path, if there is one.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		// Without a manifest the config is unlocked.
		return nil
	}

	basename := filepath.Base(path)
	expected, ok := manifest.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: dingtalk-gw config lock --config %s", basename, dir, path)
	}

	actual, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("config verification failed for %s: %w", path, err)
	}
	if actual != expected {
		return fmt.Errorf("config verification failed for %s: hash mismatch\n"+
			"If you edited this file intentionally, run: dingtalk-gw config lock --config %s", path, path)
	}
	return nil
}
