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

// checksumFile is the integrity manifest written next to the config by
// `tend config lock` and verified on every load.
const checksumFile = ".checksums"

// ChecksumManifest records the expected BLAKE3 hash of the config file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// FileHash computes the BLAKE3 hash of a file.
func FileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Lock writes a checksum manifest for the config file at configPath.
func Lock(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	hash, err := FileHash(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", absPath, err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes: map[string]string{
			filepath.Base(absPath): hash,
		},
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checksums: %w", err)
	}

	manifestPath := filepath.Join(filepath.Dir(absPath), checksumFile)
	// Restrictive permissions: the manifest is the trust anchor.
	if err := os.WriteFile(manifestPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return manifestPath, nil
}

// verifyChecksumIfPresent checks the config file against its manifest.
// A missing manifest skips verification; a present manifest must match.
func verifyChecksumIfPresent(configPath string) error {
	manifestPath := filepath.Join(filepath.Dir(configPath), checksumFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	basename := filepath.Base(configPath)
	expected, ok := manifest.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums\n"+
			"Run: tend config lock", basename)
	}

	actual, err := FileHash(configPath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("config verification failed for %s: hash mismatch\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: tend config lock", basename)
	}
	return nil
}

// Verify checks the config file against its checksum manifest and
// reports whether a manifest was found at all.
func Verify(configPath string) (bool, error) {
	manifestPath := filepath.Join(filepath.Dir(configPath), checksumFile)
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		return false, nil
	}
	return true, verifyChecksumIfPresent(configPath)
}
