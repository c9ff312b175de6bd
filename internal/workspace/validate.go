package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrDuplicateName reports two specs sharing a logical name.
	ErrDuplicateName = errors.New("duplicate repo name")
	// ErrInvalidPath reports a target path escaping the workspace root
	// or colliding with another spec's path.
	ErrInvalidPath = errors.New("invalid repo path")
)

// Validate checks a resolved spec list for duplicate names and invalid
// or colliding target paths. It is pure: no filesystem access, no side
// effects, and it must pass before any probing or execution starts.
func Validate(specs []RepoSpec) error {
	names := make(map[string]bool, len(specs))
	paths := make(map[string]string, len(specs))

	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidPath)
		}
		if names[spec.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, spec.Name)
		}
		names[spec.Name] = true

		cleaned, err := cleanRelPath(spec.Path)
		if err != nil {
			return fmt.Errorf("%w: repo %q: %v", ErrInvalidPath, spec.Name, err)
		}
		if other, taken := paths[cleaned]; taken {
			return fmt.Errorf("%w: repos %q and %q both target %q", ErrInvalidPath, other, spec.Name, cleaned)
		}
		paths[cleaned] = spec.Name
	}

	// A repo nested inside another repo's target would let one Action
	// write into the other's working copy.
	for p, name := range paths {
		for q, other := range paths {
			if p != q && strings.HasPrefix(q, p+string(filepath.Separator)) {
				return fmt.Errorf("%w: repo %q path %q is nested under repo %q path %q", ErrInvalidPath, other, q, name, p)
			}
		}
	}

	return nil
}

// cleanRelPath normalizes a spec path and rejects anything that would
// resolve outside the workspace root.
func cleanRelPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path %q is absolute", path)
	}
	cleaned := filepath.Clean(path)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace root", path)
	}
	return cleaned, nil
}
