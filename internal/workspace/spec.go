// Package workspace holds the desired-state model: the declared set of
// repositories a workspace should contain, resolved from configuration
// into validated, immutable RepoSpec values.
package workspace

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/tend/internal/config"
)

// RepoSpec is the desired configuration for one repository. Immutable
// once built for a run.
type RepoSpec struct {
	Name       string
	URL        string
	Ref        string
	Path       string // relative to the workspace root
	Shallow    bool
	Submodules bool
}

// Fingerprint returns a stable BLAKE3 digest over every field that
// affects reconciliation. The run ledger stores it so a resumed run can
// tell whether a completed entry still matches the declared spec.
func (s RepoSpec) Fingerprint() string {
	h := blake3.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%t\x00%t", s.Name, s.URL, s.Ref, s.Path, s.Shallow, s.Submodules)
	return hex.EncodeToString(h.Sum(nil))
}

// Workspace couples a root directory with the repos declared under it.
type Workspace struct {
	Name      string
	Root      string // absolute path
	Specs     []RepoSpec
	FlakeDeps map[string][]string
}

// FromConfig resolves one workspace declaration into a Workspace with a
// validated spec list. discovered carries repo names found by the
// provider when the workspace has discovery enabled; it may be nil.
func FromConfig(ws config.WorkspaceConfig, discovered []string) (Workspace, error) {
	root := config.ExpandPath(ws.BaseDir)

	specs := make([]RepoSpec, 0, len(ws.Repos)+len(discovered)+len(ws.ExtraRepos))
	byName := make(map[string]bool)

	// Pinned repos first: they carry explicit URLs, refs, and paths.
	for _, repo := range ws.Repos {
		spec := RepoSpec{
			Name:       repo.Name,
			URL:        repo.URL,
			Ref:        repo.Ref,
			Path:       repo.Path,
			Shallow:    repo.Shallow,
			Submodules: repo.Submodules,
		}
		if spec.URL == "" {
			spec.URL = CloneURL(ws, repo.Name)
		}
		if spec.Path == "" {
			spec.Path = repo.Name
		}
		specs = append(specs, spec)
		byName[repo.Name] = true
	}

	// Discovered and extra repos track the remote default branch and
	// live in a directory named after the repo.
	names := make([]string, 0, len(discovered)+len(ws.ExtraRepos))
	names = append(names, discovered...)
	names = append(names, ws.ExtraRepos...)
	sort.Strings(names)

	excluded := make(map[string]bool, len(ws.Exclude))
	for _, name := range ws.Exclude {
		excluded[name] = true
	}

	for _, name := range names {
		if byName[name] || excluded[name] {
			continue
		}
		byName[name] = true
		specs = append(specs, RepoSpec{
			Name: name,
			URL:  CloneURL(ws, name),
			Path: name,
		})
	}

	// Pinned repos can also be excluded; drop them last so exclusion
	// wins regardless of where a repo was declared.
	kept := specs[:0]
	for _, spec := range specs {
		if !excluded[spec.Name] {
			kept = append(kept, spec)
		}
	}
	specs = kept

	if err := Validate(specs); err != nil {
		return Workspace{}, fmt.Errorf("workspace %q: %w", ws.Name, err)
	}

	return Workspace{
		Name:      ws.Name,
		Root:      root,
		Specs:     specs,
		FlakeDeps: ws.FlakeDeps,
	}, nil
}

// CloneURL builds the remote URL for a repo name that has no explicit URL.
func CloneURL(ws config.WorkspaceConfig, repoName string) string {
	org := ws.Org
	if org == "" {
		org = ws.Name
	}
	if ws.CloneMethod == config.CloneHTTPS {
		return fmt.Sprintf("https://github.com/%s/%s.git", org, repoName)
	}
	return fmt.Sprintf("git@github.com:%s/%s.git", org, repoName)
}
