// Package provider discovers repositories from remote hosting services.
// Only GitHub is supported.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"
)

const defaultBaseURL = "https://api.github.com"

// GitHub discovers the repositories of an org or user account through
// the REST API.
type GitHub struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewGitHub builds a discovery client. The token comes from
// TEND_GITHUB_TOKEN or GITHUB_TOKEN; it is optional but required for
// private repos.
func NewGitHub() *GitHub {
	token := os.Getenv("TEND_GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	return &GitHub{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultBaseURL,
		token:   token,
	}
}

type githubRepo struct {
	Name     string `json:"name"`
	Archived bool   `json:"archived"`
}

// Discover lists all non-archived repos for org. It tries the /orgs
// endpoint first and falls back to /users when the name is a personal
// account (404 from /orgs).
func (g *GitHub) Discover(ctx context.Context, org string) ([]string, error) {
	repos, err := g.fetchAll(ctx, "orgs", org)
	if err == nil {
		return repos, nil
	}
	var nf *notFoundError
	if !asNotFound(err, &nf) {
		return nil, err
	}
	return g.fetchAll(ctx, "users", org)
}

type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return fmt.Sprintf("GitHub API returned 404 for %s", e.url) }

func asNotFound(err error, target **notFoundError) bool {
	nf, ok := err.(*notFoundError)
	if ok {
		*target = nf
	}
	return ok
}

func (g *GitHub) fetchAll(ctx context.Context, endpoint, name string) ([]string, error) {
	var all []string

	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/%s/%s/repos?per_page=100&page=%d&type=all", g.baseURL, endpoint, name, page)

		repos, err := g.fetchPage(ctx, url)
		if err != nil {
			return nil, err
		}
		if len(repos) == 0 {
			break
		}
		for _, repo := range repos {
			if !repo.Archived {
				all = append(all, repo.Name)
			}
		}
	}

	sort.Strings(all)
	return all, nil
}

func (g *GitHub) fetchPage(ctx context.Context, url string) ([]githubRepo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "tend")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, &notFoundError{url: url}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GitHub API returned %s: %s", resp.Status, string(body))
	}

	var repos []githubRepo
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, fmt.Errorf("parse GitHub API response: %w", err)
	}
	return repos, nil
}
