package manifest

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
)

// repoSource is the slice of the Loader the registry drives.
type repoSource interface {
	Load(ctx context.Context, repoURL string) (*Definition, error)
	clone(ctx context.Context, repoURL, dir string) error
}

// Registry manages the local cache of block repositories. Repos are
// cloned once into the cache directory and reused on later lookups.
// An empty cache directory disables caching: manifests are fetched
// through the loader's scratch path and Ensure falls back to a
// per-process temp root.
type Registry struct {
	cacheDir string
	loader   repoSource

	mu      sync.Mutex
	repos   []string
	scratch string
}

// NewRegistry creates a Registry over cacheDir and scans it for already
// cached repositories.
func NewRegistry(ctx context.Context, cacheDir string, loader *Loader) *Registry {
	r := &Registry{cacheDir: cacheDir, loader: loader}
	r.Reload(ctx)
	return r
}

// RepoName derives the cache entry name from a clone URL. SCP-like
// addresses (git@host:org/repo.git) are normalized first and a trailing
// .git is stripped.
func RepoName(repoURL string) string {
	u, err := url.Parse(normalizeSCPLike(strings.TrimSpace(repoURL)))
	if err != nil {
		return strings.TrimSuffix(path.Base(repoURL), ".git")
	}
	return strings.TrimSuffix(path.Base(u.Path), ".git")
}

// Reload rescans the cache directory. A no-op when caching is disabled.
func (r *Registry) Reload(ctx context.Context) {
	if r.cacheDir == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.repos = nil
	entries, err := os.ReadDir(r.cacheDir)
	if err != nil {
		logger.Warn(ctx, "Repo cache dir is not readable",
			tag.Path(r.cacheDir), tag.Error(err))
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.cacheDir, entry.Name(), ".git")); err == nil {
			r.repos = append(r.repos, entry.Name())
		}
	}
	sort.Strings(r.repos)
	logger.Info(ctx, "Loaded cached block repos",
		tag.Path(r.cacheDir), tag.Count(len(r.repos)))
}

// List returns the names of all cached repositories.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.repos))
	copy(out, r.repos)
	return out
}

// root returns the directory clones land in: the cache directory, or a
// lazily created per-process temp root when caching is disabled.
func (r *Registry) root() (string, error) {
	if r.cacheDir != "" {
		return r.cacheDir, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scratch == "" {
		dir, err := os.MkdirTemp("", "flowbench-repos-*")
		if err != nil {
			return "", apperr.Wrap(apperr.CodeInternal, "failed to create scratch repo root", err)
		}
		r.scratch = dir
	}
	return r.scratch, nil
}

// Ensure returns the cache path for repoURL, cloning it first when it is
// not cached yet.
func (r *Registry) Ensure(ctx context.Context, repoURL string) (string, error) {
	root, err := r.root()
	if err != nil {
		return "", err
	}
	name := RepoName(repoURL)
	dir := filepath.Join(root, name)

	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}

	logger.Info(ctx, "Repo not cached, cloning", tag.RepoURL(repoURL))
	if err := r.loader.clone(ctx, repoURL, dir); err != nil {
		// a failed clone must not leave a half-populated cache entry
		_ = os.RemoveAll(dir)
		return "", err
	}

	r.mu.Lock()
	r.repos = append(r.repos, name)
	sort.Strings(r.repos)
	r.mu.Unlock()

	return dir, nil
}

// LoadCached returns the manifest of repoURL from the cache, cloning on
// a miss. Without a cache directory every call fetches through the
// loader's scratch path.
func (r *Registry) LoadCached(ctx context.Context, repoURL string) (*Definition, error) {
	if r.cacheDir == "" {
		return r.loader.Load(ctx, repoURL)
	}

	dir, err := r.Ensure(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.CodeManifestNotFound,
				"repository %s does not contain a %s", repoURL, FileName)
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to read cached manifest", err)
	}
	return Parse(data)
}
