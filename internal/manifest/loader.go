package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
)

// Loader fetches manifests by cloning their repository.
type Loader struct {
	cloneTimeout time.Duration
}

// NewLoader creates a Loader. A zero timeout disables the clone deadline.
func NewLoader(cloneTimeout time.Duration) *Loader {
	return &Loader{cloneTimeout: cloneTimeout}
}

// Load shallow-clones repoURL into a scratch directory, reads block.yaml
// at its root and returns the parsed manifest. The scratch directory is
// removed before returning.
func (l *Loader) Load(ctx context.Context, repoURL string) (*Definition, error) {
	dir, err := os.MkdirTemp("", "flowbench-manifest-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to create scratch dir", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Warn(ctx, "Failed to remove manifest scratch dir",
				tag.Path(dir), tag.Error(rmErr))
		}
	}()

	if err := l.clone(ctx, repoURL, dir); err != nil {
		return nil, err
	}
	return l.readManifest(ctx, repoURL, dir)
}

func (l *Loader) clone(ctx context.Context, repoURL, dir string) error {
	if l.cloneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cloneTimeout)
		defer cancel()
	}

	logger.Debug(ctx, "Cloning block repository", tag.RepoURL(repoURL))

	auth, err := authMethod(repoURL)
	if err != nil {
		return apperr.Wrap(apperr.CodeRepoUnreachable, "failed to prepare clone auth", err)
	}

	_, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          repoURL,
		Auth:         auth,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeRepoUnreachable,
			"failed to clone repository "+repoURL, err)
	}
	return nil
}

func (l *Loader) readManifest(ctx context.Context, repoURL, dir string) (*Definition, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.CodeManifestNotFound,
				"repository %s does not contain a %s", repoURL, FileName)
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to read manifest", err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Debug(ctx, "Loaded block manifest",
		tag.RepoURL(repoURL), tag.String("block", def.Name))
	return def, nil
}

// authMethod builds transport auth for the repo URL. SSH clones skip
// host key verification since block repos live on arbitrary hosts the
// server has never seen.
func authMethod(repoURL string) (transport.AuthMethod, error) {
	endpoint, err := transport.NewEndpoint(normalizeSCPLike(repoURL))
	if err != nil {
		return nil, err
	}
	if endpoint.Protocol != "ssh" {
		return nil, nil
	}

	user := endpoint.User
	if user == "" {
		user = "git"
	}
	auth, err := gitssh.DefaultAuthBuilder(user)
	if err != nil {
		return nil, err
	}
	if keys, ok := auth.(*gitssh.PublicKeys); ok {
		keys.HostKeyCallback = cryptossh.InsecureIgnoreHostKey() // nolint: gosec
	}
	if agent, ok := auth.(*gitssh.PublicKeysCallback); ok {
		agent.HostKeyCallback = cryptossh.InsecureIgnoreHostKey() // nolint: gosec
	}
	return auth, nil
}

// normalizeSCPLike rewrites git@host:path clone addresses into ssh URLs
// so they parse as endpoints.
func normalizeSCPLike(repoURL string) string {
	if strings.Contains(repoURL, "://") {
		return repoURL
	}
	if i := strings.Index(repoURL, ":"); i > 0 && strings.Contains(repoURL[:i], "@") {
		return "ssh://" + strings.Replace(repoURL, ":", "/", 1)
	}
	return repoURL
}
