package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/protocol"
)

// GitFetcher implements Fetcher for git-protocol descriptors: resolve
// the requested treeish against `git ls-remote`, try a GitHub codeload
// tarball first since it avoids a full clone, and fall back to
// `git clone && git checkout` otherwise, shelling out to the git
// binary rather than depending on a pure-Go implementation.
type GitFetcher struct{}

var shaRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

var githubRepoRe = regexp.MustCompile(
	`^(?:git\+)?(?:https?|ssh)://(?:[^@/]+@)?github\.com[:/]([^/]+)/(.+?)(?:\.git)?/?$|` +
		`^git@github\.com:([^/]+)/(.+?)(?:\.git)?/?$`)

func (GitFetcher) Fetch(ctx context.Context, env *Env, locator protocol.Locator, _ *PackageData) (*PackageData, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}
	if ref.Git == nil {
		return nil, errors.Errorf("fetch: %s is not a git reference", locator.String())
	}
	loc := ref.Git
	remote := stripGitScheme(loc.URL)

	commit, err := resolveTreeish(ctx, env, remote, loc.Treeish)
	if err != nil {
		return nil, err
	}

	path, _, checksum, err := env.Cache.UpsertBlob(cacheKeyFor(locator), "zip", func() ([]byte, error) {
		if owner, repo, ok := githubOwnerRepo(loc.URL); ok {
			if data, ferr := getURL(ctx, env, githubTarballURL(owner, repo, commit)); ferr == nil {
				return bundleTarball(data)
			}
		}
		dir, cerr := cloneAndCheckout(ctx, env, remote, commit)
		if cerr != nil {
			return nil, cerr
		}
		defer os.RemoveAll(dir)
		return bundleDir(dir)
	})
	if err != nil {
		return nil, err
	}
	return &PackageData{Locator: locator, Kind: PackageDataZip, ArchivePath: path, Checksum: checksum}, nil
}

// resolveTreeish pins loc's treeish ("" meaning HEAD) down to the
// commit sha the scheduler should cache under, so a branch that moves
// upstream doesn't silently invalidate an otherwise-valid cache entry
// mid-run.
func resolveTreeish(ctx context.Context, env *Env, url, treeish string) (string, error) {
	if treeish == "" {
		treeish = "HEAD"
	}
	if shaRe.MatchString(treeish) {
		return treeish, nil
	}

	out, err := exec.CommandContext(ctx, env.GitBin, "ls-remote", url, treeish).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "fetch: git ls-remote %s %s: %s", url, treeish, out)
	}
	line := strings.SplitN(strings.TrimSpace(string(out)), "\t", 2)
	if len(line) == 0 || line[0] == "" {
		return "", errors.Errorf("fetch: git ls-remote %s %s matched no ref", url, treeish)
	}
	return line[0], nil
}

func githubOwnerRepo(url string) (owner, repo string, ok bool) {
	m := githubRepoRe.FindStringSubmatch(url)
	if m == nil {
		return "", "", false
	}
	if m[1] != "" {
		return m[1], m[2], true
	}
	return m[3], m[4], true
}

func githubTarballURL(owner, repo, commit string) string {
	return fmt.Sprintf("https://codeload.github.com/%s/%s/tar.gz/%s", owner, repo, commit)
}

// stripGitScheme removes the "git+" prefix reference syntax
// adds to distinguish a git remote from a downloadable URL; the git
// binary itself only understands the scheme underneath (https, ssh,
// git, or the bare SCP host:path shorthand).
func stripGitScheme(url string) string {
	return strings.TrimPrefix(url, "git+")
}

func cloneAndCheckout(ctx context.Context, env *Env, url, commit string) (string, error) {
	dir, err := os.MkdirTemp("", "zpm-git-")
	if err != nil {
		return "", errors.Wrap(err, "fetch: creating clone scratch dir")
	}

	if out, cerr := exec.CommandContext(ctx, env.GitBin, "clone", "--no-checkout", "--quiet", url, dir).CombinedOutput(); cerr != nil {
		os.RemoveAll(dir)
		return "", errors.Wrapf(cerr, "fetch: git clone %s: %s", url, out)
	}

	cmd := exec.CommandContext(ctx, env.GitBin, "checkout", "--quiet", commit)
	cmd.Dir = dir
	if out, cerr := cmd.CombinedOutput(); cerr != nil {
		os.RemoveAll(dir)
		return "", errors.Wrapf(cerr, "fetch: git checkout %s: %s", commit, out)
	}

	return dir, nil
}
