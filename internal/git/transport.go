package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

type FetchResult struct {
	Remote string
	Branch string
	// Ref is the remote-tracking ref, refs/remotes/<remote>/<branch>.
	Ref plumbing.ReferenceName
	// Tip is zero when the branch does not exist on the remote.
	Tip     plumbing.Hash
	Updated bool
}

// Transport fetches and pushes through go-git's protocol clients.
type Transport struct {
	repo *Repository
	// Auth overrides the default credentials (ssh-agent for ssh URLs).
	Auth transport.AuthMethod
}

func NewTransport(repo *Repository) *Transport {
	return &Transport{repo: repo}
}

// Fetch updates the remote-tracking ref of one branch, or of every branch
// when branch is empty.
func (t *Transport) Fetch(ctx context.Context, remote, branch string) (FetchResult, error) {
	res := FetchResult{Remote: remote, Branch: branch}
	opts := &gitlib.FetchOptions{RemoteName: remote, Auth: t.Auth, Force: true}
	if branch != "" {
		res.Ref = RemoteTrackingRef(remote, branch)
		spec := fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(branch), res.Ref)
		opts.RefSpecs = []config.RefSpec{config.RefSpec(spec)}
	}
	slog.Debug("fetch start", slog.String("remote", remote), slog.String("branch", branch))
	err := t.repo.repo.FetchContext(ctx, opts)
	switch {
	case err == nil:
		res.Updated = true
	case errors.Is(err, gitlib.NoErrAlreadyUpToDate):
	case errors.Is(err, gitlib.NoMatchingRefSpecError{}), errors.Is(err, transport.ErrEmptyRemoteRepository):
		slog.Debug("branch absent on remote", slog.String("remote", remote), slog.String("branch", branch))
		return res, nil
	default:
		return res, classifyTransportError("fetch "+remote, err)
	}
	if branch != "" {
		tip, err := t.repo.ReadRef(res.Ref)
		if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return res, err
		}
		res.Tip = tip
	}
	slog.Debug("fetch done",
		slog.String("remote", remote),
		slog.String("branch", branch),
		slog.String("tip", res.Tip.String()),
		slog.Bool("updated", res.Updated),
	)
	return res, nil
}

// Push sets ref on the remote to next only while it still points at
// expected; a zero expected means the ref must not exist yet. The local
// remote-tracking ref follows a successful push.
func (t *Transport) Push(ctx context.Context, remote string, ref plumbing.ReferenceName, expected, next plumbing.Hash, force bool) error {
	spec := fmt.Sprintf("%s:%s", next, ref)
	if force {
		spec = "+" + spec
	}
	opts := &gitlib.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(spec)},
		Auth:       t.Auth,
		Force:      force,
	}
	if !expected.IsZero() {
		opts.RequireRemoteRefs = []config.RefSpec{config.RefSpec(fmt.Sprintf("%s:%s", expected, ref))}
	}
	slog.Debug("push start",
		slog.String("remote", remote),
		slog.String("ref", ref.String()),
		slog.String("expected", expected.String()),
		slog.String("next", next.String()),
		slog.Bool("force", force),
	)
	err := t.repo.repo.PushContext(ctx, opts)
	if err != nil && !errors.Is(err, gitlib.NoErrAlreadyUpToDate) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "required to be"), strings.Contains(msg, "non-fast-forward"):
			return &PushRejectedError{Remote: remote, Ref: ref, Reason: msg}
		case errors.Is(err, gitlib.ErrForceNeeded):
			return &PushRejectedError{Remote: remote, Ref: ref, Reason: msg}
		}
		return classifyTransportError("push "+remote, err)
	}
	tracking := RemoteTrackingRef(remote, ref.Short())
	if err := t.repo.repo.Storer.SetReference(plumbing.NewHashReference(tracking, next)); err != nil {
		return fmt.Errorf("update %s: %w", tracking.Short(), err)
	}
	slog.Debug("push done", slog.String("remote", remote), slog.String("ref", ref.String()))
	return nil
}

func classifyTransportError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}
}

// CloneURL expands an owner/name shorthand to a GitHub ssh URL. Anything
// that looks like a URL or an existing path is returned as is.
func CloneURL(uri string) string {
	if strings.ContainsAny(uri, "@:") || strings.Count(uri, "/") != 1 ||
		strings.HasPrefix(uri, ".") || strings.HasPrefix(uri, "/") {
		return uri
	}
	if _, err := os.Stat(uri); err == nil {
		return uri
	}
	return "git@github.com:" + uri + ".git"
}

// CloneDir is the directory a clone of url goes into: its last path
// component without the .git suffix.
func CloneDir(url string) string {
	url = strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		url = url[i+1:]
	}
	return strings.TrimSuffix(url, ".git")
}

// Clone copies the repository at url into path, which must not exist, and
// checks out the remote's default branch. A failed clone leaves nothing
// behind.
func Clone(ctx context.Context, url, path string, auth transport.AuthMethod) (*Repository, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDestinationExists, path)
	}
	slog.Debug("clone start", slog.String("url", url), slog.String("path", path))
	repo, err := gitlib.PlainCloneContext(ctx, path, false, &gitlib.CloneOptions{
		URL:        url,
		Auth:       auth,
		RemoteName: DefaultRemote,
	})
	if err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			slog.Warn("remove failed clone", slog.String("path", path), slog.Any("error", rmErr))
		}
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, fmt.Errorf("clone %s: %w", url, err)
		}
		return nil, classifyTransportError("clone "+url, err)
	}
	return newRepository(repo)
}
