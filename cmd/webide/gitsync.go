package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Fallback commit identity when the repository has none configured.
const (
	fallbackAuthorName  = "webide"
	fallbackAuthorEmail = "webide@localhost"
)

// CommitResult distinguishes the three commit outcomes: nothing to commit
// (Noop), committed locally, and committed-and-pushed.
type CommitResult struct {
	Noop   bool   `json:"noop"`
	Hash   string `json:"hash,omitempty"`
	Pushed bool   `json:"pushed"`
}

// gitSync performs clone, commit and push for workspaces. Operations
// against one session are serialized with a per-session lock; two writers
// interleaving on the same repository corrupt its state.
type gitSync struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newGitSync() *gitSync {
	return &gitSync{locks: make(map[string]*sync.Mutex)}
}

func (g *gitSync) sessionLock(sessionID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[sessionID] = l
	}
	return l
}

// basicAuth wraps a token for a single network call. The token lives only
// in this in-memory value; it is never spliced into the remote URL, so the
// on-disk repository configuration stays free of credentials.
func basicAuth(token string) *githttp.BasicAuth {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "git", Password: token}
}

// redactToken scrubs the token from transport error text so callers get
// the diagnostic without the credential.
func redactToken(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "[redacted]"))
}

// Clone shallow-clones url into the session workspace. Clone requires an
// empty directory, so a non-empty destination is removed and recreated. A
// token with an HTTPS url rides as transient basic-auth credentials for
// the duration of the one network call.
func (g *gitSync) Clone(ctx context.Context, sessionID, url, token, dest string) error {
	lock := g.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := os.ReadDir(dest)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if len(entries) > 0 {
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	opts := &git.CloneOptions{URL: url, Depth: 1}
	if token != "" && strings.HasPrefix(url, "https://") {
		opts.Auth = basicAuth(token)
	}
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		return fmt.Errorf("%w: %v", ErrCloneFailure, redactToken(err, token))
	}
	log.Printf("[GIT] Cloned %s (depth 1) for session %s", url, sessionID)
	return nil
}

// Commit stages every add, modify and delete in the workspace and commits
// the result. A clean tree is a Noop result, never an error, so a second
// call with no intervening change always reports Noop.
func (g *gitSync) Commit(sessionID, workspace, message string) (CommitResult, error) {
	lock := g.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(workspace)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return CommitResult{}, fmt.Errorf("%w: workspace has no git repository", ErrNotFound)
	}
	if err != nil {
		return CommitResult{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return CommitResult{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return CommitResult{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	status, err := wt.Status()
	if err != nil {
		return CommitResult{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if status.IsClean() {
		log.Printf("[GIT] Nothing to commit for session %s", sessionID)
		return CommitResult{Noop: true}, nil
	}

	if message == "" {
		message = "update"
	}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: commitAuthor(repo)})
	if err != nil {
		return CommitResult{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	log.Printf("[GIT] Committed %s for session %s", shortHash(hash.String()), sessionID)
	return CommitResult{Hash: hash.String()}, nil
}

// Push pushes the current branch to origin. Failure leaves the local
// commit in place; callers report that partial success distinctly from a
// commit failure.
func (g *gitSync) Push(ctx context.Context, sessionID, workspace, token string) error {
	lock := g.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(workspace)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPushFailure, err)
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPushFailure, err)
	}
	opts := &git.PushOptions{
		RemoteName: "origin",
		// Only the checked-out branch; other local branches stay local.
		RefSpecs: []gitconfig.RefSpec{gitconfig.RefSpec(head.Name() + ":" + head.Name())},
	}
	if token != "" {
		opts.Auth = basicAuth(token)
	}
	err = repo.PushContext(ctx, opts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		log.Printf("[GIT] Push for session %s: already up to date", sessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPushFailure, redactToken(err, token))
	}
	log.Printf("[GIT] Pushed session %s", sessionID)
	return nil
}

// commitAuthor reads user.name and user.email from the repository
// configuration, falling back to the fixed identity.
func commitAuthor(repo *git.Repository) *object.Signature {
	name, email := fallbackAuthorName, fallbackAuthorEmail
	if cfg, err := repo.ConfigScoped(gitconfig.GlobalScope); err == nil {
		if cfg.User.Name != "" {
			name = cfg.User.Name
		}
		if cfg.User.Email != "" {
			email = cfg.User.Email
		}
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
