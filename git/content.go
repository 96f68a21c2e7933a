package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"gutterdiff/text"
)

// Backend names accepted by NewContentProvider
const (
	BackendExec  = "exec"
	BackendGoGit = "gogit"
)

// ContentProvider reads a file as it was at a commit. A file missing at the
// commit is reported as an absent Base, not as an error.
type ContentProvider interface {
	Content(ctx context.Context, repo *Repo, commit, rel string) (text.Base, error)
}

// NewContentProvider returns the provider for backend
func NewContentProvider(backend string) (ContentProvider, error) {
	switch backend {
	case "", BackendExec:
		return &ExecProvider{}, nil
	case BackendGoGit:
		return NewGoGitProvider(), nil
	default:
		return nil, fmt.Errorf("unknown git backend %q", backend)
	}
}

// ExecProvider reads blobs through the git binary of the repo's runner
type ExecProvider struct{}

func (p *ExecProvider) Content(ctx context.Context, repo *Repo, commit, rel string) (text.Base, error) {
	exists, err := p.blobExists(ctx, repo, commit, rel)
	if err != nil {
		return text.Base{}, fmt.Errorf("look up %s at %s: %w", rel, commit, err)
	}
	if !exists {
		return text.Base{Absent: true}, nil
	}

	out, err := repo.runner.Run(ctx, repo.root, "cat-file", "blob", commit+":"+rel)
	if err != nil {
		return text.Base{}, fmt.Errorf("read %s at %s: %w", rel, commit, err)
	}
	return text.Base{Text: out}, nil
}

// blobExists asks the commit's tree for rel. ls-tree prints nothing for a
// missing path and fails only when git itself does, so a broken repository
// is an error rather than a missing file.
func (p *ExecProvider) blobExists(ctx context.Context, repo *Repo, commit, rel string) (bool, error) {
	out, err := repo.runner.Run(ctx, repo.root, "ls-tree", "-z", commit, "--", rel)
	if err != nil {
		return false, err
	}

	// <mode> SP <type> SP <object> TAB <path> NUL
	for _, entry := range strings.Split(out, "\x00") {
		meta, path, ok := strings.Cut(entry, "\t")
		if !ok || path != rel {
			continue
		}
		fields := strings.Fields(meta)
		return len(fields) == 3 && fields[1] == "blob", nil
	}
	return false, nil
}

// GoGitProvider reads blobs in-process with go-git. Opened repositories are
// kept for the life of the provider.
type GoGitProvider struct {
	mu    sync.Mutex
	repos map[string]*gogit.Repository
}

// NewGoGitProvider creates an empty GoGitProvider
func NewGoGitProvider() *GoGitProvider {
	return &GoGitProvider{repos: make(map[string]*gogit.Repository)}
}

func (p *GoGitProvider) open(root string) (*gogit.Repository, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if repo, ok := p.repos[root]; ok {
		return repo, nil
	}
	repo, err := gogit.PlainOpenWithOptions(root, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", root, err)
	}
	p.repos[root] = repo
	return repo, nil
}

func (p *GoGitProvider) Content(ctx context.Context, repo *Repo, commit, rel string) (text.Base, error) {
	if err := ctx.Err(); err != nil {
		return text.Base{}, err
	}

	r, err := p.open(repo.root)
	if err != nil {
		return text.Base{}, err
	}

	c, err := r.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return text.Base{}, fmt.Errorf("%w: commit %s: %v", ErrUnresolved, commit, err)
	}

	f, err := c.File(rel)
	if errors.Is(err, object.ErrFileNotFound) {
		return text.Base{Absent: true}, nil
	}
	if err != nil {
		return text.Base{}, fmt.Errorf("read %s at %s: %w", rel, commit, err)
	}

	contents, err := f.Contents()
	if err != nil {
		return text.Base{}, fmt.Errorf("read %s at %s: %w", rel, commit, err)
	}
	return text.Base{Text: contents}, nil
}
