package source

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// FetchGit shallow-clones a repository reference into dst as an alternative
// to an uploaded archive. Ref may be a branch or tag name; empty means the
// remote default branch.
func FetchGit(ctx context.Context, url, ref, dst string) error {
	opts := &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}

	_, err := git.PlainCloneContext(ctx, dst, false, opts)
	if err == nil {
		return nil
	}
	if ref == "" {
		return fmt.Errorf("clone %s: %w", url, err)
	}

	// The ref may be a tag rather than a branch; retry once before failing.
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("reset staging for tag clone: %w", err)
	}
	opts.ReferenceName = plumbing.NewTagReferenceName(ref)
	if _, tagErr := git.PlainCloneContext(ctx, dst, false, opts); tagErr != nil {
		return fmt.Errorf("clone %s@%s: %w", url, ref, err)
	}
	return nil
}
