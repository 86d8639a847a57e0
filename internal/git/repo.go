package git

import (
	"fmt"

	gogit "github.com/go-git/go-git/v5"
)

// RepoInfo describes the checkout a command operates on.
type RepoInfo struct {
	Branch string
	Head   string
}

// Describe opens the repository containing dir and reports its branch and
// HEAD commit. It is used for log context only.
func Describe(dir string) (RepoInfo, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return RepoInfo{}, fmt.Errorf("opening repository %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return RepoInfo{}, fmt.Errorf("resolving HEAD of %s: %w", dir, err)
	}
	return RepoInfo{
		Branch: head.Name().Short(),
		Head:   head.Hash().String(),
	}, nil
}
