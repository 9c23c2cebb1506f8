package resolver

import (
	"errors"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Placeholders substituted in cmd, args, cwd and env values
const (
	PlaceholderProjectPath     = "{PROJECT_PATH}"
	PlaceholderRepoBranch      = "{REPO_BRANCH}"
	PlaceholderRepoBranchShort = "{REPO_BRANCH_SHORT}"
)

type placeholders struct {
	projectPath string
	branch      string
	branchShort string
}

// repoBranch returns the checked out branch of the repository containing dir.
// Detached heads and directories outside a repository yield "".
func repoBranch(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		// Unborn branch: no commits yet
		return "", nil
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

func newPlaceholders(projectPath, branch string) placeholders {
	short := branch
	if i := strings.LastIndex(branch, "/"); i >= 0 {
		short = branch[i+1:]
	}
	return placeholders{
		projectPath: projectPath,
		branch:      branch,
		branchShort: short,
	}
}

func (p placeholders) expand(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return strings.NewReplacer(
		PlaceholderProjectPath, p.projectPath,
		PlaceholderRepoBranchShort, p.branchShort,
		PlaceholderRepoBranch, p.branch,
	).Replace(s)
}

func (p placeholders) expandAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = p.expand(v)
	}
	return out
}
