package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the VCS identity files of root so that a moved or
// re-cloned checkout can be told apart from an unrelated directory. It
// returns "" when root is not a git checkout.
func Fingerprint(root string) string {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil {
		return ""
	}
	if !info.IsDir() {
		// Worktree: ".git" holds "gitdir: <path>".
		data, err := os.ReadFile(gitDir)
		if err != nil {
			return ""
		}
		ref, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
		if !ok {
			return ""
		}
		gitDir = strings.TrimSpace(ref)
		if !filepath.IsAbs(gitDir) {
			gitDir = filepath.Join(root, gitDir)
		}
	}

	h := xxhash.New()
	found := false
	for _, name := range []string{"HEAD", "config"} {
		data, err := os.ReadFile(filepath.Join(gitDir, name))
		if err != nil {
			continue
		}
		found = true
		_, _ = h.WriteString(name)
		_, _ = h.Write(data)
	}
	if !found {
		return ""
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
