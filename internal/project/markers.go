package project

import (
	"os"
	"path/filepath"
	"strings"
)

// MarkerKind classifies what made a directory a project root.
type MarkerKind string

const (
	MarkerVCS      MarkerKind = "vcs"
	MarkerExplicit MarkerKind = "explicit"
	MarkerManifest MarkerKind = "manifest"
	MarkerAdHoc    MarkerKind = "adhoc"
)

// ExplicitMarker is the file users drop into a directory to force it to be
// a project root.
const ExplicitMarker = ".tempo"

type marker struct {
	Kind    MarkerKind
	Pattern string
	// Dir requires the entry to be a directory.
	Dir bool
}

func (m marker) match(entry os.DirEntry) bool {
	name := entry.Name()
	if strings.ContainsAny(m.Pattern, "*?[") {
		ok, _ := filepath.Match(m.Pattern, name)
		if !ok {
			return false
		}
	} else if name != m.Pattern {
		return false
	}
	if m.Dir {
		return entry.IsDir()
	}
	return true
}

var vcsMarkers = []marker{
	// .git is a file inside worktrees and submodules.
	{Kind: MarkerVCS, Pattern: ".git"},
	{Kind: MarkerVCS, Pattern: ".hg", Dir: true},
	{Kind: MarkerVCS, Pattern: ".svn", Dir: true},
	{Kind: MarkerVCS, Pattern: ".jj", Dir: true},
}

var manifestMarkers = []string{
	"go.mod",
	"Cargo.toml",
	"package.json",
	"pyproject.toml",
	"setup.py",
	"pom.xml",
	"build.gradle",
	"build.gradle.kts",
	"Gemfile",
	"composer.json",
	"mix.exs",
	"CMakeLists.txt",
	"Makefile",
	"*.csproj",
	"*.sln",
}

func buildMarkers(extra []string) []marker {
	markers := make([]marker, 0, len(vcsMarkers)+len(manifestMarkers)+len(extra)+1)
	markers = append(markers, vcsMarkers...)
	markers = append(markers, marker{Kind: MarkerExplicit, Pattern: ExplicitMarker})
	for _, name := range manifestMarkers {
		markers = append(markers, marker{Kind: MarkerManifest, Pattern: name})
	}
	for _, name := range extra {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		markers = append(markers, marker{Kind: MarkerExplicit, Pattern: name})
	}
	return markers
}

// matchDir returns the first marker present in dir, in table order.
func matchDir(dir string, markers []marker) (marker, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return marker{}, false
	}
	for _, m := range markers {
		for _, entry := range entries {
			if m.match(entry) {
				return m, true
			}
		}
	}
	return marker{}, false
}
