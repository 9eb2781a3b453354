// Package project maps raw filesystem paths reported by activity signals
// onto canonical project roots.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/codefionn/tempo/internal/config"
	"github.com/codefionn/tempo/internal/consts"
)

// ErrNotFound is returned when no project root can be derived from a path.
var ErrNotFound = errors.New("project not found")

// Resolution is the outcome of resolving one raw path.
type Resolution struct {
	// Key compares equal for paths naming the same project.
	Key string
	// Path is the canonical root with its original case.
	Path   string
	Name   string
	Marker MarkerKind
}

// Resolver resolves raw paths to project roots. It is safe for concurrent use.
type Resolver struct {
	markers         []marker
	reserved        []string
	home            string
	caseInsensitive bool
	cacheSize       int

	mu    sync.Mutex
	cache map[string]Resolution
}

// Option customizes the resolver.
type Option func(*Resolver)

// WithExtraMarkers adds file names that mark a project root.
func WithExtraMarkers(names ...string) Option {
	return func(r *Resolver) {
		r.markers = buildMarkers(names)
	}
}

// WithReservedPaths adds directories that are never ad hoc project roots.
func WithReservedPaths(paths ...string) Option {
	return func(r *Resolver) {
		for _, p := range paths {
			if p = strings.TrimSpace(p); p != "" {
				r.reserved = append(r.reserved, filepath.Clean(config.ExpandPath(p)))
			}
		}
	}
}

// WithCaseInsensitive overrides the platform case rule.
func WithCaseInsensitive(insensitive bool) Option {
	return func(r *Resolver) {
		r.caseInsensitive = insensitive
	}
}

// WithHomeDir overrides the home directory used for ~ and the reserved list.
func WithHomeDir(home string) Option {
	return func(r *Resolver) {
		r.home = filepath.Clean(home)
	}
}

// WithCacheSize bounds the resolution cache. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		r.cacheSize = n
	}
}

// NewResolver creates a resolver for the current platform.
func NewResolver(opts ...Option) *Resolver {
	home, _ := os.UserHomeDir()
	r := &Resolver{
		markers:         buildMarkers(nil),
		reserved:        defaultReserved(),
		home:            filepath.Clean(home),
		caseInsensitive: runtime.GOOS == "darwin" || runtime.GOOS == "windows",
		cacheSize:       consts.ResolverCacheSize,
		cache:           make(map[string]Resolution),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// FromConfig builds a resolver from the projects section of the config.
func FromConfig(cfg config.ProjectConfig) *Resolver {
	return NewResolver(WithExtraMarkers(cfg.ExtraMarkers...), WithReservedPaths(cfg.ReservedPaths...))
}

func defaultReserved() []string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemDrive") + `\`
		return []string{root, filepath.Join(root, "Windows"), filepath.Join(root, "Program Files"), filepath.Join(root, "Program Files (x86)")}
	}
	return []string{"/", "/bin", "/boot", "/dev", "/etc", "/lib", "/lib64", "/proc", "/run", "/sbin", "/sys", "/usr", "/var", "/System", "/Library"}
}

// Key returns the comparison key for an already canonical path.
func (r *Resolver) Key(path string) string {
	if r.caseInsensitive {
		return strings.ToLower(path)
	}
	return path
}

// Resolve maps rawPath to its project root. Failures wrap ErrNotFound.
func (r *Resolver) Resolve(rawPath string) (Resolution, error) {
	if strings.TrimSpace(rawPath) == "" {
		return Resolution{}, fmt.Errorf("%w: empty path", ErrNotFound)
	}

	if res, ok := r.cached(rawPath); ok {
		return res, nil
	}

	canonical, err := r.Canonicalize(rawPath)
	if err != nil {
		return Resolution{}, err
	}

	res, err := r.findRoot(canonical)
	if err != nil {
		return Resolution{}, err
	}
	r.store(rawPath, res)
	return res, nil
}

// Canonicalize expands, absolutizes and resolves symlinks in rawPath. A path
// naming a file resolves to its directory.
func (r *Resolver) Canonicalize(rawPath string) (string, error) {
	p := os.ExpandEnv(strings.TrimSpace(rawPath))
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		p = filepath.Join(r.home, p[1:])
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !info.IsDir() {
		resolved = filepath.Dir(resolved)
	}
	return trimSeparators(filepath.Clean(resolved)), nil
}

func (r *Resolver) findRoot(start string) (Resolution, error) {
	dir := start
	for {
		if m, ok := matchDir(dir, r.markers); ok {
			return r.resolution(dir, m.Kind), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if r.reservedPath(start) {
		return Resolution{}, fmt.Errorf("%w: %s is a reserved directory", ErrNotFound, start)
	}
	if !writable(start) {
		return Resolution{}, fmt.Errorf("%w: %s is not writable", ErrNotFound, start)
	}
	return r.resolution(start, MarkerAdHoc), nil
}

func (r *Resolver) resolution(root string, kind MarkerKind) Resolution {
	name := filepath.Base(root)
	if name == string(filepath.Separator) || name == "." {
		name = root
	}
	return Resolution{
		Key:    r.Key(root),
		Path:   root,
		Name:   name,
		Marker: kind,
	}
}

// reservedPath reports whether p is a system directory or the home
// directory itself. Children of home are allowed.
func (r *Resolver) reservedPath(p string) bool {
	key := r.Key(p)
	if r.home != "" {
		homeKey := r.Key(r.home)
		if key == homeKey {
			return true
		}
		if within(key, homeKey) {
			return false
		}
	}
	root := string(filepath.Separator)
	for _, reserved := range r.reserved {
		rk := r.Key(reserved)
		if key == rk {
			return true
		}
		// The filesystem root only matches exactly.
		if rk != root && within(key, rk) {
			return true
		}
	}
	return false
}

// within reports whether p is dir or below it.
func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}

func trimSeparators(p string) string {
	for len(p) > 1 && os.IsPathSeparator(p[len(p)-1]) && !isVolumeRoot(p) {
		p = p[:len(p)-1]
	}
	return p
}

func isVolumeRoot(p string) bool {
	vol := filepath.VolumeName(p)
	return len(p) == len(vol)+1
}

func (r *Resolver) cached(raw string) (Resolution, bool) {
	if r.cacheSize <= 0 {
		return Resolution{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.cache[raw]
	return res, ok
}

func (r *Resolver) store(raw string, res Resolution) {
	// Relative and ~ paths depend on the caller and are not cached.
	if r.cacheSize <= 0 || !filepath.IsAbs(raw) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) >= r.cacheSize {
		clear(r.cache)
	}
	r.cache[raw] = res
}

// Invalidate drops every cached resolution.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}
