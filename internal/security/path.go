package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned when a path fails canonicalization or lands
// outside the configured boundaries.
var ErrInvalidPath = errors.New("security: invalid path")

// DefaultForbiddenPaths are never valid write or delete targets. The list
// is a hazard guard for root-level system trees, not a sandbox.
var DefaultForbiddenPaths = []string{
	"/boot", "/proc", "/sys", "/dev",
}

// PathResolver canonicalizes user-supplied paths and validates them against
// traversal, forbidden system trees, and an optional allow-listed root set.
type PathResolver struct {
	// AllowedRoots, when non-empty, confines every resolved path to one
	// of these trees regardless of intent.
	AllowedRoots []string
	// ForbiddenPaths are rejected as write/delete targets, subtree
	// inclusive.
	ForbiddenPaths []string
}

// NewPathResolver builds a resolver. Roots are canonicalized up front;
// forbidden defaults apply when none are given.
func NewPathResolver(allowedRoots, forbiddenPaths []string) *PathResolver {
	if forbiddenPaths == nil {
		forbiddenPaths = DefaultForbiddenPaths
	}

	roots := make([]string, 0, len(allowedRoots))
	for _, root := range allowedRoots {
		abs, err := filepath.Abs(expandHome(root))
		if err != nil {
			continue
		}
		if resolved, err := resolveSymlinks(abs); err == nil {
			abs = resolved
		}
		roots = append(roots, abs)
	}

	return &PathResolver{AllowedRoots: roots, ForbiddenPaths: forbiddenPaths}
}

// Resolve canonicalizes raw into an absolute, symlink-free path and
// validates it for the given intent. Symlinks are resolved before any
// boundary check so a link inside an allowed root cannot point the
// operation at a forbidden target.
func (r *PathResolver) Resolve(raw string, intent Category) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: path contains null byte", ErrInvalidPath)
	}

	abs, err := filepath.Abs(expandHome(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	resolved, err := resolveSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	if intent == CategoryWrite || intent == CategoryDelete {
		if resolved == string(filepath.Separator) {
			return "", fmt.Errorf("%w: refusing to %s the filesystem root", ErrInvalidPath, intent)
		}
		for _, forbidden := range r.ForbiddenPaths {
			absForbidden, err := filepath.Abs(expandHome(forbidden))
			if err != nil {
				continue
			}
			if isSubpath(resolved, absForbidden) {
				return "", fmt.Errorf("%w: %q is within forbidden path %q", ErrInvalidPath, raw, forbidden)
			}
		}
	}

	if len(r.AllowedRoots) > 0 {
		inside := false
		for _, root := range r.AllowedRoots {
			if isSubpath(resolved, root) {
				inside = true
				break
			}
		}
		if !inside {
			return "", fmt.Errorf("%w: %q is outside every allowed root", ErrInvalidPath, raw)
		}
	}

	return resolved, nil
}

// resolveSymlinks resolves symlinks, falling back to resolving the parent
// for paths that do not exist yet (a write target, for example).
func resolveSymlinks(absPath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			parent := filepath.Dir(absPath)
			resolvedParent, err2 := filepath.EvalSymlinks(parent)
			if err2 != nil {
				return absPath, nil // best effort
			}
			return filepath.Join(resolvedParent, filepath.Base(absPath)), nil
		}
		return absPath, nil
	}
	return resolved, nil
}

// isSubpath checks if child is equal to or inside parent.
func isSubpath(child, parent string) bool {
	if child == parent {
		return true
	}
	prefix := parent + string(filepath.Separator)
	return strings.HasPrefix(child, prefix)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
