// Grounded in the teacher's internal/tools/sandbox.go. Spec §1 excludes
// sandboxing from the four core subsystems, but the Read/Write/Glob
// builtins still need somewhere to resolve paths against, so this is
// kept as minimal supporting infrastructure for those concrete tool
// bodies rather than a spec-mandated component in its own right.
package tool

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathNotAllowed is returned when a path falls outside every
// sandbox root.
var ErrPathNotAllowed = errors.New("path not allowed")

// ErrPathDenied is returned when a path falls inside an explicit deny
// list entry, even if it is also inside an allowed root.
var ErrPathDenied = errors.New("path denied")

// Sandbox constrains filesystem access to a set of root directories,
// with an always-applied deny list for sensitive paths.
type Sandbox struct {
	Roots []string
	Deny  []string
}

// NewSandbox builds a Sandbox rooted at roots, with a built-in deny
// list covering process and credential directories.
func NewSandbox(roots []string) *Sandbox {
	denied := []string{"/proc", "/sys", "/dev"}
	if home, err := os.UserHomeDir(); err == nil {
		denied = append(denied, filepath.Join(home, ".ssh"))
	}
	return &Sandbox{Roots: roots, Deny: denied}
}

// ResolvePath validates path against the sandbox and returns its
// cleaned absolute form; symlinks are resolved only for the sandbox
// checks, not in the returned path. requireExisting controls
// whether a missing file is an error (reads) or acceptable (writes
// that will create the file).
func (s *Sandbox) ResolvePath(path string, requireExisting bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	resolved := abs
	if existing, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = existing
	} else if requireExisting {
		return "", err
	}

	for _, denied := range s.Deny {
		if isSubpath(denied, resolved) {
			return "", ErrPathDenied
		}
	}

	for _, root := range s.Roots {
		rootResolved := root
		if existing, err := filepath.EvalSymlinks(root); err == nil {
			rootResolved = existing
		}
		if isSubpath(rootResolved, resolved) {
			return abs, nil
		}
	}
	return "", ErrPathNotAllowed
}

func isSubpath(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
