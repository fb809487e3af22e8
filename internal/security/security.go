package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vinodismyname/mcpsheets/config"
)

// DefaultExtensions are the workbook formats the loader can read.
var DefaultExtensions = []string{".xlsx", ".xlsm", ".xltx", ".xltm"}

var (
	// ErrNotAllowed indicates the workbook path is outside the allow-list roots.
	ErrNotAllowed = errors.New("security: path not allowed")
	// ErrUnsupportedExtension indicates the file is not a supported workbook format.
	ErrUnsupportedExtension = errors.New("security: unsupported file extension")
	// ErrNotFound indicates the workbook does not exist or is not accessible.
	ErrNotFound = errors.New("security: file not found")
	// ErrNoAllowedDirs indicates an empty allow-list.
	ErrNoAllowedDirs = errors.New("security: no allowed directories configured")
)

// Manager restricts which workbook file the server may load: the file must
// have a supported extension and resolve, after following symlinks, inside
// one of the allow-list roots.
type Manager struct {
	roots []string
	exts  []string
}

// NewManager canonicalizes the allow-list roots. Empty entries are skipped; a
// root that does not exist or is not a directory is an error.
func NewManager(dirs []string, exts []string) (*Manager, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	m := &Manager{}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") || len(e) < 2 {
			return nil, fmt.Errorf("security: invalid extension: %q", e)
		}
		m.exts = append(m.exts, e)
	}
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		root, err := canonicalDir(d)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(m.roots, root) {
			m.roots = append(m.roots, root)
		}
	}
	return m, nil
}

// NewManagerFromConfig builds a Manager from the configured allow-list, which
// defaults to the workbook's own directory.
func NewManagerFromConfig(cfg config.Server) (*Manager, error) {
	return NewManager(cfg.ResolvedAllowedDirs(), nil)
}

func canonicalDir(d string) (string, error) {
	abs, err := filepath.Abs(strings.TrimSpace(d))
	if err != nil {
		return "", fmt.Errorf("security: resolve abs for %q: %w", d, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("security: eval symlinks for %q: %w", abs, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("security: stat %q: %w", real, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("security: allow-list entry is not a directory: %q", real)
	}
	return filepath.Clean(real), nil
}

// AllowedDirectories returns the canonical allow-list roots.
func (m *Manager) AllowedDirectories() []string { return slices.Clone(m.roots) }

// ValidateConfig fails when the allow-list is empty.
func (m *Manager) ValidateConfig() error {
	if len(m.roots) == 0 {
		return ErrNoAllowedDirs
	}
	return nil
}

// ValidateWorkbookPath returns the canonical absolute path of input when it
// names an existing, supported workbook inside an allow-list root.
func (m *Manager) ValidateWorkbookPath(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrNotAllowed
	}
	if !slices.Contains(m.exts, strings.ToLower(filepath.Ext(input))) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedExtension, filepath.Ext(input))
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return "", fmt.Errorf("security: abs path: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, abs)
	}
	if err != nil {
		return "", fmt.Errorf("security: eval symlinks: %w", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, real)
	}
	if info.IsDir() {
		return "", ErrNotAllowed
	}

	for _, root := range m.roots {
		if within(root, real) {
			return real, nil
		}
	}
	return "", ErrNotAllowed
}

// within reports whether path lies strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == "" {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
