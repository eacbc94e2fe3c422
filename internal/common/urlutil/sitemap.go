package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// SiteMapper translates public site URLs into files below a local directory.
// It serves both the document root (theme and plugin assets) and the
// uploads directory.
type SiteMapper struct {
	host     string
	basePath string
	root     string
}

// NewSiteMapper maps every URL below baseURL onto root
func NewSiteMapper(baseURL, root string) (*SiteMapper, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", baseURL)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &SiteMapper{
		host:     strings.ToLower(u.Host),
		basePath: strings.TrimRight(u.Path, "/"),
		root:     abs,
	}, nil
}

// Root returns the directory URLs are mapped onto
func (m *SiteMapper) Root() string {
	return m.root
}

// IsLocal reports whether raw points below the base URL. Root-relative paths
// count as local; protocol-relative and foreign hosts do not.
func (m *SiteMapper) IsLocal(raw string) bool {
	_, ok := m.relPath(raw)
	return ok
}

// LocalPath returns the file for raw with query and fragment dropped.
// Paths escaping the root are rejected.
func (m *SiteMapper) LocalPath(raw string) (string, bool) {
	rel, ok := m.relPath(raw)
	if !ok || rel == "" {
		return "", false
	}
	p := filepath.Join(m.root, filepath.FromSlash(rel))
	if p != m.root && !strings.HasPrefix(p, m.root+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

// URLPath returns the request path that maps to the file at p, or false when
// p is outside the root.
func (m *SiteMapper) URLPath(p string) (string, bool) {
	rel, err := filepath.Rel(m.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return m.basePath + "/" + filepath.ToSlash(rel), true
}

func (m *SiteMapper) relPath(raw string) (string, bool) {
	if raw == "" || strings.HasPrefix(raw, "//") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Host != "" && !strings.EqualFold(u.Host, m.host) {
		return "", false
	}
	if u.Host == "" && (u.Scheme != "" || !strings.HasPrefix(u.Path, "/")) {
		return "", false
	}

	clean := path.Clean("/" + u.Path)
	if m.basePath != "" {
		if clean != m.basePath && !strings.HasPrefix(clean, m.basePath+"/") {
			return "", false
		}
		clean = strings.TrimPrefix(clean, m.basePath)
	}
	return strings.TrimPrefix(clean, "/"), true
}
