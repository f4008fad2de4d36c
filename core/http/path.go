package http

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IndexFile is served for the root path
const IndexFile = "/index.html"

// CanonicalRoot resolves root to an absolute, symlink-free directory path.
// ResolvePath expects its root argument in this form.
func CanonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("document root %s is not a directory", resolved)
	}
	return resolved, nil
}

// ResolvePath maps a request path onto a canonical file path confined to
// root. "/" maps to "/index.html". The result has all symlinks resolved; any
// path that lands outside root, before or after symlink resolution, yields
// ErrPathEscapes. A path that does not exist yields the underlying
// fs.ErrNotExist error.
func ResolvePath(root, raw string) (string, error) {
	if raw == "" || raw == "/" {
		raw = IndexFile
	}
	if raw[0] != '/' || strings.IndexByte(raw, 0) != -1 {
		return "", ErrInvalidPath
	}

	candidate := filepath.Join(root, filepath.FromSlash(raw))
	if !within(root, candidate) {
		return "", ErrPathEscapes
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", err
	}
	if !within(root, resolved) {
		return "", ErrPathEscapes
	}

	return resolved, nil
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
