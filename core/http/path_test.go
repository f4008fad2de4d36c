package http

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func docRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)
	os.WriteFile(filepath.Join(dir, "sub", "a.css"), []byte("a{}"), 0o644)

	root, err := CanonicalRoot(dir)
	if err != nil {
		t.Fatalf("CanonicalRoot: %v", err)
	}
	return root
}

func TestResolvePath(t *testing.T) {
	root := docRoot(t)

	tests := []struct {
		name string
		raw  string
		want string
		err  error
	}{
		{"root maps to index", "/", filepath.Join(root, "index.html"), nil},
		{"explicit index", "/index.html", filepath.Join(root, "index.html"), nil},
		{"nested", "/sub/a.css", filepath.Join(root, "sub", "a.css"), nil},
		{"dot segments inside root", "/sub/../index.html", filepath.Join(root, "index.html"), nil},
		{"traversal", "/../../etc/passwd", "", ErrPathEscapes},
		{"missing", "/nope.html", "", fs.ErrNotExist},
		{"relative", "index.html", "", ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(root, tt.raw)
			if !errors.Is(err, tt.err) {
				t.Fatalf("error = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestResolvePath_SymlinkEscape(t *testing.T) {
	root := docRoot(t)
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	os.WriteFile(secret, []byte("secret"), 0o600)

	if err := os.Symlink(secret, filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := ResolvePath(root, "/link.txt"); !errors.Is(err, ErrPathEscapes) {
		t.Errorf("symlink out of root resolved: %v", err)
	}
}

func TestCanonicalRoot_NotDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	os.WriteFile(f, nil, 0o644)

	if _, err := CanonicalRoot(f); err == nil {
		t.Error("expected error for non-directory root")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"/index.html":  "text/html",
		"/INDEX.HTML":  "text/html",
		"/a.css":       "text/css",
		"/app.js":      "application/javascript",
		"/logo.png":    "image/png",
		"/photo.jpg":   "image/jpeg",
		"/anim.gif":    "image/gif",
		"/archive.zip": "application/octet-stream",
		"/noext":       "application/octet-stream",
	}

	for in, want := range tests {
		if got := ContentType(in); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", in, got, want)
		}
	}
}
