package documents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Directory reads documents from files under a root directory.
type Directory struct {
	root string
}

// NewDirectory creates a directory source. The root must exist.
func NewDirectory(root string) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("documents: resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("documents: open %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("documents: %s is not a directory", root)
	}
	return &Directory{root: abs}, nil
}

// Root returns the absolute document root.
func (d *Directory) Root() string {
	return d.root
}

// Read returns the contents of name. Names may not leave the root.
func (d *Directory) Read(ctx context.Context, name string) (string, error) {
	path, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("documents: read %s: %w", name, err)
	}
	return string(data), nil
}

// List returns the document names under the root.
func (d *Directory) List() ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("documents: list: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (d *Directory) resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || filepath.IsAbs(name) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Join(d.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(d.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	// Symlinks must not point outside the root either.
	if real, err := filepath.EvalSymlinks(path); err == nil {
		root, rerr := filepath.EvalSymlinks(d.root)
		if rerr != nil {
			root = d.root
		}
		if r, err := filepath.Rel(root, real); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return path, nil
}
