// Package loader reads mesh assets from disk and enumerates the asset
// directory.
package loader

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chazu/isoview/pkg/kernel"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrUnsupported is returned for assets whose format cannot be read.
var ErrUnsupported = errors.New("unsupported asset format")

// ErrInvalidName is returned for asset names that are not plain file
// names inside the asset directory.
var ErrInvalidName = errors.New("invalid asset name")

// Loader reads a named asset into a mesh.
type Loader interface {
	Load(name string) (*kernel.Mesh, error)
}

// Resolve joins dir and name, rejecting names that are empty, absolute or
// contain a path separator.
func Resolve(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return filepath.Join(dir, name), nil
}

// ListAssets returns the sorted names of the regular files in dir whose
// extension (case-insensitive) is one of exts. A missing directory yields
// an empty list.
func ListAssets(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Wrapf(err, "list assets in %s", dir)
	}

	files := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return e.Type().IsRegular() && HasExt(e.Name(), exts)
	})
	names := lo.Map(files, func(e os.DirEntry, _ int) string {
		return e.Name()
	})
	sort.Strings(names)
	return names, nil
}

// HasExt reports whether name ends in one of exts, ignoring case.
func HasExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	return lo.ContainsBy(exts, func(e string) bool {
		return strings.EqualFold(e, ext)
	})
}
