// Package disk holds filesystem helpers for the torrent save path.
package disk

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("invalid file path")

// Resolve joins rel onto base and rejects results that escape base.
func Resolve(base, rel string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("save path not configured")
	}
	if strings.TrimSpace(rel) == "" || filepath.IsAbs(rel) {
		return "", ErrInvalidPath
	}

	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	baseAbs = filepath.Clean(baseAbs)
	full := filepath.Clean(filepath.Join(baseAbs, filepath.FromSlash(rel)))
	if !strings.HasPrefix(full, baseAbs+string(os.PathSeparator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

// RemoveFiles unlinks every rel path under base, then removes parent
// directories left empty, stopping at base. Missing files are not an error.
func RemoveFiles(base string, rels []string) error {
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return err
	}
	baseAbs = filepath.Clean(baseAbs)

	var errs []error
	dirs := make(map[string]struct{})
	for _, rel := range rels {
		full, err := Resolve(baseAbs, rel)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		dirs[filepath.Dir(full)] = struct{}{}
	}
	for dir := range dirs {
		pruneEmptyParents(baseAbs, dir)
	}
	return errors.Join(errs...)
}

func pruneEmptyParents(base, dir string) {
	for dir != base && strings.HasPrefix(dir, base+string(os.PathSeparator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// AllocatedBytes reports the bytes reserved on disk for path, which can be
// less than its apparent size for sparse files. Missing files report 0.
func AllocatedBytes(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fileAllocatedBytes(info)
}
