// Package artifact implements the artifact store: the filesystem tree
// rooted at cache_root/executed/<fingerprint>/ that holds an executed
// notebook's serialized text and the side-files it produced (spec §4.3).
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store is a thin wrapper over a cache root directory.
type Store struct {
	root string
}

// New returns a Store rooted at root. The directory is created lazily on
// first write.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) executedDir(hashkey string) string {
	return filepath.Join(s.root, "executed", hashkey)
}

// versionFile is the ASCII schema-version marker written once at the cache
// root, alongside global.db and executed/.
const versionFile = "__version__.txt"

// WriteVersion writes the cache root's schema version marker, unless one
// already exists (it is written once, per the on-disk contract).
func (s *Store) WriteVersion(version string) error {
	path := filepath.Join(s.root, versionFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}
	return writeFileAtomic(path, []byte(version))
}

// ReadVersion returns the cache root's schema version marker, or "" if it
// has not been written yet.
func (s *Store) ReadVersion() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, versionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read cache version: %w", err)
	}
	return string(data), nil
}

// NotebookPath returns the path at which the executed notebook text for
// hashkey is (or would be) stored.
func (s *Store) NotebookPath(hashkey string) string {
	return filepath.Join(s.executedDir(hashkey), "base.ipynb")
}

// ArtifactDir returns the directory artifacts for hashkey are (or would be)
// stored under.
func (s *Store) ArtifactDir(hashkey string) string {
	return filepath.Join(s.executedDir(hashkey), "artifacts")
}

// Exists reports whether a notebook is already stored for hashkey.
func (s *Store) Exists(hashkey string) bool {
	_, err := os.Stat(s.NotebookPath(hashkey))
	return err == nil
}

// WriteBundle writes the executed notebook text and its artifacts under
// hashkey, first removing any existing entry (the caller is responsible for
// overwrite=false checks before calling this). Each file is written
// atomically; the bundle as a whole is not, so an interrupted call can leave
// a partial entry.
func (s *Store) WriteBundle(hashkey string, notebookText []byte, artifacts map[string][]byte) error {
	dir := s.executedDir(hashkey)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove existing cache entry %s: %w", hashkey, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache entry %s: %w", hashkey, err)
	}

	if err := writeFileAtomic(s.NotebookPath(hashkey), notebookText); err != nil {
		return fmt.Errorf("write notebook for %s: %w", hashkey, err)
	}

	artifactDir := s.ArtifactDir(hashkey)
	for relPath, data := range artifacts {
		dest := filepath.Join(artifactDir, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create artifact directory for %s: %w", relPath, err)
		}
		if err := writeFileAtomic(dest, data); err != nil {
			return fmt.Errorf("write artifact %s: %w", relPath, err)
		}
	}
	return nil
}

// ReadNotebook returns the stored executed notebook text for hashkey.
func (s *Store) ReadNotebook(hashkey string) ([]byte, error) {
	return os.ReadFile(s.NotebookPath(hashkey))
}

// ListArtifacts returns the paths (relative to the artifact directory) of
// every artifact stored for hashkey.
func (s *Store) ListArtifacts(hashkey string) ([]string, error) {
	dir := s.ArtifactDir(hashkey)
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list artifacts for %s: %w", hashkey, err)
	}
	return out, nil
}

// Remove deletes the entire on-disk entry for hashkey.
func (s *Store) Remove(hashkey string) error {
	if err := os.RemoveAll(s.executedDir(hashkey)); err != nil {
		return fmt.Errorf("remove cache entry %s: %w", hashkey, err)
	}
	return nil
}

// ClearAll removes the entire cache root from disk.
func (s *Store) ClearAll() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("clear cache root: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to path by writing to a temp file in the same
// directory and renaming it into place, so a crash mid-write never leaves a
// truncated file where path is expected.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// CopyTree copies every regular file under srcDir into dstDir, preserving
// relative paths, e.g. to snapshot a cached artifact directory into a
// caller-supplied destination.
func CopyTree(srcDir, dstDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(dstDir, rel)
		if info.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		return copyFile(path, dest)
	})
}

// CopyFile copies a single file from src to dst, creating dst's parent
// directory as needed.
func CopyFile(src, dst string) error {
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
