// Package mdstore manages the human-readable markdown body tree.
//
// Bodies live at <home>/memory/<layer>/<YYYY>/<MM>/<id>.md, bucketed by the
// memory's UTC creation month. The tree is durable synced state: files are
// written atomically (temp file plus rename) so a crash or a concurrent git
// operation never observes a half-written body. Bodies are write-once:
// rewriting the same bytes is an idempotent no-op, rewriting different
// bytes is refused. Layer changes move the file, they never rewrite it.
package mdstore

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// Store is the markdown body tree rooted at one memory home.
type Store struct {
	paths config.Paths
}

// Open returns a Store for the given home layout.
func Open(paths config.Paths) *Store {
	return &Store{paths: paths}
}

// Write persists canonical body bytes for a memory and returns the path
// relative to the memory tree root, the form recorded in the envelope.
func (s *Store) Write(layer types.Layer, createdAt time.Time, id string, canonical []byte) (string, error) {
	if !layer.Valid() {
		return "", types.NewError(types.ErrInvalidArgument, "invalid layer %q", layer)
	}
	rel := config.BodyRelPath(layer, createdAt, id)
	if err := s.WriteRel(rel, canonical); err != nil {
		return "", err
	}
	return rel, nil
}

// WriteRel persists body bytes at an explicit relative path. Used when the
// path is already pinned by an envelope, such as a retried write after a
// crash.
func (s *Store) WriteRel(rel string, canonical []byte) error {
	abs := filepath.Join(s.paths.MemoryDir(), rel)
	if existing, err := os.ReadFile(abs); err == nil {
		if bytes.Equal(existing, canonical) {
			return nil
		}
		return types.NewError(types.ErrInvalidArgument,
			"body %s already exists with different content; bodies are write-once", rel).
			WithRemediation("write a new memory instead of mutating this one")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "create body directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-")
	if err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "create temp body file")
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(canonical); err != nil {
		_ = tmp.Close()
		return types.WrapError(types.ErrTransientExternal, err, "write body")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return types.WrapError(types.ErrTransientExternal, err, "sync body")
	}
	if err := tmp.Close(); err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "close temp body file")
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "rename body into place")
	}

	success = true
	logging.MDStoreDebug("wrote body %s (%d bytes)", rel, len(canonical))
	return nil
}

// Read returns the exact bytes of a body file.
func (s *Store) Read(rel string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.paths.MemoryDir(), rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.ErrNotFound, "body %s not found", rel)
		}
		return nil, types.WrapError(types.ErrTransientExternal, err, "read body %s", rel)
	}
	return data, nil
}

// Exists reports whether a body file is present.
func (s *Store) Exists(rel string) bool {
	_, err := os.Stat(filepath.Join(s.paths.MemoryDir(), rel))
	return err == nil
}

// Move relocates a body file, creating destination directories as needed.
// Promotion uses this to carry the body into its new layer.
func (s *Store) Move(oldRel, newRel string) error {
	if oldRel == newRel {
		return nil
	}
	oldAbs := filepath.Join(s.paths.MemoryDir(), oldRel)
	newAbs := filepath.Join(s.paths.MemoryDir(), newRel)
	if err := os.MkdirAll(filepath.Dir(newAbs), 0755); err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "create body directory")
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		if os.IsNotExist(err) {
			return types.NewError(types.ErrNotFound, "body %s not found", oldRel)
		}
		return types.WrapError(types.ErrTransientExternal, err, "move body %s -> %s", oldRel, newRel)
	}
	logging.MDStoreDebug("moved body %s -> %s", oldRel, newRel)
	return nil
}

// Remove deletes a body file. Pruned instant-layer traces end here; the
// event log still records that the memory existed.
func (s *Store) Remove(rel string) error {
	err := os.Remove(filepath.Join(s.paths.MemoryDir(), rel))
	if err != nil && !os.IsNotExist(err) {
		return types.WrapError(types.ErrTransientExternal, err, "remove body %s", rel)
	}
	return nil
}

// Walk visits every body file under the given layer (or all layers when
// layer is empty), passing tree-relative paths.
func (s *Store) Walk(layer types.Layer, fn func(rel string) error) error {
	root := s.paths.MemoryDir()
	start := root
	if layer != "" {
		start = filepath.Join(root, string(layer))
	}
	err := filepath.WalkDir(start, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		return fn(filepath.ToSlash(rel))
	})
	if err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "walk body tree")
	}
	return nil
}
