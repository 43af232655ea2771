// Package blobstore implements C2: read-only(-ish) filesystem-style
// access to canonical source images, rooted under a configured base
// path, grounded on github.com/spf13/afero's BasePathFs, which confines
// every operation to that root. Before a path reaches afero, clean
// rejects any ".." element and any embedded NUL with a SecurityError;
// an absolute path is taken as relative to the root.
package blobstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// SecurityError is raised for any attempt to escape the configured root.
type SecurityError struct{ Path string }

func (e *SecurityError) Error() string { return "security: path escapes images root: " + e.Path }

// Stat describes a filesystem entry.
type Stat struct {
	Size     int64
	Modified time.Time
	IsDir    bool
}

// Store is a rooted, escape-proof view over the originals directory.
type Store struct {
	root afero.Fs
}

func New(rootPath string) (*Store, error) {
	base := afero.NewOsFs()
	if err := base.MkdirAll(rootPath, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: afero.NewBasePathFs(base, rootPath)}, nil
}

func clean(p string) (string, error) {
	if strings.Contains(p, "\x00") {
		return "", &SecurityError{Path: p}
	}
	// Any ".." element is refused outright: filepath.Clean on a rooted
	// path silently drops a leading "..", which would hide the attempt to
	// climb above root.
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return "", &SecurityError{Path: p}
		}
	}
	c := filepath.Clean("/" + p)
	if c == "/" {
		return "", &SecurityError{Path: p}
	}
	return strings.TrimPrefix(c, "/"), nil
}

// PathExists reports whether p exists, optionally requiring it be a
// plain file or a directory.
func (s *Store) PathExists(p string, requireFile, requireDir bool) (bool, error) {
	cp, err := clean(p)
	if err != nil {
		return false, err
	}
	info, err := s.root.Stat(cp)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if requireFile && info.IsDir() {
		return false, nil
	}
	if requireDir && !info.IsDir() {
		return false, nil
	}
	return true, nil
}

func (s *Store) Read(p string) ([]byte, error) {
	cp, err := clean(p)
	if err != nil {
		return nil, err
	}
	f, err := s.root.Open(cp)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Write stores the contents of r as dir/name. overwrite controls whether
// an existing file may be replaced; allowCreate controls whether dir may
// be created if missing.
func (s *Store) Write(r io.Reader, dir, name string, allowCreate, overwrite bool) error {
	cdir, err := clean(dir)
	if err != nil {
		return err
	}
	exists, err := s.PathExists(dir, false, true)
	if err != nil {
		return err
	}
	if !exists {
		if !allowCreate {
			return os.ErrNotExist
		}
		if err := s.root.MkdirAll(cdir, 0o755); err != nil {
			return err
		}
	}
	full := filepath.Join(cdir, name)
	if !overwrite {
		if ok, err := s.PathExists(full, true, false); err != nil {
			return err
		} else if ok {
			return os.ErrExist
		}
	}
	f, err := s.root.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (s *Store) List(dir string) ([]string, error) {
	cdir, err := clean(dir)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.root, cdir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

func (s *Store) StatPath(p string) (Stat, error) {
	cp, err := clean(p)
	if err != nil {
		return Stat{}, err
	}
	info, err := s.root.Stat(cp)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Size: info.Size(), Modified: info.ModTime(), IsDir: info.IsDir()}, nil
}

func (s *Store) Delete(p string) error {
	cp, err := clean(p)
	if err != nil {
		return err
	}
	return s.root.Remove(cp)
}

func (s *Store) Mkdir(p string) error {
	cp, err := clean(p)
	if err != nil {
		return err
	}
	return s.root.MkdirAll(cp, 0o755)
}

// Rename moves a file or directory from one path to another within the
// rooted tree, creating the destination's parent directory as needed.
func (s *Store) Rename(from, to string) error {
	cfrom, err := clean(from)
	if err != nil {
		return err
	}
	cto, err := clean(to)
	if err != nil {
		return err
	}
	if err := s.root.MkdirAll(filepath.Dir(cto), 0o755); err != nil {
		return err
	}
	return s.root.Rename(cfrom, cto)
}
