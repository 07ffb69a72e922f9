// Package storage keeps uploaded and generated files in one directory on
// an afero filesystem. Names are generated here; callers never choose
// paths.
package storage

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ReportsDir is the subdirectory holding mailed PDF reports.
const ReportsDir = "reports"

// ErrInvalidName is returned for names that would escape the directory.
var ErrInvalidName = errors.New("invalid file name")

// Store manages files under Dir. Files are served publicly under
// URLPrefix.
type Store struct {
	fs        afero.Fs
	dir       string
	baseURL   string
	URLPrefix string
	now       func() time.Time
}

// New creates the directory tree (dir and dir/reports) if needed.
// baseURL may be empty, in which case URLs are host-relative.
func New(fsys afero.Fs, dir, baseURL string) (*Store, error) {
	if err := fsys.MkdirAll(filepath.Join(dir, ReportsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{
		fs:        fsys,
		dir:       dir,
		baseURL:   strings.TrimRight(baseURL, "/"),
		URLPrefix: "/uploads",
		now:       time.Now,
	}, nil
}

// NewName returns "<unixmillis>-<8 hex><suffix><ext>".
func (s *Store) NewName(suffix, ext string) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s%s%s", s.now().UnixMilli(), hex.EncodeToString(b[:]), suffix, ext)
}

func (s *Store) clean(name string) (string, error) {
	c := path.Clean("/" + filepath.ToSlash(name))[1:]
	if c == "" || c != filepath.ToSlash(name) {
		return "", ErrInvalidName
	}
	return filepath.FromSlash(c), nil
}

// Path returns the filesystem path of a stored name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// NameOf returns the stored name of a filesystem path, or false when p
// lies outside the storage directory.
func (s *Store) NameOf(p string) (string, bool) {
	rel, err := filepath.Rel(s.dir, filepath.Clean(p))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Dir is the storage root.
func (s *Store) Dir() string { return s.dir }

// FS exposes the filesystem the store writes to.
func (s *Store) FS() afero.Fs { return s.fs }

// Save writes r under a fresh name with the given extension and returns
// the name.
func (s *Store) Save(r io.Reader, ext string) (string, error) {
	return s.save(r, s.NewName("", ext))
}

// SaveReport writes a PDF report under reports/.
func (s *Store) SaveReport(data []byte) (string, error) {
	return s.save(bytes.NewReader(data), path.Join(ReportsDir, s.NewName("-report", ".pdf")))
}

func (s *Store) save(r io.Reader, name string) (string, error) {
	f, err := s.fs.OpenFile(s.Path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(s.Path(name))
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(s.Path(name))
		return "", err
	}
	return name, nil
}

// Import copies a file produced outside the store (e.g. a predictor's
// annotated image) in under a fresh "-processed" name. The source is left
// untouched so cached predictor outputs can be reused. fallbackExt is used
// when src has no extension.
func (s *Store) Import(src, fallbackExt string) (string, error) {
	in, err := s.fs.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	ext := filepath.Ext(src)
	if ext == "" {
		ext = fallbackExt
	}
	return s.save(in, s.NewName("-processed", ext))
}

// Exists reports whether name is a regular file in the store.
func (s *Store) Exists(name string) bool {
	c, err := s.clean(name)
	if err != nil {
		return false
	}
	fi, err := s.fs.Stat(filepath.Join(s.dir, c))
	return err == nil && fi.Mode().IsRegular()
}

// Remove deletes a stored file. A file that is already gone counts as
// removed.
func (s *Store) Remove(name string) error {
	c, err := s.clean(name)
	if err != nil {
		return err
	}
	err = s.fs.Remove(filepath.Join(s.dir, c))
	if err != nil && !errors.Is(err, fs.ErrNotExist) && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// URL is the public URL of a stored name.
func (s *Store) URL(name string) string {
	return s.baseURL + s.URLPrefix + "/" + filepath.ToSlash(name)
}

// HTTPFS is a read-only io/fs view rooted at the storage directory.
func (s *Store) HTTPFS() fs.FS {
	return afero.NewIOFS(afero.NewReadOnlyFs(afero.NewBasePathFs(s.fs, s.dir)))
}
