package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

// Local implements Store on a directory of the local filesystem.
type Local struct {
	root string
	// only restricts listing to one file when the store was opened on a file path.
	only string
}

// NewLocal creates a store rooted at dir. The directory does not need to
// exist until the first call. When dir names a regular file the store lists
// exactly that file.
func NewLocal(dir string) *Local {
	root := filepath.Clean(dir)
	if info, err := os.Stat(root); err == nil && info.Mode().IsRegular() {
		return &Local{root: filepath.Dir(root), only: filepath.Base(root)}
	}
	return &Local{root: root}
}

// Root returns the store's root directory
func (l *Local) Root() string { return l.root }

// List walks the root and returns regular files in lexical key order.
// Keys use forward slashes regardless of platform.
func (l *Local) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("directory does not exist: "+l.root, nil)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat root directory")
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrorTypeFile, "root is not a directory").WithDetail("root", l.root)
	}
	if l.only != "" {
		fi, err := os.Stat(l.path(l.only))
		if err != nil {
			return nil, notFound("file does not exist: "+l.only, err)
		}
		if !strings.HasPrefix(l.only, prefix) {
			return nil, nil
		}
		return []ObjectInfo{{Key: l.only, Size: fi.Size(), LastModified: fi.ModTime()}}, nil
	}

	var objects []ObjectInfo
	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: fi.Size(), LastModified: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list directory").
			WithDetail("root", l.root)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Open returns the file at key. The returned value is an *os.File, so callers
// needing random access may type-assert to io.ReaderAt.
func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("object does not exist: "+key, nil)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open object").WithDetail("key", key)
	}
	return f, nil
}

// Put writes r to key through a temporary file renamed into place, so readers
// never observe a partial object.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) error {
	dst := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create directory").WithDetail("key", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temporary file").WithDetail("key", key)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close() //nolint:errcheck
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write object").WithDetail("key", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close object").WithDetail("key", key)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to commit object").WithDetail("key", key)
	}
	return nil
}

// Close is a no-op.
func (l *Local) Close() error { return nil }

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// ctxReader stops a copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Store = (*Local)(nil)
