// Package documents implements file-level operations on the provider and
// model registry JSON documents: timestamped backups, atomic replacement and
// field-level edits that leave unrelated content untouched.
package documents

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Replaced in tests to simulate failures between write and rename.
var (
	rename   = os.Rename
	syncFile = func(f *os.File) error { return f.Sync() }
)

// WriteAtomic replaces path with data. The data is written to a temp file in
// the same directory, flushed and fsynced, then renamed over path. On any
// error the temp file is removed and path keeps its previous content.
// An existing file's permission bits are carried over.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(step string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := syncFile(tmp); err != nil {
		return fail("fsync temp file", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail("chmod temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	syncDir(dir)
	return nil
}

// syncDir makes the rename durable. Some platforms cannot fsync a directory,
// so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
