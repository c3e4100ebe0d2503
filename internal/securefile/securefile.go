// Package securefile writes secret material (key files) with owner-only permissions.
package securefile

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// DirMode is applied to directories created for secret files.
	DirMode os.FileMode = 0o700
	// FileMode is applied to secret files.
	FileMode os.FileMode = 0o600
)

// EnsureParentDir creates the parent directory of filename when it does not exist yet.
//
// Existing directories are left untouched; only freshly created ones get DirMode.
func EnsureParentDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(dir, DirMode)
}

// WriteFileAtomic writes data to filename via a temp file in the same directory followed by
// a rename, so readers never observe a half-written key.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) (err error) {
	if err := EnsureParentDir(filename); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".tmp.*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if runtime.GOOS != "windows" {
		if err = f.Chmod(perm); err != nil {
			return err
		}
	}
	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	// os.Rename does not replace an existing file on Windows.
	if runtime.GOOS == "windows" {
		_ = os.Remove(filename)
	}
	if err = os.Rename(tmp, filename); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		// umask may have widened the mode on some filesystems.
		err = os.Chmod(filename, perm)
	}
	return err
}
