package cmdutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// UsageError marks an error as a usage/config error (exit=2 for user-facing CLIs).
type UsageError struct {
	Msg string
	Err error // optional cause
}

func (e *UsageError) Error() string { return e.Msg }

func (e *UsageError) Unwrap() error { return e.Err }

// Usagef formats a UsageError.
func Usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// IsUsage reports whether err is a UsageError (directly or wrapped).
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// RefuseOverwrite returns a UsageError when path already exists and overwrite is false.
// Stat errors other than fs.ErrNotExist are returned as runtime errors.
func RefuseOverwrite(path string, overwrite bool) error {
	if path == "" || overwrite {
		return nil
	}
	_, err := os.Stat(path)
	if err == nil {
		return Usagef("refusing to overwrite existing file: %s (use --overwrite)", path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ReadArgOrFile returns the contents of arg when it names a regular file, otherwise
// arg itself. fromFile reports which one was used.
func ReadArgOrFile(arg string) (data []byte, fromFile bool, err error) {
	fi, err := os.Stat(arg)
	if err != nil || !fi.Mode().IsRegular() {
		return []byte(arg), false, nil
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return nil, true, err
	}
	return b, true, nil
}
