package common

import (
	"errors"
	"io/fs"
	"os"
)

// PathState is the outcome of an existence check.
type PathState int

const (
	PathExists PathState = iota
	PathAbsent
	PathInaccessible
)

func (s PathState) String() string {
	switch s {
	case PathExists:
		return "exists"
	case PathAbsent:
		return "absent"
	default:
		return "inaccessible"
	}
}

// CheckPath stats path. A missing path is PathAbsent; any other stat failure
// (permissions, I/O) is PathInaccessible.
func CheckPath(path string) PathState {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return PathExists
	case errors.Is(err, fs.ErrNotExist):
		return PathAbsent
	default:
		return PathInaccessible
	}
}

// CheckAll combines CheckPath over every path with a logical AND: any absent
// path makes the result PathAbsent, otherwise any inaccessible path makes it
// PathInaccessible.
func CheckAll(paths ...string) PathState {
	result := PathExists
	for _, p := range paths {
		switch CheckPath(p) {
		case PathAbsent:
			return PathAbsent
		case PathInaccessible:
			result = PathInaccessible
		}
	}
	return result
}

// FileExists checks if a file exists using os.Stat, returns false if any error occurs
func FileExists(path string) bool {
	return CheckPath(path) == PathExists
}
