package app

import (
	"os"
	"path/filepath"
)

// RootEnv names the environment variable overriding the root path.
const RootEnv = "MITMGATE_ROOT"

const (
	logSubdir = "var/log"
	tmpSubdir = "var/tmp"
)

// RootPath returns the directory the default log and tmp directories live
// under: $MITMGATE_ROOT if set, else the working directory.
func RootPath() string {
	if root := os.Getenv(RootEnv); root != "" {
		return filepath.Clean(root)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// LogDirectory returns the default log directory.
func LogDirectory() string {
	return filepath.Join(RootPath(), logSubdir)
}

// TmpDirectory returns the default temporary directory.
func TmpDirectory() string {
	return filepath.Join(RootPath(), tmpSubdir)
}
