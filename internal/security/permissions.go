package security

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PermConfigFile is for the job file, which holds signing secrets.
	PermConfigFile os.FileMode = 0640

	// PermLogFile is for the service log.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the build history database.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories the service creates.
	PermDirectory os.FileMode = 0750
)

// CreateSecureDir creates a directory and its parents with perm, fixing the
// mode if the directory already exists.
func CreateSecureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	// MkdirAll is subject to umask.
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// OpenAppendFile opens path for appending with perm, creating the file and
// its directory as needed.
func OpenAppendFile(path string, perm os.FileMode) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, PermDirectory); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return file, nil
}

// PrepareFile makes sure path exists with exactly perm, creating it empty if
// needed. It is used before handing a path to a library that would create
// the file with default permissions.
func PrepareFile(path string, perm os.FileMode) error {
	file, err := OpenAppendFile(path, perm)
	if err != nil {
		return err
	}
	file.Close()

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	return nil
}

// IsWorldReadable reports whether others may read a file with perm.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable reports whether others may write a file with perm.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions returns an error if the file at path is world
// readable or writable.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for files holding secrets", path, perm)
	}
	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o)", path, perm)
	}

	return nil
}
