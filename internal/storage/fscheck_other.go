//go:build !darwin && !linux

package storage

import "fmt"

// Without a detector we cannot rule out a network mount, and SQLite
// locking misbehaves on those. The caller reports this as a state path
// problem rather than guessing.
func detectFilesystemType(path string) (string, error) {
	return "", fmt.Errorf("filesystem detection is unsupported on this platform")
}
