//go:build !windows

package translator

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// minFreeBytes is the free space required in a target directory before a
// subtitle is written.
const minFreeBytes = 100 << 20

// CheckDiskSpace verifies the directory's filesystem has enough free space.
func CheckDiskSpace(dir string) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem for %s: %w", dir, err)
	}
	free := int64(stat.Bavail) * stat.Bsize
	if free < minFreeBytes {
		return fmt.Errorf("insufficient disk space in %s: %d bytes free, need %d", dir, free, int64(minFreeBytes))
	}
	return nil
}
