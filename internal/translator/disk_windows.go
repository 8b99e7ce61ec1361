//go:build windows

package translator

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const minFreeBytes = 100 << 20

// CheckDiskSpace verifies the directory's volume has enough free space.
func CheckDiskSpace(dir string) error {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return fmt.Errorf("invalid path %s: %w", dir, err)
	}
	var free, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(path, &free, &total, &totalFree); err != nil {
		return fmt.Errorf("failed to query free space for %s: %w", dir, err)
	}
	if free < minFreeBytes {
		return fmt.Errorf("insufficient disk space in %s: %d bytes free, need %d", dir, free, uint64(minFreeBytes))
	}
	return nil
}
