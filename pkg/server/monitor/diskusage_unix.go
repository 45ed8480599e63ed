//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// diskUsage returns the bytes allocated to a file, which differs from the
// logical size for sparse value logs.
func diskUsage(_ string, info os.FileInfo) int64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size()
	}
	// st_blocks is always in 512 byte units
	return stat.Blocks * 512
}
