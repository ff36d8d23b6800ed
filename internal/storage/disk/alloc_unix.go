//go:build !windows

package disk

import (
	"os"
	"syscall"
)

func fileAllocatedBytes(fileInfo os.FileInfo) int64 {
	if fileInfo == nil {
		return 0
	}
	if stat, ok := fileInfo.Sys().(*syscall.Stat_t); ok && stat != nil {
		return int64(stat.Blocks) * 512
	}
	if size := fileInfo.Size(); size > 0 {
		return size
	}
	return 0
}
