//go:build windows

package disk

import "os"

func fileAllocatedBytes(fileInfo os.FileInfo) int64 {
	if fileInfo == nil {
		return 0
	}
	if size := fileInfo.Size(); size > 0 {
		return size
	}
	return 0
}
