//go:build linux

package filecache

import (
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// volumeUsage returns the used fraction of the filesystem holding path.
func volumeUsage(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	return 1 - float64(st.Bavail)/float64(st.Blocks), nil
}

func freeMemory() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return uint64(info.Freeram) * uint64(info.Unit), nil
}

// accessTime prefers atime and falls back to mtime.
func accessTime(info fs.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	atime := time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec))
	if atime.Unix() == 0 {
		return info.ModTime()
	}
	return atime
}
