//go:build linux

package watcher

import (
	"io/fs"
	"syscall"
	"time"
)

// creationTime approximates the birth time from the inode change time, the
// closest field linux stat exposes without statx.
func creationTime(info fs.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec))
	}
	return info.ModTime()
}
