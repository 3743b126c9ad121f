//go:build !linux && !windows

package watcher

import (
	"io/fs"
	"time"
)

func creationTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
