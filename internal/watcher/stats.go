package watcher

import (
	"io/fs"
	"os"
	"time"

	"github.com/spf13/afero"
)

// FileStats is a point-in-time snapshot of a path's metadata.
type FileStats struct {
	Exists       bool      `json:"exists"`
	IsFile       bool      `json:"is_file"`
	IsDirectory  bool      `json:"is_directory"`
	DateCreated  time.Time `json:"date_created"`
	DateModified time.Time `json:"date_modified"`
	FileSize     int64     `json:"file_size"`
}

// statPath fetches the current stats for path. A missing path is a normal
// outcome and yields (nil, nil); any other failure is returned as-is.
func statPath(fsys afero.Fs, path string) (*FileStats, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	stats := statsFromInfo(info)
	return &stats, nil
}

func statsFromInfo(info fs.FileInfo) FileStats {
	return FileStats{
		Exists:       true,
		IsFile:       info.Mode().IsRegular(),
		IsDirectory:  info.IsDir(),
		DateCreated:  creationTime(info),
		DateModified: info.ModTime(),
		FileSize:     info.Size(),
	}
}
