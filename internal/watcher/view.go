package watcher

import (
	"time"

	"canopy/internal/reactive"
)

// LocationView is a read-only window onto a watched location. The listing
// containers are live while the location is online; consumers observe them
// but never mutate them.
type LocationView struct {
	location *location
}

func (v *LocationView) Path() string {
	return v.location.path
}

func (v *LocationView) Exists() bool {
	return v.stats() != nil
}

func (v *LocationView) IsFile() bool {
	stats := v.stats()
	return stats != nil && stats.IsFile
}

func (v *LocationView) IsDirectory() bool {
	stats := v.stats()
	return stats != nil && stats.IsDirectory
}

func (v *LocationView) DateCreated() time.Time {
	if stats := v.stats(); stats != nil {
		return stats.DateCreated
	}
	return time.Time{}
}

func (v *LocationView) DateModified() time.Time {
	if stats := v.stats(); stats != nil {
		return stats.DateModified
	}
	return time.Time{}
}

func (v *LocationView) FileSize() int64 {
	if stats := v.stats(); stats != nil {
		return stats.FileSize
	}
	return 0
}

// Stats returns a copy of the current snapshot, or nil while the path does
// not exist.
func (v *LocationView) Stats() *FileStats {
	stats := v.stats()
	if stats == nil {
		return nil
	}
	copied := *stats
	return &copied
}

// FilePaths is the live set of child file paths (directories only).
func (v *LocationView) FilePaths() reactive.SetView[string] {
	return v.location.filePaths
}

// SubdirPaths is the live set of child subdirectory paths (directories only).
func (v *LocationView) SubdirPaths() reactive.SetView[string] {
	return v.location.subdirPaths
}

// Entries is the live mapping from child name to its last-known stats.
func (v *LocationView) Entries() reactive.MapView[string, FileStats] {
	return v.location.entries
}

func (v *LocationView) stats() *FileStats {
	if v == nil || v.location == nil {
		return nil
	}
	w := v.location.owner
	w.mu.Lock()
	defer w.mu.Unlock()
	return v.location.stats
}
