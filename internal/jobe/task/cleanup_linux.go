//go:build linux

package task

import (
	"errors"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// sweepUserFiles removes every file under dirs owned by the named user.
// Directories are descended but never removed.
func sweepUserFiles(dirs []string, username string) (int, error) {
	if len(dirs) == 0 || username == "" {
		return 0, nil
	}
	u, err := user.Lookup(username)
	if err != nil {
		// No such account on this host; nothing can be owned by it.
		return 0, nil
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, err
	}
	return sweepUID(dirs, uint32(uid))
}

func sweepUID(dirs []string, uid uint32) (int, error) {
	removed := 0
	var errs []error
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtrees belong to someone else.
				if d != nil && d.IsDir() && path != dir {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			var st unix.Stat_t
			if err := unix.Lstat(path, &st); err != nil {
				return nil
			}
			if st.Uid != uid {
				return nil
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				return nil
			}
			removed++
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}
