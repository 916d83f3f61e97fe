//go:build !linux

package task

func sweepUserFiles(dirs []string, username string) (int, error) {
	return 0, nil
}
