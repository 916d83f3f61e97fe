//go:build !linux

package filecache

import (
	"io/fs"
	"math"
	"time"
)

func volumeUsage(string) (float64, error) { return 0, nil }

func freeMemory() (uint64, error) { return math.MaxInt64, nil }

func accessTime(info fs.FileInfo) time.Time { return info.ModTime() }
