// Package watcher polls a file or directory for modifications
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/pkg/constants"
)

// Options tunes polling. Zero values take the package defaults.
type Options struct {
	Interval time.Duration
	// Threshold is the minimum mtime advance reported as a change
	Threshold time.Duration
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = constants.DefaultWatchInterval
	}
	if o.Threshold <= 0 {
		o.Threshold = constants.DefaultWatchThreshold
	}
}

// Watch polls path until ctx is cancelled. For a directory the newest mtime
// of any file below it is used. A notification is sent whenever that time
// advanced by at least the threshold; notifications coalesce while the
// receiver is busy.
func Watch(ctx context.Context, path string, opts Options) <-chan struct{} {
	opts.setDefaults()
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)

		last, err := modTime(path)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"path":  path,
				"error": err,
			}).Warn("watcher-cannot-stat")
		}

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, err := modTime(path)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"path":  path,
					"error": err,
				}).Debug("watcher-cannot-stat")
				continue
			}
			if current.Sub(last) < opts.Threshold {
				continue
			}
			last = current

			logger.WithField("path", path).Debug("watcher-change-detected")
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	return out
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	if !info.IsDir() {
		return info.ModTime(), nil
	}

	newest := info.ModTime()
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	return newest, err
}
