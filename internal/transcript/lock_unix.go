//go:build unix

package transcript

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked indicates another process holds the transcript.
var ErrLocked = errors.New("transcript is locked by another process")

func lockFile(file *os.File) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}
		return err
	}
	return nil
}

func unlockFile(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
