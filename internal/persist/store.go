package persist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
)

// WriteFile replaces path with data through a synced temp file and rename so
// readers never observe a partial file. Parent directories are created 0700.
func WriteFile(path string, data []byte, perm os.FileMode, logger pslog.Logger) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("file path is required")
	}
	if logger != nil {
		logger = logger.With("path", path)
	}
	if err := writeFile(path, data, perm); err != nil {
		if logger != nil {
			logger.Warn("persist write failed", "err", err)
		}
		return err
	}
	if logger != nil {
		logger.Trace("persist write ok", "bytes", len(data))
	}
	return nil
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return err
	}
	return nil
}
