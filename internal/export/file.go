package export

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

// FileSink overwrites a single JSON file with the latest snapshot. Writes go
// to a temp file in the same directory and are renamed into place, so readers
// never observe a partial file.
type FileSink struct {
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (f *FileSink) Name() string { return "file" }

func (f *FileSink) Write(_ context.Context, _ time.Time, payload []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrapf(err, "create export dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return xerrors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrap(err, "chmod temp file")
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "rename into %s", f.path)
	}
	return nil
}
