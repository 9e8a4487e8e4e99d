package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	apperrors "nsmgr/internal/errors"
)

// localHandle keeps the file open for the whole session.
type localHandle struct {
	loc  Location
	path string
	f    *os.File
}

func openLocal(path string, mode Mode) (*localHandle, error) {
	flags := os.O_RDWR
	if mode == ModeCreate {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		msg := "cannot open container file"
		if errors.Is(err, fs.ErrNotExist) {
			msg = "container file does not exist"
		}
		return nil, apperrors.NewFileIOError("open", path, msg, err)
	}
	return &localHandle{
		loc:  Location{Scheme: SchemeFile, Raw: path, Display: path, Path: path},
		path: path,
		f:    f,
	}, nil
}

func (h *localHandle) Location() Location { return h.loc }

func (h *localHandle) ReadAll(ctx context.Context) ([]byte, error) {
	if _, err := h.f.Seek(0, io.SeekStart); err != nil {
		return nil, apperrors.NewFileIOError("read", h.path, "seek failed", err)
	}
	data, err := io.ReadAll(h.f)
	if err != nil {
		return nil, apperrors.NewFileIOError("read", h.path, "read failed", err)
	}
	return data, nil
}

// Replace truncates and rewrites the file through the open handle. A failure
// part way leaves a damaged file; see the backup command.
func (h *localHandle) Replace(ctx context.Context, data []byte) error {
	if err := h.f.Truncate(0); err != nil {
		return apperrors.NewFileIOError("write", h.path, "truncate failed", err)
	}
	if _, err := h.f.WriteAt(data, 0); err != nil {
		return apperrors.NewFileIOError("write", h.path, "write failed", err)
	}
	if err := h.f.Sync(); err != nil {
		return apperrors.NewFileIOError("write", h.path, "sync failed", err)
	}
	return nil
}

func (h *localHandle) Close() error {
	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}
