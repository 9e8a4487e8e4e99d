// Package backup keeps timestamped tar.gz snapshots of container files.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mholt/archives"

	apperrors "nsmgr/internal/errors"
)

const (
	suffix      = ".tar.gz"
	stampLayout = "20060102-150405"
)

var format = archives.CompressedArchive{
	Compression: archives.Gz{},
	Archival:    archives.Tar{},
	Extraction:  archives.Tar{},
}

// Snapshot describes one backup archive.
type Snapshot struct {
	Path    string
	Name    string // container file name inside the archive
	Created time.Time
}

// Write stores data as name inside a new archive under dir and returns the
// archive path.
func Write(ctx context.Context, dir, name string, data []byte, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", apperrors.NewFileIOError("backup", dir, "cannot create backup directory", err)
	}
	archivePath := filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, now.Format(stampLayout), suffix))

	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", apperrors.NewFileIOError("backup", archivePath, "cannot create archive", err)
	}
	defer out.Close()

	file := archives.FileInfo{
		FileInfo:      memInfo{name: name, size: int64(len(data)), modTime: now},
		NameInArchive: name,
		Open: func() (fs.File, error) {
			return &memFile{Reader: bytes.NewReader(data), info: memInfo{name: name, size: int64(len(data)), modTime: now}}, nil
		},
	}
	if err := format.Archive(ctx, out, []archives.FileInfo{file}); err != nil {
		os.Remove(archivePath)
		return "", apperrors.NewFileIOError("backup", archivePath, "cannot write archive", err)
	}
	if err := out.Sync(); err != nil {
		return "", apperrors.NewFileIOError("backup", archivePath, "sync failed", err)
	}
	return archivePath, nil
}

// Read returns the container stored in an archive written by Write.
func Read(ctx context.Context, archivePath string) (name string, data []byte, err error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", nil, apperrors.NewFileIOError("restore", archivePath, "cannot open archive", err)
	}
	defer f.Close()

	found := false
	err = format.Extract(ctx, f, func(ctx context.Context, fi archives.FileInfo) error {
		if fi.IsDir() || found {
			return nil
		}
		rc, err := fi.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err = io.ReadAll(rc)
		if err != nil {
			return err
		}
		name = fi.NameInArchive
		found = true
		return nil
	})
	if err != nil {
		return "", nil, apperrors.NewFileIOError("restore", archivePath, "cannot read archive", err)
	}
	if !found {
		return "", nil, apperrors.NewFileIOError("restore", archivePath, "archive is empty", nil)
	}
	return name, data, nil
}

// List returns the snapshots in dir, newest first.
func List(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewFileIOError("list", dir, "cannot read backup directory", err)
	}
	var out []Snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		if s, ok := parseName(e.Name()); ok {
			s.Path = filepath.Join(dir, e.Name())
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

func parseName(file string) (Snapshot, bool) {
	base := strings.TrimSuffix(file, suffix)
	if len(base) <= len(stampLayout)+1 {
		return Snapshot{}, false
	}
	cut := len(base) - len(stampLayout)
	if base[cut-1] != '-' {
		return Snapshot{}, false
	}
	t, err := time.ParseInLocation(stampLayout, base[cut:], time.Local)
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{Name: base[:cut-1], Created: t}, true
}

type memInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() fs.FileMode  { return 0o600 }
func (i memInfo) ModTime() time.Time { return i.modTime }
func (i memInfo) IsDir() bool        { return false }
func (i memInfo) Sys() any           { return nil }

type memFile struct {
	*bytes.Reader
	info memInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }
