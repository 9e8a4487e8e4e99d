// Package storage opens container locations: local files, SMB shares and S3
// objects. A Handle stays open for the life of a session and is rewritten in
// place on save.
package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/secret"
)

// Mode selects how Open treats a missing location.
type Mode int

const (
	// ModeOpen requires the location to exist.
	ModeOpen Mode = iota
	// ModeCreate creates the location if needed. Existing content is kept
	// until the first Replace.
	ModeCreate
)

// Handle is an open container location.
type Handle interface {
	Location() Location
	// ReadAll returns the current content.
	ReadAll(ctx context.Context) ([]byte, error)
	// Replace overwrites the content with data.
	Replace(ctx context.Context, data []byte) error
	Close() error
}

// LocalPath reports the filesystem path behind h, if any. SMB shares that
// are mounted locally resolve to their mount path.
func LocalPath(h Handle) (string, bool) {
	if lh, ok := h.(*localHandle); ok {
		return lh.path, true
	}
	return "", false
}

// S3Options configures s3:// locations.
type S3Options struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Options wires a Resolver.
type Options struct {
	// Secrets remembers SMB credentials. Nil disables persistence.
	Secrets secret.Store
	// Prompt asks for SMB credentials when none are known. Nil disables prompting.
	Prompt CredentialsPrompt
	S3     S3Options
	Logger *zap.Logger
}

// Resolver maps locations to handles.
type Resolver struct {
	secrets secret.Store
	prompt  CredentialsPrompt
	s3      S3Options
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]Credentials
	// mounts finds a local CIFS mount for host/share
	mounts func(host, share string) (string, bool)
}

// NewResolver constructs a Resolver.
func NewResolver(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		secrets: opts.Secrets,
		prompt:  opts.Prompt,
		s3:      opts.S3,
		logger:  opts.Logger.Named("storage"),
		cache:   make(map[string]Credentials),
		mounts:  findSMBMount,
	}
}

// Open parses location and opens it.
func (r *Resolver) Open(ctx context.Context, location string, mode Mode) (Handle, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, apperrors.NewFileIOError("open", location, "invalid location", err)
	}

	switch loc.Scheme {
	case SchemeSMB:
		// Prefer an existing CIFS mount over a direct SMB session.
		if mp, ok := r.mounts(loc.Host, loc.Share); ok {
			native := filepath.Join(mp, filepath.FromSlash(loc.sharePath()))
			r.logger.Debug("using cifs mount", zap.String("location", loc.Display), zap.String("path", native))
			h, err := openLocal(native, mode)
			if err != nil {
				return nil, err
			}
			h.loc = loc
			return h, nil
		}
		return r.openSMB(ctx, loc, mode)
	case SchemeS3:
		return r.openS3(ctx, loc, mode)
	default:
		return openLocal(loc.Path, mode)
	}
}

// SameLocation reports whether a and b name the same container.
func SameLocation(a, b string) bool {
	la, err := ParseLocation(a)
	if err != nil {
		return false
	}
	lb, err := ParseLocation(b)
	if err != nil {
		return false
	}
	if la.Scheme == SchemeSMB && lb.Scheme == SchemeSMB {
		return strings.EqualFold(la.Display, lb.Display)
	}
	return la.Display == lb.Display
}
