package storage

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"
	"go.uber.org/zap"

	apperrors "nsmgr/internal/errors"
)

const smbDialTimeout = 5 * time.Second

// smbHandle opens a fresh SMB session per operation; nothing is held open
// between reads and writes.
type smbHandle struct {
	r   *Resolver
	loc Location
}

func (r *Resolver) openSMB(ctx context.Context, loc Location, mode Mode) (Handle, error) {
	h := &smbHandle{r: r, loc: loc}
	err := h.withShare(ctx, "open", func(share *smb2.Share) error {
		_, err := share.Stat(loc.sharePath())
		if err == nil {
			return nil
		}
		if isNotExist(err) && mode == ModeCreate {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *smbHandle) Location() Location { return h.loc }

func (h *smbHandle) ReadAll(ctx context.Context) ([]byte, error) {
	var data []byte
	err := h.withShare(ctx, "read", func(share *smb2.Share) error {
		var err error
		data, err = share.ReadFile(h.loc.sharePath())
		return err
	})
	return data, err
}

func (h *smbHandle) Replace(ctx context.Context, data []byte) error {
	return h.withShare(ctx, "write", func(share *smb2.Share) error {
		return share.WriteFile(h.loc.sharePath(), data, 0600)
	})
}

func (h *smbHandle) Close() error { return nil }

func (h *smbHandle) withShare(ctx context.Context, op string, fn func(*smb2.Share) error) error {
	loc := h.loc
	creds := h.r.shareCredentials(loc)

	addr := loc.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "445")
	}

	// Establish TCP connection to SMB port
	dialer := net.Dialer{Timeout: smbDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return apperrors.NewStorageError(op, loc.Display, "cannot reach SMB server", err)
	}
	defer conn.Close()

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     creds.Username,
			Password: creds.Password,
			Domain:   creds.Domain,
		},
	}
	sess, err := d.DialContext(ctx, conn)
	if err != nil {
		if isAuthError(err) {
			h.r.clearCached(loc.Host, loc.Share)
		}
		return apperrors.NewStorageError(op, loc.Display, "SMB session failed", err)
	}
	defer sess.Logoff()

	share, err := sess.Mount(loc.Share)
	if err != nil {
		if isAuthError(err) {
			h.r.clearCached(loc.Host, loc.Share)
		}
		return apperrors.NewStorageError(op, loc.Display, "cannot mount share", err)
	}
	defer share.Umount()

	h.r.persistCredentials(loc, creds)
	h.r.logger.Debug("smb operation", zap.String("op", op), zap.String("location", loc.Display))

	if err := fn(share.WithContext(ctx)); err != nil {
		if isAuthError(err) {
			h.r.clearCached(loc.Host, loc.Share)
		}
		return apperrors.NewStorageError(op, loc.Display, "SMB file operation failed", err)
	}
	return nil
}

func isNotExist(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "object_name_not_found") || strings.Contains(e, "object_path_not_found")
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	e := strings.ToLower(err.Error())
	// Common indicators from Windows/SMB servers
	return strings.Contains(e, "logon is invalid") ||
		strings.Contains(e, "bad username") ||
		strings.Contains(e, "authentication") ||
		strings.Contains(e, "status_logon_failure") ||
		strings.Contains(e, "access is denied")
}
