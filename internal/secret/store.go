// Package secret remembers container passwords and SMB share credentials in
// the OS keyring, falling back to process memory when no keyring is usable.
package secret

import (
	"go.uber.org/zap"
)

// ShareCredentials authenticate against an SMB share.
type ShareCredentials struct {
	Domain   string
	User     string
	Password string
}

// Store abstracts a secure credentials store (e.g., OS keyring).
// Implementations should be safe to call from multiple goroutines.
type Store interface {
	GetShare(host, share string) (creds ShareCredentials, found bool, err error)
	SetShare(host, share string, creds ShareCredentials) error
	DeleteShare(host, share string) error

	GetPassword(location string) (password string, found bool, err error)
	SetPassword(location, password string) error
	DeletePassword(location string) error
}

// Open returns the OS keyring store, or a memory store if the keyring
// cannot be opened.
func Open(logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := NewKeyringStore()
	if err != nil {
		logger.Warn("OS keyring unavailable; secrets are kept for this session only", zap.Error(err))
		return NewMemoryStore()
	}
	return s
}
