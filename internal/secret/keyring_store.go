package secret

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"nsmgr/internal/constants"
)

type keyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore tries to open the OS keyring via 99designs/keyring.
// If it fails, returns an error so callers can fallback to memory.
func NewKeyringStore() (Store, error) {
	r, err := keyring.Open(keyring.Config{ServiceName: constants.KeyringService})
	if err != nil {
		return nil, err
	}
	return &keyringStore{ring: r}, nil
}

// NewMemoryStore keeps secrets in process memory.
func NewMemoryStore() Store {
	return &keyringStore{ring: keyring.NewArrayKeyring(nil)}
}

func shareKey(host, share string) string { return fmt.Sprintf("smb|%s|%s", host, share) }

func passwordKey(location string) string { return "container|" + location }

func (s *keyringStore) get(key string) (keyring.Item, bool, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return keyring.Item{}, false, nil
		}
		return keyring.Item{}, false, err
	}
	return item, true, nil
}

func (s *keyringStore) remove(key string) error {
	err := s.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *keyringStore) GetShare(host, share string) (ShareCredentials, bool, error) {
	item, found, err := s.get(shareKey(host, share))
	if err != nil || !found {
		return ShareCredentials{}, false, err
	}
	// Store user/domain in item.Description as "domain\user"; password in item.Data
	var c ShareCredentials
	desc := item.Description
	if desc != "" {
		// parse domain\user or user
		if i := indexRuneAny(desc, []rune{'\\', ';'}); i >= 0 {
			c.Domain = desc[:i]
			c.User = desc[i+1:]
		} else {
			c.User = desc
		}
	}
	c.Password = string(item.Data)
	return c, true, nil
}

func (s *keyringStore) SetShare(host, share string, c ShareCredentials) error {
	desc := c.User
	if c.Domain != "" {
		desc = c.Domain + "\\" + c.User
	}
	return s.ring.Set(keyring.Item{
		Key:         shareKey(host, share),
		Data:        []byte(c.Password),
		Description: desc,
		Label:       constants.KeyringService + " smb",
	})
}

func (s *keyringStore) DeleteShare(host, share string) error {
	return s.remove(shareKey(host, share))
}

func (s *keyringStore) GetPassword(location string) (string, bool, error) {
	item, found, err := s.get(passwordKey(location))
	if err != nil || !found {
		return "", false, err
	}
	return string(item.Data), true, nil
}

func (s *keyringStore) SetPassword(location, password string) error {
	return s.ring.Set(keyring.Item{
		Key:         passwordKey(location),
		Data:        []byte(password),
		Description: location,
		Label:       constants.KeyringService + " container",
	})
}

func (s *keyringStore) DeletePassword(location string) error {
	return s.remove(passwordKey(location))
}

// indexRuneAny returns the first index of any rune in targets.
func indexRuneAny(s string, targets []rune) int {
	for i, r := range s {
		for _, t := range targets {
			if r == t {
				return i
			}
		}
	}
	return -1
}
