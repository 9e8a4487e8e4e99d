// Package puppet holds the credential store: an ordered list of nation
// name/password entries owned by one session.
package puppet

import (
	"github.com/google/uuid"
)

// Credential is the persisted part of an entry.
type Credential struct {
	Name     string `json:"name" yaml:"name"`
	Password string `json:"password" yaml:"password"`
}

// Entry is one nation in the store. ID identifies the entry for the lifetime
// of the session only; it is never written to a container.
type Entry struct {
	ID string
	Credential
}

// Store is an ordered collection of entries. Duplicate names are allowed.
// Store is not safe for concurrent use; callers mutate it from the session loop.
type Store struct {
	entries []*Entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// FromCredentials builds a store with a fresh id for every credential.
func FromCredentials(creds []Credential) *Store {
	s := &Store{entries: make([]*Entry, 0, len(creds))}
	for _, c := range creds {
		s.Add(c)
	}
	return s
}

// Add appends a credential and returns the new entry.
func (s *Store) Add(c Credential) *Entry {
	e := &Entry{ID: uuid.NewString(), Credential: c}
	s.entries = append(s.entries, e)
	return e
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (*Entry, bool) {
	i := s.index(id)
	if i < 0 {
		return nil, false
	}
	return s.entries[i], true
}

// Edit replaces name and password of an entry in place.
func (s *Store) Edit(id string, c Credential) bool {
	e, ok := s.Get(id)
	if !ok {
		return false
	}
	e.Credential = c
	return true
}

// Remove deletes an entry, keeping the order of the rest.
func (s *Store) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.entries) }

// Entries returns the entries in store order. The slice is a copy; the
// entries are shared.
func (s *Store) Entries() []*Entry {
	return append([]*Entry(nil), s.entries...)
}

// IDs returns all entry ids in store order.
func (s *Store) IDs() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.ID
	}
	return out
}

// Credentials returns a value snapshot of the store, used for Save and Export.
func (s *Store) Credentials() []Credential {
	out := make([]Credential, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Credential
	}
	return out
}

func (s *Store) index(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
