package session

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"nsmgr/internal/jobs"
	"nsmgr/internal/puppet"
	"nsmgr/internal/transfer"
	"nsmgr/internal/view"
)

// Add appends a nation and, when online, starts a status refresh for it.
func (s *Session) Add(name, password string) string {
	var id string
	s.loop.Do(func() {
		id = s.add(puppet.Credential{Name: strings.TrimSpace(name), Password: password})
		s.view.Resort()
	})
	return id
}

// add runs on the loop.
func (s *Session) add(c puppet.Credential) string {
	e := s.store.Add(c)
	s.view.Add(e)
	s.rev++
	s.refresh(e)
	return e.ID
}

// Edit changes name and password of an entry and refreshes its status. A
// worker already running for the entry is superseded.
func (s *Session) Edit(id, name, password string) error {
	err := fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	s.loop.Do(func() {
		if !s.store.Edit(id, puppet.Credential{Name: strings.TrimSpace(name), Password: password}) {
			return
		}
		e, _ := s.store.Get(id)
		s.view.Rename(id, e.Name)
		s.rev++
		s.refresh(e)
		s.view.Resort()
		err = nil
	})
	return err
}

// Remove drops entries and cancels their workers. It returns how many were
// removed.
func (s *Session) Remove(ids ...string) int {
	var n int
	s.loop.Do(func() {
		for _, id := range ids {
			if !s.store.Remove(id) {
				continue
			}
			s.jobs.Cancel(id)
			s.view.Remove(id)
			delete(s.selected, id)
			n++
		}
		if n > 0 {
			s.rev++
		}
	})
	return n
}

// Refresh starts a status retrieval for each entry.
func (s *Session) Refresh(ids ...string) error {
	return s.launch(ids, jobs.KindRetrieveStatus)
}

// Login attempts a login for each entry. Callers check LoginAllowed first;
// Login itself does not.
func (s *Session) Login(ids ...string) error {
	return s.launch(ids, jobs.KindLogin)
}

// Restore attempts to restore one entry. Callers check RestoreAllowed first.
func (s *Session) Restore(id string) error {
	return s.launch([]string{id}, jobs.KindRestore)
}

// LoginAllowed reports whether ids is non-empty and every entry's last
// status says the nation exists.
func (s *Session) LoginAllowed(ids ...string) bool {
	ok := len(ids) > 0
	s.loop.Do(func() {
		for _, id := range ids {
			r, found := s.view.Row(id)
			if !found || r.Status.Exists != jobs.ExistsYes {
				ok = false
				return
			}
		}
	})
	return ok
}

// RestoreAllowed reports whether ids is exactly one entry whose last status
// says the nation does not exist.
func (s *Session) RestoreAllowed(ids ...string) bool {
	if len(ids) != 1 {
		return false
	}
	var ok bool
	s.loop.Do(func() {
		r, found := s.view.Row(ids[0])
		ok = found && r.Status.Exists == jobs.ExistsNo
	})
	return ok
}

func (s *Session) launch(ids []string, kind jobs.Kind) error {
	if !s.online {
		return ErrOffline
	}
	var err error
	s.loop.Do(func() {
		entries := make([]*puppet.Entry, 0, len(ids))
		for _, id := range ids {
			e, ok := s.store.Get(id)
			if !ok {
				err = fmt.Errorf("%w: %s", ErrUnknownEntry, id)
				return
			}
			entries = append(entries, e)
		}
		for _, e := range entries {
			s.jobs.Launch(e, kind)
		}
		s.view.Resort()
	})
	return err
}

// Cancel stops the worker for each entry. Rows go back to the status they
// showed before the operation was launched.
func (s *Session) Cancel(ids ...string) int {
	var n int
	s.loop.Do(func() {
		for _, id := range ids {
			if s.jobs.Cancel(id) {
				n++
			}
		}
	})
	return n
}

// Workers lists the registered workers.
func (s *Session) Workers() []jobs.HandleSnapshot {
	var out []jobs.HandleSnapshot
	s.loop.Do(func() { out = s.jobs.List() })
	return out
}

// Entry returns a copy of an entry.
func (s *Session) Entry(id string) (puppet.Entry, bool) {
	var (
		e  puppet.Entry
		ok bool
	)
	s.loop.Do(func() {
		var p *puppet.Entry
		if p, ok = s.store.Get(id); ok {
			e = *p
		}
	})
	return e, ok
}

// Rows returns the displayed rows in order.
func (s *Session) Rows() []view.Row {
	var rows []view.Row
	s.loop.Do(func() { rows = s.view.Rows() })
	return rows
}

// Row returns the displayed row for id.
func (s *Session) Row(id string) (view.Row, bool) {
	var (
		r  view.Row
		ok bool
	)
	s.loop.Do(func() { r, ok = s.view.Row(id) })
	return r, ok
}

// SortBy selects a column as a header click would.
func (s *Session) SortBy(col view.Column) view.Sorter {
	var sorter view.Sorter
	s.loop.Do(func() {
		s.view.SelectColumn(col)
		sorter = s.view.Sorter()
	})
	return sorter
}

// SetSorter replaces the sort selection.
func (s *Session) SetSorter(sorter view.Sorter) {
	s.loop.Do(func() { s.view.SetSorter(sorter) })
}

// Select replaces the selection with the entries whose name matches the
// glob pattern, case-insensitively. It returns the ids in display order.
func (s *Session) Select(pattern string) ([]string, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	var ids []string
	s.loop.Do(func() {
		s.selected = make(map[string]bool)
		for _, r := range s.view.Rows() {
			if ok, _ := doublestar.Match(pattern, strings.ToLower(r.Name)); ok {
				s.selected[r.EntryID] = true
				ids = append(ids, r.EntryID)
			}
		}
	})
	return ids, nil
}

// SelectAll selects every entry.
func (s *Session) SelectAll() []string {
	var ids []string
	s.loop.Do(func() {
		s.selected = make(map[string]bool)
		for _, r := range s.view.Rows() {
			s.selected[r.EntryID] = true
			ids = append(ids, r.EntryID)
		}
	})
	return ids
}

// ClearSelection deselects every entry.
func (s *Session) ClearSelection() {
	s.loop.Do(func() { s.selected = make(map[string]bool) })
}

// Selected returns the selected ids in display order.
func (s *Session) Selected() []string {
	var ids []string
	s.loop.Do(func() {
		for _, r := range s.view.Rows() {
			if s.selected[r.EntryID] {
				ids = append(ids, r.EntryID)
			}
		}
	})
	return ids
}

// Import adds every nation in a list file and refreshes their status.
func (s *Session) Import(path string, opts transfer.Options) (int, error) {
	creds, err := transfer.Import(path, opts)
	if err != nil {
		return 0, err
	}
	s.loop.Do(func() {
		for _, c := range creds {
			s.add(c)
		}
		s.view.Resort()
	})
	s.logger.Info("imported", zap.String("path", path), zap.Int("entries", len(creds)))
	return len(creds), nil
}

// Export writes the store to a list file.
func (s *Session) Export(path string, opts transfer.Options) (int, error) {
	var creds []puppet.Credential
	s.loop.Do(func() { creds = s.store.Credentials() })
	if err := transfer.Export(path, creds, opts); err != nil {
		return 0, err
	}
	s.logger.Info("exported", zap.String("path", path), zap.Int("entries", len(creds)))
	return len(creds), nil
}
