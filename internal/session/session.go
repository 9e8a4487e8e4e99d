// Package session owns the open container, the credential store and the
// displayed rows. Every mutation runs on the session loop; the exported
// methods may be called from any goroutine except that loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nsmgr/internal/constants"
	"nsmgr/internal/container"
	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/gate"
	"nsmgr/internal/jobs"
	"nsmgr/internal/loop"
	"nsmgr/internal/puppet"
	"nsmgr/internal/secret"
	"nsmgr/internal/storage"
	"nsmgr/internal/view"
	"nsmgr/internal/watcher"
)

var (
	// ErrNoFile is returned by Save when no container is open.
	ErrNoFile = errors.New("no container is open; use save-as")
	// ErrUnknownEntry is returned for an id that is not in the store.
	ErrUnknownEntry = errors.New("unknown entry")
	// ErrOffline is returned for remote operations on a session without a
	// Remote.
	ErrOffline = errors.New("session has no NationStates client")
)

// Options wires a Session.
type Options struct {
	// Remote is nil for an offline session: entries are never refreshed.
	Remote   jobs.Remote
	Gate     *gate.Gate
	Resolver *storage.Resolver
	// Secrets remembers container passwords. Nil disables remembering.
	Secrets secret.Store
	Sorter  view.Sorter
	Logger  *zap.Logger
	Clock   func() time.Time

	// OnExternalChange is called on the loop when the open local container
	// is changed by another program.
	OnExternalChange func(watcher.Change)
	WatchInterval    time.Duration
}

// openFile is the live container session.
type openFile struct {
	loc      storage.Location
	password string
	handle   storage.Handle
	watcher  *watcher.ContainerWatcher
}

func (f *openFile) close(logger *zap.Logger) {
	if f.watcher != nil {
		f.watcher.Stop()
	}
	if err := f.handle.Close(); err != nil {
		logger.Warn("closing container failed", zap.String("location", f.loc.Display), zap.Error(err))
	}
}

// Session is the engine a shell drives.
type Session struct {
	loop     *loop.Loop
	jobs     *jobs.Manager
	resolver *storage.Resolver
	secrets  secret.Store
	logger   *zap.Logger
	online   bool

	onChange      func(watcher.Change)
	watchInterval time.Duration

	// loop only
	store    *puppet.Store
	view     *view.View
	file     *openFile
	selected map[string]bool
	rev      int64 // bumped by every store mutation
	savedRev int64
}

// New starts a session with an empty, untitled store.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = storage.NewResolver(storage.Options{Secrets: opts.Secrets, Logger: opts.Logger})
	}
	if opts.Gate == nil {
		opts.Gate = gate.New(constants.DefaultLoginAttemptDelay, opts.Logger)
	}

	lp := loop.New()
	v := view.New(opts.Sorter)
	s := &Session{
		loop:          lp,
		resolver:      opts.Resolver,
		secrets:       opts.Secrets,
		logger:        opts.Logger.Named("session"),
		online:        opts.Remote != nil,
		onChange:      opts.OnExternalChange,
		watchInterval: opts.WatchInterval,
		store:         puppet.NewStore(),
		view:          v,
		selected:      make(map[string]bool),
	}
	s.jobs = jobs.NewManager(jobs.Config{
		Loop:   lp,
		Gate:   opts.Gate,
		Remote: opts.Remote,
		Sink:   v,
		Logger: opts.Logger,
		Clock:  opts.Clock,
	})
	return s
}

// Close cancels all workers, closes the container and stops the loop.
// Unsaved changes are lost.
func (s *Session) Close() {
	s.jobs.Shutdown()
	s.loop.Do(func() {
		if s.file != nil {
			s.file.close(s.logger)
			s.file = nil
		}
	})
	s.loop.Close()
}

// Wait blocks until no worker is in flight.
func (s *Session) Wait() { s.jobs.Wait() }

// Subscribe registers a callback run on the loop after every applied result.
func (s *Session) Subscribe(cb func(jobs.Result)) { s.jobs.Subscribe(cb) }

// Title is "nsmgr - <file name>" or "nsmgr - Untitled".
func (s *Session) Title() string {
	var title string
	s.loop.Do(func() {
		name := constants.UntitledName
		if s.file != nil {
			name = s.file.loc.BaseName()
		}
		title = constants.ApplicationName + " - " + name
	})
	return title
}

// Location returns the display location of the open container.
func (s *Session) Location() (string, bool) {
	var loc string
	var ok bool
	s.loop.Do(func() {
		if s.file != nil {
			loc, ok = s.file.loc.Display, true
		}
	})
	return loc, ok
}

// Dirty reports whether the store changed since it was last loaded or saved.
func (s *Session) Dirty() bool {
	var dirty bool
	s.loop.Do(func() { dirty = s.dirtyLocked() })
	return dirty
}

// dirtyLocked runs on the loop. An untitled empty store is never dirty.
func (s *Session) dirtyLocked() bool {
	if s.file == nil && s.store.Len() == 0 {
		return false
	}
	return s.rev != s.savedRev
}

// NewFile discards the store and closes the container.
func (s *Session) NewFile() {
	s.loop.Do(func() {
		s.jobs.CancelAll()
		if s.file != nil {
			s.file.close(s.logger)
			s.file = nil
		}
		s.replaceStore(puppet.NewStore())
		s.savedRev = s.rev
		s.logger.Debug("new untitled store")
	})
}

// Open reads and decrypts location. On failure the current store and file
// are kept. On success every entry gets a status refresh.
func (s *Session) Open(ctx context.Context, location, password string, remember bool) (int, error) {
	h, err := s.resolver.Open(ctx, location, storage.ModeOpen)
	if err != nil {
		return 0, err
	}
	data, err := h.ReadAll(ctx)
	if err != nil {
		h.Close()
		return 0, err
	}
	creds, err := container.Decode(data, password)
	if err != nil {
		h.Close()
		return 0, err
	}

	var n int
	s.loop.Do(func() {
		s.jobs.CancelAll()
		s.install(&openFile{loc: h.Location(), password: password, handle: h})
		s.replaceStore(puppet.FromCredentials(creds))
		s.savedRev = s.rev
		for _, e := range s.store.Entries() {
			s.refresh(e)
		}
		n = s.store.Len()
	})
	s.remember(h.Location().Display, password, remember)
	s.logger.Info("container opened", zap.String("location", h.Location().Display), zap.Int("entries", n))
	return n, nil
}

// Save rewrites the open container with its password. The write truncates
// the existing content first; a failure part way can leave it damaged.
func (s *Session) Save(ctx context.Context) error {
	err := ErrNoFile
	s.loop.Do(func() {
		if s.file == nil {
			return
		}
		rev := s.rev
		var data []byte
		data, err = container.Encode(s.store.Credentials(), s.file.password)
		if err != nil {
			return
		}
		if err = s.file.handle.Replace(ctx, data); err != nil {
			return
		}
		if s.file.watcher != nil {
			s.file.watcher.Acknowledge()
		}
		s.savedRev = rev
		s.logger.Info("container saved", zap.String("location", s.file.loc.Display), zap.Int("entries", s.store.Len()))
	})
	return err
}

// SaveAs writes the store to a new location and makes it the open container.
// On failure the current file stays open.
func (s *Session) SaveAs(ctx context.Context, location, password string, remember bool) error {
	if password == "" {
		return apperrors.NewConfigError("save", "a container password is required", container.ErrEmptyPassword)
	}
	var (
		creds []puppet.Credential
		rev   int64
	)
	s.loop.Do(func() {
		creds = s.store.Credentials()
		rev = s.rev
	})
	data, err := container.Encode(creds, password)
	if err != nil {
		return err
	}

	h, err := s.resolver.Open(ctx, location, storage.ModeCreate)
	if err != nil {
		return err
	}
	if err := h.Replace(ctx, data); err != nil {
		h.Close()
		return err
	}

	s.loop.Do(func() {
		s.install(&openFile{loc: h.Location(), password: password, handle: h})
		s.savedRev = rev
	})
	s.remember(h.Location().Display, password, remember)
	s.logger.Info("container saved", zap.String("location", h.Location().Display), zap.Int("entries", len(creds)))
	return nil
}

// RememberedPassword returns the stored password for location, if any.
func (s *Session) RememberedPassword(location string) (string, bool) {
	if s.secrets == nil {
		return "", false
	}
	loc, err := storage.ParseLocation(location)
	if err != nil {
		return "", false
	}
	pw, found, err := s.secrets.GetPassword(loc.Display)
	if err != nil {
		s.logger.Debug("password lookup failed", zap.String("location", loc.Display), zap.Error(err))
		return "", false
	}
	return pw, found
}

// Forget removes a remembered password.
func (s *Session) Forget(location string) error {
	if s.secrets == nil {
		return nil
	}
	loc, err := storage.ParseLocation(location)
	if err != nil {
		return err
	}
	return s.secrets.DeletePassword(loc.Display)
}

func (s *Session) remember(display, password string, remember bool) {
	if !remember || s.secrets == nil {
		return
	}
	if err := s.secrets.SetPassword(display, password); err != nil {
		s.logger.Warn("could not remember container password", zap.String("location", display), zap.Error(err))
	}
}

// install runs on the loop. It closes the previous file and starts watching
// the new one when it is local.
func (s *Session) install(f *openFile) {
	if s.file != nil {
		s.file.close(s.logger)
	}
	if path, ok := storage.LocalPath(f.handle); ok && s.onChange != nil {
		f.watcher = watcher.NewContainerWatcher(path, s.loop, s.logger)
		f.watcher.SetInterval(s.watchInterval)
		f.watcher.Subscribe(s.onChange)
		f.watcher.Start()
	}
	s.file = f
}

// refresh runs on the loop.
func (s *Session) refresh(e *puppet.Entry) {
	if s.online {
		s.jobs.Launch(e, jobs.KindRetrieveStatus)
	}
}

// replaceStore runs on the loop.
func (s *Session) replaceStore(st *puppet.Store) {
	s.store = st
	s.view.Reset(st.Entries())
	s.view.Resort()
	s.selected = make(map[string]bool)
	s.rev++
}

// ReadContainer returns the bytes currently stored at the open location,
// serialized with Save.
func (s *Session) ReadContainer(ctx context.Context) (name string, data []byte, err error) {
	err = ErrNoFile
	s.loop.Do(func() {
		if s.file == nil {
			return
		}
		name = s.file.loc.BaseName()
		data, err = s.file.handle.ReadAll(ctx)
	})
	if err != nil && !errors.Is(err, ErrNoFile) {
		err = fmt.Errorf("read container: %w", err)
	}
	return name, data, err
}
