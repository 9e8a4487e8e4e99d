// Package jobs runs one asynchronous remote operation per entry. A new
// operation for an entry supersedes the running one; only the worker still
// registered for an entry when it finishes may update that entry's status.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"nsmgr/internal/constants"
	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/gate"
	"nsmgr/internal/loop"
	"nsmgr/internal/nsapi"
	"nsmgr/internal/puppet"
)

// Remote is the subset of the NationStates client the workers use.
type Remote interface {
	QueryStatus(ctx context.Context, name string) (nsapi.NationStatus, error)
	AttemptLogin(ctx context.Context, name, password string) error
	AttemptRestore(ctx context.Context, name, password string) error
}

// StatusSink holds row statuses. It is only called on the loop.
type StatusSink interface {
	Status(entryID string) (Status, bool)
	SetStatus(entryID string, st Status)
	Resort()
}

// Config wires a Manager.
type Config struct {
	Loop   *loop.Loop
	Gate   *gate.Gate
	Remote Remote
	Sink   StatusSink
	Logger *zap.Logger
	// Clock stamps login and restore messages. Defaults to time.Now.
	Clock func() time.Time
}

// Manager owns the worker registry. Launch, Cancel, CancelAll, Active and
// List must be called on the loop; Wait and Shutdown must not.
type Manager struct {
	loop   *loop.Loop
	gate   *gate.Gate
	remote Remote
	sink   StatusSink
	logger *zap.Logger
	clock  func() time.Time

	// remote calls run under ctx so that a cancelled worker still
	// completes the request it already started
	ctx  context.Context
	stop context.CancelFunc

	nextID   int64
	handles  map[string]*Handle // loop only
	inFlight sync.WaitGroup

	mu          sync.Mutex
	subscribers []func(Result)
}

// NewManager constructs a Manager. It starts no goroutines until Launch.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		loop:    cfg.Loop,
		gate:    cfg.Gate,
		remote:  cfg.Remote,
		sink:    cfg.Sink,
		logger:  cfg.Logger.Named("jobs"),
		clock:   cfg.Clock,
		ctx:     ctx,
		stop:    stop,
		handles: make(map[string]*Handle),
	}
}

// Subscribe registers a callback run on the loop after every applied result.
func (m *Manager) Subscribe(cb func(Result)) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, cb)
	n := len(m.subscribers)
	m.mu.Unlock()
	m.logger.Debug("subscriber added", zap.Int("total", n))
}

func (m *Manager) notify(r Result) {
	m.mu.Lock()
	subs := append([]func(Result){}, m.subscribers...)
	m.mu.Unlock()
	for _, cb := range subs {
		cb(r)
	}
}

// Launch supersedes any worker for e, marks the row pending and starts a
// worker of the given kind. It returns without waiting for the remote.
func (m *Manager) Launch(e *puppet.Entry, kind Kind) *Handle {
	prior, _ := m.sink.Status(e.ID)
	if old, ok := m.handles[e.ID]; ok {
		prior = old.prior
		old.Cancel()
		delete(m.handles, e.ID)
		m.logger.Debug("superseded", zap.Int64("handle", old.ID), zap.String("entry", e.ID), zap.Stringer("kind", old.Kind))
	}

	m.sink.SetStatus(e.ID, PendingStatus(kind))

	h := &Handle{
		ID:        atomic.AddInt64(&m.nextID, 1),
		EntryID:   e.ID,
		Kind:      kind,
		StartedAt: time.Now(),
		name:      e.Name,
		password:  e.Password,
		prior:     prior,
	}
	h.ctx, h.cancel = context.WithCancel(m.ctx)
	m.handles[e.ID] = h

	m.inFlight.Add(1)
	go m.run(h)
	m.logger.Debug("launched", zap.Int64("handle", h.ID), zap.String("entry", e.ID), zap.Stringer("kind", kind))
	return h
}

// Cancel cancels and deregisters the worker for entryID without a
// replacement. The row goes back to the status it had before the first
// Launch of the superseded chain.
func (m *Manager) Cancel(entryID string) bool {
	h, ok := m.handles[entryID]
	if !ok {
		return false
	}
	h.Cancel()
	delete(m.handles, entryID)
	m.sink.SetStatus(entryID, h.prior)
	m.sink.Resort()
	m.logger.Debug("cancelled", zap.Int64("handle", h.ID), zap.String("entry", entryID))
	return true
}

// CancelAll cancels every registered worker.
func (m *Manager) CancelAll() {
	for id := range m.handles {
		m.Cancel(id)
	}
}

// Active returns the kind of the worker registered for entryID.
func (m *Manager) Active(entryID string) (Kind, bool) {
	h, ok := m.handles[entryID]
	if !ok {
		return 0, false
	}
	return h.Kind, true
}

// List returns the registered workers, oldest first.
func (m *Manager) List() []HandleSnapshot {
	out := make([]HandleSnapshot, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wait blocks until every launched worker has finished and its result has
// been applied or discarded.
func (m *Manager) Wait() {
	m.inFlight.Wait()
}

// Shutdown cancels all workers, aborts in-flight requests and waits for the
// workers to exit.
func (m *Manager) Shutdown() {
	m.loop.Do(m.CancelAll)
	m.stop()
	m.inFlight.Wait()
}

func (m *Manager) run(h *Handle) {
	st, ok := m.execute(h)
	posted := m.loop.Post(func() {
		defer m.inFlight.Done()
		m.complete(h, st, ok)
	})
	if !posted {
		m.inFlight.Done()
		m.logger.Debug("loop closed; result dropped", zap.Int64("handle", h.ID))
	}
}

// execute returns ok=false when the worker stopped before its remote call.
func (m *Manager) execute(h *Handle) (Status, bool) {
	if h.ctx.Err() != nil {
		return Status{}, false
	}
	permit, err := m.gate.Acquire(h.ctx, h.Kind.authenticated())
	if err != nil {
		m.logger.Debug("gate wait abandoned", zap.Int64("handle", h.ID), zap.Error(err))
		return Status{}, false
	}
	if h.ctx.Err() != nil {
		permit.Abort()
		return Status{}, false
	}
	defer permit.Release()

	m.logger.Debug("remote call", zap.Int64("handle", h.ID), zap.Stringer("kind", h.Kind), zap.String("nation", h.name))
	switch h.Kind {
	case KindLogin:
		return m.authenticate(h, m.remote.AttemptLogin,
			constants.LoginSucceededFormat, constants.LoginRejectedText, constants.LoginNetworkErrorText), true
	case KindRestore:
		return m.authenticate(h, m.remote.AttemptRestore,
			constants.RestoreSucceededFormat, constants.RestoreRejectedText, constants.RestoreNetworkErrorText), true
	default:
		return m.retrieveStatus(h), true
	}
}

func (m *Manager) retrieveStatus(h *Handle) Status {
	ns, err := m.remote.QueryStatus(m.ctx, h.name)
	switch {
	case err == nil:
		return Status{Icon: IconSuccess, Exists: ExistsYes, LastActivity: ns.LastActivity}
	case errors.Is(err, apperrors.ErrNotFound):
		return Status{Icon: IconFailure, Exists: ExistsNo}
	default:
		m.logger.Debug("status query failed", zap.Int64("handle", h.ID), zap.Error(err))
		return Status{Icon: IconWarning, Exists: ExistsUnknown, Message: constants.StatusNetworkErrorText}
	}
}

type attemptFunc func(ctx context.Context, name, password string) error

func (m *Manager) authenticate(h *Handle, attempt attemptFunc, okFormat, rejected, netErr string) Status {
	var st Status
	err := attempt(m.ctx, h.name, h.password)
	switch {
	case err == nil:
		st.Icon = IconSuccess
		st.Message = fmt.Sprintf(okFormat, m.clock().Local().Format(constants.ActionTimeLayout))
	case errors.Is(err, apperrors.ErrAuth):
		st.Icon = IconFailure
		st.Message = rejected
	default:
		m.logger.Debug("attempt failed", zap.Int64("handle", h.ID), zap.Error(err))
		st.Icon = IconWarning
		st.Message = netErr
	}

	// Refresh existence while still holding the gate.
	ns, err := m.remote.QueryStatus(m.ctx, h.name)
	switch {
	case err == nil:
		st.Exists = ExistsYes
		st.LastActivity = ns.LastActivity
	case errors.Is(err, apperrors.ErrNotFound):
		st.Exists = ExistsNo
	}
	return st
}

// complete runs on the loop.
func (m *Manager) complete(h *Handle, st Status, ok bool) {
	cur, registered := m.handles[h.EntryID]
	if !registered || cur != h {
		m.logger.Debug("result discarded", zap.Int64("handle", h.ID), zap.String("entry", h.EntryID))
		return
	}
	delete(m.handles, h.EntryID)
	if !ok {
		return
	}

	m.sink.SetStatus(h.EntryID, st)
	m.sink.Resort()
	m.logger.Debug("result applied", zap.Int64("handle", h.ID), zap.Stringer("icon", st.Icon), zap.Stringer("exists", st.Exists))
	m.notify(Result{HandleID: h.ID, EntryID: h.EntryID, Name: h.name, Kind: h.Kind, Status: st})
}
