package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nsmgr/internal/constants"
	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/gate"
	"nsmgr/internal/loop"
	"nsmgr/internal/nsapi"
	"nsmgr/internal/nsapi/nsapitest"
	"nsmgr/internal/puppet"
)

// fakeRemote answers from memory. Calls for a held name block until released.
type fakeRemote struct {
	mu        sync.Mutex
	nations   map[string]time.Time // existing nations and their last login
	dead      map[string]bool
	passwords map[string]string
	netErr    bool
	holds     map[string]chan struct{}
	calls     []string
	started   chan string

	inFlight    int32
	maxInFlight int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nations:   make(map[string]time.Time),
		dead:      make(map[string]bool),
		passwords: make(map[string]string),
		holds:     make(map[string]chan struct{}),
		started:   make(chan string, 100),
	}
}

func (f *fakeRemote) hold(name string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[name] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeRemote) begin(ctx context.Context, kind, name string) {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, kind+":"+name)
	ch := f.holds[name]
	f.mu.Unlock()
	f.started <- kind + ":" + name
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
}

func (f *fakeRemote) end() { atomic.AddInt32(&f.inFlight, -1) }

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) QueryStatus(ctx context.Context, name string) (nsapi.NationStatus, error) {
	f.begin(ctx, "status", name)
	defer f.end()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.netErr {
		return nsapi.NationStatus{}, apperrors.NewNetworkError("query_status", name, "down", nil)
	}
	t, ok := f.nations[name]
	if !ok || f.dead[name] {
		return nsapi.NationStatus{}, apperrors.NewNotFoundError("query_status", name, "nope")
	}
	return nsapi.NationStatus{Exists: true, LastActivity: t}, nil
}

func (f *fakeRemote) AttemptLogin(ctx context.Context, name, password string) error {
	f.begin(ctx, "login", name)
	defer f.end()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.netErr {
		return apperrors.NewNetworkError("login", name, "down", nil)
	}
	if _, ok := f.nations[name]; !ok || f.dead[name] || f.passwords[name] != password {
		return apperrors.NewAuthError("login", name, "rejected")
	}
	return nil
}

func (f *fakeRemote) AttemptRestore(ctx context.Context, name, password string) error {
	f.begin(ctx, "restore", name)
	defer f.end()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.netErr {
		return apperrors.NewNetworkError("restore", name, "down", nil)
	}
	if !f.dead[name] || f.passwords[name] != password {
		return apperrors.NewAuthError("restore", name, "rejected")
	}
	f.dead[name] = false
	return nil
}

type recordingSink struct {
	history map[string][]Status
	resorts int
}

func (s *recordingSink) Status(id string) (Status, bool) {
	hist := s.history[id]
	if len(hist) == 0 {
		return Status{}, false
	}
	return hist[len(hist)-1], true
}

func (s *recordingSink) SetStatus(id string, st Status) {
	s.history[id] = append(s.history[id], st)
}

func (s *recordingSink) Resort() { s.resorts++ }

var fixedClock = time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)

type harness struct {
	loop *loop.Loop
	gate *gate.Gate
	mgr  *Manager
	sink *recordingSink
}

func newHarness(t *testing.T, remote Remote) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		loop: loop.New(),
		gate: gate.New(0, logger),
		sink: &recordingSink{history: make(map[string][]Status)},
	}
	h.mgr = NewManager(Config{
		Loop:   h.loop,
		Gate:   h.gate,
		Remote: remote,
		Sink:   h.sink,
		Logger: logger,
		Clock:  func() time.Time { return fixedClock },
	})
	t.Cleanup(func() {
		h.mgr.Shutdown()
		h.loop.Close()
	})
	return h
}

func (h *harness) launch(e *puppet.Entry, kind Kind) *Handle {
	var hd *Handle
	h.loop.Do(func() { hd = h.mgr.Launch(e, kind) })
	return hd
}

func (h *harness) cancel(id string) {
	h.loop.Do(func() { h.mgr.Cancel(id) })
}

func (h *harness) history(id string) []Status {
	var out []Status
	h.loop.Do(func() { out = append(out, h.sink.history[id]...) })
	return out
}

func (h *harness) last(id string) Status {
	hist := h.history(id)
	if len(hist) == 0 {
		return Status{}
	}
	return hist[len(hist)-1]
}

func (h *harness) active(id string) (Kind, bool) {
	var k Kind
	var ok bool
	h.loop.Do(func() { k, ok = h.mgr.Active(id) })
	return k, ok
}

func waitStarted(t *testing.T, f *fakeRemote, want string) {
	t.Helper()
	select {
	case got := <-f.started:
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("remote call %s never started", want)
	}
}

func entry(name, password string) *puppet.Entry {
	return puppet.NewStore().Add(puppet.Credential{Name: name, Password: password})
}

func TestRetrieveStatusOutcomes(t *testing.T) {
	remote := newFakeRemote()
	t1 := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	remote.nations["Alpha"] = t1

	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")
	beta := entry("Beta", "p2")

	h.launch(alpha, KindRetrieveStatus)
	h.launch(beta, KindRetrieveStatus)
	h.mgr.Wait()

	assert.Equal(t, Status{Icon: IconSuccess, Exists: ExistsYes, LastActivity: t1}, h.last(alpha.ID))
	assert.Equal(t, Status{Icon: IconFailure, Exists: ExistsNo}, h.last(beta.ID))

	_, ok := h.active(alpha.ID)
	assert.False(t, ok)
}

func TestRetrieveStatusNetworkError(t *testing.T) {
	remote := newFakeRemote()
	remote.netErr = true
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	h.launch(alpha, KindRetrieveStatus)
	h.mgr.Wait()

	assert.Equal(t, Status{
		Icon:    IconWarning,
		Exists:  ExistsUnknown,
		Message: constants.StatusNetworkErrorText,
	}, h.last(alpha.ID))
}

func TestLaunchMarksPending(t *testing.T) {
	remote := newFakeRemote()
	release := remote.hold("Alpha")
	defer release()
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	h.launch(alpha, KindLogin)

	assert.Equal(t, PendingStatus(KindLogin), h.history(alpha.ID)[0])
	k, ok := h.active(alpha.ID)
	require.True(t, ok)
	assert.Equal(t, KindLogin, k)
}

func TestLoginOutcomes(t *testing.T) {
	remote := newFakeRemote()
	t1 := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	remote.nations["Alpha"] = t1
	remote.passwords["Alpha"] = "right"
	h := newHarness(t, remote)

	ok := entry("Alpha", "right")
	bad := entry("Alpha", "wrong")
	h.launch(ok, KindLogin)
	h.launch(bad, KindLogin)
	h.mgr.Wait()

	assert.Equal(t, Status{
		Icon:         IconSuccess,
		Exists:       ExistsYes,
		LastActivity: t1,
		Message:      "logged in at 2024-05-06 07:08:09",
	}, h.last(ok.ID))
	assert.Equal(t, Status{
		Icon:         IconFailure,
		Exists:       ExistsYes,
		LastActivity: t1,
		Message:      constants.LoginRejectedText,
	}, h.last(bad.ID))
}

func TestLoginNetworkError(t *testing.T) {
	remote := newFakeRemote()
	remote.netErr = true
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	h.launch(alpha, KindLogin)
	h.mgr.Wait()

	assert.Equal(t, Status{
		Icon:    IconWarning,
		Exists:  ExistsUnknown,
		Message: constants.LoginNetworkErrorText,
	}, h.last(alpha.ID))
}

func TestRestore(t *testing.T) {
	remote := newFakeRemote()
	remote.nations["Gamma"] = time.Time{}
	remote.dead["Gamma"] = true
	remote.passwords["Gamma"] = "pw"
	h := newHarness(t, remote)
	gamma := entry("Gamma", "pw")

	h.launch(gamma, KindRestore)
	h.mgr.Wait()

	st := h.last(gamma.ID)
	assert.Equal(t, IconSuccess, st.Icon)
	assert.Equal(t, ExistsYes, st.Exists)
	assert.Equal(t, "restored at 2024-05-06 07:08:09", st.Message)
	assert.Equal(t, []string{"restore:Gamma", "status:Gamma"}, remote.Calls())
}

func TestRestoreRejectedKeepsExistence(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote)
	gone := entry("Gone", "pw")

	h.launch(gone, KindRestore)
	h.mgr.Wait()

	assert.Equal(t, Status{
		Icon:    IconFailure,
		Exists:  ExistsNo,
		Message: constants.RestoreRejectedText,
	}, h.last(gone.ID))
}

// A login issued while the status query for the same entry is on the wire
// wins, and the query's result is never shown.
func TestSupersededWhileRunning(t *testing.T) {
	remote := newFakeRemote()
	remote.nations["Alpha"] = time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	remote.passwords["Alpha"] = "p1"
	release := remote.hold("Alpha")
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	first := h.launch(alpha, KindRetrieveStatus)
	waitStarted(t, remote, "status:Alpha")
	second := h.launch(alpha, KindLogin)
	require.NotEqual(t, first.ID, second.ID)

	k, ok := h.active(alpha.ID)
	require.True(t, ok)
	assert.Equal(t, KindLogin, k)

	release()
	h.mgr.Wait()

	hist := h.history(alpha.ID)
	require.Len(t, hist, 3)
	assert.Equal(t, PendingStatus(KindRetrieveStatus), hist[0])
	assert.Equal(t, PendingStatus(KindLogin), hist[1])
	assert.Equal(t, IconSuccess, hist[2].Icon)
	assert.Equal(t, "logged in at 2024-05-06 07:08:09", hist[2].Message)
	// The superseded query still went out.
	assert.Equal(t, []string{"status:Alpha", "login:Alpha", "status:Alpha"}, remote.Calls())
}

// A status query superseded while waiting for the gate never reaches the remote.
func TestSupersededWhileWaiting(t *testing.T) {
	remote := newFakeRemote()
	remote.nations["Alpha"] = time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	remote.passwords["Alpha"] = "p1"
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	held, err := h.gate.Acquire(context.Background(), false)
	require.NoError(t, err)

	h.launch(alpha, KindRetrieveStatus)
	h.launch(alpha, KindLogin)
	held.Release()
	h.mgr.Wait()

	assert.Equal(t, []string{"login:Alpha", "status:Alpha"}, remote.Calls())
	hist := h.history(alpha.ID)
	require.Len(t, hist, 3)
	assert.Equal(t, IconSuccess, hist[2].Icon)
	assert.Equal(t, "logged in at 2024-05-06 07:08:09", hist[2].Message)
}

func TestCancelledResultIsSilent(t *testing.T) {
	remote := newFakeRemote()
	remote.nations["Alpha"] = time.Now()
	release := remote.hold("Alpha")
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	var notified int32
	h.mgr.Subscribe(func(Result) { atomic.AddInt32(&notified, 1) })

	h.launch(alpha, KindRetrieveStatus)
	waitStarted(t, remote, "status:Alpha")
	h.cancel(alpha.ID)
	release()
	h.mgr.Wait()

	// the pending mark is undone and the late result is never applied
	assert.Equal(t, []Status{PendingStatus(KindRetrieveStatus), {}}, h.history(alpha.ID))
	assert.Zero(t, atomic.LoadInt32(&notified))
	var resorts int
	h.loop.Do(func() { resorts = h.sink.resorts })
	assert.Equal(t, 1, resorts)
}

func TestCancelRestoresStatusBeforeLaunch(t *testing.T) {
	remote := newFakeRemote()
	release := remote.hold("Alpha")
	defer release()
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	known := Status{Icon: IconSuccess, Exists: ExistsYes, LastActivity: fixedClock}
	h.loop.Do(func() { h.sink.SetStatus(alpha.ID, known) })

	h.launch(alpha, KindRetrieveStatus)
	h.launch(alpha, KindLogin)
	assert.Equal(t, PendingStatus(KindLogin), h.last(alpha.ID))

	h.cancel(alpha.ID)
	assert.Equal(t, known, h.last(alpha.ID))
	_, ok := h.active(alpha.ID)
	assert.False(t, ok)
}

func TestCancelBeforeGate(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	held, err := h.gate.Acquire(context.Background(), false)
	require.NoError(t, err)
	h.launch(alpha, KindLogin)
	h.cancel(alpha.ID)
	held.Release()
	h.mgr.Wait()

	assert.Empty(t, remote.Calls())
	_, ok := h.active(alpha.ID)
	assert.False(t, ok)
}

func TestLaunchSnapshotsCredentials(t *testing.T) {
	remote := newFakeRemote()
	release := remote.hold("Alpha")
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	h.launch(alpha, KindRetrieveStatus)
	waitStarted(t, remote, "status:Alpha")
	h.loop.Do(func() { alpha.Name = "Renamed" })
	release()
	h.mgr.Wait()

	assert.Equal(t, []string{"status:Alpha"}, remote.Calls())
}

func TestWorkersNeverOverlap(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote)

	var entries []*puppet.Entry
	store := puppet.NewStore()
	for _, n := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		remote.nations[n] = time.Now()
		entries = append(entries, store.Add(puppet.Credential{Name: n, Password: "x"}))
	}
	for i, e := range entries {
		kind := KindRetrieveStatus
		if i%2 == 1 {
			kind = KindLogin
		}
		h.launch(e, kind)
	}
	h.mgr.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.maxInFlight))
}

func TestSubscribeAndResort(t *testing.T) {
	remote := newFakeRemote()
	remote.nations["Alpha"] = time.Now()
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")

	results := make(chan Result, 1)
	h.mgr.Subscribe(func(r Result) { results <- r })

	hd := h.launch(alpha, KindRetrieveStatus)
	h.mgr.Wait()

	r := <-results
	assert.Equal(t, hd.ID, r.HandleID)
	assert.Equal(t, alpha.ID, r.EntryID)
	assert.Equal(t, IconSuccess, r.Status.Icon)
	var resorts int
	h.loop.Do(func() { resorts = h.sink.resorts })
	assert.Equal(t, 1, resorts)
}

func TestListActive(t *testing.T) {
	remote := newFakeRemote()
	releaseAlpha := remote.hold("Alpha")
	defer releaseAlpha()
	releaseBeta := remote.hold("Beta")
	defer releaseBeta()
	h := newHarness(t, remote)
	alpha := entry("Alpha", "p1")
	beta := entry("Beta", "p2")

	h.launch(alpha, KindRetrieveStatus)
	h.launch(beta, KindLogin)

	var list []HandleSnapshot
	h.loop.Do(func() { list = h.mgr.List() })
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, KindLogin, list[1].Kind)
}

// Two entries refreshed against the HTTP fake: one exists, one does not.
func TestRefreshOverHTTP(t *testing.T) {
	srv := nsapitest.NewServer()
	defer srv.Close()
	t1 := time.Date(2023, 11, 5, 18, 0, 0, 0, time.UTC)
	srv.AddNation("Alpha", nsapitest.Nation{Password: "p1", LastLogin: t1})

	client, err := nsapi.New(nsapi.Options{
		UserAgent:    "nsmgr tests",
		APIBaseURL:   srv.APIURL(),
		SiteBaseURL:  srv.SiteURL(),
		RequestDelay: time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	h := newHarness(t, client)
	alpha := entry("Alpha", "p1")
	beta := entry("Beta", "p2")
	h.launch(alpha, KindRetrieveStatus)
	h.launch(beta, KindRetrieveStatus)
	h.mgr.Wait()

	a := h.last(alpha.ID)
	assert.Equal(t, IconSuccess, a.Icon)
	assert.Equal(t, ExistsYes, a.Exists)
	assert.True(t, a.LastActivity.Equal(t1))
	assert.Equal(t, Status{Icon: IconFailure, Exists: ExistsNo}, h.last(beta.ID))
	assert.Equal(t, 1, srv.MaxInFlight())
}
