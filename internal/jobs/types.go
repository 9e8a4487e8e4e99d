package jobs

import (
	"context"
	"time"

	"nsmgr/internal/constants"
)

// Kind is the remote operation a worker performs.
type Kind int

const (
	KindRetrieveStatus Kind = iota
	KindLogin
	KindRestore
)

func (k Kind) String() string {
	switch k {
	case KindRetrieveStatus:
		return "status"
	case KindLogin:
		return "login"
	case KindRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// authenticated reports whether k submits credentials and is subject to the
// login interval.
func (k Kind) authenticated() bool {
	return k == KindLogin || k == KindRestore
}

// Icon is the coarse outcome shown for a row.
type Icon int

const (
	IconPending Icon = iota
	IconSuccess
	IconFailure
	IconWarning
)

func (i Icon) String() string {
	switch i {
	case IconPending:
		return "Pending"
	case IconSuccess:
		return "Success"
	case IconFailure:
		return "Failure"
	case IconWarning:
		return "Warning"
	default:
		return "Unknown"
	}
}

// Existence is a tri-state: the remote may not have told us yet.
type Existence int

const (
	ExistsUnknown Existence = iota
	ExistsYes
	ExistsNo
)

func (e Existence) String() string {
	switch e {
	case ExistsYes:
		return "Yes"
	case ExistsNo:
		return "No"
	default:
		return "Unknown"
	}
}

// Status is what a row displays for an entry. A new Status replaces the old
// one entirely.
type Status struct {
	Icon   Icon
	Exists Existence
	// LastActivity is zero when unknown.
	LastActivity time.Time
	Message      string
}

// PendingStatus is shown while a worker of kind k runs.
func PendingStatus(k Kind) Status {
	msg := constants.PendingStatusText
	switch k {
	case KindLogin:
		msg = constants.PendingLoginText
	case KindRestore:
		msg = constants.PendingRestoreText
	}
	return Status{Icon: IconPending, Exists: ExistsUnknown, Message: msg}
}

// Result is an applied worker outcome, passed to subscribers.
type Result struct {
	HandleID int64
	EntryID  string
	Name     string
	Kind     Kind
	Status   Status
}

// Handle is a registered worker. The name and password are copied at launch;
// later edits to the entry do not reach a running worker.
type Handle struct {
	// immutable fields
	ID        int64
	EntryID   string
	Kind      Kind
	StartedAt time.Time

	name     string
	password string
	// prior is the row status before this chain of launches began.
	prior Status

	// cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// Cancel stops the worker at its next checkpoint.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Snapshot returns a copy of the fields shown by the shell.
func (h *Handle) Snapshot() HandleSnapshot {
	return HandleSnapshot{
		ID:        h.ID,
		EntryID:   h.EntryID,
		Name:      h.name,
		Kind:      h.Kind,
		StartedAt: h.StartedAt,
	}
}

// HandleSnapshot is a read-only view of a registered worker.
type HandleSnapshot struct {
	ID        int64
	EntryID   string
	Name      string
	Kind      Kind
	StartedAt time.Time
}
