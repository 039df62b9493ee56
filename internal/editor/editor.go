// Package editor implements the create/update/delete flow for ledger entries.
//
// A Session moves between three states:
//
//	Idle      no pending edit, the draft holds defaults
//	Drafting  a new expense is being filled in
//	Editing   an existing expense is being changed
//
// Commit validates the draft before any store call. Failed writes leave the
// state and the draft untouched so the user can retry.
package editor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mmynk/duoledger/internal/cache"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// State is the phase of an edit session.
type State int

const (
	Idle State = iota
	Drafting
	Editing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Drafting:
		return "drafting"
	case Editing:
		return "editing"
	}
	return "unknown"
}

// Writer is the part of storage.Store the editor writes through.
type Writer interface {
	InsertExpense(ctx context.Context, fields models.ExpenseFields, owner string) error
	UpdateExpense(ctx context.Context, id string, fields models.ExpenseFields) error
	DeleteExpense(ctx context.Context, id string) error
	DeleteWhere(ctx context.Context, pred storage.Predicate) error
}

// Refresher reloads the ledger after a successful write.
type Refresher interface {
	Refresh(ctx context.Context) (cache.Snapshot, error)
}

// Session is one user's edit session.
type Session struct {
	writer    Writer
	refresher Refresher
	identity  func() string
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	draft Draft
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for the Session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates an idle session. identity reports the signed-in identity recorded
// as the owner of new expenses; it may return "".
func New(writer Writer, refresher Refresher, identity func() string, opts ...Option) *Session {
	s := &Session{
		writer:    writer,
		refresher: refresher,
		identity:  identity,
		logger:    slog.Default(),
		draft:     NewDraft(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Draft returns a copy of the current draft.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) SetName(name string) {
	s.update(func(d *Draft) { d.Name = name })
}

func (s *Session) SetAmountText(text string) {
	s.update(func(d *Draft) { d.AmountText = text })
}

func (s *Session) SetKind(kind models.Kind) {
	s.update(func(d *Draft) { d.Kind = kind })
}

func (s *Session) SetPayer(payer models.Party) {
	s.update(func(d *Draft) { d.Payer = payer })
}

// update applies fn to the draft. Editing from Idle starts a new expense.
func (s *Session) update(fn func(*Draft)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		s.state = Drafting
	}
	fn(&s.draft)
}

// BeginEdit loads e into the draft for editing.
func (s *Session) BeginEdit(e models.Expense) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Editing
	s.draft = DraftFrom(e)
}

// Cancel discards the draft.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.state = Idle
	s.draft = NewDraft()
}

// Commit writes the draft: an update when editing, otherwise an insert owned by
// the current identity. Returns a *ValidationError before any store call when
// the draft is invalid, or a *storage.StoreError when the write fails.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	state, draft := s.state, s.draft
	s.mu.Unlock()

	fields, err := draft.Fields()
	if err != nil {
		return err
	}

	if state == Editing {
		err = storage.Wrap("update", s.writer.UpdateExpense(ctx, draft.Target.ID, fields))
	} else {
		err = storage.Wrap("insert", s.writer.InsertExpense(ctx, fields, s.owner()))
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	s.refresh(ctx)
	return nil
}

// Delete removes one expense regardless of the draft.
func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.writer.DeleteExpense(ctx, id); err != nil {
		return storage.Wrap("delete", err)
	}
	s.refresh(ctx)
	return nil
}

// ClearAll removes every expense.
func (s *Session) ClearAll(ctx context.Context) error {
	if err := s.writer.DeleteWhere(ctx, storage.MatchAll); err != nil {
		return storage.Wrap("delete_where", err)
	}
	s.refresh(ctx)
	return nil
}

func (s *Session) owner() string {
	if s.identity == nil {
		return ""
	}
	return s.identity()
}

// refresh reloads the ledger after a write. The write already succeeded, so a
// failure is only logged.
func (s *Session) refresh(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if _, err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Warn("Refresh after write failed", "error", err)
	}
}
