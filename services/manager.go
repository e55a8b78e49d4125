package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/flashbots/ledgermix/mixer"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// SessionDefaults fill in session parameters a request leaves unset.
type SessionDefaults struct {
	NumMixAccounts      int
	NumRounds           int
	MultiSourceFinalHop bool
}

// ManagerConfig wires a SessionManager to its backends.
type ManagerConfig struct {
	Client    mixer.LedgerClient
	Journal   Journal
	Locker    Locker
	Publisher Publisher
	Log       *slog.Logger

	// MixerOptions are passed to every Mixer the manager creates, after
	// the manager's own logger and event handler.
	MixerOptions []mixer.Option

	Defaults SessionDefaults
}

// ManagerStats counts sessions since the manager started.
type ManagerStats struct {
	Active    int64 `json:"active"`
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Canceled  int64 `json:"canceled"`
}

type runningSession struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// SessionManager runs mixing sessions in the background, one per origin
// account, and journals their progress.
type SessionManager struct {
	cfg ManagerConfig
	log *slog.Logger

	mu      sync.Mutex
	running map[string]*runningSession
	wg      sync.WaitGroup

	draining  atomic.Bool
	active    atomic.Int64
	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	canceled  atomic.Int64
}

// NewSessionManager creates a manager. Journal, Locker and Publisher default
// to their in-process implementations.
func NewSessionManager(cfg ManagerConfig) (*SessionManager, error) {
	if cfg.Client == nil {
		return nil, errors.New("session manager needs a ledger client")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Journal == nil {
		cfg.Journal = NewInMemoryJournal()
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = NewLogPublisher(cfg.Log)
	}
	if cfg.Defaults.NumMixAccounts == 0 {
		cfg.Defaults.NumMixAccounts = 4
	}
	if cfg.Defaults.NumRounds == 0 {
		cfg.Defaults.NumRounds = 2
	}

	return &SessionManager{
		cfg:     cfg,
		log:     cfg.Log,
		running: make(map[string]*runningSession),
	}, nil
}

// Defaults returns the parameters applied to incomplete requests.
func (m *SessionManager) Defaults() SessionDefaults {
	return m.cfg.Defaults
}

// Start validates params, takes the origin lock and runs the session in the
// background. The returned record is in the pending state.
//
// A session ID is reserved in this process before the lock is taken and must
// be new to the journal, so a reused ID fails with ErrSessionExists even when
// the two requests name different origins.
func (m *SessionManager) Start(ctx context.Context, params mixer.SessionParams) (*SessionRecord, error) {
	if m.draining.Load() {
		return nil, ErrDraining
	}

	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if params.NumMixAccounts == 0 {
		params.NumMixAccounts = m.cfg.Defaults.NumMixAccounts
	}
	if params.NumRounds == 0 {
		params.NumRounds = m.cfg.Defaults.NumRounds
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	rs, err := m.reserve(params.ID)
	if err != nil {
		return nil, err
	}

	lock, err := m.cfg.Locker.TryLock(ctx, string(params.Origin))
	if err != nil {
		m.abandon(params.ID, rs)
		return nil, err
	}

	now := time.Now()
	rec := &SessionRecord{
		ID:        params.ID,
		Params:    params,
		State:     StatePending,
		Phase:     mixer.PhaseProvision,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.cfg.Journal.Create(ctx, rec); err != nil {
		m.release(lock, rec.ID)
		m.abandon(params.ID, rs)
		if errors.Is(err, ErrSessionExists) {
			return nil, err
		}
		return nil, fmt.Errorf("saving session: %w", err)
	}

	m.active.Inc()
	m.started.Inc()

	snapshot := rec.clone()
	go m.run(rec, rs, lock)

	return snapshot, nil
}

// reserve claims id for a new session goroutine. The reservation is visible
// to Cancel, Wait and Recover immediately.
func (m *SessionManager) reserve(id string) (*runningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	rs := &runningSession{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	m.running[id] = rs
	m.wg.Add(1)
	return rs, nil
}

// abandon drops a reservation whose session never started.
func (m *SessionManager) abandon(id string, rs *runningSession) {
	m.mu.Lock()
	delete(m.running, id)
	m.mu.Unlock()

	rs.cancel(nil)
	close(rs.done)
	m.wg.Done()
}

func (m *SessionManager) run(rec *SessionRecord, rs *runningSession, lock *Lock) {
	defer m.wg.Done()
	defer close(rs.done)
	defer func() {
		m.mu.Lock()
		delete(m.running, rec.ID)
		m.mu.Unlock()
		m.active.Dec()
		rs.cancel(nil)
	}()
	defer m.release(lock, rec.ID)

	ctx := rs.ctx
	log := m.log.With("session", rec.ID)

	go func() {
		select {
		case <-lock.Lost():
			log.Error("Origin lock lost, aborting session", "origin", rec.Params.Origin)
			rs.cancel(ErrLockLost)
		case <-ctx.Done():
		}
	}()

	m.update(rec, func(r *SessionRecord) {
		r.State = StateRunning
	})

	opts := append([]mixer.Option{
		mixer.WithLogger(log),
		mixer.WithEventHandler(func(ev mixer.Event) { m.onEvent(rec, ev) }),
	}, m.cfg.MixerOptions...)

	result, err := mixer.NewMixer(m.cfg.Client, opts...).RunSession(ctx, rec.Params)

	lockLost := err != nil && errors.Is(context.Cause(ctx), ErrLockLost)
	if lockLost {
		err = fmt.Errorf("%w: %w", ErrLockLost, err)
	}
	canceled := !lockLost && errors.Is(err, context.Canceled)

	m.update(rec, func(r *SessionRecord) {
		if err == nil {
			r.State = StateCompleted
			r.Phase = mixer.PhaseDone
			r.Result = result
			r.TransferCount = result.TransferCount
			r.LiveAccounts = nil
			return
		}

		r.State = StateFailed
		if canceled {
			r.State = StateCanceled
		}
		r.Error = err.Error()

		var serr *mixer.SessionError
		if errors.As(err, &serr) {
			r.Phase = serr.Phase
			r.TransferCount = serr.TransferCount
			r.LiveAccounts = slices.Clone(serr.LiveAccounts)
		}
	})

	switch {
	case err == nil:
		m.completed.Inc()
		log.Info("Session completed", "transfers", result.TransferCount, "duration", result.Duration)
	case canceled:
		m.canceled.Inc()
		log.Warn("Session canceled", "err", err)
	default:
		m.failed.Inc()
		log.Error("Session failed", "err", err)
	}
}

// onEvent folds a mixer event into the record, journals it and publishes it.
// Called from the session goroutine only.
func (m *SessionManager) onEvent(rec *SessionRecord, ev mixer.Event) {
	m.update(rec, func(r *SessionRecord) {
		r.Phase = ev.Phase
		switch ev.Kind {
		case mixer.EventAccountsProvisioned:
			r.MixAccounts = slices.Clone(ev.Accounts)
			r.LiveAccounts = slices.Clone(ev.Accounts)
		case mixer.EventTransferApplied:
			r.TransferCount++
		case mixer.EventAccountDeleted:
			r.LiveAccounts = slices.DeleteFunc(r.LiveAccounts, func(acc mixer.AccountID) bool {
				return slices.Contains(ev.Accounts, acc)
			})
		}
	})

	if err := m.cfg.Publisher.Publish(context.Background(), ev); err != nil {
		m.log.Warn("Could not publish session event", "session", rec.ID, "kind", ev.Kind, "err", err)
	}
}

// update applies fn to rec and journals the result.
func (m *SessionManager) update(rec *SessionRecord, fn func(*SessionRecord)) {
	m.mu.Lock()
	fn(rec)
	rec.UpdatedAt = time.Now()
	snapshot := rec.clone()
	m.mu.Unlock()

	if err := m.cfg.Journal.Save(context.Background(), snapshot); err != nil {
		m.log.Error("Could not journal session", "session", rec.ID, "state", snapshot.State, "err", err)
	}
}

func (m *SessionManager) release(lock *Lock, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lock.Unlock(ctx); err != nil {
		m.log.Warn("Could not release origin lock", "session", id, "err", err)
	}
}

// Get returns the journaled record of a session.
func (m *SessionManager) Get(ctx context.Context, id string) (*SessionRecord, error) {
	return m.cfg.Journal.Get(ctx, id)
}

// List returns all journaled sessions, oldest first.
func (m *SessionManager) List(ctx context.Context) ([]*SessionRecord, error) {
	return m.cfg.Journal.List(ctx)
}

// Cancel aborts a running session at its next transfer or phase boundary.
// It does not wait; use Wait for the final record.
func (m *SessionManager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	rs, ok := m.running[id]
	m.mu.Unlock()

	if !ok {
		if _, err := m.cfg.Journal.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrSessionNotRunning, id)
	}

	rs.cancel(nil)
	return nil
}

// Wait blocks until the session goroutine has finished and returns the final
// record.
func (m *SessionManager) Wait(ctx context.Context, id string) (*SessionRecord, error) {
	m.mu.Lock()
	rs, ok := m.running[id]
	m.mu.Unlock()

	if ok {
		select {
		case <-rs.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.cfg.Journal.Get(ctx, id)
}

// Recover sweeps the live mix accounts of a finished session back into its
// origin and deletes them. Sessions left running by a previous daemon
// process are recoverable once Reconcile marked them failed.
func (m *SessionManager) Recover(ctx context.Context, id string) (*SessionRecord, *mixer.SweepResult, error) {
	m.mu.Lock()
	_, active := m.running[id]
	m.mu.Unlock()
	if active {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionActive, id)
	}

	rec, err := m.cfg.Journal.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if len(rec.LiveAccounts) == 0 {
		return rec, nil, fmt.Errorf("%w: %s", ErrNothingToRecover, id)
	}

	lock, err := m.cfg.Locker.TryLock(ctx, string(rec.Params.Origin))
	if err != nil {
		return rec, nil, err
	}
	defer m.release(lock, id)

	log := m.log.With("session", id)
	log.Info("Recovering session", "accounts", rec.LiveAccounts, "origin", rec.Params.Origin)

	opts := append([]mixer.Option{mixer.WithLogger(log)}, m.cfg.MixerOptions...)
	sweep, sweepErr := mixer.NewMixer(m.cfg.Client, opts...).Sweep(ctx, rec.LiveAccounts, rec.Params.Origin)

	m.update(rec, func(r *SessionRecord) {
		r.LiveAccounts = slices.DeleteFunc(r.LiveAccounts, func(acc mixer.AccountID) bool {
			return sweep != nil && slices.Contains(sweep.Deleted, acc)
		})
		if sweepErr != nil {
			r.Error = fmt.Sprintf("recover: %v", sweepErr)
			return
		}
		r.State = StateRecovered
	})

	if sweepErr != nil {
		log.Error("Recovery stopped", "err", sweepErr, "remaining", rec.LiveAccounts)
		return rec.clone(), sweep, sweepErr
	}

	log.Info("Session recovered", "recovered", sweep.Recovered.String(), "deleted", len(sweep.Deleted))
	return rec.clone(), sweep, nil
}

// Reconcile marks journaled sessions that are pending or running but have no
// goroutine in this process as failed, so that their accounts can be
// recovered. Call it once at startup.
func (m *SessionManager) Reconcile(ctx context.Context) (int, error) {
	records, err := m.cfg.Journal.List(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range records {
		if rec.State.Terminal() {
			continue
		}

		m.mu.Lock()
		_, active := m.running[rec.ID]
		m.mu.Unlock()
		if active {
			continue
		}

		rec.State = StateFailed
		rec.Error = "interrupted by daemon restart"
		rec.UpdatedAt = time.Now()
		if err := m.cfg.Journal.Save(ctx, rec); err != nil {
			return n, fmt.Errorf("saving %s: %w", rec.ID, err)
		}
		m.log.Warn("Marked interrupted session as failed", "session", rec.ID, "live_accounts", rec.LiveAccounts)
		n++
	}
	return n, nil
}

// SetDraining stops or resumes accepting new sessions. Running sessions are
// not affected.
func (m *SessionManager) SetDraining(draining bool) {
	if m.draining.Swap(draining) != draining {
		m.log.Info("Session manager draining state changed", "draining", draining)
	}
}

// Shutdown stops accepting sessions, cancels the running ones and waits for
// them to finish or for ctx to expire.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.draining.Store(true)

	m.mu.Lock()
	for _, rs := range m.running {
		rs.cancel(nil)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns session counters.
func (m *SessionManager) Stats() ManagerStats {
	return ManagerStats{
		Active:    m.active.Load(),
		Started:   m.started.Load(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
		Canceled:  m.canceled.Load(),
	}
}
