package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flashbots/ledgermix/mixer"
	"github.com/flashbots/ledgermix/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []mixer.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev mixer.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []mixer.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]mixer.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

// gateSends makes every SendAndConfirm on ml wait until the returned release
// function is called. entered receives once the first send is waiting.
func gateSends(ml *mixer.MockLedger) (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{}, 1)

	ml.SetSendAndConfirmFunc(func(ctx context.Context, src, dst mixer.AccountID, amount decimal.Decimal) error {
		select {
		case in <- struct{}{}:
		default:
		}
		<-gate
		return mixer.SendAndConfirm(ctx, ml, src, dst, amount, ml.ConfirmConfig())
	})

	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

// manualLocker hands out locks the test can mark as lost.
type manualLocker struct {
	mu    sync.Mutex
	locks []*Lock
}

func (l *manualLocker) TryLock(ctx context.Context, key string) (*Lock, error) {
	lock := newLock(func(context.Context) error { return nil })
	l.mu.Lock()
	l.locks = append(l.locks, lock)
	l.mu.Unlock()
	return lock, nil
}

func (l *manualLocker) lock(i int) *Lock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locks[i]
}

func newTestManager(t *testing.T, ml *mixer.MockLedger, configure ...func(*ManagerConfig)) (*SessionManager, *recordingPublisher) {
	t.Helper()

	pub := &recordingPublisher{}
	opts := append(testutil.SeededMixerOptions(t.Name()),
		mixer.WithConfirmConfig(mixer.ConfirmConfig{PollInterval: time.Millisecond, Timeout: time.Second}))

	cfg := ManagerConfig{
		Client:       ml,
		Publisher:    pub,
		Log:          testutil.QuietLogger(),
		MixerOptions: opts,
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	m, err := NewSessionManager(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, pub
}

func waitFor(t *testing.T, m *SessionManager, id string) *SessionRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return rec
}

func TestNewSessionManagerRequiresClient(t *testing.T) {
	_, err := NewSessionManager(ManagerConfig{})
	require.Error(t, err)
}

func TestManagerRunsSession(t *testing.T) {
	params := testutil.NewTestParams(testutil.WithID("session-a"))
	ml := testutil.NewFundedLedger(params)
	m, pub := newTestManager(t, ml)

	rec, err := m.Start(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, "session-a", rec.ID)
	require.Equal(t, StatePending, rec.State)

	final := waitFor(t, m, "session-a")
	require.Equal(t, StateCompleted, final.State)
	require.Equal(t, mixer.PhaseDone, final.Phase)
	require.Empty(t, final.Error)
	require.Empty(t, final.LiveAccounts)
	require.Len(t, final.MixAccounts, 4)
	require.NotNil(t, final.Result)
	require.Equal(t, final.Result.TransferCount, final.TransferCount)
	require.Positive(t, final.TransferCount)

	balances := ml.Balances()
	require.True(t, balances[testutil.Destination].Equal(decimal.NewFromInt(800)))
	require.True(t, balances[testutil.Origin].Equal(decimal.NewFromInt(200)))

	kinds := pub.kinds()
	require.Equal(t, mixer.EventSessionStarted, kinds[0])
	require.Equal(t, mixer.EventSessionCompleted, kinds[len(kinds)-1])
	require.Contains(t, kinds, mixer.EventAccountsProvisioned)

	stats := m.Stats()
	require.EqualValues(t, 0, stats.Active)
	require.EqualValues(t, 1, stats.Started)
	require.EqualValues(t, 1, stats.Completed)
}

func TestManagerAppliesDefaults(t *testing.T) {
	params := testutil.NewTestParams(testutil.WithMixAccounts(0), testutil.WithRounds(0))
	ml := testutil.NewFundedLedger(params)
	m, _ := newTestManager(t, ml)

	rec, err := m.Start(context.Background(), params)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, 4, rec.Params.NumMixAccounts)
	require.Equal(t, 2, rec.Params.NumRounds)

	require.Equal(t, StateCompleted, waitFor(t, m, rec.ID).State)
}

func TestManagerRejectsBadStarts(t *testing.T) {
	params := testutil.NewTestParams(testutil.WithID("dup"))
	ml := testutil.NewFundedLedger(params)
	m, _ := newTestManager(t, ml)

	_, err := m.Start(context.Background(), testutil.NewTestParams(testutil.WithAmounts(900, 800)))
	require.ErrorIs(t, err, mixer.ErrInvalidParams)

	_, err = m.Start(context.Background(), params)
	require.NoError(t, err)
	waitFor(t, m, "dup")

	_, err = m.Start(context.Background(), params)
	require.ErrorIs(t, err, ErrSessionExists)
}

func TestManagerRejectsConcurrentDuplicateIDs(t *testing.T) {
	a := testutil.NewTestParams(testutil.WithID("dup"), testutil.WithAccounts("origin_a", "dest_a"))
	b := testutil.NewTestParams(testutil.WithID("dup"), testutil.WithAccounts("origin_b", "dest_b"))
	ml := testutil.NewFundedLedger(a, b)
	_, release := gateSends(ml)
	defer release()
	m, _ := newTestManager(t, ml)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, params := range []mixer.SessionParams{a, b} {
		i, params := i, params
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Start(context.Background(), params)
		}()
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		require.ErrorIs(t, err, ErrSessionExists)
	}
	require.Equal(t, 1, started)
	require.EqualValues(t, 1, m.Stats().Active)
	require.EqualValues(t, 1, m.Stats().Started)

	// The surviving session is still reachable through its handle.
	require.NoError(t, m.Cancel(context.Background(), "dup"))
	release()
	require.Equal(t, StateCanceled, waitFor(t, m, "dup").State)
}

func TestManagerRejectsIDTakenInSharedJournal(t *testing.T) {
	journal := NewInMemoryJournal()
	now := time.Now()
	require.NoError(t, journal.Create(context.Background(), &SessionRecord{
		ID: "taken", State: StateRunning, CreatedAt: now, UpdatedAt: now,
	}))

	params := testutil.NewTestParams(testutil.WithID("taken"))
	ml := testutil.NewFundedLedger(params)
	m, _ := newTestManager(t, ml, func(cfg *ManagerConfig) {
		cfg.Journal = journal
	})

	_, err := m.Start(context.Background(), params)
	require.ErrorIs(t, err, ErrSessionExists)
	require.EqualValues(t, 0, m.Stats().Started)

	rec, err := m.Get(context.Background(), "taken")
	require.NoError(t, err)
	require.Equal(t, StateRunning, rec.State)

	// The origin lock was given back.
	_, err = m.Start(context.Background(), testutil.NewTestParams(testutil.WithID("fresh")))
	require.NoError(t, err)
	require.Equal(t, StateCompleted, waitFor(t, m, "fresh").State)
}

func TestManagerFailsSessionOnLostLock(t *testing.T) {
	params := testutil.NewTestParams(testutil.WithID("held"))
	ml := testutil.NewFundedLedger(params)
	entered, release := gateSends(ml)
	defer release()
	locker := &manualLocker{}
	m, _ := newTestManager(t, ml, func(cfg *ManagerConfig) {
		cfg.Locker = locker
	})

	_, err := m.Start(context.Background(), params)
	require.NoError(t, err)
	<-entered

	locker.lock(0).markLost()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		rs, ok := m.running["held"]
		return ok && rs.ctx.Err() != nil
	}, time.Second, time.Millisecond)
	release()

	rec := waitFor(t, m, "held")
	require.Equal(t, StateFailed, rec.State)
	require.Contains(t, rec.Error, "origin lock lost")
	require.Len(t, rec.LiveAccounts, 4)
	require.EqualValues(t, 1, m.Stats().Failed)
	require.EqualValues(t, 0, m.Stats().Canceled)
}

func TestManagerLocksOrigin(t *testing.T) {
	first := testutil.NewTestParams(testutil.WithID("first"))
	ml := testutil.NewFundedLedger(first)
	entered, release := gateSends(ml)
	defer release()
	m, _ := newTestManager(t, ml)

	_, err := m.Start(context.Background(), first)
	require.NoError(t, err)
	<-entered

	second := testutil.NewTestParams(testutil.WithID("second"), testutil.WithAmounts(100, 200))
	_, err = m.Start(context.Background(), second)
	require.ErrorIs(t, err, ErrLocked)
	require.EqualValues(t, 1, m.Stats().Active)

	release()
	require.Equal(t, StateCompleted, waitFor(t, m, "first").State)

	_, err = m.Start(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, waitFor(t, m, "second").State)
	require.True(t, ml.Balances()[testutil.Destination].Equal(decimal.NewFromInt(900)))
}

func TestManagerCancelAndRecover(t *testing.T) {
	params := testutil.NewTestParams(testutil.WithID("doomed"))
	ml := testutil.NewFundedLedger(params)
	entered, release := gateSends(ml)
	defer release()
	m, pub := newTestManager(t, ml)

	_, err := m.Start(context.Background(), params)
	require.NoError(t, err)
	<-entered

	_, _, err = m.Recover(context.Background(), "doomed")
	require.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, m.Cancel(context.Background(), "doomed"))
	release()

	rec := waitFor(t, m, "doomed")
	require.Equal(t, StateCanceled, rec.State)
	require.Equal(t, 1, rec.TransferCount)
	require.Len(t, rec.LiveAccounts, 4)
	require.Contains(t, rec.Error, "context canceled")
	require.Contains(t, pub.kinds(), mixer.EventSessionFailed)
	require.EqualValues(t, 1, m.Stats().Canceled)

	require.ErrorIs(t, m.Cancel(context.Background(), "doomed"), ErrSessionNotRunning)

	recovered, sweep, err := m.Recover(context.Background(), "doomed")
	require.NoError(t, err)
	require.Equal(t, StateRecovered, recovered.State)
	require.Empty(t, recovered.LiveAccounts)
	require.Len(t, sweep.Deleted, 4)
	require.True(t, sweep.Recovered.IsPositive())

	balances := ml.Balances()
	require.True(t, balances[testutil.Origin].Equal(decimal.NewFromInt(1000)))
	require.Len(t, balances, 2)

	_, _, err = m.Recover(context.Background(), "doomed")
	require.ErrorIs(t, err, ErrNothingToRecover)
}

func TestManagerCancelUnknown(t *testing.T) {
	m, _ := newTestManager(t, mixer.NewMockLedger())
	require.ErrorIs(t, m.Cancel(context.Background(), "missing"), ErrSessionNotFound)

	_, _, err := m.Recover(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerRecordsFailure(t *testing.T) {
	params := testutil.NewTestParams(testutil.WithID("broke"))
	ml := testutil.NewFundedLedger(params)
	ml.SetSendHook(func(seq int, src, dst mixer.AccountID, amount decimal.Decimal) error {
		return mixer.ErrLedgerUnavailable
	})
	m, _ := newTestManager(t, ml)

	_, err := m.Start(context.Background(), params)
	require.NoError(t, err)

	rec := waitFor(t, m, "broke")
	require.Equal(t, StateFailed, rec.State)
	require.Equal(t, 0, rec.TransferCount)
	require.Len(t, rec.LiveAccounts, 4)
	require.Contains(t, rec.Error, "ledger unavailable")
	require.EqualValues(t, 1, m.Stats().Failed)

	ml.SetSendHook(nil)
	recovered, sweep, err := m.Recover(context.Background(), "broke")
	require.NoError(t, err)
	require.Equal(t, StateRecovered, recovered.State)
	require.True(t, sweep.Recovered.IsZero())
	require.Len(t, sweep.Deleted, 4)
}

func TestManagerReconcile(t *testing.T) {
	journal := NewInMemoryJournal()
	now := time.Now()
	require.NoError(t, journal.Save(context.Background(), &SessionRecord{
		ID: "orphan", State: StateRunning, Phase: mixer.PhaseMixing,
		LiveAccounts: []mixer.AccountID{"mix_1"}, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, journal.Save(context.Background(), &SessionRecord{
		ID: "done", State: StateCompleted, CreatedAt: now, UpdatedAt: now,
	}))

	m, err := NewSessionManager(ManagerConfig{
		Client:  mixer.NewMockLedger(),
		Journal: journal,
		Log:     testutil.QuietLogger(),
	})
	require.NoError(t, err)

	n, err := m.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := m.Get(context.Background(), "orphan")
	require.NoError(t, err)
	require.Equal(t, StateFailed, rec.State)
	require.Equal(t, []mixer.AccountID{"mix_1"}, rec.LiveAccounts)

	rec, err = m.Get(context.Background(), "done")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, rec.State)
}

func TestManagerShutdown(t *testing.T) {
	params := testutil.NewTestParams(testutil.WithID("long"))
	ml := testutil.NewFundedLedger(params)
	entered, release := gateSends(ml)
	m, _ := newTestManager(t, ml)

	_, err := m.Start(context.Background(), params)
	require.NoError(t, err)
	<-entered

	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	rec, err := m.Get(context.Background(), "long")
	require.NoError(t, err)
	require.Equal(t, StateCanceled, rec.State)

	_, err = m.Start(context.Background(), testutil.NewTestParams())
	require.ErrorIs(t, err, ErrDraining)
}
