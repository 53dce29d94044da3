package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTokenCleaner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeTokenCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return 2, f.err
}

type fakeLedgerCleaner struct {
	calls     atomic.Int32
	retention time.Duration
}

func (f *fakeLedgerCleaner) CleanupStale(ctx context.Context, retention time.Duration) (int64, error) {
	f.calls.Add(1)
	f.retention = retention
	return 1, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanupManager_RunOnce(t *testing.T) {
	tokens := &fakeTokenCleaner{}
	ledger := &fakeLedgerCleaner{}
	cm := NewCleanupManager(tokens, ledger, 24*time.Hour, discardLogger(), time.Hour)

	cm.RunOnce(context.Background())

	assert.Equal(t, int32(1), tokens.calls.Load())
	assert.Equal(t, int32(1), ledger.calls.Load())
	assert.Equal(t, 24*time.Hour, ledger.retention)
}

func TestCleanupManager_TokenFailureStillCleansLedger(t *testing.T) {
	tokens := &fakeTokenCleaner{err: errors.New("db down")}
	ledger := &fakeLedgerCleaner{}
	cm := NewCleanupManager(tokens, ledger, time.Hour, discardLogger(), time.Hour)

	cm.RunOnce(context.Background())

	assert.Equal(t, int32(1), ledger.calls.Load())
}

func TestCleanupManager_StartAndStop(t *testing.T) {
	tokens := &fakeTokenCleaner{}
	ledger := &fakeLedgerCleaner{}
	cm := NewCleanupManager(tokens, ledger, time.Hour, discardLogger(), 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return tokens.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cm.Stop()
	cm.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestCleanupManager_ContextCancel(t *testing.T) {
	cm := NewCleanupManager(&fakeTokenCleaner{}, nil, time.Hour, discardLogger(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager ignored cancellation")
	}
}
