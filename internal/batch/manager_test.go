package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/keyword-research-service/internal/domain"
)

type fakeHistory struct {
	batches map[uuid.UUID]domain.BatchSnapshot
	listErr error
}

func (f *fakeHistory) GetBatch(_ context.Context, clientID string, id uuid.UUID) (*domain.BatchSnapshot, error) {
	s, ok := f.batches[id]
	if !ok || s.Params.ClientID != clientID {
		return nil, domain.NewNotFoundError("batch", id.String())
	}
	return &s, nil
}

func (f *fakeHistory) ListBatches(_ context.Context, clientID string, _ int) ([]domain.BatchSnapshot, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.BatchSnapshot
	for _, s := range f.batches {
		if s.Params.ClientID == clientID {
			out = append(out, s)
		}
	}
	return out, nil
}

func newTestManager(remote *fakeRemote, history History, cfg ManagerConfig) *Manager {
	s := NewScheduler(newTestExecutor(remote, nil), 3, zerolog.Nop())
	return NewManager(s, history, cfg, zerolog.Nop())
}

func TestManager_SubmitBatch(t *testing.T) {
	m := newTestManager(newFakeRemote(), nil, ManagerConfig{MaxJobs: 100})

	h, err := m.SubmitBatch(context.Background(), []string{"  Shoes ", "shoes", "", "boots"}, testParams)
	require.NoError(t, err)

	snapshot := waitDone(t, h)
	require.Len(t, snapshot.Jobs, 2)
	assert.Equal(t, "Shoes", snapshot.Jobs[0].Keyword)
	assert.Equal(t, "boots", snapshot.Jobs[1].Keyword)
	assert.Equal(t, 0, snapshot.Jobs[0].Position)
	assert.Equal(t, 1, snapshot.Jobs[1].Position)
	assert.Equal(t, h.ID(), snapshot.Jobs[0].BatchID)
	assert.Equal(t, 3, snapshot.Concurrency)
}

func TestManager_SubmitBatch_Validation(t *testing.T) {
	m := newTestManager(newFakeRemote(), nil, ManagerConfig{MaxJobs: 3})

	tests := []struct {
		name     string
		keywords []string
		params   domain.SharedParams
	}{
		{"missing client", []string{"a"}, domain.SharedParams{Country: "US", Language: "en"}},
		{"missing country", []string{"a"}, domain.SharedParams{ClientID: "c", Language: "en"}},
		{"no keywords", nil, testParams},
		{"only blanks", []string{" ", ""}, testParams},
		{"too many", []string{"a", "b", "c", "d"}, testParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.SubmitBatch(context.Background(), tt.keywords, tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		})
	}
}

func TestManager_MaxActiveBatches(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	m := newTestManager(remote, nil, ManagerConfig{MaxJobs: 10, MaxActiveBatches: 1})

	h, err := m.SubmitBatch(context.Background(), []string{"a"}, testParams)
	require.NoError(t, err)

	_, err = m.SubmitBatch(context.Background(), []string{"b"}, testParams)
	assert.ErrorIs(t, err, domain.ErrTooManyBatches)

	close(remote.gate)
	waitDone(t, h)

	_, err = m.SubmitBatch(context.Background(), []string{"b"}, testParams)
	assert.NoError(t, err)
}

func TestManager_GetScopedToClient(t *testing.T) {
	m := newTestManager(newFakeRemote(), nil, ManagerConfig{})
	h, err := m.SubmitBatch(context.Background(), []string{"a"}, testParams)
	require.NoError(t, err)
	waitDone(t, h)

	snapshot, err := m.Get(context.Background(), "client-1", h.ID())
	require.NoError(t, err)
	assert.Equal(t, h.ID(), snapshot.BatchID)

	_, err = m.Get(context.Background(), "someone-else", h.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = m.Get(context.Background(), "client-1", uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_GetFallsBackToHistory(t *testing.T) {
	stored := domain.BatchSnapshot{
		BatchID: uuid.New(),
		Params:  testParams,
		Status:  domain.BatchStatusCompleted,
		Counts:  domain.BatchCounts{Completed: 2, TotalResultCount: 9},
	}
	history := &fakeHistory{batches: map[uuid.UUID]domain.BatchSnapshot{stored.BatchID: stored}}
	m := newTestManager(newFakeRemote(), history, ManagerConfig{})

	snapshot, err := m.Get(context.Background(), "client-1", stored.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 9, snapshot.Counts.TotalResultCount)
}

func TestManager_List(t *testing.T) {
	old := domain.BatchSnapshot{
		BatchID:   uuid.New(),
		Params:    testParams,
		Status:    domain.BatchStatusCompleted,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	history := &fakeHistory{batches: map[uuid.UUID]domain.BatchSnapshot{old.BatchID: old}}
	m := newTestManager(newFakeRemote(), history, ManagerConfig{})

	h, err := m.SubmitBatch(context.Background(), []string{"a", "b"}, testParams)
	require.NoError(t, err)
	waitDone(t, h)
	history.batches[h.ID()] = h.Snapshot()

	other := testParams
	other.ClientID = "client-2"
	_, err = m.SubmitBatch(context.Background(), []string{"c"}, other)
	require.NoError(t, err)

	list, err := m.List(context.Background(), "client-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, h.ID(), list[0].BatchID, "newest first")
	assert.Nil(t, list[0].Jobs)
	assert.Equal(t, old.BatchID, list[1].BatchID)
}

func TestManager_ListHistoryError(t *testing.T) {
	history := &fakeHistory{listErr: errors.New("db down")}
	m := newTestManager(newFakeRemote(), history, ManagerConfig{})

	_, err := m.List(context.Background(), "client-1")
	assert.Error(t, err)
}

func TestManager_Cancel(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.started = make(chan string, 10)
	m := newTestManager(remote, nil, ManagerConfig{})

	h, err := m.SubmitBatch(context.Background(), []string{"a", "b", "c", "d", "e"}, testParams)
	require.NoError(t, err)
	receiveN(t, remote.started, 3)

	_, err = m.Cancel("someone-else", h.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snapshot, err := m.Cancel("client-1", h.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCancelling, snapshot.Status)

	close(remote.gate)
	final := waitDone(t, h)
	assert.Equal(t, domain.BatchStatusCancelled, final.Status)
	assert.Equal(t, 3, final.Counts.Completed)
	assert.Equal(t, 2, final.Counts.Pending)
}

func TestManager_Shutdown(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.started = make(chan string, 10)
	m := newTestManager(remote, nil, ManagerConfig{})

	h, err := m.SubmitBatch(context.Background(), []string{"a", "b", "c", "d"}, testParams)
	require.NoError(t, err)
	receiveN(t, remote.started, 3)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(remote.gate)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	snapshot := h.Snapshot()
	assert.Equal(t, domain.BatchStatusCancelled, snapshot.Status)
	assert.Equal(t, 3, snapshot.Counts.Completed)
	assert.Equal(t, 1, snapshot.Counts.Pending)
}

func TestManager_ShutdownTimeout(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	defer close(remote.gate)
	m := newTestManager(remote, nil, ManagerConfig{})

	_, err := m.SubmitBatch(context.Background(), []string{"a"}, testParams)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
}

func TestManager_Prune(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(remote, nil, ManagerConfig{Retention: time.Minute})

	done, err := m.SubmitBatch(context.Background(), []string{"a"}, testParams)
	require.NoError(t, err)
	waitDone(t, done)

	remote.mu.Lock()
	remote.gate = make(chan struct{})
	remote.mu.Unlock()
	running, err := m.SubmitBatch(context.Background(), []string{"b"}, testParams)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Prune(), "within retention")

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, m.Prune())

	_, err = m.Handle("client-1", done.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.Handle("client-1", running.ID())
	assert.NoError(t, err)

	close(remote.gate)
	waitDone(t, running)
}

func TestManager_SlowObserverDoesNotBlockManager(t *testing.T) {
	blocking := newBlockingObserver()
	s := NewScheduler(newTestExecutor(newFakeRemote(), nil), 3, zerolog.Nop(), blocking)
	m := NewManager(s, nil, ManagerConfig{MaxJobs: 100, MaxActiveBatches: 1}, zerolog.Nop())
	defer func() {
		close(blocking.release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.Wait(ctx))
	}()

	submitted := make(chan *Handle, 1)
	go func() {
		h, err := m.SubmitBatch(context.Background(), []string{"a"}, testParams)
		assert.NoError(t, err)
		submitted <- h
	}()

	var h *Handle
	select {
	case h = <-submitted:
	case <-time.After(time.Second):
		t.Fatal("SubmitBatch blocked on a slow observer")
	}
	select {
	case <-blocking.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("BatchStarted was never delivered")
	}

	got := make(chan error, 1)
	go func() {
		_, err := m.Get(context.Background(), testParams.ClientID, h.ID())
		got <- err
	}()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Get blocked while an observer was running")
	}

	_, err := m.SubmitBatch(context.Background(), []string{"b"}, testParams)
	assert.ErrorIs(t, err, domain.ErrTooManyBatches)
}

func TestManager_DrainRejectsNewBatches(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.started = make(chan string, 10)
	m := newTestManager(remote, nil, ManagerConfig{MaxJobs: 100})

	h, err := m.SubmitBatch(context.Background(), []string{"a", "b", "c", "d", "e"}, testParams)
	require.NoError(t, err)
	receiveN(t, remote.started, 3)

	assert.Equal(t, 1, m.Drain())
	assert.Equal(t, 0, m.Drain())

	_, err = m.SubmitBatch(context.Background(), []string{"x"}, testParams)
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	close(remote.gate)
	snapshot := waitDone(t, h)
	assert.Equal(t, domain.BatchStatusCancelled, snapshot.Status)
	assert.Equal(t, 3, snapshot.Counts.Completed)
	assert.Equal(t, 2, snapshot.Counts.Pending)
}
