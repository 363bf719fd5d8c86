package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/domain"
)

// History reads batches that are no longer held in memory.
type History interface {
	GetBatch(ctx context.Context, clientID string, id uuid.UUID) (*domain.BatchSnapshot, error)
	ListBatches(ctx context.Context, clientID string, limit int) ([]domain.BatchSnapshot, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// MaxJobs caps the number of distinct keywords in one batch.
	MaxJobs int
	// MaxActiveBatches caps the number of running batches (0 = unlimited).
	MaxActiveBatches int
	// Retention is how long finished batches stay in memory.
	Retention time.Duration
	// ListLimit caps the number of batches returned by List.
	ListLimit int
}

// Manager is the submission surface. It owns the live batch handles.
type Manager struct {
	scheduler *Scheduler
	history   History
	cfg       ManagerConfig
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	batches  map[uuid.UUID]*Handle
	starting int
	draining bool
}

// NewManager creates a Manager. history may be nil.
func NewManager(scheduler *Scheduler, history History, cfg ManagerConfig, logger zerolog.Logger) *Manager {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 100
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 100
	}
	return &Manager{
		scheduler: scheduler,
		history:   history,
		cfg:       cfg,
		logger:    logger.With().Str("component", "batch_manager").Logger(),
		now:       time.Now,
		batches:   make(map[uuid.UUID]*Handle),
	}
}

// SubmitBatch validates the input, starts a batch and returns its handle.
// Keywords are trimmed and deduplicated; blank entries are dropped.
// The batch keeps running after ctx is cancelled.
func (m *Manager) SubmitBatch(ctx context.Context, keywords []string, params domain.SharedParams) (*Handle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	prepared, err := domain.PrepareKeywords(keywords, m.cfg.MaxJobs)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	if m.cfg.MaxActiveBatches > 0 && m.activeLocked()+m.starting >= m.cfg.MaxActiveBatches {
		m.mu.Unlock()
		return nil, domain.ErrTooManyBatches
	}
	m.starting++
	m.mu.Unlock()

	batchID := uuid.New()
	jobs := make([]domain.Job, len(prepared))
	for i, kw := range prepared {
		jobs[i] = domain.NewJob(batchID, i, kw)
	}

	h := m.scheduler.Start(ctx, batchID, params, jobs)

	m.mu.Lock()
	m.batches[batchID] = h
	m.starting--
	if m.draining {
		h.Cancel()
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("batch_id", batchID.String()).
		Str("client_id", params.ClientID).
		Int("submitted", len(keywords)).
		Int("jobs", len(jobs)).
		Msg("batch submitted")

	return h, nil
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, h := range m.batches {
		if !h.Finished() {
			n++
		}
	}
	return n
}

// Handle returns the live handle of a batch owned by clientID.
func (m *Manager) Handle(clientID string, id uuid.UUID) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.batches[id]
	m.mu.RUnlock()
	if !ok || h.Params().ClientID != clientID {
		return nil, domain.NewNotFoundError("batch", id.String())
	}
	return h, nil
}

// Get returns a snapshot of a batch owned by clientID, falling back to
// history for batches no longer in memory.
func (m *Manager) Get(ctx context.Context, clientID string, id uuid.UUID) (domain.BatchSnapshot, error) {
	h, err := m.Handle(clientID, id)
	if err == nil {
		return h.Snapshot(), nil
	}
	if m.history == nil {
		return domain.BatchSnapshot{}, err
	}
	snapshot, herr := m.history.GetBatch(ctx, clientID, id)
	if herr != nil {
		return domain.BatchSnapshot{}, herr
	}
	return *snapshot, nil
}

// List returns clientID's batches, newest first, without per-job detail.
func (m *Manager) List(ctx context.Context, clientID string) ([]domain.BatchSnapshot, error) {
	m.mu.RLock()
	seen := make(map[uuid.UUID]bool)
	var out []domain.BatchSnapshot
	for id, h := range m.batches {
		if h.Params().ClientID != clientID {
			continue
		}
		snapshot := h.Snapshot()
		snapshot.Jobs = nil
		out = append(out, snapshot)
		seen[id] = true
	}
	m.mu.RUnlock()

	if m.history != nil {
		stored, err := m.history.ListBatches(ctx, clientID, m.cfg.ListLimit)
		if err != nil {
			return nil, err
		}
		for _, s := range stored {
			if !seen[s.BatchID] {
				out = append(out, s)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > m.cfg.ListLimit {
		out = out[:m.cfg.ListLimit]
	}
	return out, nil
}

// Cancel stops a running batch owned by clientID from starting more jobs
// and returns its snapshot. Cancelling a finished batch is a no-op.
func (m *Manager) Cancel(clientID string, id uuid.UUID) (domain.BatchSnapshot, error) {
	h, err := m.Handle(clientID, id)
	if err != nil {
		return domain.BatchSnapshot{}, err
	}
	if h.Cancel() {
		m.logger.Info().Str("batch_id", id.String()).Str("client_id", clientID).Msg("batch cancelled")
	}
	return h.Snapshot(), nil
}

// CancelAll cancels every running batch and returns how many it cancelled.
func (m *Manager) CancelAll() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, h := range m.batches {
		if h.Cancel() {
			n++
		}
	}
	return n
}

// Wait blocks until every batch held in memory has finished or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.batches))
	for _, h := range m.batches {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Prune drops finished batches that finished before the retention window
// and returns how many it dropped.
func (m *Manager) Prune() int {
	cutoff := m.now().Add(-m.cfg.Retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, h := range m.batches {
		finishedAt := h.FinishedAt()
		if finishedAt != nil && finishedAt.Before(cutoff) {
			delete(m.batches, id)
			n++
		}
	}
	return n
}

// RunPruner calls Prune every interval until ctx is cancelled.
func (m *Manager) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(); n > 0 {
				m.logger.Debug().Int("pruned", n).Msg("pruned finished batches")
			}
		}
	}
}

// Drain stops the manager from accepting batches and cancels every running
// one. It returns how many batches it cancelled. Jobs already dequeued keep
// running; use Wait to await them.
func (m *Manager) Drain() int {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()
	return m.CancelAll()
}

// Shutdown drains the manager and waits for in-flight jobs until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	cancelled := m.Drain()
	m.logger.Info().Int("cancelled", cancelled).Msg("waiting for in-flight jobs")
	if err := m.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.Warn().Msg("shutdown timed out with jobs still in flight")
		}
		return err
	}
	return nil
}
