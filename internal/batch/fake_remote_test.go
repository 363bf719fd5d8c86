package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/helixir/keyword-research-service/internal/domain"
)

// fakeRemote scripts research API behavior per keyword.
type fakeRemote struct {
	mu sync.Mutex

	createErr map[string]error
	runErr    map[string]error
	items     map[string]int
	panicOn   map[string]bool
	patchErr  error

	// gate, when set, blocks every research action until it is closed.
	gate chan struct{}
	// started receives the keyword of every research action as it begins.
	started chan string

	inFlight    int
	maxInFlight int
	created     []string
	patched     map[string]int
	patchStatus map[string]string
	nextID      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		createErr:   make(map[string]error),
		runErr:      make(map[string]error),
		items:       make(map[string]int),
		panicOn:     make(map[string]bool),
		patched:     make(map[string]int),
		patchStatus: make(map[string]string),
	}
}

func (f *fakeRemote) CreateTrackingRecord(_ context.Context, keyword string, _ domain.SharedParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, keyword)
	if err := f.createErr[keyword]; err != nil {
		return "", err
	}
	f.nextID++
	return fmt.Sprintf("rec-%d", f.nextID), nil
}

func (f *fakeRemote) RunResearchAction(ctx context.Context, keyword string, _ domain.SharedParams, _ string) ([]domain.ResearchItem, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	gate, started := f.gate, f.started
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if started != nil {
		started <- keyword
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn[keyword] {
		panic("boom")
	}
	if err := f.runErr[keyword]; err != nil {
		return nil, err
	}
	n, ok := f.items[keyword]
	if !ok {
		n = 2
	}
	items := make([]domain.ResearchItem, n)
	for i := range items {
		items[i] = domain.ResearchItem{Keyword: fmt.Sprintf("%s %d", keyword, i)}
	}
	return items, nil
}

func (f *fakeRemote) PatchTrackingRecord(_ context.Context, recordID, status string, itemCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return f.patchErr
	}
	f.patched[recordID] = itemCount
	f.patchStatus[recordID] = status
	return nil
}

func (f *fakeRemote) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *fakeRemote) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}
