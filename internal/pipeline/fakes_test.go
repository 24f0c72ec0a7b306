package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

type award struct {
	ID     string
	Amount string
}

type awardRow struct {
	ID     string
	Amount float64
}

type savedCall struct {
	Checkpoint Checkpoint
	Update     StateUpdate
}

type memoryCheckpointStore struct {
	mu      sync.Mutex
	current *Checkpoint
	saves   []savedCall
	loadErr error
	saveErr error
	records int
}

func (m *memoryCheckpointStore) LoadCheckpoint(_ context.Context, _ string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.current == nil {
		return nil, nil
	}
	cp := *m.current
	return &cp, nil
}

func (m *memoryCheckpointStore) SaveCheckpoint(_ context.Context, _ string, cp Checkpoint, update StateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.current = &cp
	m.records += update.RecordsDelta
	m.saves = append(m.saves, savedCall{Checkpoint: cp, Update: update})
	return nil
}

func (m *memoryCheckpointStore) lastSave() savedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[len(m.saves)-1]
}

// pagedSource serves fixed pages keyed by Checkpoint.Page.
type pagedSource struct {
	pages       [][]award
	failUpsert  map[int]bool // page index -> upsert fails
	failFetch   map[int]bool
	fetchedFrom []int
	upserted    []awardRow
	currentPage int

	// exhaustedMeta is attached to the checkpoint returned with the empty batch
	exhaustedMeta map[string]any
}

func (s *pagedSource) Name() string { return "test_awards" }

func (s *pagedSource) FetchBatch(_ context.Context, cp Checkpoint) ([]award, Checkpoint, error) {
	s.fetchedFrom = append(s.fetchedFrom, cp.Page)
	s.currentPage = cp.Page
	if s.failFetch[cp.Page] {
		return nil, cp, errors.New("upstream unavailable")
	}
	if cp.Page >= len(s.pages) {
		if s.exhaustedMeta != nil {
			cp.Metadata = s.exhaustedMeta
		}
		return nil, cp, nil
	}
	next := cp
	next.Page = cp.Page + 1
	next.Offset = cp.Offset + len(s.pages[cp.Page])
	return s.pages[cp.Page], next, nil
}

func (s *pagedSource) Transform(_ context.Context, a award) (awardRow, bool, error) {
	if a.ID == "" {
		return awardRow{}, false, nil
	}
	if a.Amount == "panic" {
		panic("bad record")
	}
	amount, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return awardRow{}, false, fmt.Errorf("parse amount %q: %w", a.Amount, err)
	}
	return awardRow{ID: a.ID, Amount: amount}, true, nil
}

func (s *pagedSource) Upsert(_ context.Context, rows []awardRow) (int, error) {
	if s.failUpsert[s.currentPage] {
		return 0, errors.New("connection reset")
	}
	s.upserted = append(s.upserted, rows...)
	return len(rows), nil
}

func awardPages(n, perPage int) [][]award {
	pages := make([][]award, n)
	for p := range pages {
		for i := 0; i < perPage; i++ {
			pages[p] = append(pages[p], award{ID: fmt.Sprintf("A-%d-%d", p, i), Amount: "100.50"})
		}
	}
	return pages
}
