package cost

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu        sync.Mutex
	entries   []Entry
	refreshed int
	now       func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{now: now}
}

func (s *memoryStore) InsertCost(_ context.Context, entry Entry) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uuid.New()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.entries = append(s.entries, entry)
	return entry.ID, nil
}

func (s *memoryStore) CostsByService(_ context.Context, from, to time.Time) ([]ServiceCost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byService := map[string]*ServiceCost{}
	for _, e := range s.entries {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		sc, ok := byService[e.Service]
		if !ok {
			sc = &ServiceCost{Service: e.Service}
			byService[e.Service] = sc
		}
		sc.TotalCost = sc.TotalCost.Add(e.CostUSD)
		sc.TotalUnits = sc.TotalUnits.Add(e.Units)
		sc.RequestCount++
	}
	out := make([]ServiceCost, 0, len(byService))
	for _, sc := range byService {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

func (s *memoryStore) DailyCosts(_ context.Context, since time.Time) ([]DailyCost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay := map[time.Time]decimal.Decimal{}
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		day := e.CreatedAt.UTC().Truncate(24 * time.Hour)
		byDay[day] = byDay[day].Add(e.CostUSD)
	}
	out := make([]DailyCost, 0, len(byDay))
	for day, c := range byDay {
		out = append(out, DailyCost{Day: day, Cost: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.After(out[j].Day) })
	return out, nil
}

func (s *memoryStore) RefreshMonthlyCostSummary(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed++
	return nil
}

type fixedSpend struct {
	mu    sync.Mutex
	spend decimal.Decimal
	calls int
}

func (f *fixedSpend) CurrentSpend(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.spend, nil
}

func (f *fixedSpend) set(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spend = decimal.RequireFromString(v)
}
