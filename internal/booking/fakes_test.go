package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"gitea.jw6.us/james/reservo/internal/calendar"
	"gitea.jw6.us/james/reservo/internal/oauth"
	"gitea.jw6.us/james/reservo/internal/store"
)

// memStore keeps reservations in memory and applies the same half-open
// overlap predicate as the SQL repository.
type memStore struct {
	mu        sync.Mutex
	items     map[int64]store.Reservation
	nextID    int64
	finds     int
	writes    int
	createErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{items: make(map[int64]store.Reservation)}
}

func (m *memStore) Create(ctx context.Context, r store.Reservation) (*store.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	r.ID = m.nextID
	m.items[r.ID] = r
	return &r, nil
}

func (m *memStore) GetForUser(ctx context.Context, userID, id int64) (*store.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || r.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID int64) ([]store.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Reservation
	for _, r := range m.items {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) FindOverlapping(ctx context.Context, start, end time.Time, excludeID int64) (*store.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	var hit *store.Reservation
	for _, r := range m.items {
		if r.ID == excludeID || !Overlaps(r.StartAt, r.EndAt, start, end) {
			continue
		}
		if hit == nil || r.StartAt.Before(hit.StartAt) || (r.StartAt.Equal(hit.StartAt) && r.ID < hit.ID) {
			r := r
			hit = &r
		}
	}
	if hit == nil {
		return nil, store.ErrNotFound
	}
	return hit, nil
}

func (m *memStore) Update(ctx context.Context, r store.Reservation) (*store.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	existing, ok := m.items[r.ID]
	if !ok || existing.UserID != r.UserID {
		return nil, store.ErrNotFound
	}
	m.items[r.ID] = r
	return &r, nil
}

func (m *memStore) DeleteForUser(ctx context.Context, userID, id int64) (*store.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || r.UserID != userID {
		return nil, store.ErrNotFound
	}
	m.writes++
	delete(m.items, id)
	return &r, nil
}

type fakeCredentials struct {
	calls int
	err   error
}

func (f *fakeCredentials) GetUsableCredential(ctx context.Context, userID int64) (*oauth.Client, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oauth.Client{UserID: userID, Outcome: oauth.RefreshNotNeeded}, nil
}

type fakeEvents struct {
	calls int
	event *calendar.Event
	err   error
	block bool
}

func (f *fakeEvents) FirstEvent(ctx context.Context, ts oauth2.TokenSource, start, end time.Time) (*calendar.Event, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.event != nil && Overlaps(f.event.StartAt, f.event.EndAt, start, end) {
		ev := *f.event
		return &ev, nil
	}
	return nil, nil
}

type harness struct {
	store  *memStore
	creds  *fakeCredentials
	events *fakeEvents
	svc    *Service
}

func newHarness() *harness {
	h := &harness{store: newMemStore(), creds: &fakeCredentials{}, events: &fakeEvents{}}
	checker := NewChecker(h.store, h.creds, h.events, 50*time.Millisecond, nil)
	h.svc = NewService(h.store, checker, nil)
	return h
}
