package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"homefinder/pkg/domain"
)

// MemoryStore keeps documents in-process. Tests use it as the listing and
// profile backend.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]domain.Listing
	profiles map[string]domain.UserProfile
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]domain.Listing),
		profiles: make(map[string]domain.UserProfile),
	}
}

func (m *MemoryStore) SaveListing(_ context.Context, l domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = cloneListing(l)
	return nil
}

func (m *MemoryStore) GetListing(_ context.Context, id string) (domain.Listing, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return domain.Listing{}, false, nil
	}
	return cloneListing(l), true, nil
}

func (m *MemoryStore) ListListingsByOwner(ctx context.Context, ownerRef string) ([]domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	res := make([]domain.Listing, 0)
	for _, l := range m.listings {
		if l.Data.UserRef == ownerRef {
			res = append(res, cloneListing(l))
		}
	}
	m.mu.RUnlock()
	SortNewestFirst(res)
	return res, nil
}

func (m *MemoryStore) DeleteListing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listings, id)
	return nil
}

func (m *MemoryStore) UpdateUserProfile(_ context.Context, userID string, form domain.ProfileForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = domain.UserProfile{
		ID:        userID,
		Name:      form.Name,
		Email:     form.Email,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (m *MemoryStore) GetUserProfile(_ context.Context, userID string) (domain.UserProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

// SortNewestFirst orders listings by creation time descending, breaking ties
// by id so results are deterministic.
func SortNewestFirst(listings []domain.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		ti, tj := listings[i].Data.Timestamp, listings[j].Data.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return listings[i].ID < listings[j].ID
	})
}

func cloneListing(l domain.Listing) domain.Listing {
	l.Data.ImageURLs = slices.Clone(l.Data.ImageURLs)
	if l.Data.Extra != nil {
		l.Data.Extra = maps.Clone(l.Data.Extra)
	}
	return l
}
