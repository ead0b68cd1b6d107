package status

import (
	"context"
	"sync"
)

// MemoryRepository is a Repository kept in process memory. It is used when
// no database is configured and in tests.
type MemoryRepository struct {
	mu    sync.Mutex
	prefs map[string]Preference

	// Err, when set, is returned by every call.
	Err error
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{prefs: make(map[string]Preference)}
}

// Load returns the stored preference of userID, or ErrNotFound.
func (r *MemoryRepository) Load(_ context.Context, userID string) (Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return Preference{}, r.Err
	}
	p, ok := r.prefs[userID]
	if !ok {
		return Preference{}, ErrNotFound
	}
	return p, nil
}

// Save stores pref for userID, replacing any previous one.
func (r *MemoryRepository) Save(_ context.Context, userID string, pref Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.prefs[userID] = pref
	return nil
}

// Clear removes the stored preference of userID. Clearing a missing
// preference is not an error.
func (r *MemoryRepository) Clear(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	delete(r.prefs, userID)
	return nil
}

// SetErr changes the injected error.
func (r *MemoryRepository) SetErr(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}
