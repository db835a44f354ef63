package auth

import (
	"log"
	"strings"
	"sync"
	"time"
)

const (
	MaxLoginAttempts = 5
	LockoutDuration  = 15 * time.Minute
)

// AttemptStore persists failed sign-in counters per email.
type AttemptStore interface {
	GetLoginAttempts(email string) (int, time.Time, error)
	SaveLoginAttempts(email string, count int, last time.Time) error
	ResetLoginAttempts(email string) error
}

// LoginAttempts is a client-side usability guard against repeated failed
// sign-ins. It is not a security control: clearing local storage resets it.
type LoginAttempts struct {
	store   AttemptStore
	max     int
	lockout time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

func NewLoginAttempts(store AttemptStore) *LoginAttempts {
	return &LoginAttempts{
		store:   store,
		max:     MaxLoginAttempts,
		lockout: LockoutDuration,
		now:     time.Now,
	}
}

func attemptKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// current returns the live count, treating counters whose window has
// elapsed as reset.
func (a *LoginAttempts) current(email string) (int, time.Time) {
	count, last, err := a.store.GetLoginAttempts(attemptKey(email))
	if err != nil {
		log.Printf("auth: read login attempts: %v", err)
		return 0, time.Time{}
	}
	if count > 0 && a.now().Sub(last) >= a.lockout {
		return 0, time.Time{}
	}
	return count, last
}

// Locked reports whether email is locked out and for how much longer.
func (a *LoginAttempts) Locked(email string) (bool, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	count, last := a.current(email)
	if count < a.max {
		return false, 0
	}
	return true, a.lockout - a.now().Sub(last)
}

// Failed records a failed attempt and returns the new count.
func (a *LoginAttempts) Failed(email string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count, _ := a.current(email)
	count++
	if err := a.store.SaveLoginAttempts(attemptKey(email), count, a.now()); err != nil {
		log.Printf("auth: save login attempts: %v", err)
	}
	return count
}

// Reset clears the counter after a successful sign-in.
func (a *LoginAttempts) Reset(email string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.ResetLoginAttempts(attemptKey(email)); err != nil {
		log.Printf("auth: reset login attempts: %v", err)
	}
}

// MemoryAttemptStore keeps counters in memory, for tests and for runs
// without a local database.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	entries map[string]memoryAttempt
}

type memoryAttempt struct {
	count int
	last  time.Time
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{entries: make(map[string]memoryAttempt)}
}

func (m *MemoryAttemptStore) GetLoginAttempts(email string) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[email]
	return e.count, e.last, nil
}

func (m *MemoryAttemptStore) SaveLoginAttempts(email string, count int, last time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[email] = memoryAttempt{count: count, last: last}
	return nil
}

func (m *MemoryAttemptStore) ResetLoginAttempts(email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, email)
	return nil
}
