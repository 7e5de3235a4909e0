// Package ratelimit throttles repeated sign-in attempts with fixed windows.
//
// Two limiters are provided: Memory for a single process and Redis for a
// fleet sharing one counter per key.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more attempt is allowed for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	start time.Time
	count int
}

// Memory is a fixed-window limiter kept in process memory.
type Memory struct {
	Limit  int
	Window time.Duration
	Now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func NewMemory(limit int, size time.Duration) *Memory {
	return &Memory{Limit: limit, Window: size, Now: time.Now, windows: map[string]*window{}}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= m.Window {
		m.sweep(now)
		w = &window{start: now}
		m.windows[key] = w
	}
	w.count++
	return w.count <= m.Limit, nil
}

// sweep drops expired windows. Called with mu held.
func (m *Memory) sweep(now time.Time) {
	for k, w := range m.windows {
		if now.Sub(w.start) >= m.Window {
			delete(m.windows, k)
		}
	}
}

// Reset forgets every counter for key, e.g. after a successful sign-in.
func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
	return nil
}
