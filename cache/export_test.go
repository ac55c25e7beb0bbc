package cache

import "time"

// SetClock replaces the clock used for expiry.
func (m *MemoryCache) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
