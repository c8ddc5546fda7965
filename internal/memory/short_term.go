// Package memory implements the two history tiers: a bounded FIFO of recent
// turns that feeds prompts, and a fire-and-forget forwarder that persists
// every turn record to durable storage without blocking the turn loop.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"helmsman/internal/types"
)

// DefaultShortTermTurns is the FIFO window used when no size is configured.
const DefaultShortTermTurns = 3

// ShortTermMemory is a bounded FIFO of the most recent turn records. Adding
// beyond capacity evicts the oldest. Safe for concurrent use.
type ShortTermMemory struct {
	mu      sync.RWMutex
	records []*types.TurnRecord
	limit   int
}

// NewShortTermMemory creates a FIFO holding up to limit records. A limit of
// zero or less falls back to the default window.
func NewShortTermMemory(limit int) *ShortTermMemory {
	if limit <= 0 {
		limit = DefaultShortTermTurns
	}
	return &ShortTermMemory{limit: limit}
}

// Add appends a record, evicting the oldest when the window is full.
func (m *ShortTermMemory) Add(record *types.TurnRecord) {
	if record == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	if len(m.records) > m.limit {
		m.records = m.records[len(m.records)-m.limit:]
	}
}

// Recent returns up to n most recent records, oldest first. n <= 0 returns
// the whole window.
func (m *ShortTermMemory) Recent(n int) []*types.TurnRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.records) {
		n = len(m.records)
	}
	out := make([]*types.TurnRecord, n)
	copy(out, m.records[len(m.records)-n:])
	return out
}

// RecentText renders up to n recent exchanges as a transcript for prompt
// injection. Empty memory renders as an explicit marker so prompts never
// interpolate a blank.
func (m *ShortTermMemory) RecentText(n int) string {
	records := m.Recent(n)
	if len(records) == 0 {
		return "(no prior turns)"
	}
	parts := make([]string, 0, len(records))
	for i, r := range records {
		parts = append(parts, fmt.Sprintf("[turn %d]\n%s", i+1, r.ContextString()))
	}
	return strings.Join(parts, "\n\n")
}

// Len returns the number of records currently held.
func (m *ShortTermMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Clear drops all records.
func (m *ShortTermMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}
