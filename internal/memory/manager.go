package memory

import (
	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// Manager fans one completed turn record out to both tiers: synchronously
// into the short-term FIFO and asynchronously toward long-term storage.
type Manager struct {
	shortTerm *ShortTermMemory
	forwarder *Forwarder
}

// NewManager wires the tiers together. The forwarder may be nil when no
// long-term store is configured; records then live only in the FIFO.
func NewManager(shortTerm *ShortTermMemory, forwarder *Forwarder) *Manager {
	if shortTerm == nil {
		shortTerm = NewShortTermMemory(0)
	}
	return &Manager{shortTerm: shortTerm, forwarder: forwarder}
}

// Record stores one turn record in both tiers.
func (m *Manager) Record(record *types.TurnRecord) {
	if record == nil {
		return
	}
	m.shortTerm.Add(record)
	if m.forwarder != nil {
		m.forwarder.Enqueue(record)
	}
	logging.Memory("recorded turn %d (%s)", record.TurnID, record.Intent)
}

// RecentText renders the short-term transcript for prompt injection.
func (m *Manager) RecentText(n int) string {
	return m.shortTerm.RecentText(n)
}

// Recent exposes the short-term window, oldest first.
func (m *Manager) Recent(n int) []*types.TurnRecord {
	return m.shortTerm.Recent(n)
}

// Clear wipes the short-term tier. Long-term records are durable and are
// intentionally untouched.
func (m *Manager) Clear() {
	m.shortTerm.Clear()
	logging.Memory("short-term memory cleared")
}

// Close flushes and stops the long-term forwarder.
func (m *Manager) Close() {
	if m.forwarder != nil {
		m.forwarder.Close()
	}
}
