package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"helmsman/internal/types"
)

func record(n int) *types.TurnRecord {
	return &types.TurnRecord{
		ID:        fmt.Sprintf("rec-%d", n),
		TurnID:    int64(n),
		UserInput: fmt.Sprintf("question %d", n),
		Response:  fmt.Sprintf("answer %d", n),
		Intent:    types.IntentNewRequest,
	}
}

func TestShortTermFIFOEviction(t *testing.T) {
	m := NewShortTermMemory(3)
	for i := 1; i <= 5; i++ {
		m.Add(record(i))
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}
	recent := m.Recent(0)
	if recent[0].TurnID != 3 || recent[2].TurnID != 5 {
		t.Errorf("window = [%d..%d], want [3..5]", recent[0].TurnID, recent[2].TurnID)
	}
}

func TestRecentText(t *testing.T) {
	m := NewShortTermMemory(3)
	if got := m.RecentText(3); got != "(no prior turns)" {
		t.Errorf("empty RecentText = %q", got)
	}
	m.Add(record(1))
	m.Add(record(2))
	text := m.RecentText(2)
	if !strings.Contains(text, "User: question 1") || !strings.Contains(text, "Assistant: answer 2") {
		t.Errorf("RecentText = %q", text)
	}
	// Oldest first.
	if strings.Index(text, "question 1") > strings.Index(text, "question 2") {
		t.Error("transcript not in chronological order")
	}
}

func TestShortTermClear(t *testing.T) {
	m := NewShortTermMemory(3)
	m.Add(record(1))
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len after Clear = %d", m.Len())
	}
}

// The genai dependency chain starts an opencensus stats worker at init that
// never exits; goleak has to look past it.
var leakChecks = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

// flakyStore fails the first failures calls then succeeds.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	saved    []*types.TurnRecord
}

func (s *flakyStore) SaveTurnRecord(ctx context.Context, r *types.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("transient store error")
	}
	s.saved = append(s.saved, r)
	return nil
}

func (s *flakyStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestForwarderPersistsAndDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, leakChecks)

	store := &flakyStore{}
	f := NewForwarder(store, ForwarderOptions{QueueSize: 8})
	for i := 1; i <= 4; i++ {
		f.Enqueue(record(i))
	}
	f.Close()

	if got := store.savedCount(); got != 4 {
		t.Errorf("saved = %d, want 4", got)
	}
}

func TestForwarderRetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t, leakChecks)

	store := &flakyStore{failures: 2}
	f := NewForwarder(store, ForwarderOptions{Retries: 3, Backoff: time.Millisecond})
	f.Enqueue(record(1))
	f.Close()

	if got := store.savedCount(); got != 1 {
		t.Errorf("saved = %d, want 1 after retries", got)
	}
}

func TestForwarderSwallowsPermanentFailure(t *testing.T) {
	defer goleak.VerifyNone(t, leakChecks)

	store := &flakyStore{failures: 100}
	f := NewForwarder(store, ForwarderOptions{Retries: 1, Backoff: time.Millisecond})
	f.Enqueue(record(1))
	f.Close()

	if got := store.savedCount(); got != 0 {
		t.Errorf("saved = %d, want 0", got)
	}
}

// vectorStore additionally records attached embeddings.
type vectorStore struct {
	flakyStore
	vectors map[string][]byte
}

func (s *vectorStore) AttachEmbedding(ctx context.Context, recordID string, vector []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectors == nil {
		s.vectors = make(map[string][]byte)
	}
	s.vectors[recordID] = vector
	return nil
}

type fixedEmbedder struct{ vec []float32 }

func (e fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

func TestForwarderAttachesEmbeddings(t *testing.T) {
	defer goleak.VerifyNone(t, leakChecks)

	store := &vectorStore{}
	f := NewForwarder(store, ForwarderOptions{Embedder: fixedEmbedder{vec: []float32{0.5, -1.25}}})
	f.Enqueue(record(1))
	f.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	vec, ok := store.vectors["rec-1"]
	if !ok {
		t.Fatal("no embedding attached to rec-1")
	}
	if len(vec) != 8 {
		t.Errorf("vector blob len = %d, want 8", len(vec))
	}
}

func TestManagerFansOutToBothTiers(t *testing.T) {
	defer goleak.VerifyNone(t, leakChecks)

	store := &flakyStore{}
	f := NewForwarder(store, ForwarderOptions{})
	m := NewManager(NewShortTermMemory(3), f)

	m.Record(record(1))
	m.Record(record(2))
	m.Close()

	if m.shortTerm.Len() != 2 {
		t.Errorf("short-term len = %d", m.shortTerm.Len())
	}
	if got := store.savedCount(); got != 2 {
		t.Errorf("long-term saved = %d", got)
	}

	m.Clear()
	if m.shortTerm.Len() != 0 {
		t.Error("Clear should wipe the short-term tier")
	}
	if got := store.savedCount(); got != 2 {
		t.Error("Clear must not touch long-term records")
	}
}
