package memory

import (
	"context"
	"sync"
	"time"

	"helmsman/internal/embedding"
	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// LongTermStore persists turn records durably. The store is write-only from
// the engine's perspective; retrieval belongs to offline tooling.
type LongTermStore interface {
	SaveTurnRecord(ctx context.Context, record *types.TurnRecord) error
}

// VectorSink attaches an embedding vector to an already-persisted record.
// LocalStore implements it; the forwarder type-asserts at construction.
type VectorSink interface {
	AttachEmbedding(ctx context.Context, recordID string, vector []byte) error
}

// Embedder vectorizes history text. Optional; when absent records are
// stored without vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ForwarderOptions tunes the async long-term writer.
type ForwarderOptions struct {
	QueueSize int           // pending records before Enqueue starts dropping
	Retries   int           // attempts after the first failure
	Backoff   time.Duration // initial backoff, doubled per attempt
	Embedder  Embedder      // optional vectorizer for stored records
}

func (o ForwarderOptions) withDefaults() ForwarderOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 250 * time.Millisecond
	}
	return o
}

// Forwarder writes turn records to a LongTermStore asynchronously. Failures
// are retried with exponential backoff, then logged and swallowed; long-term
// persistence never blocks or fails a turn.
type Forwarder struct {
	store   LongTermStore
	vectors VectorSink
	opts    ForwarderOptions

	queue  chan *types.TurnRecord
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// NewForwarder starts the background writer goroutine.
func NewForwarder(store LongTermStore, opts ForwarderOptions) *Forwarder {
	f := &Forwarder{
		store: store,
		opts:  opts.withDefaults(),
		done:  make(chan struct{}),
	}
	if sink, ok := store.(VectorSink); ok {
		f.vectors = sink
	}
	f.queue = make(chan *types.TurnRecord, f.opts.QueueSize)
	f.wg.Add(1)
	go f.run()
	return f
}

// Enqueue hands a record to the background writer and returns immediately.
// A full or closed queue drops the record with a warning rather than
// blocking the turn.
func (f *Forwarder) Enqueue(record *types.TurnRecord) {
	if record == nil {
		return
	}
	select {
	case <-f.done:
		logging.MemoryWarn("long-term forwarder closed, dropping record %s", record.ID)
		return
	default:
	}
	select {
	case f.queue <- record:
	default:
		logging.MemoryWarn("long-term queue full, dropping record %s", record.ID)
	}
}

// Close stops accepting records, drains what was already queued, and waits
// for the writer to finish.
func (f *Forwarder) Close() {
	f.closed.Do(func() { close(f.done) })
	f.wg.Wait()
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	for {
		select {
		case record := <-f.queue:
			f.persist(record)
		case <-f.done:
			for {
				select {
				case record := <-f.queue:
					f.persist(record)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) persist(record *types.TurnRecord) {
	backoff := f.opts.Backoff
	var err error
	for attempt := 0; attempt <= f.opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = f.store.SaveTurnRecord(ctx, record)
		cancel()
		if err == nil {
			logging.MemoryDebug("persisted turn record %s (turn %d)", record.ID, record.TurnID)
			f.embed(record)
			return
		}
		logging.MemoryWarn("long-term write attempt %d for %s failed: %v", attempt+1, record.ID, err)
	}
	logging.MemoryWarn("giving up on turn record %s after %d attempts: %v", record.ID, f.opts.Retries+1, err)
}

// embed vectorizes the record text and attaches it to the stored row.
// Failures are logged and ignored; the unit itself is already durable.
func (f *Forwarder) embed(record *types.TurnRecord) {
	if f.opts.Embedder == nil || f.vectors == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	vec, err := f.opts.Embedder.Embed(ctx, record.EmbeddingText())
	if err != nil {
		logging.MemoryWarn("embedding for %s failed: %v", record.ID, err)
		return
	}
	if err := f.vectors.AttachEmbedding(ctx, record.ID, embedding.EncodeVector(vec)); err != nil {
		logging.MemoryWarn("attaching embedding for %s failed: %v", record.ID, err)
	}
}
