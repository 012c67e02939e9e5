// Package batch implements the adaptive batching layer and the
// per-entity-type cloud write buffer (spec §4.7). Operations queue per
// (operationType, priority) lane; a lane flushes early once it reaches
// the batch threshold, on a per-lane wait timer otherwise, and out of
// turn under memory pressure. Operations whose metadata signals a
// registry-lookup or create-then-relate dependency skip queuing
// entirely and run on the immediate path, preserving read-after-write
// semantics for the caller.
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// OperationType is the closed set of queueable operation kinds, in
// descending priority order: delete > update > save > add.
type OperationType string

const (
	OpDelete OperationType = "delete"
	OpUpdate OperationType = "update"
	OpSave   OperationType = "save"
	OpAdd    OperationType = "add"
)

var priorityOrder = map[OperationType]int{
	OpDelete: 0,
	OpUpdate: 1,
	OpSave:   2,
	OpAdd:    3,
}

// registryLookupKeys are metadata fields whose presence marks an
// operation as "a registry lookup will follow" (spec §4.7 refused
// batching): external identifiers that a caller is about to resolve
// and therefore needs durable and visible immediately.
var registryLookupKeys = []string{"did", "handle", "uri", "external_id", "externalId"}

// Operation is one unit of queueable work.
type Operation struct {
	Type       OperationType
	ID         string
	Payload    any
	SizeBytes  int64
	Metadata   map[string]any
	EnqueuedAt time.Time
}

// requiresImmediate reports whether op must bypass batching per the
// spec's refused-batching rule.
func requiresImmediate(op Operation) bool {
	for _, key := range registryLookupKeys {
		if _, ok := op.Metadata[key]; ok {
			return true
		}
	}
	if dependent, ok := op.Metadata["hasDependentOperation"].(bool); ok && dependent {
		return true
	}
	return false
}

// Executor performs the actual adapter work for one operation or a
// coalesced batch of same-type operations.
type Executor interface {
	ExecuteImmediate(ctx context.Context, op Operation) error
	ExecuteBatch(ctx context.Context, ops []Operation) error
}

// Config tunes the adaptive batching layer. Zero values take the
// spec's defaults via applyDefaults.
type Config struct {
	BatchThreshold int           // queue depth that triggers an immediate batched flush
	MaxWaitTime    time.Duration // per-lane timer before a partial batch flushes anyway
	MemoryCeiling  int64         // total queued bytes across all lanes before pressure flushing kicks in
	HighLoadBacklog int          // total queued ops across lanes above which wait time is halved
}

func (c *Config) applyDefaults() {
	if c.BatchThreshold <= 0 {
		c.BatchThreshold = 5
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = 100 * time.Millisecond
	}
	if c.MemoryCeiling <= 0 {
		c.MemoryCeiling = 100 << 20
	}
	if c.HighLoadBacklog <= 0 {
		c.HighLoadBacklog = c.BatchThreshold * 4
	}
}

// lane holds the queued operations of one operationType.
type lane struct {
	opType OperationType

	mu    sync.Mutex
	queue []Operation
	timer *time.Timer
}

func (l *lane) oldestEnqueuedAt() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return time.Time{}, false
	}
	return l.queue[0].EnqueuedAt, true
}

// Batcher is the adaptive batching layer.
type Batcher struct {
	config   Config
	executor Executor

	mu         sync.Mutex
	lanes      map[OperationType]*lane
	queuedSize int64
	queuedOps  int
}

// New creates a Batcher over executor.
func New(config Config, executor Executor) *Batcher {
	config.applyDefaults()
	b := &Batcher{
		config:   config,
		executor: executor,
		lanes:    make(map[OperationType]*lane),
	}
	for _, t := range []OperationType{OpDelete, OpUpdate, OpSave, OpAdd} {
		b.lanes[t] = &lane{opType: t}
	}
	return b
}

// Submit enqueues op, or runs it on the immediate path if batching is
// refused for it or its lane has just crossed the batch threshold.
func (b *Batcher) Submit(ctx context.Context, op Operation) error {
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}

	if requiresImmediate(op) {
		return b.executor.ExecuteImmediate(ctx, op)
	}

	l := b.lanes[op.Type]
	if l == nil {
		// Unknown operation types have no batching lane defined; run
		// them immediately rather than silently dropping them.
		return b.executor.ExecuteImmediate(ctx, op)
	}

	l.mu.Lock()
	l.queue = append(l.queue, op)
	depth := len(l.queue)
	if l.timer == nil {
		l.timer = time.AfterFunc(b.waitTime(), func() { b.flushLaneOnTimer(l) })
	}
	l.mu.Unlock()

	b.mu.Lock()
	b.queuedSize += op.SizeBytes
	b.queuedOps++
	overCeiling := b.queuedSize > b.config.MemoryCeiling
	b.mu.Unlock()

	if depth >= b.config.BatchThreshold {
		return b.flushLane(ctx, l)
	}
	if overCeiling {
		b.flushOldestLane()
	}
	return nil
}

// waitTime returns the per-lane flush timer duration, halved under
// high load per spec: "Maximum wait time ... with adaptive reduction
// under high load."
func (b *Batcher) waitTime() time.Duration {
	b.mu.Lock()
	backlog := b.queuedOps
	b.mu.Unlock()
	if backlog >= b.config.HighLoadBacklog {
		return b.config.MaxWaitTime / 2
	}
	return b.config.MaxWaitTime
}

func (b *Batcher) flushLaneOnTimer(l *lane) {
	_ = b.flushLane(context.Background(), l)
}

// flushLane drains l and executes its contents, on the single-op
// immediate path when only one operation accumulated (spec: "Immediate
// threshold (single op): execute now"), or as one coalesced batch call
// otherwise.
func (b *Batcher) flushLane(ctx context.Context, l *lane) error {
	l.mu.Lock()
	ops := l.queue
	l.queue = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	var size int64
	for _, op := range ops {
		size += op.SizeBytes
	}
	b.mu.Lock()
	b.queuedSize -= size
	b.queuedOps -= len(ops)
	b.mu.Unlock()

	if len(ops) == 1 {
		return b.executor.ExecuteImmediate(ctx, ops[0])
	}
	return b.executor.ExecuteBatch(ctx, ops)
}

// flushOldestLane flushes whichever non-empty lane holds the
// oldest-enqueued operation, relieving memory pressure per spec:
// "Memory ceiling ... with oldest-batch flush on pressure."
func (b *Batcher) flushOldestLane() {
	var oldest *lane
	var oldestAt time.Time
	for _, l := range b.lanes {
		at, ok := l.oldestEnqueuedAt()
		if !ok {
			continue
		}
		if oldest == nil || at.Before(oldestAt) {
			oldest, oldestAt = l, at
		}
	}
	if oldest != nil {
		_ = b.flushLane(context.Background(), oldest)
	}
}

// Flush drains every lane immediately, highest priority first
// (delete > update > save > add), and returns the first error
// encountered while still attempting every lane.
func (b *Batcher) Flush(ctx context.Context) error {
	types := make([]OperationType, 0, len(b.lanes))
	for t := range b.lanes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return priorityOrder[types[i]] < priorityOrder[types[j]] })

	var firstErr error
	for _, t := range types {
		if err := b.flushLane(ctx, b.lanes[t]); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush %s lane: %w", t, err)
		}
	}
	return firstErr
}

// PendingCounts reports the current queue depth per operation type, for
// monitoring.
func (b *Batcher) PendingCounts() map[OperationType]int {
	out := make(map[OperationType]int, len(b.lanes))
	for t, l := range b.lanes {
		l.mu.Lock()
		out[t] = len(l.queue)
		l.mu.Unlock()
	}
	return out
}

// WriteBufferFlusher is satisfied by a storage.Adapter-backed writer
// that can persist a coalesced set of entries for one entity type.
type WriteBufferFlusher interface {
	FlushEntries(ctx context.Context, entries map[string]any) error
}

// WriteBuffer is the cloud per-entity-type scheme: writes keyed by ID
// are coalesced in memory and drained by a background flusher, so
// repeated writes to the same ID within a window collapse into one
// adapter call (spec §4.7 "Write buffer").
type WriteBuffer struct {
	flusher WriteBufferFlusher
	window  time.Duration

	mu      sync.Mutex
	pending map[string]any
	timer   *time.Timer
}

// NewWriteBuffer creates a WriteBuffer that coalesces writes within
// window before calling flusher.
func NewWriteBuffer(flusher WriteBufferFlusher, window time.Duration) *WriteBuffer {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &WriteBuffer{flusher: flusher, window: window, pending: make(map[string]any)}
}

// Put stashes value under id, replacing any value already pending for
// the same id within the current window.
func (w *WriteBuffer) Put(id string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[id] = value
	if w.timer == nil {
		w.timer = time.AfterFunc(w.window, w.drain)
	}
}

func (w *WriteBuffer) drain() {
	w.mu.Lock()
	entries := w.pending
	w.pending = make(map[string]any)
	w.timer = nil
	w.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	_ = w.flusher.FlushEntries(context.Background(), entries)
}

// Flush forces an immediate drain regardless of the window timer,
// used on close or heartbeat.
func (w *WriteBuffer) Flush(ctx context.Context) error {
	w.mu.Lock()
	entries := w.pending
	w.pending = make(map[string]any)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	return w.flusher.FlushEntries(ctx, entries)
}
