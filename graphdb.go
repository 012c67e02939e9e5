// Package nvgraph implements a persistent, graph-augmented vector
// database: an HNSW similarity index over entities ("nouns"), a typed
// relationship overlay between them ("verbs"), and the storage, cache,
// write-ahead log, and batching layers that make both durable.
//
// DB is the package's public façade; everything else under internal/
// is wired together here and is not meant to be imported directly.
package nvgraph

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvgraph/nvgraph/internal/backpressure"
	"github.com/nvgraph/nvgraph/internal/batch"
	"github.com/nvgraph/nvgraph/internal/cache"
	"github.com/nvgraph/nvgraph/internal/config"
	"github.com/nvgraph/nvgraph/internal/graph"
	"github.com/nvgraph/nvgraph/internal/hnsw"
	"github.com/nvgraph/nvgraph/internal/logging"
	"github.com/nvgraph/nvgraph/internal/metrics"
	"github.com/nvgraph/nvgraph/internal/persistence"
	"github.com/nvgraph/nvgraph/internal/shutdown"
	"github.com/nvgraph/nvgraph/internal/stats"
	"github.com/nvgraph/nvgraph/internal/storage"
	"github.com/nvgraph/nvgraph/internal/types"
	"github.com/nvgraph/nvgraph/internal/wal"
)

// DB is one graph-augmented vector database instance: one HNSW index,
// one relationship overlay, and the storage/cache/WAL/batching stack
// backing both.
type DB struct {
	cfg    config.Config
	logger *logging.Logger

	adapter storage.Adapter
	index   *hnsw.Index
	cache   *cache.Cache
	coord   *persistence.Coordinator
	wal     *wal.WAL
	batcher *batch.Batcher
	overlay *graph.Overlay

	counts    *stats.Counts
	collector *stats.Collector
	admission *backpressure.Controller
	metrics   *metrics.Collector
	lifecycle *shutdown.Handler

	walEnabled bool

	closed atomic.Bool
}

// indexSource lets persistence.Coordinator read back node state from
// the index that was constructed after the coordinator (the two are
// mutually referential: the coordinator's hooks must be passed into
// hnsw.New, but flush needs to call back into the resulting index).
type indexSource struct {
	idx *hnsw.Index
}

func (s *indexSource) NodeRecordFor(id string) (hnsw.NodeRecord, bool) { return s.idx.NodeRecordFor(id) }
func (s *indexSource) SystemSnapshot() hnsw.SystemRecord               { return s.idx.SystemSnapshot() }

// indexVectorSource adapts hnsw.Index's Vector method to
// graph.VectorSource, so the relationship overlay can resolve endpoint
// vectors without importing hnsw itself.
type indexVectorSource struct {
	idx *hnsw.Index
}

func (s indexVectorSource) VectorOf(id string) ([]float32, bool) { return s.idx.Vector(id) }

// Open builds a DB from cfg: the storage adapter named by cfg.Storage.Type,
// the HNSW index wired to the persistence coordinator, the unified cache,
// the write-ahead log (if enabled), the adaptive batching layer, and the
// relationship overlay. It registers a flush hook with a graceful shutdown
// handler so SIGINT/SIGTERM drain dirty state before the process exits.
func Open(cfg config.Config) (*DB, error) {
	adapter, err := openAdapter(cfg.Storage)
	if err != nil {
		return nil, types.Wrap(types.KindConfigurationError, "graphdb.open", err)
	}
	return OpenWithAdapter(cfg, adapter)
}

// OpenWithAdapter builds a DB exactly like Open, but over a
// caller-constructed adapter (used for the GCS backend, whose bucket
// handle Open cannot build from configuration alone).
func OpenWithAdapter(cfg config.Config, adapter storage.Adapter) (*DB, error) {
	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, types.Wrap(types.KindConfigurationError, "graphdb.open", err)
	}

	db := &DB{
		cfg:       cfg,
		logger:    logger,
		adapter:   adapter,
		cache:     cache.New(cache.Config{MaxSizeBytes: cfg.Cache.MaxSizeBytes}),
		metrics:   metrics.NewCollector(),
		admission: backpressure.New(backpressure.Config{}),
		lifecycle: shutdown.NewHandler(),
	}

	src := &indexSource{}
	db.coord = persistence.New(adapter, types.PersistMode(cfg.HNSW.PersistMode), src)
	hooks := db.coord.Hooks()
	hooks.LoadVector = db.loadVector

	idx := hnsw.New(hnswConfig(cfg.HNSW), hooks)
	idx.SetLogger(logger)
	src.idx = idx
	db.index = idx

	db.overlay = graph.New(adapter, db.cache, indexVectorSource{idx: idx})

	db.counts = stats.New(adapter)
	if err := db.counts.Load(context.Background()); err != nil {
		logger.Warn("graphdb: loading persisted counts failed: %v", err)
	}
	db.collector = stats.NewCollector(db.counts, idx, adapter)

	db.batcher = batch.New(batch.Config{
		BatchThreshold: cfg.Batching.BatchThreshold,
		MaxWaitTime:    cfg.Batching.MaxWaitTime,
		MemoryCeiling:  cfg.Batching.MemoryLimit,
	}, db)

	if cfg.WAL.Enabled {
		w, err := wal.Open(wal.Config{
			Dir:                cfg.WAL.Dir,
			MaxSegmentSize:     cfg.WAL.MaxSize,
			CheckpointInterval: cfg.WAL.CheckpointInterval,
		})
		if err != nil {
			return nil, types.Wrap(types.KindConfigurationError, "graphdb.open", err)
		}
		db.wal = w
		db.walEnabled = true

		if cfg.WAL.AutoRecover {
			if err := db.recoverFromWAL(); err != nil {
				logger.Warn("graphdb: wal recovery encountered errors: %v", err)
			}
		}
	}

	db.lifecycle.Register("graphdb.flush", 0, func(ctx context.Context) error { return db.Flush(ctx) })
	db.lifecycle.Start()

	return db, nil
}

func (db *DB) loadVector(id string) ([]float32, bool) {
	rec, ok, err := db.adapter.GetNounVector(context.Background(), id)
	if err != nil || !ok {
		return nil, false
	}
	return rec.Vector, true
}

func openAdapter(cfg config.StorageConfig) (storage.Adapter, error) {
	switch cfg.Type {
	case "", "memory":
		return storage.NewMemory(), nil
	case "filesystem":
		return storage.NewFilesystem(cfg.DataDir)
	case "gcs":
		return nil, types.Newf(types.KindConfigurationError, "graphdb.open",
			"gcs storage requires a bucket handle; construct internal/storage.GCS directly and use OpenWithAdapter")
	default:
		return nil, types.Newf(types.KindConfigurationError, "graphdb.open", "unknown storage type %q", cfg.Type)
	}
}

func hnswConfig(c config.HNSWConfig) hnsw.Config {
	cfg := hnsw.Config{
		M:              c.M,
		EfConstruction: c.EfConstruction,
		EfSearch:       c.EfSearch,
		MLMax:          c.MLMax,
		Quantization: hnsw.QuantConfig{
			Enabled:          c.Quantization.Enabled,
			RerankMultiplier: c.Quantization.RerankMultiplier,
		},
		VectorStorage:               c.VectorStorage,
		PersistMode:                 c.PersistMode,
		MaxConcurrentNeighborWrites: c.MaxConcurrentNeighborWrites,
	}
	cfg.Distance = hnsw.EuclideanDistance
	return cfg
}

// Add inserts a new entity and returns its ID (generated if the
// request left ID empty).
func (db *DB) Add(ctx context.Context, req AddItemRequest) (string, error) {
	if db.closed.Load() {
		return "", types.Newf(types.KindInvalidArgument, "graphdb.add", "db is closed")
	}
	if len(req.Vector) == 0 {
		return "", types.Newf(types.KindInvalidArgument, "graphdb.add", "empty vector")
	}
	if req.Type != "" && !types.ValidNounType(req.Type) {
		return "", types.Newf(types.KindInvalidArgument, "graphdb.add", "unknown noun type %q", req.Type)
	}

	id := req.ID
	if id == "" {
		id = types.NewNounID()
	}

	if err := db.admission.RequestPermission(ctx, id, 1); err != nil {
		return "", types.Wrap(types.KindThrottled, "graphdb.add", err)
	}
	succeeded := false
	defer func() { db.admission.ReleasePermission(id, succeeded) }()

	if err := db.walOp(wal.EntryInsert, map[string]any{
		"id": id, "type": req.Type, "vector": req.Vector, "metadata": req.Metadata,
	}, func() error {
		return db.index.AddItem(id, req.Vector)
	}); err != nil {
		return "", types.Wrap(types.KindInternal, "graphdb.add", err)
	}

	now := time.Now().UnixMilli()
	rec := storage.NounMetadataRecord{
		ID: id, Type: req.Type, CreatedAt: now, UpdatedAt: now,
		Metadata: withEntityFields(req.Metadata, req.Confidence, req.Weight),
	}
	op := batch.Operation{
		Type: batch.OpAdd, ID: id, Payload: rec, Metadata: req.Metadata,
		SizeBytes: int64(len(req.Vector)*4 + estimateMetadataSize(req.Metadata)),
	}
	if err := db.batcher.Submit(ctx, op); err != nil {
		return "", types.Wrap(types.KindInternal, "graphdb.add", err)
	}

	db.counts.IncrementNoun(ctx, req.Type)
	db.cacheEntity(entityFromRecord(id, req.Vector, rec))
	db.metrics.Counter("graphdb.add", 1)
	succeeded = true
	return id, nil
}

func estimateMetadataSize(md types.Metadata) int {
	return len(md) * 64
}

func withEntityFields(md types.Metadata, confidence, weight *float64) types.Metadata {
	if confidence == nil && weight == nil {
		return md
	}
	out := make(types.Metadata, len(md)+2)
	for k, v := range md {
		out[k] = v
	}
	if confidence != nil {
		out["confidence"] = *confidence
	}
	if weight != nil {
		out["weight"] = *weight
	}
	return out
}

func entityFromRecord(id string, vector []float32, rec storage.NounMetadataRecord) *types.Entity {
	return &types.Entity{
		ID: id, Vector: vector, Type: rec.Type,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt, Metadata: rec.Metadata,
	}
}

func (db *DB) cacheEntity(e *types.Entity) {
	size := int64(len(e.Vector)*4 + estimateMetadataSize(e.Metadata))
	db.cache.Set("noun:"+e.ID, e, cache.CategoryVector, size, 1)
}

func (db *DB) appendWAL(entryType wal.EntryType, params any) {
	if !db.walEnabled {
		return
	}
	if _, err := db.wal.Append(entryType, params); err != nil {
		db.logger.Warn("graphdb: wal append failed: %v", err)
	}
}

// walOp logs entryType/params around op, choosing write ordering by
// cfg.WAL.ImmediateWrites (spec §4.6's two documented modes):
// immediate-write mode runs op first and logs a single completed entry
// afterward; durability-first mode logs a pending entry before op
// runs and resolves it to completed or failed once op returns, so a
// crash mid-operation leaves a pending entry for AutoRecover to find.
func (db *DB) walOp(entryType wal.EntryType, params any, op func() error) error {
	if !db.walEnabled || db.cfg.WAL.ImmediateWrites {
		if err := op(); err != nil {
			return err
		}
		db.appendWAL(entryType, params)
		return nil
	}

	entry, err := db.wal.Begin(entryType, params)
	if err != nil {
		db.logger.Warn("graphdb: wal begin failed: %v", err)
		return op()
	}
	if err := op(); err != nil {
		if ferr := db.wal.Fail(entry, err); ferr != nil {
			db.logger.Warn("graphdb: wal fail-mark failed: %v", ferr)
		}
		return err
	}
	if err := db.wal.Complete(entry); err != nil {
		db.logger.Warn("graphdb: wal complete failed: %v", err)
	}
	return nil
}

// recoverFromWAL replays every WAL entry a crash left "pending"
// (logged but never resolved to completed or failed) back into the
// index and overlay, then marks each replayed entry completed so a
// later restart does not replay it again (spec §4.6 Recovery).
func (db *DB) recoverFromWAL() error {
	entries, err := wal.ReadAll(db.cfg.WAL.Dir)
	if err != nil {
		return types.Wrap(types.KindInternal, "graphdb.recover", err)
	}
	pending := wal.PendingAt(entries)
	if len(pending) == 0 {
		return nil
	}

	db.wal.SetRecovering(true)
	var firstErr error
	for _, e := range pending {
		if err := db.applyWALEntry(e); err != nil {
			db.logger.Warn("graphdb: replay lsn %d (%s) failed: %v", e.LSN, e.Type, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	db.wal.SetRecovering(false)

	for _, e := range pending {
		if err := db.wal.Complete(e); err != nil {
			db.logger.Warn("graphdb: marking replayed lsn %d complete failed: %v", e.LSN, err)
		}
	}

	db.logger.Info("graphdb: replayed %d unresolved wal entries on open", len(pending))
	if firstErr != nil {
		return types.Wrap(types.KindInternal, "graphdb.recover", firstErr)
	}
	return nil
}

// applyWALEntry replays one pending entry's effect into the index or
// overlay. Insert carries its vector in the log so an entity that
// never reached the persistence coordinator before a crash can still
// be restored; update rewrites the stored metadata record with the
// logged metadata; relate is never left pending (its ID is assigned
// inside Overlay.Relate, after which it is logged in one step) so it
// never appears here.
func (db *DB) applyWALEntry(e wal.Entry) error {
	switch e.Type {
	case wal.EntryInsert:
		var p struct {
			ID     string    `json:"id"`
			Vector []float32 `json:"vector"`
		}
		if err := json.Unmarshal(e.Params, &p); err != nil {
			return err
		}
		if len(p.Vector) == 0 {
			return nil
		}
		if _, ok := db.index.Vector(p.ID); ok {
			return nil
		}
		return db.index.AddItem(p.ID, p.Vector)

	case wal.EntryUpdate:
		var p struct {
			ID       string         `json:"id"`
			Metadata types.Metadata `json:"metadata"`
		}
		if err := json.Unmarshal(e.Params, &p); err != nil {
			return err
		}
		rec, ok, err := db.adapter.GetNounMetadata(context.Background(), p.ID)
		if err != nil || !ok {
			return err
		}
		rec.Metadata = p.Metadata
		db.cache.Invalidate("noun:" + p.ID)
		return db.adapter.SaveNounMetadata(context.Background(), rec)

	case wal.EntryDelete:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(e.Params, &p); err != nil {
			return err
		}
		if _, ok := db.index.Vector(p.ID); !ok {
			return nil
		}
		return db.index.RemoveItem(p.ID)

	case wal.EntryUnrelate:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(e.Params, &p); err != nil {
			return err
		}
		_ = db.overlay.Delete(context.Background(), p.ID)
		return nil
	}
	return nil
}

// AddMany inserts items sequentially (HNSW construction is itself
// sequential per insert; see spec §5's single-writer discipline),
// collecting a {successful, failed} split under continueOnError.
func (db *DB) AddMany(ctx context.Context, items []AddItemRequest, opts AddManyOptions) (AddManyResult, error) {
	result := AddManyResult{}
	for i, item := range items {
		id, err := db.Add(ctx, item)
		if err != nil {
			result.Failed = append(result.Failed, AddManyFailure{Index: i, Request: item, Err: err})
			if !opts.ContinueOnError {
				if opts.OnProgress != nil {
					opts.OnProgress(i+1, len(items))
				}
				return result, err
			}
		} else {
			result.IDs = append(result.IDs, id)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(items))
		}
	}
	return result, nil
}

// Get returns an entity by ID.
func (db *DB) Get(ctx context.Context, id string) (*types.Entity, bool, error) {
	if v, ok := db.cache.GetSync("noun:" + id); ok {
		return v.(*types.Entity), true, nil
	}

	metaRec, ok, err := db.adapter.GetNounMetadata(ctx, id)
	if err != nil {
		return nil, false, types.Wrap(types.KindInternal, "graphdb.get", err)
	}
	if !ok {
		return nil, false, nil
	}
	vec, _ := db.index.Vector(id)
	if vec == nil {
		if vecRec, ok, _ := db.adapter.GetNounVector(ctx, id); ok {
			vec = vecRec.Vector
		}
	}

	e := entityFromRecord(id, vec, metaRec)
	db.cacheEntity(e)
	return e, true, nil
}

// Update replaces an entity's metadata, leaving its vector untouched.
func (db *DB) Update(ctx context.Context, id string, metadata types.Metadata) (*types.Entity, error) {
	e, ok, err := db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.Newf(types.KindNotFound, "graphdb.update", "entity %s not found", id)
	}

	if err := db.walOp(wal.EntryUpdate, map[string]any{"id": id, "metadata": metadata}, func() error {
		e.Metadata = metadata
		e.UpdatedAt = time.Now().UnixMilli()
		return nil
	}); err != nil {
		return nil, err
	}

	rec := storage.NounMetadataRecord{ID: id, Type: e.Type, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt, Metadata: metadata}
	op := batch.Operation{Type: batch.OpUpdate, ID: id, Payload: rec, Metadata: metadata, SizeBytes: int64(estimateMetadataSize(metadata))}
	if err := db.batcher.Submit(ctx, op); err != nil {
		return nil, types.Wrap(types.KindInternal, "graphdb.update", err)
	}

	db.cacheEntity(e)
	return e, nil
}

// Delete removes an entity and every HNSW edge incident to it. Per
// spec §3, it does not cascade to relationships naming id as an
// endpoint; callers handle that explicitly.
func (db *DB) Delete(ctx context.Context, id string) error {
	e, ok, err := db.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := db.walOp(wal.EntryDelete, map[string]any{"id": id}, func() error {
		return db.index.RemoveItem(id)
	}); err != nil {
		return types.Wrap(types.KindInternal, "graphdb.delete", err)
	}
	db.counts.DecrementNoun(ctx, e.Type)
	db.cache.Invalidate("noun:" + id)
	db.metrics.Counter("graphdb.delete", 1)
	return nil
}

// Search returns the k nearest entities to query.
func (db *DB) Search(ctx context.Context, query []float32, k int, opts SearchOptions) ([]hnsw.SearchResult, error) {
	filter := opts.Filter
	if len(opts.ShapeFilter) > 0 {
		filter = types.And(filter, types.ShapeFilter(opts.ShapeFilter))
	}
	if len(opts.CandidateIDs) > 0 {
		filter = types.And(filter, types.CandidateIDFilter(opts.CandidateIDs))
	}
	if filter != nil {
		// The index passes filters no metadata of its own, so each
		// candidate's metadata is resolved here: cached entity first,
		// then the stored metadata record.
		inner := filter
		filter = func(id string, _ types.Metadata) bool {
			var md types.Metadata
			if v, ok := db.cache.GetSync("noun:" + id); ok {
				md = v.(*types.Entity).Metadata
			} else if rec, ok, err := db.adapter.GetNounMetadata(ctx, id); err == nil && ok {
				md = rec.Metadata
			}
			return inner(id, md)
		}
	}
	results, err := db.index.Search(query, k, filter)
	if err != nil {
		return nil, types.Wrap(types.KindInternal, "graphdb.search", err)
	}
	db.metrics.Counter("graphdb.search", 1)
	return results, nil
}

// Relate creates a typed relationship between two entities. Its ID is
// assigned inside Overlay.Relate, so unlike Add/Delete/Unrelate there
// is no parameter set to log before the operation runs; it is always
// logged as a single completed entry after the fact.
func (db *DB) Relate(ctx context.Context, req graph.RelateRequest) (*types.Relationship, error) {
	rel, err := db.overlay.Relate(ctx, req)
	if err != nil {
		return nil, err
	}
	db.appendWAL(wal.EntryRelate, map[string]any{
		"id": rel.ID, "source": rel.SourceID, "target": rel.TargetID, "type": rel.Type,
	})
	db.counts.IncrementVerb(ctx, rel.Type)
	db.metrics.Counter("graphdb.relate", 1)
	return rel, nil
}

// RelateMany creates many relationships with bounded parallelism.
func (db *DB) RelateMany(ctx context.Context, reqs []graph.RelateRequest, opts graph.RelateManyOptions) (graph.RelateManyResult, error) {
	result, err := db.overlay.RelateMany(ctx, reqs, opts)
	for _, rel := range result.Successful {
		db.counts.IncrementVerb(ctx, rel.Type)
	}
	return result, err
}

// Unrelate removes a relationship by ID.
func (db *DB) Unrelate(ctx context.Context, id string) error {
	rel, ok, err := db.overlay.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := db.walOp(wal.EntryUnrelate, map[string]any{"id": id}, func() error {
		return db.overlay.Delete(ctx, id)
	}); err != nil {
		return err
	}
	db.counts.DecrementVerb(ctx, rel.Type)
	return nil
}

// Flush drains the persistence coordinator's dirty set, the adaptive
// batcher's lanes, and the statistics collector, returning once every
// record dirty at invocation time is durable (spec §5).
func (db *DB) Flush(ctx context.Context) error {
	if _, err := db.coord.Flush(ctx); err != nil {
		return types.Wrap(types.KindInternal, "graphdb.flush", err)
	}
	if err := db.batcher.Flush(ctx); err != nil {
		return types.Wrap(types.KindInternal, "graphdb.flush", err)
	}
	if err := db.counts.Flush(ctx); err != nil {
		return types.Wrap(types.KindInternal, "graphdb.flush", err)
	}
	if err := db.collector.Persist(ctx); err != nil {
		return types.Wrap(types.KindInternal, "graphdb.flush", err)
	}
	if db.walEnabled {
		if err := db.wal.Checkpoint(); err != nil {
			return types.Wrap(types.KindInternal, "graphdb.flush", err)
		}
	}
	return nil
}

// Close flushes outstanding state and releases the WAL and logger.
// Safe to call more than once.
func (db *DB) Close(ctx context.Context) error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	flushErr := db.Flush(ctx)
	if db.walEnabled {
		if err := db.wal.Close(); err != nil && flushErr == nil {
			flushErr = types.Wrap(types.KindInternal, "graphdb.close", err)
		}
	}
	if err := db.logger.Close(); err != nil && flushErr == nil {
		flushErr = types.Wrap(types.KindInternal, "graphdb.close", err)
	}
	return flushErr
}

// Rebuild re-inserts every ID and vector held by the live HNSW index
// into a fresh index in insertion-order-independent batches, used after
// a configuration change (e.g. toggling quantization) that the live
// index cannot apply in place. It does not read noun records from
// storage: entities present only in storage and not in the live index
// are not part of the rebuilt index.
func (db *DB) Rebuild(ctx context.Context, opts RebuildOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	src := &indexSource{}
	coord := persistence.New(db.adapter, types.PersistMode(db.cfg.HNSW.PersistMode), src)
	hooks := coord.Hooks()
	hooks.LoadVector = db.loadVector
	fresh := hnsw.New(hnswConfig(db.cfg.HNSW), hooks)
	fresh.SetLogger(db.logger)
	src.idx = fresh

	ids := db.index.AllIDs()
	var mu sync.Mutex
	var firstErr error
	for start := 0; start < len(ids); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			vec, ok := db.index.Vector(id)
			if !ok {
				continue
			}
			if err := fresh.AddItem(id, vec); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(end, len(ids))
		}
	}
	if firstErr != nil {
		return types.Wrap(types.KindInternal, "graphdb.rebuild", firstErr)
	}

	db.index = fresh
	db.coord = coord
	db.overlay = graph.New(db.adapter, db.cache, indexVectorSource{idx: fresh})
	db.collector = stats.NewCollector(db.counts, fresh, db.adapter)
	return nil
}

// GetStatistics returns the current entity/relationship counts and
// size hints.
func (db *DB) GetStatistics() stats.Statistics {
	return db.collector.Snapshot()
}

// ExecuteImmediate implements batch.Executor by writing a single noun
// metadata record straight through to the adapter.
func (db *DB) ExecuteImmediate(ctx context.Context, op batch.Operation) error {
	rec, ok := op.Payload.(storage.NounMetadataRecord)
	if !ok {
		return types.Newf(types.KindInternal, "graphdb.batch", "unexpected payload for op %s", op.Type)
	}
	if err := db.adapter.SaveNounMetadata(ctx, rec); err != nil {
		return err
	}
	db.collector.AddBytes(int64(estimateMetadataSize(rec.Metadata)))
	return nil
}

// ExecuteBatch implements batch.Executor by writing each coalesced
// noun metadata record through in turn. The storage adapters expose no
// multi-record write primitive, so a "batch" here still issues one
// ExecuteImmediate call per record, returning the first error after
// attempting every record.
func (db *DB) ExecuteBatch(ctx context.Context, ops []batch.Operation) error {
	var firstErr error
	for _, op := range ops {
		if err := db.ExecuteImmediate(ctx, op); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
