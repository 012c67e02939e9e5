// Package graph implements the typed relationship overlay: directional
// "verb" edges between entities, stored independently of HNSW neighbor
// edges. Built from in-memory adjacency maps adapted to the storage
// adapter's pagination contract: deprecated direct-index lookups
// (getEdgesBySource/ByTarget/ByType) are not reintroduced here, so
// lookups by source, target, or type all go through
// Adapter.GetVerbsWithPagination with a filter instead of an in-memory
// adjacency index.
package graph

import (
	"context"
	"sync"
	"time"

	"github.com/nvgraph/nvgraph/internal/cache"
	"github.com/nvgraph/nvgraph/internal/storage"
	"github.com/nvgraph/nvgraph/internal/types"
)

// VectorSource resolves an entity's current vector, used to compute a
// relationship's default vector as the mean of its endpoints (§3:
// "its own vector (defined as the arithmetic mean of endpoint
// vectors)"). The root package's indexVectorSource adapts the HNSW
// index to this interface.
type VectorSource interface {
	VectorOf(id string) ([]float32, bool)
}

// Overlay manages verb records: typed, weighted, directional edges
// between two noun IDs, persisted through storage and exposed through
// the unified cache.
type Overlay struct {
	adapter storage.Adapter
	cache   *cache.Cache
	vectors VectorSource

	mu      sync.Mutex
	nowFunc func() int64
}

// New creates an Overlay backed by adapter, caching resolved verb
// records in the shared unified cache, and resolving endpoint vectors
// from vectors (typically the HNSW index hosting the same nouns).
func New(adapter storage.Adapter, c *cache.Cache, vectors VectorSource) *Overlay {
	return &Overlay{
		adapter: adapter,
		cache:   c,
		vectors: vectors,
		nowFunc: func() int64 { return time.Now().UnixMilli() },
	}
}

// RelateRequest is one relationship to create, as consumed by Relate
// and RelateMany.
type RelateRequest struct {
	Source   string
	Target   string
	Type     types.VerbType
	Weight   *float64
	Vector   []float32 // explicit override; mean-of-endpoints otherwise
	Metadata types.Metadata
}

// indexSourceKey, indexTargetKey, and indexTypeKey are reserved
// metadata fields the overlay writes alongside caller-supplied
// metadata so that ListBySource/ListByTarget/ListByType can filter
// through Adapter.GetVerbsWithPagination, which only ever sees a
// verb's VerbMetadataRecord.Metadata and not its VerbVectorRecord.
const (
	indexSourceKey = "__sourceId"
	indexTargetKey = "__targetId"
	indexTypeKey   = "__verbType"
)

func withIndexFields(md types.Metadata, source, target string, t types.VerbType) types.Metadata {
	out := make(types.Metadata, len(md)+3)
	for k, v := range md {
		out[k] = v
	}
	out[indexSourceKey] = source
	out[indexTargetKey] = target
	out[indexTypeKey] = string(t)
	return out
}

// stripIndexFields returns md with the reserved index fields removed,
// so callers reading a relationship back never see overlay internals.
func stripIndexFields(md types.Metadata) types.Metadata {
	if md == nil {
		return nil
	}
	out := make(types.Metadata, len(md))
	for k, v := range md {
		if k == indexSourceKey || k == indexTargetKey || k == indexTypeKey {
			continue
		}
		out[k] = v
	}
	return out
}

func (o *Overlay) resolveVector(req RelateRequest) []float32 {
	if req.Vector != nil {
		return req.Vector
	}
	sv, sok := o.vectors.VectorOf(req.Source)
	tv, tok := o.vectors.VectorOf(req.Target)
	if !sok || !tok {
		return nil
	}
	return types.MeanVector(sv, tv)
}

// Relate creates a new relationship, computing its vector as the mean
// of the endpoint vectors unless the caller supplied one explicitly
// (spec §9 Design Notes: fixes the source's inconsistent behavior to
// this rule uniformly).
func (o *Overlay) Relate(ctx context.Context, req RelateRequest) (*types.Relationship, error) {
	if !types.ValidVerbType(req.Type) {
		return nil, types.Newf(types.KindInvalidArgument, "graph.relate", "unknown verb type %q", req.Type)
	}
	if req.Source == "" || req.Target == "" {
		return nil, types.Newf(types.KindInvalidArgument, "graph.relate", "source and target are required")
	}

	vec := o.resolveVector(req)
	if vec == nil {
		return nil, types.Newf(types.KindInvalidArgument, "graph.relate", "could not resolve endpoint vectors for %s -> %s", req.Source, req.Target)
	}

	weight := types.DefaultVerbWeight
	if req.Weight != nil {
		weight = *req.Weight
	}

	now := o.nowFunc()
	rel := &types.Relationship{
		ID:        types.NewVerbID(),
		SourceID:  req.Source,
		TargetID:  req.Target,
		Type:      req.Type,
		Weight:    weight,
		Vector:    vec,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  req.Metadata,
	}

	if err := o.persist(ctx, rel); err != nil {
		return nil, types.Wrap(types.KindInternal, "graph.relate", err)
	}
	o.cacheRelationship(rel)
	return rel, nil
}

func (o *Overlay) persist(ctx context.Context, rel *types.Relationship) error {
	if err := o.adapter.SaveVerbVector(ctx, storage.VerbVectorRecord{
		ID: rel.ID, Vector: rel.Vector, SourceID: rel.SourceID, TargetID: rel.TargetID, Type: rel.Type,
	}); err != nil {
		return err
	}
	return o.adapter.SaveVerbMetadata(ctx, storage.VerbMetadataRecord{
		ID: rel.ID, Weight: rel.Weight, CreatedAt: rel.CreatedAt, UpdatedAt: rel.UpdatedAt,
		Metadata: withIndexFields(rel.Metadata, rel.SourceID, rel.TargetID, rel.Type),
	})
}

func (o *Overlay) cacheRelationship(rel *types.Relationship) {
	size := int64(len(rel.Vector)*4 + 128)
	o.cache.Set("verb:"+rel.ID, rel, cache.CategoryRelationship, size, 1)
}

// Get returns a relationship by ID, checking the cache first and
// reconstructing from storage on a miss.
func (o *Overlay) Get(ctx context.Context, id string) (*types.Relationship, bool, error) {
	if v, ok := o.cache.GetSync("verb:" + id); ok {
		return v.(*types.Relationship), true, nil
	}

	vecRec, ok, err := o.adapter.GetVerbVector(ctx, id)
	if err != nil {
		return nil, false, types.Wrap(types.KindInternal, "graph.get", err)
	}
	if !ok {
		return nil, false, nil
	}
	metaRec, ok, err := o.adapter.GetVerbMetadata(ctx, id)
	if err != nil {
		return nil, false, types.Wrap(types.KindInternal, "graph.get", err)
	}
	if !ok {
		return nil, false, nil
	}

	rel := &types.Relationship{
		ID:        id,
		SourceID:  vecRec.SourceID,
		TargetID:  vecRec.TargetID,
		Type:      vecRec.Type,
		Vector:    vecRec.Vector,
		Weight:    metaRec.Weight,
		CreatedAt: metaRec.CreatedAt,
		UpdatedAt: metaRec.UpdatedAt,
		Metadata:  stripIndexFields(metaRec.Metadata),
	}
	o.cacheRelationship(rel)
	return rel, true, nil
}

// Update mutates a relationship's weight and/or metadata, leaving its
// vector, endpoints, and type untouched.
func (o *Overlay) Update(ctx context.Context, id string, weight *float64, metadata types.Metadata) (*types.Relationship, error) {
	rel, ok, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.Newf(types.KindNotFound, "graph.update", "relationship %s not found", id)
	}

	if weight != nil {
		rel.Weight = *weight
	}
	if metadata != nil {
		rel.Metadata = metadata
	}
	rel.UpdatedAt = o.nowFunc()

	if err := o.adapter.SaveVerbMetadata(ctx, storage.VerbMetadataRecord{
		ID: rel.ID, Weight: rel.Weight, CreatedAt: rel.CreatedAt, UpdatedAt: rel.UpdatedAt,
		Metadata: withIndexFields(rel.Metadata, rel.SourceID, rel.TargetID, rel.Type),
	}); err != nil {
		return nil, types.Wrap(types.KindInternal, "graph.update", err)
	}
	o.cacheRelationship(rel)
	return rel, nil
}

// Delete removes a relationship. Per spec §3 Lifecycle, this never
// cascades to HNSW neighbor edges or to the other endpoint's
// relationships; callers handle cascading explicitly.
func (o *Overlay) Delete(ctx context.Context, id string) error {
	if err := o.adapter.DeleteVerb(ctx, id); err != nil {
		return types.Wrap(types.KindInternal, "graph.delete", err)
	}
	o.cache.Invalidate("verb:" + id)
	return nil
}

// sourceFilter, targetFilter, and typeFilter translate the deprecated
// direct-index lookups into pagination filters instead of reintroducing
// an in-memory adjacency index.
func sourceFilter(id string) types.Filter {
	return func(_ string, md types.Metadata) bool { return md[indexSourceKey] == id }
}
func targetFilter(id string) types.Filter {
	return func(_ string, md types.Metadata) bool { return md[indexTargetKey] == id }
}
func typeFilter(t types.VerbType) types.Filter {
	return func(_ string, md types.Metadata) bool { return md[indexTypeKey] == string(t) }
}

func stripIndexFieldsFromPage(page storage.PaginationResult[storage.VerbMetadataRecord]) storage.PaginationResult[storage.VerbMetadataRecord] {
	for i := range page.Items {
		page.Items[i].Metadata = stripIndexFields(page.Items[i].Metadata)
	}
	return page
}

// ListBySource returns a page of relationships originating at
// sourceID.
func (o *Overlay) ListBySource(ctx context.Context, sourceID string, p storage.PaginationParams) (storage.PaginationResult[storage.VerbMetadataRecord], error) {
	p.Filter = sourceFilter(sourceID)
	page, err := o.adapter.GetVerbsWithPagination(ctx, p)
	return stripIndexFieldsFromPage(page), err
}

// ListByTarget returns a page of relationships terminating at
// targetID.
func (o *Overlay) ListByTarget(ctx context.Context, targetID string, p storage.PaginationParams) (storage.PaginationResult[storage.VerbMetadataRecord], error) {
	p.Filter = targetFilter(targetID)
	page, err := o.adapter.GetVerbsWithPagination(ctx, p)
	return stripIndexFieldsFromPage(page), err
}

// ListByType returns a page of relationships of the given type.
func (o *Overlay) ListByType(ctx context.Context, t types.VerbType, p storage.PaginationParams) (storage.PaginationResult[storage.VerbMetadataRecord], error) {
	p.Filter = typeFilter(t)
	page, err := o.adapter.GetVerbsWithPagination(ctx, p)
	return stripIndexFieldsFromPage(page), err
}

// RelateManyOptions configures a batched relationship-creation run.
type RelateManyOptions struct {
	Parallel        int // number of concurrent workers; <=1 means sequential
	ChunkSize       int
	ContinueOnError bool
	OnProgress      func(done, total int)
}

// RelateFailure pairs a failed request with its error.
type RelateFailure struct {
	Request RelateRequest
	Err     error
}

// RelateManyResult is the continue-on-error split bulk operations
// return.
type RelateManyResult struct {
	Successful []*types.Relationship
	Failed     []RelateFailure
}

// RelateMany batches relationship creation with bounded parallelism.
func (o *Overlay) RelateMany(ctx context.Context, reqs []RelateRequest, opts RelateManyOptions) (RelateManyResult, error) {
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = len(reqs)
		if opts.ChunkSize == 0 {
			opts.ChunkSize = 1
		}
	}

	result := RelateManyResult{}
	var resultMu sync.Mutex
	var done int

	for start := 0; start < len(reqs); start += opts.ChunkSize {
		end := start + opts.ChunkSize
		if end > len(reqs) {
			end = len(reqs)
		}
		chunk := reqs[start:end]

		sem := make(chan struct{}, opts.Parallel)
		var wg sync.WaitGroup
		for _, req := range chunk {
			req := req
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				rel, err := o.Relate(ctx, req)

				resultMu.Lock()
				defer resultMu.Unlock()
				if err != nil {
					result.Failed = append(result.Failed, RelateFailure{Request: req, Err: err})
				} else {
					result.Successful = append(result.Successful, rel)
				}
				done++
				if opts.OnProgress != nil {
					opts.OnProgress(done, len(reqs))
				}
			}()
		}
		wg.Wait()

		if !opts.ContinueOnError && len(result.Failed) > 0 {
			return result, result.Failed[0].Err
		}
	}

	return result, nil
}
