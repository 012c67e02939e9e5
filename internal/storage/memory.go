package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/nvgraph/nvgraph/internal/types"
)

// Memory is an in-process Adapter backed by maps. It is used for tests
// and for deployments that accept no durability across restarts.
type Memory struct {
	mu sync.RWMutex

	nounVectors  map[string]NounVectorRecord
	nounMeta     map[string]NounMetadataRecord
	verbVectors  map[string]VerbVectorRecord
	verbMeta     map[string]VerbMetadataRecord
	system       *HNSWSystemRecord
	stats        *StatisticsRecord
	counts       *CountsRecord
	wal          map[string][]byte
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		nounVectors: make(map[string]NounVectorRecord),
		nounMeta:    make(map[string]NounMetadataRecord),
		verbVectors: make(map[string]VerbVectorRecord),
		verbMeta:    make(map[string]VerbMetadataRecord),
		wal:         make(map[string][]byte),
	}
}

func (m *Memory) SaveNounVector(_ context.Context, rec NounVectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nounVectors[rec.ID] = rec
	return nil
}

func (m *Memory) GetNounVector(_ context.Context, id string) (NounVectorRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.nounVectors[id]
	return rec, ok, nil
}

func (m *Memory) DeleteNoun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nounVectors, id)
	delete(m.nounMeta, id)
	return nil
}

func (m *Memory) SaveNounMetadata(_ context.Context, rec NounMetadataRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nounMeta[rec.ID] = rec
	return nil
}

func (m *Memory) GetNounMetadata(_ context.Context, id string) (NounMetadataRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.nounMeta[id]
	return rec, ok, nil
}

func (m *Memory) GetMetadataBatch(_ context.Context, ids []string) (map[string]NounMetadataRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]NounMetadataRecord, len(ids))
	for _, id := range ids {
		if rec, ok := m.nounMeta[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *Memory) SaveVerbVector(_ context.Context, rec VerbVectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verbVectors[rec.ID] = rec
	return nil
}

func (m *Memory) GetVerbVector(_ context.Context, id string) (VerbVectorRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.verbVectors[id]
	return rec, ok, nil
}

func (m *Memory) SaveVerbMetadata(_ context.Context, rec VerbMetadataRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verbMeta[rec.ID] = rec
	return nil
}

func (m *Memory) GetVerbMetadata(_ context.Context, id string) (VerbMetadataRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.verbMeta[id]
	return rec, ok, nil
}

func (m *Memory) DeleteVerb(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.verbVectors, id)
	delete(m.verbMeta, id)
	return nil
}

func (m *Memory) SaveHNSWSystem(_ context.Context, rec HNSWSystemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.system = &cp
	return nil
}

func (m *Memory) GetHNSWSystem(_ context.Context) (HNSWSystemRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.system == nil {
		return HNSWSystemRecord{}, false, nil
	}
	return *m.system, true, nil
}

func (m *Memory) SaveStatistics(_ context.Context, rec StatisticsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.stats = &cp
	return nil
}

func (m *Memory) GetStatistics(_ context.Context) (StatisticsRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stats == nil {
		return StatisticsRecord{}, false, nil
	}
	return *m.stats, true, nil
}

func (m *Memory) SaveCounts(_ context.Context, rec CountsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.counts = &cp
	return nil
}

func (m *Memory) GetCounts(_ context.Context) (CountsRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.counts == nil {
		return CountsRecord{}, false, nil
	}
	return *m.counts, true, nil
}

func (m *Memory) GetNounsWithPagination(_ context.Context, p PaginationParams) (PaginationResult[NounMetadataRecord], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginateMap(m.nounMeta, p)
}

func (m *Memory) GetVerbsWithPagination(_ context.Context, p PaginationParams) (PaginationResult[VerbMetadataRecord], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginateMap(m.verbMeta, p)
}

// paginateMap implements the local/in-memory pagination contract:
// numeric offset cursor, sorted by ID for determinism across calls.
func paginateMap[T any](src map[string]T, p PaginationParams) (PaginationResult[T], error) {
	ids := make([]string, 0, len(src))
	for id := range src {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	offset := 0
	if p.Cursor != "" {
		if v, err := strconv.Atoi(p.Cursor); err == nil {
			offset = v
		}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	items := make([]T, 0, limit)
	loaded := 0
	i := offset
	for ; i < len(ids) && len(items) < limit; i++ {
		id := ids[i]
		if p.Filter != nil {
			md := metadataOf(src[id])
			if !p.Filter(id, md) {
				continue
			}
		}
		items = append(items, src[id])
		loaded++
	}

	hasMore := loaded > 0 && i < len(ids)
	result := PaginationResult[T]{
		Items:      items,
		TotalCount: len(ids),
		HasMore:    hasMore,
	}
	if hasMore {
		result.NextCursor = strconv.Itoa(i)
	}
	return result, nil
}

func metadataOf(v any) types.Metadata {
	switch r := v.(type) {
	case NounMetadataRecord:
		return r.Metadata
	case VerbMetadataRecord:
		return r.Metadata
	default:
		return nil
	}
}

func (m *Memory) AppendWAL(_ context.Context, sessionID string, line []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wal[sessionID] = append(m.wal[sessionID], line...)
	return nil
}

func (m *Memory) ReadWAL(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.wal[sessionID]...), nil
}

var _ Adapter = (*Memory)(nil)
