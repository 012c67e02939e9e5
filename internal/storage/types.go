// Package storage implements the polymorphic storage boundary (§4.5):
// in-memory, local filesystem, and cloud object store variants that are
// behaviorally interchangeable over one logical key space.
package storage

import "github.com/nvgraph/nvgraph/internal/types"

// NounVectorRecord is the persisted shape of entities/nouns/vectors/<shard>/<id>.json.
type NounVectorRecord struct {
	ID          string            `json:"id"`
	Vector      []float32         `json:"vector,omitempty"`
	Level       int               `json:"level"`
	Connections map[int][]string  `json:"connections"`
	Quant       *QuantRecord      `json:"quant,omitempty"`
}

// QuantRecord is the persisted shape of a scalar-quantized codebook.
type QuantRecord struct {
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
	Codes []byte  `json:"codes"`
}

// NounMetadataRecord is the persisted shape of entities/nouns/metadata/<shard>/<id>.json.
type NounMetadataRecord struct {
	ID        string         `json:"id"`
	Type      types.NounType `json:"type"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
	Metadata  types.Metadata `json:"metadata,omitempty"`
}

// VerbVectorRecord is the persisted shape of entities/verbs/vectors/<shard>/<id>.json.
type VerbVectorRecord struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	SourceID string         `json:"sourceId"`
	TargetID string         `json:"targetId"`
	Type     types.VerbType `json:"type"`
}

// VerbMetadataRecord is the persisted shape of entities/verbs/metadata/<shard>/<id>.json.
type VerbMetadataRecord struct {
	ID        string         `json:"id"`
	Weight    float64        `json:"weight"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
	Metadata  types.Metadata `json:"metadata,omitempty"`
}

// HNSWSystemRecord is the persisted shape of system/hnsw-system.json.
type HNSWSystemRecord struct {
	EntryPointID string `json:"entryPointId"`
	MaxLevel     int    `json:"maxLevel"`
}

// CountsRecord is the persisted shape of system/counts.json.
type CountsRecord struct {
	TotalNouns  int64                  `json:"totalNouns"`
	TotalVerbs  int64                  `json:"totalVerbs"`
	NounsByType map[types.NounType]int64 `json:"nounsByType"`
	VerbsByType map[types.VerbType]int64 `json:"verbsByType"`
}

// StatisticsRecord is the persisted shape of system/statistics.json.
type StatisticsRecord struct {
	Snapshot map[string]any `json:"snapshot"`
}

// PaginationParams requests one page of nouns or verbs.
type PaginationParams struct {
	Limit  int
	Cursor string
	Filter types.Filter
}

// PaginationResult is one page of nouns or verbs.
type PaginationResult[T any] struct {
	Items      []T
	TotalCount int
	HasMore    bool
	NextCursor string
}

// LifecyclePolicy describes a cloud-adapter age-based tier/deletion
// rule (§4.5, cloud-only, optional).
type LifecyclePolicy struct {
	AgeDays       int
	Action        string // "delete" | "setStorageClass"
	StorageClass  string
}
