// Package hnsw implements a Hierarchical Navigable Small World graph
// index over float32 vectors: layered construction and search, scalar
// quantization with exact rerank, copy-on-write forking, and hooks for
// an external persistence layer to keep the graph durable.
package hnsw

import "math"

// QuantConfig controls scalar quantization (SQ8) of stored vectors.
type QuantConfig struct {
	Enabled          bool
	RerankMultiplier int // candidate inflation before exact rerank; spec default 3
}

// Config is the tunable HNSW construction/search configuration.
// Defaults match the reference HNSW configuration.
type Config struct {
	M                          int // target max neighbors per node per level
	EfConstruction             int
	EfSearch                   int
	MLMax                      int // max level a node may be drawn at
	Quantization               QuantConfig
	VectorStorage              string // "memory" | "lazy"
	PersistMode                string // "immediate" | "deferred"
	MaxConcurrentNeighborWrites int

	// Distance is the configured distance function; lower is closer.
	// Defaults to Euclidean. Cosine is acceptable when vectors are
	// pre-normalized by the caller.
	Distance DistanceFunc
}

// DefaultConfig returns the default HNSW configuration.
func DefaultConfig() Config {
	return Config{
		M:                           16,
		EfConstruction:              200,
		EfSearch:                    50,
		MLMax:                       16,
		Quantization:                QuantConfig{Enabled: false, RerankMultiplier: 3},
		VectorStorage:               "memory",
		PersistMode:                 "immediate",
		MaxConcurrentNeighborWrites: 8,
		Distance:                    EuclideanDistance,
	}
}

func (c *Config) applyDefaults() {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
	if c.MLMax <= 0 {
		c.MLMax = 16
	}
	if c.Quantization.RerankMultiplier <= 0 {
		c.Quantization.RerankMultiplier = 3
	}
	if c.VectorStorage == "" {
		c.VectorStorage = "memory"
	}
	if c.PersistMode == "" {
		c.PersistMode = "immediate"
	}
	if c.MaxConcurrentNeighborWrites <= 0 {
		c.MaxConcurrentNeighborWrites = 8
	}
	if c.Distance == nil {
		c.Distance = EuclideanDistance
	}
}

// levelMultiplier is 1/ln(M). randomLevel computes the same factor
// inline and does not call it.
func (c Config) levelMultiplier() float64 {
	if c.M <= 1 {
		return 1
	}
	return 1.0 / math.Log(float64(c.M))
}

// maxTrackedLevels bounds the high-level index (§3: "levels ≥ 2, up to a
// capped depth").
const maxTrackedLevels = 8
