package nvgraph

import "github.com/nvgraph/nvgraph/internal/types"

// AddItemRequest describes one entity to insert.
type AddItemRequest struct {
	ID         string
	Vector     []float32
	Type       types.NounType
	Confidence *float64
	Weight     *float64
	Metadata   types.Metadata
}

// AddManyOptions configures a bulk Add run.
type AddManyOptions struct {
	ContinueOnError bool
	OnProgress      func(done, total int)
}

// AddManyResult is the continue-on-error split bulk operations return.
type AddManyResult struct {
	IDs    []string
	Failed []AddManyFailure
}

// AddManyFailure pairs a failed request with its index and error.
type AddManyFailure struct {
	Index   int
	Request AddItemRequest
	Err     error
}

// SearchOptions configures Search.
type SearchOptions struct {
	Filter       types.Filter
	ShapeFilter  map[string]any
	CandidateIDs []string
}

// RebuildOptions configures Rebuild.
type RebuildOptions struct {
	BatchSize  int
	OnProgress func(done, total int)
}
