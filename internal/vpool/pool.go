// Package vpool provides a dimension-keyed pool of reusable float32
// vector buffers, used by the HNSW search path to avoid per-query
// allocation of scratch vectors and dequantized buffers.
package vpool

import "sync"

// Pool manages reusable float32 slices, one sync.Pool per dimension
// since callers always request vectors of a fixed size for a given
// index.
type Pool struct {
	pools sync.Map // map[int]*sync.Pool
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{}
}

// Get retrieves a zeroed vector of the given dimension, allocating one
// if the pool is empty.
func (p *Pool) Get(dimension int) []float32 {
	poolAny, _ := p.pools.LoadOrStore(dimension, &sync.Pool{
		New: func() any {
			vec := make([]float32, dimension)
			return &vec
		},
	})
	pool := poolAny.(*sync.Pool)

	vecPtr := pool.Get().(*[]float32)
	vec := *vecPtr
	for i := range vec {
		vec[i] = 0
	}
	return vec
}

// Put returns a vector to its dimension's pool for reuse.
func (p *Pool) Put(vec []float32) {
	if len(vec) == 0 {
		return
	}
	if poolAny, ok := p.pools.Load(len(vec)); ok {
		v := vec
		poolAny.(*sync.Pool).Put(&v)
	}
}

// Default is a process-wide pool shared by HNSW indexes that don't
// need a dedicated one.
var Default = New()
