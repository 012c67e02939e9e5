package hnsw

import "github.com/nvgraph/nvgraph/internal/vpool"

// quantVector is an 8-bit scalar-quantized vector: each component is
// mapped uniformly into [0,255] using the vector's own min/max, per the
// spec's SQ8 scheme (§4.2).
type quantVector struct {
	Min   float32
	Max   float32
	Codes []byte
}

// QuantSnapshot is the externally visible (persistable) form of a
// quantized vector.
type QuantSnapshot struct {
	Min   float32
	Max   float32
	Codes []byte
}

func quantize(v []float32) *quantVector {
	if len(v) == 0 {
		return &quantVector{}
	}
	min, max := v[0], v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	codes := make([]byte, len(v))
	span := max - min
	for i, x := range v {
		if span == 0 {
			codes[i] = 0
			continue
		}
		scaled := (x - min) / span * 255
		if scaled < 0 {
			scaled = 0
		} else if scaled > 255 {
			scaled = 255
		}
		codes[i] = byte(scaled + 0.5)
	}
	return &quantVector{Min: min, Max: max, Codes: codes}
}

// dequantize reconstructs an approximate float32 vector from codebook
// scalars and codes.
func (q *quantVector) dequantize() []float32 {
	out := make([]float32, len(q.Codes))
	span := q.Max - q.Min
	for i, c := range q.Codes {
		out[i] = q.Min + (float32(c)/255)*span
	}
	return out
}

// approxDistance dequantizes both operands on the fly and applies dist,
// per spec: "Approximate distance ... dequantizes on the fly using the
// two codebook scalars." Scratch buffers come from pool rather than a
// fresh allocation per comparison, since this runs once per candidate
// edge visited during traversal.
func approxDistance(dist DistanceFunc, a, b *quantVector, pool *vpool.Pool) float32 {
	av := pool.Get(len(a.Codes))
	bv := pool.Get(len(b.Codes))
	defer pool.Put(av)
	defer pool.Put(bv)
	a.dequantizeInto(av)
	b.dequantizeInto(bv)
	return dist(av, bv)
}

// dequantizeInto reconstructs into a caller-supplied buffer, avoiding
// an allocation when the caller can recycle the buffer (hot traversal
// path); dst must have length len(q.Codes).
func (q *quantVector) dequantizeInto(dst []float32) {
	span := q.Max - q.Min
	for i, c := range q.Codes {
		dst[i] = q.Min + (float32(c)/255)*span
	}
}
