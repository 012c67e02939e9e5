package hnsw

import (
	"fmt"
	"math/rand"
	"testing"
)

func BenchmarkAddItem(b *testing.B) {
	idx := New(DefaultConfig(), Hooks{})
	r := rand.New(rand.NewSource(42))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = idx.AddItem(fmt.Sprintf("v%d", i), randomVector(r, 32))
	}
}

func BenchmarkSearch(b *testing.B) {
	idx := New(DefaultConfig(), Hooks{})
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		_ = idx.AddItem(fmt.Sprintf("v%d", i), randomVector(r, 32))
	}
	q := randomVector(r, 32)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(q, 10, nil)
	}
}
