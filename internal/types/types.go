// Package types defines the core data model shared across the index,
// storage, WAL, and batching layers: nouns (entities), verbs
// (relationships), and the enumerations and filter predicates that
// operate over them.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// NounType is the closed enumeration of entity kinds.
type NounType string

const (
	NounPerson       NounType = "Person"
	NounOrganization NounType = "Organization"
	NounLocation     NounType = "Location"
	NounDocument     NounType = "Document"
	NounEvent        NounType = "Event"
	NounProduct      NounType = "Product"
	NounTask         NounType = "Task"
	NounDataset      NounType = "Dataset"
	NounThing        NounType = "Thing"
)

// ValidNounType reports whether t is a recognized noun type.
func ValidNounType(t NounType) bool {
	switch t {
	case NounPerson, NounOrganization, NounLocation, NounDocument, NounEvent,
		NounProduct, NounTask, NounDataset, NounThing:
		return true
	default:
		return false
	}
}

// VerbType is the closed enumeration of relationship kinds.
type VerbType string

const (
	VerbContains   VerbType = "Contains"
	VerbCreates    VerbType = "Creates"
	VerbMemberOf   VerbType = "MemberOf"
	VerbDependsOn  VerbType = "DependsOn"
	VerbReferences VerbType = "References"
	VerbRelatedTo  VerbType = "RelatedTo"
)

// ValidVerbType reports whether t is a recognized relationship type.
func ValidVerbType(t VerbType) bool {
	switch t {
	case VerbContains, VerbCreates, VerbMemberOf, VerbDependsOn, VerbReferences, VerbRelatedTo:
		return true
	default:
		return false
	}
}

// VectorStorageMode controls whether an entity's vector stays resident
// in memory after insertion or is evicted and reloaded on demand.
type VectorStorageMode string

const (
	VectorStorageMemory VectorStorageMode = "memory"
	VectorStorageLazy   VectorStorageMode = "lazy"
)

// PersistMode controls whether graph mutations are written through to
// storage immediately or accumulated in a dirty set for later flush.
type PersistMode string

const (
	PersistImmediate PersistMode = "immediate"
	PersistDeferred  PersistMode = "deferred"
)

// Metadata is an opaque bag of caller-supplied fields attached to a
// noun or verb. The core never interprets its contents beyond equality
// and membership tests performed by Filter.
type Metadata map[string]any

// Entity is a "noun": a stable, typed, vectorized record.
type Entity struct {
	ID         string
	Vector     []float32
	Type       NounType
	CreatedAt  int64 // unix millis
	UpdatedAt  int64 // unix millis
	Confidence *float64
	Weight     *float64
	Metadata   Metadata
}

// Relationship is a "verb": a typed directed edge between two entities,
// itself vectorized as the mean of its endpoints.
type Relationship struct {
	ID        string
	SourceID  string
	TargetID  string
	Type      VerbType
	Weight    float64
	Vector    []float32
	CreatedAt int64
	UpdatedAt int64
	Metadata  Metadata
}

// DefaultVerbWeight is used when a relationship is created without an
// explicit weight.
const DefaultVerbWeight = 1.0

// NewNounID generates a UUID-format identifier for an entity.
func NewNounID() string {
	return uuid.NewString()
}

// NewVerbID generates a UUID-format identifier for a relationship.
func NewVerbID() string {
	return uuid.NewString()
}

// ShardOf returns the two-hex-character shard prefix for an ID, per the
// storage layout's 256-way single-level sharding. IDs shorter than two
// characters or containing no hex prefix fall back to "00" so that
// callers always get a valid shard key instead of a panic.
func ShardOf(id string) string {
	clean := strings.TrimPrefix(id, "-")
	if len(clean) < 2 {
		return "00"
	}
	shard := strings.ToLower(clean[:2])
	for _, c := range shard {
		if !isHex(c) {
			return "00"
		}
	}
	return shard
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// MeanVector computes the arithmetic mean of two equal-length vectors,
// used as the default relationship vector (spec: "relation vector =
// mean of endpoint vectors unless the caller supplies one explicitly").
func MeanVector(a, b []float32) []float32 {
	if len(a) != len(b) {
		if len(a) > len(b) {
			return append([]float32(nil), a...)
		}
		return append([]float32(nil), b...)
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}
