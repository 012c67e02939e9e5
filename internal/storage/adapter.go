package storage

import "context"

// Adapter is the storage boundary every backend (memory, filesystem,
// cloud) must implement identically. All paths are the bit-exact key
// space from §4.5; callers never see backend-specific layout details.
type Adapter interface {
	SaveNounVector(ctx context.Context, rec NounVectorRecord) error
	GetNounVector(ctx context.Context, id string) (NounVectorRecord, bool, error)
	DeleteNoun(ctx context.Context, id string) error

	SaveNounMetadata(ctx context.Context, rec NounMetadataRecord) error
	GetNounMetadata(ctx context.Context, id string) (NounMetadataRecord, bool, error)
	GetMetadataBatch(ctx context.Context, ids []string) (map[string]NounMetadataRecord, error)

	SaveVerbVector(ctx context.Context, rec VerbVectorRecord) error
	GetVerbVector(ctx context.Context, id string) (VerbVectorRecord, bool, error)
	SaveVerbMetadata(ctx context.Context, rec VerbMetadataRecord) error
	GetVerbMetadata(ctx context.Context, id string) (VerbMetadataRecord, bool, error)
	DeleteVerb(ctx context.Context, id string) error

	SaveHNSWSystem(ctx context.Context, rec HNSWSystemRecord) error
	GetHNSWSystem(ctx context.Context) (HNSWSystemRecord, bool, error)

	SaveStatistics(ctx context.Context, rec StatisticsRecord) error
	GetStatistics(ctx context.Context) (StatisticsRecord, bool, error)

	SaveCounts(ctx context.Context, rec CountsRecord) error
	GetCounts(ctx context.Context) (CountsRecord, bool, error)

	GetNounsWithPagination(ctx context.Context, p PaginationParams) (PaginationResult[NounMetadataRecord], error)
	GetVerbsWithPagination(ctx context.Context, p PaginationParams) (PaginationResult[VerbMetadataRecord], error)

	AppendWAL(ctx context.Context, sessionID string, line []byte) error
	ReadWAL(ctx context.Context, sessionID string) ([]byte, error)
}

// LifecycleAdapter is implemented by backends that support age-based
// tier transitions (cloud only; §4.5 "Lifecycle (cloud, optional)").
type LifecycleAdapter interface {
	SetLifecyclePolicy(ctx context.Context, policy LifecyclePolicy) error
	GetLifecyclePolicy(ctx context.Context) (LifecyclePolicy, bool, error)
	RemoveLifecyclePolicy(ctx context.Context) error
}
