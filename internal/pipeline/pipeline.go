// Package pipeline runs the extract → stage → load sequence for one logical
// run date and coordinates retries, idempotency and status reporting.
package pipeline

import (
	"context"

	"github.com/couchcryptid/weather-etl/internal/domain"
)

// WeatherSource fetches the current observation for a location.
type WeatherSource interface {
	Current(ctx context.Context, location, apiKey string) (domain.WeatherRecord, error)
}

// SecretStore resolves named credentials.
type SecretStore interface {
	Get(ctx context.Context, name string) (string, error)
}

// ObjectStore writes whole objects with replace semantics.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte) error
	URI(path string) string
}

// Warehouse runs a bulk copy and reports how many rows it appended.
type Warehouse interface {
	BulkCopy(ctx context.Context, cmd domain.CopyCommand) (int, error)
}

// Ledger remembers the last outcome per partition key.
type Ledger interface {
	// Lookup returns the last recorded status for key, or false if none exists.
	Lookup(ctx context.Context, key domain.PartitionKey) (domain.RunStatus, bool, error)
	// Record stores a terminal status. A succeeded status is never replaced.
	Record(ctx context.Context, status domain.RunStatus) error
}

// StatusReporter forwards terminal run statuses to the external scheduler or alerting.
type StatusReporter interface {
	Report(ctx context.Context, status domain.RunStatus) error
}

// Extractor produces the run's local staging file and returns its path.
type Extractor interface {
	Extract(ctx context.Context, key domain.PartitionKey) (string, error)
}

// Stager uploads the local staging file for key and returns the staged object.
type Stager interface {
	Stage(ctx context.Context, key domain.PartitionKey, localPath string) (domain.StagedObject, error)
}

// Loader bulk-copies a staged object into the warehouse table.
type Loader interface {
	Load(ctx context.Context, obj domain.StagedObject) (domain.LoadResult, error)
}
