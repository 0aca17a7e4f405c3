package schemas

import "context"

// StateRepository is the persistence capability the engine depends on but
// never implements itself: an opaque key/value blob store. The concrete
// backing (Postgres, browser storage, memory) is an external collaborator.
type StateRepository interface {
	// Get returns the blob stored under key, or store.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// RenderSnapshot is a coarse fingerprint of an element's rendered pixels.
type RenderSnapshot struct {
	PixelHash string `json:"pixelHash"`
}

// RenderSnapshotProvider supplies rendered-pixel fingerprints for visual
// similarity comparison. Implementations need a live page (e.g. the chromedp
// capture harness); the comparator degrades to structural hashing without one.
type RenderSnapshotProvider interface {
	Snapshot(ctx context.Context, el ElementDescriptor) (RenderSnapshot, error)
}
