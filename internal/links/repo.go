package links

import "context"

// Repository defines the persistence operations for link records.
// Records are keyed by slug inside a Partition. Implementations report a
// missing record with errx.NotFound and I/O failures with errx.Unavailable.
//
// Create must fail with errx.Conflict when the slug is already present in p,
// deciding that atomically with the write. Put must replace a record
// atomically: a reader sees either the old or the new document, never a
// partial one. Move must not change the stored bytes.
type Repository interface {
	Get(ctx context.Context, p Partition, slug string) (Record, error)
	Exists(ctx context.Context, p Partition, slug string) (bool, error)
	Create(ctx context.Context, p Partition, r Record) error
	Put(ctx context.Context, p Partition, r Record) error
	List(ctx context.Context, p Partition) ([]Record, error)
	Move(ctx context.Context, slug string, from, to Partition) error
	Remove(ctx context.Context, p Partition, slug string) error

	// RemoveArtifact deletes the QR artifact kept for slug, if any.
	RemoveArtifact(ctx context.Context, slug string) error
}
