package links

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/openlinks/internal/errx"
	"github.com/sundayezeilo/openlinks/internal/idgen"
)

// Schema creates the table used by PostgresRepository. The document column is
// json rather than jsonb so stored bytes survive a move unchanged.
const Schema = `
CREATE TABLE IF NOT EXISTS link_records (
	id         uuid        NOT NULL,
	partition  text        NOT NULL CHECK (partition IN ('active', 'archived')),
	slug       text        NOT NULL,
	document   json        NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT link_records_pkey PRIMARY KEY (partition, slug)
)`

const (
	sqlGetRecord = `SELECT document FROM link_records WHERE partition = $1 AND slug = $2`

	sqlRecordExists = `SELECT EXISTS (SELECT 1 FROM link_records WHERE partition = $1 AND slug = $2)`

	sqlInsertRecord = `INSERT INTO link_records (id, partition, slug, document) VALUES ($1, $2, $3, $4)`

	sqlUpsertRecord = `
INSERT INTO link_records (id, partition, slug, document) VALUES ($1, $2, $3, $4)
ON CONFLICT ON CONSTRAINT link_records_pkey
DO UPDATE SET document = EXCLUDED.document, updated_at = now()`

	sqlListRecords = `SELECT document FROM link_records WHERE partition = $1 ORDER BY slug`

	sqlDeleteRecord = `DELETE FROM link_records WHERE partition = $1 AND slug = $2`

	sqlMoveRecord = `UPDATE link_records SET partition = $1, updated_at = now() WHERE partition = $2 AND slug = $3`
)

// querier is satisfied by *pgxpool.Pool and *pgx.Conn.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository stores each record as a JSON document in link_records.
// QR artifacts are not kept in the database, so RemoveArtifact is a no-op.
type PostgresRepository struct {
	db  querier
	ids idgen.Generator
}

// PostgresConfig holds optional settings for the repository.
type PostgresConfig struct {
	IDGenerator idgen.Generator
}

func NewPostgresRepository(db querier, config *PostgresConfig) *PostgresRepository {
	if config == nil {
		config = &PostgresConfig{}
	}

	// UUID v7 keeps index inserts local.
	if config.IDGenerator == nil {
		config.IDGenerator = idgen.TimeOrdered{}
	}

	return &PostgresRepository{
		db:  db,
		ids: config.IDGenerator,
	}
}

// EnsureSchema creates the records table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	const op = "links.postgresRepo.EnsureSchema"

	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, p Partition, slug string) (Record, error) {
	const op = "links.postgresRepo.Get"

	if err := checkPartition(op, p); err != nil {
		return Record{}, err
	}

	var doc []byte
	if err := r.db.QueryRow(ctx, sqlGetRecord, string(p), slug).Scan(&doc); err != nil {
		return Record{}, mapPostgresError(op, err)
	}
	rec, err := decodeRecord(doc)
	if err != nil {
		return Record{}, errx.E(op, errx.Internal, err)
	}
	return rec, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, p Partition, slug string) (bool, error) {
	const op = "links.postgresRepo.Exists"

	if err := checkPartition(op, p); err != nil {
		return false, err
	}

	var ok bool
	if err := r.db.QueryRow(ctx, sqlRecordExists, string(p), slug).Scan(&ok); err != nil {
		return false, mapPostgresError(op, err)
	}
	return ok, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p Partition, rec Record) error {
	const op = "links.postgresRepo.Create"
	return r.write(ctx, op, sqlInsertRecord, p, rec)
}

func (r *PostgresRepository) Put(ctx context.Context, p Partition, rec Record) error {
	const op = "links.postgresRepo.Put"
	return r.write(ctx, op, sqlUpsertRecord, p, rec)
}

func (r *PostgresRepository) write(ctx context.Context, op, sql string, p Partition, rec Record) error {
	if err := checkKey(op, p, rec.Slug); err != nil {
		return err
	}
	doc, err := encodeRecord(rec)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}
	id, err := r.ids.Generate()
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	if _, err := r.db.Exec(ctx, sql, id, string(p), rec.Slug, doc); err != nil {
		return mapPostgresError(op, err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, p Partition) ([]Record, error) {
	const op = "links.postgresRepo.List"

	if err := checkPartition(op, p); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sqlListRecords, string(p))
	if err != nil {
		return nil, mapPostgresError(op, err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, mapPostgresError(op, err)
	}

	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Move replaces any record already in the target partition, like a rename
// over an existing file.
func (r *PostgresRepository) Move(ctx context.Context, slug string, from, to Partition) (err error) {
	const op = "links.postgresRepo.Move"

	if err := checkPartition(op, from); err != nil {
		return err
	}
	if err := checkPartition(op, to); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return mapPostgresError(op, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) && err == nil {
			err = mapPostgresError(op, rbErr)
		}
	}()

	if _, err := tx.Exec(ctx, sqlDeleteRecord, string(to), slug); err != nil {
		return mapPostgresError(op, err)
	}
	tag, err := tx.Exec(ctx, sqlMoveRecord, string(to), string(from), slug)
	if err != nil {
		return mapPostgresError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, fmt.Errorf("%s/%s: %w", from, slug, errNoRecord))
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPostgresError(op, err)
	}
	return nil
}

func (r *PostgresRepository) Remove(ctx context.Context, p Partition, slug string) error {
	const op = "links.postgresRepo.Remove"

	if err := checkPartition(op, p); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, sqlDeleteRecord, string(p), slug)
	if err != nil {
		return mapPostgresError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, fmt.Errorf("%s/%s: %w", p, slug, errNoRecord))
	}
	return nil
}

func (r *PostgresRepository) RemoveArtifact(ctx context.Context, slug string) error {
	return nil
}
