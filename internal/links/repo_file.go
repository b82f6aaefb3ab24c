package links

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sundayezeilo/openlinks/internal/errx"
)

const (
	recordExt   = ".json"
	artifactExt = ".png"
	artifactDir = "qr-codes"
)

// FileRepository keeps one JSON document per record under
//
//	<root>/active/<slug>.json
//	<root>/archived/<slug>.json
//	<root>/qr-codes/<slug>.png
type FileRepository struct {
	root string
}

// NewFileRepository creates the partition directories under root if needed.
func NewFileRepository(root string) (*FileRepository, error) {
	const op = "links.fileRepo.New"

	for _, dir := range []string{string(Active), string(Archived), artifactDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, errx.E(op, errx.Unavailable, err)
		}
	}
	return &FileRepository{root: root}, nil
}

// Root returns the directory the repository was opened on.
func (r *FileRepository) Root() string { return r.root }

// Path returns where the document for slug lives in partition p.
func (r *FileRepository) Path(p Partition, slug string) string {
	return filepath.Join(r.root, string(p), slug+recordExt)
}

func (r *FileRepository) artifactPath(slug string) string {
	return filepath.Join(r.root, artifactDir, slug+artifactExt)
}

func (r *FileRepository) Get(ctx context.Context, p Partition, slug string) (Record, error) {
	const op = "links.fileRepo.Get"

	if err := checkKey(op, p, slug); err != nil {
		return Record{}, err
	}
	b, err := os.ReadFile(r.Path(p, slug))
	if err != nil {
		return Record{}, mapFileError(op, err)
	}
	rec, err := decodeRecord(b)
	if err != nil {
		return Record{}, errx.E(op, errx.Internal, fmt.Errorf("%s: %w", r.Path(p, slug), err))
	}
	return rec, nil
}

func (r *FileRepository) Exists(ctx context.Context, p Partition, slug string) (bool, error) {
	const op = "links.fileRepo.Exists"

	if err := checkKey(op, p, slug); err != nil {
		return false, err
	}
	_, err := os.Stat(r.Path(p, slug))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, errx.E(op, errx.Unavailable, err)
	}
}

// Create writes the document to a temp file and hard-links it to the final
// name, which fails if the name is taken. Two creators racing on one slug
// cannot both succeed, even across processes.
func (r *FileRepository) Create(ctx context.Context, p Partition, rec Record) error {
	const op = "links.fileRepo.Create"

	if err := checkKey(op, p, rec.Slug); err != nil {
		return err
	}
	b, err := encodeRecord(rec)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}

	path := r.Path(p, rec.Slug)
	err = writeTemp(path, b, func(tmp string) error { return os.Link(tmp, path) })
	switch {
	case errors.Is(err, fs.ErrExist):
		return errx.Errorf(op, errx.Conflict, "%s/%s already exists", p, rec.Slug)
	case err != nil:
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

// Put writes to a temp file in the target directory, syncs it and renames it
// over the final name.
func (r *FileRepository) Put(ctx context.Context, p Partition, rec Record) error {
	const op = "links.fileRepo.Put"

	if err := checkKey(op, p, rec.Slug); err != nil {
		return err
	}
	b, err := encodeRecord(rec)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}
	path := r.Path(p, rec.Slug)
	if err := writeTemp(path, b, func(tmp string) error { return os.Rename(tmp, path) }); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

// List returns the records in p ordered by slug. Documents removed while the
// directory is being read are skipped.
func (r *FileRepository) List(ctx context.Context, p Partition) ([]Record, error) {
	const op = "links.fileRepo.List"

	if err := checkPartition(op, p); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(r.root, string(p)))
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, errx.E(op, errx.Unavailable, err)
		}

		path := filepath.Join(r.root, string(p), name)
		b, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errx.E(op, errx.Unavailable, err)
		}
		rec, err := decodeRecord(b)
		if err != nil {
			return nil, errx.E(op, errx.Internal, fmt.Errorf("%s: %w", path, err))
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Move relocates the document with a single rename, so its bytes are untouched
// and readers never see it half-moved.
func (r *FileRepository) Move(ctx context.Context, slug string, from, to Partition) error {
	const op = "links.fileRepo.Move"

	if err := checkKey(op, from, slug); err != nil {
		return err
	}
	if err := checkPartition(op, to); err != nil {
		return err
	}
	if err := os.Rename(r.Path(from, slug), r.Path(to, slug)); err != nil {
		return mapFileError(op, err)
	}
	return nil
}

func (r *FileRepository) Remove(ctx context.Context, p Partition, slug string) error {
	const op = "links.fileRepo.Remove"

	if err := checkKey(op, p, slug); err != nil {
		return err
	}
	if err := os.Remove(r.Path(p, slug)); err != nil {
		return mapFileError(op, err)
	}
	return nil
}

func (r *FileRepository) RemoveArtifact(ctx context.Context, slug string) error {
	const op = "links.fileRepo.RemoveArtifact"

	if !ValidSlug(slug) {
		return errx.E(op, errx.Invalid, errInvalidSlug)
	}
	err := os.Remove(r.artifactPath(slug))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

// writeTemp writes data to a synced temp file next to path and hands its name
// to promote. The temp file is gone when writeTemp returns.
func writeTemp(path string, data []byte, promote func(tmp string) error) (err error) {
	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return promote(tmp.Name())
}

func mapFileError(op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errx.E(op, errx.NotFound, err)
	}
	return errx.E(op, errx.Unavailable, err)
}

// checkKey keeps slugs from escaping the partition directory.
func checkKey(op string, p Partition, slug string) error {
	if err := checkPartition(op, p); err != nil {
		return err
	}
	if !ValidSlug(slug) {
		return errx.E(op, errx.Invalid, fmt.Errorf("invalid slug %q: %w", slug, errInvalidSlug))
	}
	return nil
}

func checkPartition(op string, p Partition) error {
	if p != Active && p != Archived {
		return errx.Errorf(op, errx.Internal, "unknown partition %q", p)
	}
	return nil
}
