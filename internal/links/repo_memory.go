package links

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sundayezeilo/openlinks/internal/errx"
)

var errNoRecord = errors.New("record does not exist")

// MemoryRepository keeps encoded documents in memory. It behaves like
// FileRepository, including byte-for-byte moves, and is safe for concurrent use.
type MemoryRepository struct {
	mu        sync.RWMutex
	docs      map[Partition]map[string][]byte
	artifacts map[string][]byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs: map[Partition]map[string][]byte{
			Active:   {},
			Archived: {},
		},
		artifacts: map[string][]byte{},
	}
}

// Document returns a copy of the raw stored bytes for slug in p.
func (m *MemoryRepository) Document(p Partition, slug string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.docs[p][slug]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// PutArtifact stores a QR artifact for slug.
func (m *MemoryRepository) PutArtifact(slug string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[slug] = append([]byte(nil), data...)
}

// HasArtifact reports whether a QR artifact is stored for slug.
func (m *MemoryRepository) HasArtifact(slug string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.artifacts[slug]
	return ok
}

func (m *MemoryRepository) Get(ctx context.Context, p Partition, slug string) (Record, error) {
	const op = "links.memoryRepo.Get"

	if err := checkPartition(op, p); err != nil {
		return Record{}, err
	}

	m.mu.RLock()
	b, ok := m.docs[p][slug]
	m.mu.RUnlock()
	if !ok {
		return Record{}, errx.E(op, errx.NotFound, fmt.Errorf("%s/%s: %w", p, slug, errNoRecord))
	}

	rec, err := decodeRecord(b)
	if err != nil {
		return Record{}, errx.E(op, errx.Internal, err)
	}
	return rec, nil
}

func (m *MemoryRepository) Exists(ctx context.Context, p Partition, slug string) (bool, error) {
	const op = "links.memoryRepo.Exists"

	if err := checkPartition(op, p); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[p][slug]
	return ok, nil
}

func (m *MemoryRepository) Create(ctx context.Context, p Partition, rec Record) error {
	const op = "links.memoryRepo.Create"

	if err := checkKey(op, p, rec.Slug); err != nil {
		return err
	}
	b, err := encodeRecord(rec)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[p][rec.Slug]; ok {
		return errx.Errorf(op, errx.Conflict, "%s/%s already exists", p, rec.Slug)
	}
	m.docs[p][rec.Slug] = b
	return nil
}

func (m *MemoryRepository) Put(ctx context.Context, p Partition, rec Record) error {
	const op = "links.memoryRepo.Put"

	if err := checkKey(op, p, rec.Slug); err != nil {
		return err
	}
	b, err := encodeRecord(rec)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[p][rec.Slug] = b
	return nil
}

func (m *MemoryRepository) List(ctx context.Context, p Partition) ([]Record, error) {
	const op = "links.memoryRepo.List"

	if err := checkPartition(op, p); err != nil {
		return nil, err
	}

	m.mu.RLock()
	docs := make([][]byte, 0, len(m.docs[p]))
	for _, b := range m.docs[p] {
		docs = append(docs, b)
	}
	m.mu.RUnlock()

	out := make([]Record, 0, len(docs))
	for _, b := range docs {
		rec, err := decodeRecord(b)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *MemoryRepository) Move(ctx context.Context, slug string, from, to Partition) error {
	const op = "links.memoryRepo.Move"

	if err := checkPartition(op, from); err != nil {
		return err
	}
	if err := checkPartition(op, to); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.docs[from][slug]
	if !ok {
		return errx.E(op, errx.NotFound, fmt.Errorf("%s/%s: %w", from, slug, errNoRecord))
	}
	delete(m.docs[from], slug)
	m.docs[to][slug] = b
	return nil
}

func (m *MemoryRepository) Remove(ctx context.Context, p Partition, slug string) error {
	const op = "links.memoryRepo.Remove"

	if err := checkPartition(op, p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[p][slug]; !ok {
		return errx.E(op, errx.NotFound, fmt.Errorf("%s/%s: %w", p, slug, errNoRecord))
	}
	delete(m.docs[p], slug)
	return nil
}

func (m *MemoryRepository) RemoveArtifact(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.artifacts, slug)
	return nil
}
