package links

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundayezeilo/openlinks/internal/errx"
)

var testNow = time.Date(2025, 6, 1, 9, 15, 30, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, repo Repository) *Store {
	t.Helper()
	return NewStore(repo, &StoreConfig{
		Logger:  discardLogger(),
		Now:     fixedClock(testNow),
		BaseURL: "https://go.example.dev",
	})
}

// backends runs fn once per repository implementation.
func backends(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryRepository())
	})
	t.Run("file", func(t *testing.T) {
		repo, err := NewFileRepository(t.TempDir())
		require.NoError(t, err)
		fn(t, repo)
	})
}

func ptr[T any](v T) *T { return &v }

func TestStoreCreate(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		s := newTestStore(t, repo)

		t.Run("create then read round trips", func(t *testing.T) {
			created, err := s.Create(ctx, CreateRequest{Slug: "luma", Destination: "https://luma.com"})
			require.NoError(t, err)

			got, ok, err := s.Read(ctx, "luma")
			require.NoError(t, err)
			require.True(t, ok)

			assert.Equal(t, "luma", got.Slug)
			assert.Equal(t, "https://luma.com", got.Destination)
			assert.Equal(t, "luma_20250601_091530", got.ID)
			assert.True(t, got.CreatedAt.Equal(got.LastModified))
			assert.True(t, got.CreatedAt.Equal(testNow))
			assert.True(t, got.Metadata.LastModified.Equal(testNow))
			assert.Equal(t, created, got)
		})

		t.Run("applies defaults", func(t *testing.T) {
			rec, err := s.Create(ctx, CreateRequest{Slug: "defaults", Destination: "https://example.com"})
			require.NoError(t, err)

			assert.Equal(t, []string{}, rec.Tags)
			assert.Equal(t, map[string]string{}, rec.UTMParams)
			assert.False(t, rec.QRConfig.Enabled)
			assert.Nil(t, rec.QRConfig.FilePath)
			assert.Nil(t, rec.ExpiresAt)
			assert.Nil(t, rec.RedirectAfterExpiry)
			assert.Equal(t, "Link to https://example.com", rec.Metadata.Description)
			assert.Equal(t, DefaultCreatedBy, rec.CreatedBy)
		})

		t.Run("keeps optional fields", func(t *testing.T) {
			rec, err := s.Create(ctx, CreateRequest{
				Slug:                "ggl",
				Destination:         "https://google.com",
				UTMParams:           map[string]string{"utm_source": "newsletter"},
				ExpiresAt:           "next week",
				RedirectAfterExpiry: "https://openhands.dev",
				Tags:                []string{"january", "issue-12"},
				Description:         "Search",
				CreatedBy:           "openlinks-agent",
			})
			require.NoError(t, err)

			require.NotNil(t, rec.ExpiresAt)
			assert.True(t, rec.ExpiresAt.Equal(testNow.Add(7*day)))
			require.NotNil(t, rec.RedirectAfterExpiry)
			assert.Equal(t, "https://openhands.dev", *rec.RedirectAfterExpiry)
			assert.Equal(t, []string{"january", "issue-12"}, rec.Tags)
			assert.Equal(t, "newsletter", rec.UTMParams["utm_source"])
			assert.Equal(t, "Search", rec.Metadata.Description)
			assert.Equal(t, "openlinks-agent", rec.CreatedBy)
		})

		t.Run("absolute UTC expiration passes through", func(t *testing.T) {
			rec, err := s.Create(ctx, CreateRequest{
				Slug:        "abs",
				Destination: "https://example.com",
				ExpiresAt:   "2030-02-03T04:05:06Z",
			})
			require.NoError(t, err)
			require.NotNil(t, rec.ExpiresAt)
			assert.True(t, rec.ExpiresAt.Equal(time.Date(2030, 2, 3, 4, 5, 6, 0, time.UTC)))
		})

		t.Run("unparseable expiration means none", func(t *testing.T) {
			rec, err := s.Create(ctx, CreateRequest{
				Slug:        "banana",
				Destination: "https://example.com",
				ExpiresAt:   "banana",
			})
			require.NoError(t, err)
			assert.Nil(t, rec.ExpiresAt)
		})

		t.Run("malformed UTC timestamp is invalid", func(t *testing.T) {
			_, err := s.Create(ctx, CreateRequest{
				Slug:        "badz",
				Destination: "https://example.com",
				ExpiresAt:   "soonZ",
			})
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})

		t.Run("duplicate slug regardless of destination", func(t *testing.T) {
			_, err := s.Create(ctx, CreateRequest{Slug: "luma", Destination: "https://luma.com"})
			require.Error(t, err)
			assert.True(t, IsDuplicate(err))

			_, err = s.Create(ctx, CreateRequest{Slug: "luma", Destination: "https://other.com"})
			require.Error(t, err)
			assert.True(t, IsDuplicate(err))
			assert.Equal(t, "links.store.Create", errx.OpOf(err))
		})

		t.Run("invalid slug", func(t *testing.T) {
			for _, slug := range []string{"", "has space", "a/b", "dot.slug", "../up"} {
				_, err := s.Create(ctx, CreateRequest{Slug: slug, Destination: "https://example.com"})
				require.Error(t, err, slug)
				assert.True(t, IsValidation(err), slug)
			}
		})

		t.Run("invalid destination", func(t *testing.T) {
			_, err := s.Create(ctx, CreateRequest{Slug: "nodest", Destination: "luma.com"})
			require.Error(t, err)
			assert.True(t, IsValidation(err))

			_, ok, err := s.Read(ctx, "nodest")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run("invalid redirect", func(t *testing.T) {
			_, err := s.Create(ctx, CreateRequest{
				Slug:                "noredirect",
				Destination:         "https://example.com",
				RedirectAfterExpiry: "homepage",
			})
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})

		t.Run("archived slug can be reused", func(t *testing.T) {
			_, err := s.Create(ctx, CreateRequest{Slug: "reuse", Destination: "https://one.example"})
			require.NoError(t, err)
			ok, err := s.Delete(ctx, "reuse", true)
			require.NoError(t, err)
			require.True(t, ok)

			rec, err := s.Create(ctx, CreateRequest{Slug: "reuse", Destination: "https://two.example"})
			require.NoError(t, err)
			assert.Equal(t, "https://two.example", rec.Destination)
		})
	})
}

func TestStoreCreate_ConcurrentSameSlug(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		s := newTestStore(t, repo)

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Create(context.Background(), CreateRequest{
					Slug:        "race",
					Destination: fmt.Sprintf("https://example.com/%d", i),
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case IsDuplicate(err):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, conflicts)
		assert.Zero(t, s.locks.len())
	})
}

func TestStoreRead(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		s := newTestStore(t, repo)

		for _, slug := range []string{"missing", "", "../../etc/passwd"} {
			rec, ok, err := s.Read(context.Background(), slug)
			require.NoError(t, err, slug)
			assert.False(t, ok, slug)
			assert.Equal(t, Record{}, rec)
		}
	})
}

func TestStoreUpdate(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		clock := testNow
		s := NewStore(repo, &StoreConfig{
			Logger: discardLogger(),
			Now:    func() time.Time { return clock },
		})

		_, err := s.Create(ctx, CreateRequest{
			Slug:                "docs",
			Destination:         "https://docs.example.com",
			Tags:                []string{"a"},
			UTMParams:           map[string]string{"utm_source": "x"},
			ExpiresAt:           "3 days",
			RedirectAfterExpiry: "https://example.com",
			Description:         "Docs",
		})
		require.NoError(t, err)

		t.Run("missing slug", func(t *testing.T) {
			_, err := s.Update(ctx, "nope", Patch{Destination: ptr("https://x.example")})
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
		})

		t.Run("invalid slug is not found", func(t *testing.T) {
			_, err := s.Update(ctx, "a/b", Patch{})
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
		})

		t.Run("rejects invalid destination", func(t *testing.T) {
			_, err := s.Update(ctx, "docs", Patch{Destination: ptr("not a url")})
			require.Error(t, err)
			assert.True(t, IsValidation(err))

			rec, _, err := s.Read(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, "https://docs.example.com", rec.Destination)
		})

		t.Run("rejects invalid redirect", func(t *testing.T) {
			_, err := s.Update(ctx, "docs", Patch{RedirectAfterExpiry: ptr("nowhere")})
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})

		t.Run("description keeps the rest of metadata", func(t *testing.T) {
			clock = testNow.Add(time.Hour)

			rec, err := s.Update(ctx, "docs", Patch{Description: ptr("Documentation")})
			require.NoError(t, err)

			assert.Equal(t, "Documentation", rec.Metadata.Description)
			assert.True(t, rec.Metadata.LastModified.Equal(clock))
			assert.True(t, rec.LastModified.Equal(clock))
			assert.True(t, rec.CreatedAt.Equal(testNow))
			assert.Equal(t, "https://docs.example.com", rec.Destination)
			assert.Equal(t, []string{"a"}, rec.Tags)
			require.NotNil(t, rec.ExpiresAt)
			assert.True(t, rec.ExpiresAt.Equal(testNow.Add(3*day)))
		})

		t.Run("replaces fields and reparses expiration", func(t *testing.T) {
			clock = testNow.Add(2 * time.Hour)

			rec, err := s.Update(ctx, "docs", Patch{
				Destination: ptr("https://new.example.com"),
				ExpiresAt:   ptr("2 weeks"),
				Tags:        []string{"b", "c"},
				UTMParams:   map[string]string{"utm_medium": "email"},
				QRConfig:    &QRConfig{Enabled: true, FilePath: ptr("qr-codes/docs.png")},
				CreatedBy:   ptr("someone"),
			})
			require.NoError(t, err)

			assert.Equal(t, "https://new.example.com", rec.Destination)
			require.NotNil(t, rec.ExpiresAt)
			assert.True(t, rec.ExpiresAt.Equal(clock.Add(14*day)))
			assert.Equal(t, []string{"b", "c"}, rec.Tags)
			assert.Equal(t, map[string]string{"utm_medium": "email"}, rec.UTMParams)
			assert.True(t, rec.QRConfig.Enabled)
			assert.Equal(t, "someone", rec.CreatedBy)

			stored, ok, err := s.Read(ctx, "docs")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, rec, stored)
		})

		t.Run("empty values clear optional fields", func(t *testing.T) {
			rec, err := s.Update(ctx, "docs", Patch{
				ExpiresAt:           ptr(""),
				RedirectAfterExpiry: ptr(""),
				Tags:                []string{},
			})
			require.NoError(t, err)

			assert.Nil(t, rec.ExpiresAt)
			assert.Nil(t, rec.RedirectAfterExpiry)
			assert.Equal(t, []string{}, rec.Tags)
		})

		t.Run("empty patch still stamps modification time", func(t *testing.T) {
			clock = testNow.Add(3 * time.Hour)

			rec, err := s.Update(ctx, "docs", Patch{})
			require.NoError(t, err)
			assert.True(t, rec.LastModified.Equal(clock))
		})
	})
}

func TestStoreDelete(t *testing.T) {
	t.Run("archive keeps the document bytes", func(t *testing.T) {
		ctx := context.Background()
		repo := NewMemoryRepository()
		s := newTestStore(t, repo)

		_, err := s.Create(ctx, CreateRequest{Slug: "old", Destination: "https://old.example", Tags: []string{"x"}})
		require.NoError(t, err)
		before, ok := repo.Document(Active, "old")
		require.True(t, ok)

		deleted, err := s.Delete(ctx, "old", true)
		require.NoError(t, err)
		assert.True(t, deleted)

		after, ok := repo.Document(Archived, "old")
		require.True(t, ok)
		assert.Equal(t, before, after)

		_, ok, err = s.Read(ctx, "old")
		require.NoError(t, err)
		assert.False(t, ok)

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("archive on disk is a rename", func(t *testing.T) {
		ctx := context.Background()
		repo, err := NewFileRepository(t.TempDir())
		require.NoError(t, err)
		s := newTestStore(t, repo)

		_, err = s.Create(ctx, CreateRequest{Slug: "old", Destination: "https://old.example"})
		require.NoError(t, err)
		before, err := os.ReadFile(repo.Path(Active, "old"))
		require.NoError(t, err)

		deleted, err := s.Delete(ctx, "old", true)
		require.NoError(t, err)
		assert.True(t, deleted)

		after, err := os.ReadFile(repo.Path(Archived, "old"))
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.NoFileExists(t, repo.Path(Active, "old"))
	})

	t.Run("purge removes the record and its artifact", func(t *testing.T) {
		ctx := context.Background()
		repo := NewMemoryRepository()
		s := newTestStore(t, repo)

		_, err := s.Create(ctx, CreateRequest{Slug: "gone", Destination: "https://gone.example"})
		require.NoError(t, err)
		repo.PutArtifact("gone", []byte("png"))

		deleted, err := s.Delete(ctx, "gone", false)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, ok := repo.Document(Active, "gone")
		assert.False(t, ok)
		_, ok = repo.Document(Archived, "gone")
		assert.False(t, ok)
		assert.False(t, repo.HasArtifact("gone"))
	})

	t.Run("missing artifact on disk is fine", func(t *testing.T) {
		ctx := context.Background()
		root := t.TempDir()
		repo, err := NewFileRepository(root)
		require.NoError(t, err)
		s := newTestStore(t, repo)

		_, err = s.Create(ctx, CreateRequest{Slug: "withqr", Destination: "https://qr.example"})
		require.NoError(t, err)
		_, err = s.Create(ctx, CreateRequest{Slug: "noqr", Destination: "https://qr.example"})
		require.NoError(t, err)
		qr := filepath.Join(root, "qr-codes", "withqr.png")
		require.NoError(t, os.WriteFile(qr, []byte("png"), 0o644))

		ok, err := s.Delete(ctx, "withqr", true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoFileExists(t, qr)

		ok, err = s.Delete(ctx, "noqr", false)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	backends(t, func(t *testing.T, repo Repository) {
		s := newTestStore(t, repo)

		for _, slug := range []string{"absent", "", "bad/slug"} {
			ok, err := s.Delete(context.Background(), slug, true)
			require.NoError(t, err)
			assert.False(t, ok)
		}
	})
}

func TestStoreList(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		s := newTestStore(t, repo)

		seed := []CreateRequest{
			{Slug: "c", Destination: "https://c.example", Tags: []string{"a"}},
			{Slug: "a", Destination: "https://a.example", Tags: []string{"a", "b"}},
			{Slug: "b", Destination: "https://b.example", Tags: []string{"b"}},
			{Slug: "d", Destination: "https://d.example"},
			{Slug: "e", Destination: "https://e.example", Tags: []string{"z"}},
		}
		for _, req := range seed {
			_, err := s.Create(ctx, req)
			require.NoError(t, err)
		}

		slugs := func(recs []Record) []string {
			out := make([]string, 0, len(recs))
			for _, r := range recs {
				out = append(out, r.Slug)
			}
			return out
		}

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, slugs(all))

		union, err := s.List(ctx, "a", "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, slugs(union))

		single, err := s.List(ctx, "z")
		require.NoError(t, err)
		assert.Equal(t, []string{"e"}, slugs(single))

		none, err := s.List(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStoreBulkDeleteByTag(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		s := newTestStore(t, repo)

		for _, req := range []CreateRequest{
			{Slug: "jan1", Destination: "https://a.example", Tags: []string{"january"}},
			{Slug: "jan2", Destination: "https://b.example", Tags: []string{"promo", "january"}},
			{Slug: "feb", Destination: "https://c.example", Tags: []string{"february"}},
			{Slug: "plain", Destination: "https://d.example"},
		} {
			_, err := s.Create(ctx, req)
			require.NoError(t, err)
		}

		n, err := s.BulkDeleteByTag(ctx, "january", true)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rest, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, "feb", rest[0].Slug)
		assert.Equal(t, "plain", rest[1].Slug)

		n, err = s.BulkDeleteByTag(ctx, "january", true)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

// vanishingRepo drops a record right after it has been listed, like a
// concurrent delete would.
type vanishingRepo struct {
	*MemoryRepository
	vanish string
}

func (r *vanishingRepo) List(ctx context.Context, p Partition) ([]Record, error) {
	recs, err := r.MemoryRepository.List(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := r.MemoryRepository.Remove(ctx, p, r.vanish); err != nil {
		return nil, err
	}
	return recs, nil
}

func TestStoreDeleteTagged_SkipsVanished(t *testing.T) {
	ctx := context.Background()
	repo := &vanishingRepo{MemoryRepository: NewMemoryRepository(), vanish: "two"}
	s := newTestStore(t, repo)

	for _, slug := range []string{"one", "two", "three"} {
		_, err := s.Create(ctx, CreateRequest{Slug: slug, Destination: "https://example.com", Tags: []string{"t"}})
		require.NoError(t, err)
	}

	deleted, err := s.DeleteTagged(ctx, "t", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "three"}, deleted)
}

// failingRepo fails every call that touches storage.
type failingRepo struct {
	*MemoryRepository
	err error
}

func (r *failingRepo) Exists(context.Context, Partition, string) (bool, error) {
	return false, r.err
}

func (r *failingRepo) Get(context.Context, Partition, string) (Record, error) {
	return Record{}, r.err
}

func (r *failingRepo) List(context.Context, Partition) ([]Record, error) {
	return nil, r.err
}

func (r *failingRepo) Move(context.Context, string, Partition, Partition) error {
	return r.err
}

func TestStore_PersistenceErrors(t *testing.T) {
	ctx := context.Background()
	root := errors.New("disk on fire")
	s := newTestStore(t, &failingRepo{
		MemoryRepository: NewMemoryRepository(),
		err:              errx.E("links.fakeRepo", errx.Unavailable, root),
	})

	_, err := s.Create(ctx, CreateRequest{Slug: "x", Destination: "https://x.example"})
	assert.True(t, IsPersistence(err))
	assert.ErrorIs(t, err, root)

	_, _, err = s.Read(ctx, "x")
	assert.True(t, IsPersistence(err))

	_, err = s.Update(ctx, "x", Patch{})
	assert.True(t, IsPersistence(err))

	_, err = s.Delete(ctx, "x", true)
	assert.True(t, IsPersistence(err))

	_, err = s.List(ctx)
	assert.True(t, IsPersistence(err))

	_, err = s.BulkDeleteByTag(ctx, "t", true)
	assert.True(t, IsPersistence(err))
}

func TestStoreFullURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"configured", "https://go.example.dev", "https://go.example.dev/luma"},
		{"trailing slash", "https://go.example.dev/", "https://go.example.dev/luma"},
		{"several trailing slashes", "https://go.example.dev//", "https://go.example.dev/luma"},
		{"default", "", DefaultBaseURL + "/luma"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(NewMemoryRepository(), &StoreConfig{BaseURL: tt.baseURL, Logger: discardLogger()})
			assert.Equal(t, tt.want, s.FullURL("luma", true))
			assert.Equal(t, tt.want, s.FullURL("luma", false))
		})
	}
}

func TestStore_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryRepository())

	_, err := s.Create(ctx, CreateRequest{Slug: "luma", Destination: "https://luma.com"})
	require.NoError(t, err)

	assert.Equal(t, "https://go.example.dev/luma", s.FullURL("luma", true))

	_, err = s.Create(ctx, CreateRequest{Slug: "luma", Destination: "https://other.com"})
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
}
