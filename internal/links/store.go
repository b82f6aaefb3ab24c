package links

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sundayezeilo/openlinks/internal/errx"
)

const (
	// DefaultBaseURL is the display base used when no site config is supplied.
	DefaultBaseURL = "https://go.openhands.dev"

	DefaultCreatedBy = "github-agent"

	idTimeLayout = "20060102_150405"
)

// CreateRequest represents the parameters for creating a new link.
type CreateRequest struct {
	Slug        string
	Destination string
	UTMParams   map[string]string

	// ExpiresAt is either an RFC 3339 timestamp ending in "Z" or free text
	// for the expiration parser. Text the parser cannot read means no
	// expiration. Empty means never.
	ExpiresAt string

	RedirectAfterExpiry string // optional
	Tags                []string
	Description         string // defaults to "Link to <destination>"
	CreatedBy           string // defaults to the store's DefaultCreatedBy
}

// Patch lists the fields an update may change. Nil pointers, and nil Tags or
// UTMParams, leave the stored value alone. An empty ExpiresAt or
// RedirectAfterExpiry clears that field.
//
// Description only replaces metadata.description; the rest of metadata is
// kept.
type Patch struct {
	Destination         *string
	ExpiresAt           *string
	RedirectAfterExpiry *string
	Tags                []string
	UTMParams           map[string]string
	Description         *string
	QRConfig            *QRConfig
	CreatedBy           *string
}

// Store implements the link record lifecycle on top of a Repository.
//
// Create, Update and Delete on the same slug are serialized within one Store.
// Writers in other processes must be serialized by the caller.
type Store struct {
	repo      Repository
	logger    *slog.Logger
	now       func() time.Time
	expiry    ExpirationParser
	baseURL   string
	createdBy string
	locks     *slugLocks
}

// StoreConfig holds optional settings for the store.
type StoreConfig struct {
	Logger           *slog.Logger
	Now              func() time.Time // defaults to time.Now
	BaseURL          string           // defaults to DefaultBaseURL
	DefaultCreatedBy string           // defaults to DefaultCreatedBy
}

// NewStore creates a new store instance.
func NewStore(repo Repository, config *StoreConfig) *Store {
	if config == nil {
		config = &StoreConfig{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	createdBy := config.DefaultCreatedBy
	if createdBy == "" {
		createdBy = DefaultCreatedBy
	}

	return &Store{
		repo:      repo,
		logger:    logger,
		now:       now,
		expiry:    ExpirationParser{Now: now},
		baseURL:   baseURL,
		createdBy: createdBy,
		locks:     newSlugLocks(),
	}
}

// Create validates req and stores a new active record.
func (s *Store) Create(ctx context.Context, req CreateRequest) (Record, error) {
	const op = "links.store.Create"

	if !ValidSlug(req.Slug) {
		return Record{}, errx.E(op, errx.Invalid, fmt.Errorf("invalid slug: %s: %w", req.Slug, errInvalidSlug))
	}

	unlock := s.locks.lock(req.Slug)
	defer unlock()

	exists, err := s.repo.Exists(ctx, Active, req.Slug)
	if err != nil {
		return Record{}, errx.E(op, errx.KindOf(err), err)
	}
	if exists {
		return Record{}, errx.Errorf(op, errx.Conflict, "slug already exists: %s", req.Slug)
	}

	if !ValidURL(req.Destination) {
		return Record{}, errx.E(op, errx.Invalid, fmt.Errorf("invalid destination URL: %s: %w", req.Destination, errInvalidURL))
	}
	if req.RedirectAfterExpiry != "" && !ValidURL(req.RedirectAfterExpiry) {
		return Record{}, errx.E(op, errx.Invalid, fmt.Errorf("invalid redirect URL: %s: %w", req.RedirectAfterExpiry, errInvalidURL))
	}

	expiresAt, err := s.resolveExpiry(req.ExpiresAt)
	if err != nil {
		return Record{}, errx.E(op, errx.Invalid, err)
	}

	now := s.now().UTC()
	rec := Record{
		ID:          req.Slug + "_" + now.Format(idTimeLayout),
		Slug:        req.Slug,
		Destination: req.Destination,
		CreatedAt:   now,
		CreatedBy:   cmp.Or(req.CreatedBy, s.createdBy),
		ExpiresAt:   expiresAt,
		Tags:        slices.Clone(req.Tags),
		UTMParams:   cloneParams(req.UTMParams),
		Metadata: Metadata{
			Description: cmp.Or(req.Description, "Link to "+req.Destination),
		},
	}
	if req.RedirectAfterExpiry != "" {
		redirect := req.RedirectAfterExpiry
		rec.RedirectAfterExpiry = &redirect
	}
	rec.touch(now)
	rec = normalize(rec)

	if err := s.repo.Create(ctx, Active, rec); err != nil {
		return Record{}, errx.E(op, errx.KindOf(err), err)
	}

	s.logger.InfoContext(ctx, "link created",
		"slug", rec.Slug,
		"destination", rec.Destination,
		"expires", rec.ExpiresAt != nil,
		"tags", len(rec.Tags),
	)
	return rec, nil
}

// Read returns the active record for slug. ok is false when there is none;
// err is reserved for backend failures.
func (s *Store) Read(ctx context.Context, slug string) (rec Record, ok bool, err error) {
	const op = "links.store.Read"

	if !ValidSlug(slug) {
		return Record{}, false, nil
	}

	rec, err = s.repo.Get(ctx, Active, slug)
	switch {
	case IsNotFound(err):
		return Record{}, false, nil
	case err != nil:
		return Record{}, false, errx.E(op, errx.KindOf(err), err)
	}
	return rec, true, nil
}

// Update applies patch to the active record for slug and stamps its
// modification time.
func (s *Store) Update(ctx context.Context, slug string, patch Patch) (Record, error) {
	const op = "links.store.Update"

	if !ValidSlug(slug) {
		return Record{}, errx.Errorf(op, errx.NotFound, "link not found: %s", slug)
	}

	unlock := s.locks.lock(slug)
	defer unlock()

	rec, err := s.repo.Get(ctx, Active, slug)
	if IsNotFound(err) {
		return Record{}, errx.Errorf(op, errx.NotFound, "link not found: %s", slug)
	}
	if err != nil {
		return Record{}, errx.E(op, errx.KindOf(err), err)
	}

	if patch.Destination != nil && !ValidURL(*patch.Destination) {
		return Record{}, errx.E(op, errx.Invalid, fmt.Errorf("invalid destination URL: %s: %w", *patch.Destination, errInvalidURL))
	}
	if patch.RedirectAfterExpiry != nil && *patch.RedirectAfterExpiry != "" && !ValidURL(*patch.RedirectAfterExpiry) {
		return Record{}, errx.E(op, errx.Invalid, fmt.Errorf("invalid redirect URL: %s: %w", *patch.RedirectAfterExpiry, errInvalidURL))
	}

	var expiresAt *time.Time
	if patch.ExpiresAt != nil {
		if expiresAt, err = s.resolveExpiry(*patch.ExpiresAt); err != nil {
			return Record{}, errx.E(op, errx.Invalid, err)
		}
	}

	if patch.Destination != nil {
		rec.Destination = *patch.Destination
	}
	if patch.ExpiresAt != nil {
		rec.ExpiresAt = expiresAt
	}
	if patch.RedirectAfterExpiry != nil {
		rec.RedirectAfterExpiry = nil
		if *patch.RedirectAfterExpiry != "" {
			redirect := *patch.RedirectAfterExpiry
			rec.RedirectAfterExpiry = &redirect
		}
	}
	if patch.Tags != nil {
		rec.Tags = slices.Clone(patch.Tags)
	}
	if patch.UTMParams != nil {
		rec.UTMParams = cloneParams(patch.UTMParams)
	}
	if patch.Description != nil {
		rec.Metadata.Description = *patch.Description
	}
	if patch.QRConfig != nil {
		rec.QRConfig = copyQRConfig(*patch.QRConfig)
	}
	if patch.CreatedBy != nil {
		rec.CreatedBy = *patch.CreatedBy
	}
	rec.touch(s.now().UTC())
	rec = normalize(rec)

	if err := s.repo.Put(ctx, Active, rec); err != nil {
		return Record{}, errx.E(op, errx.KindOf(err), err)
	}

	s.logger.InfoContext(ctx, "link updated", "slug", slug)
	return rec, nil
}

// Delete archives or removes the active record for slug and drops its QR
// artifact. It returns false when slug is not active.
func (s *Store) Delete(ctx context.Context, slug string, archive bool) (bool, error) {
	const op = "links.store.Delete"

	if !ValidSlug(slug) {
		return false, nil
	}

	unlock := s.locks.lock(slug)
	defer unlock()

	var err error
	if archive {
		err = s.repo.Move(ctx, slug, Active, Archived)
	} else {
		err = s.repo.Remove(ctx, Active, slug)
	}
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, errx.E(op, errx.KindOf(err), err)
	}

	if err := s.repo.RemoveArtifact(ctx, slug); err != nil {
		s.logger.WarnContext(ctx, "failed to remove QR artifact",
			"slug", slug,
			"error", err.Error(),
		)
	}

	s.logger.InfoContext(ctx, "link deleted", "slug", slug, "archived", archive)
	return true, nil
}

// List returns active records ordered by slug. With tags, a record is kept
// when it carries any of them.
func (s *Store) List(ctx context.Context, tags ...string) ([]Record, error) {
	const op = "links.store.List"

	all, err := s.repo.List(ctx, Active)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}

	out := all
	if len(tags) > 0 {
		out = all[:0]
		for _, rec := range all {
			if rec.HasAnyTag(tags...) {
				out = append(out, rec)
			}
		}
	}

	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Slug, b.Slug) })
	return out, nil
}

// BulkDeleteByTag deletes every active record tagged tag and returns how many
// were deleted. Records that vanish mid-run are skipped.
func (s *Store) BulkDeleteByTag(ctx context.Context, tag string, archive bool) (int, error) {
	deleted, err := s.DeleteTagged(ctx, tag, archive)
	return len(deleted), err
}

// DeleteTagged is BulkDeleteByTag reporting the slugs it actually deleted,
// in slug order. On error it returns the slugs deleted so far.
func (s *Store) DeleteTagged(ctx context.Context, tag string, archive bool) ([]string, error) {
	const op = "links.store.BulkDeleteByTag"

	matched, err := s.List(ctx, tag)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}

	var deleted []string
	for _, rec := range matched {
		ok, err := s.Delete(ctx, rec.Slug, archive)
		if err != nil {
			return deleted, errx.E(op, errx.KindOf(err), err)
		}
		if !ok {
			s.logger.DebugContext(ctx, "link gone before bulk delete", "slug", rec.Slug, "tag", tag)
			continue
		}
		deleted = append(deleted, rec.Slug)
	}

	s.logger.InfoContext(ctx, "bulk delete finished",
		"tag", tag,
		"matched", len(matched),
		"deleted", len(deleted),
	)
	return deleted, nil
}

// FullURL returns the public short URL for slug.
//
// includeUTM is accepted but currently has no effect: UTM parameters are
// stored with the record and never appended here.
func (s *Store) FullURL(slug string, includeUTM bool) string {
	_ = includeUTM
	return strings.TrimRight(s.baseURL, "/") + "/" + slug
}

// BaseURL returns the display base the store renders short URLs with.
func (s *Store) BaseURL() string { return s.baseURL }

// resolveExpiry passes "Z"-suffixed timestamps through as RFC 3339 and hands
// anything else to the expiration parser.
func (s *Store) resolveExpiry(text string) (*time.Time, error) {
	if text == "" {
		return nil, nil
	}
	if isUTCTimestamp(text) {
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration timestamp %q: %w", text, err)
		}
		return at(t), nil
	}
	return s.expiry.Parse(text), nil
}

func cloneParams(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyQRConfig(c QRConfig) QRConfig {
	if c.FilePath != nil {
		p := *c.FilePath
		c.FilePath = &p
	}
	return c
}
