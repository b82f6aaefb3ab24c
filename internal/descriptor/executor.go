package descriptor

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/sundayezeilo/openlinks/internal/errx"
	"github.com/sundayezeilo/openlinks/internal/links"
)

// DefaultCreatedBy is recorded on links created through an Executor.
const DefaultCreatedBy = "openlinks-agent"

// maxListed caps how many entries Result.Message prints for a list.
const maxListed = 10

// Change describes a completed mutation for downstream publishing.
type Change struct {
	Operation Operation
	Slugs     []string
	Message   string // one-line summary suitable for a commit message
}

// Publisher hands a completed change to whatever records it downstream,
// typically a version-control commit.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// NopPublisher discards changes.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Change) error { return nil }

// Executor applies descriptors to a store.
type Executor struct {
	store     *links.Store
	publisher Publisher
	logger    *slog.Logger
	issue     string
	createdBy string
}

// ExecutorConfig holds optional settings for an Executor.
type ExecutorConfig struct {
	Publisher Publisher
	Logger    *slog.Logger

	// Issue is the number of the request that produced the descriptors.
	// When set, created links are tagged "issue-<n>" and change messages
	// reference it.
	Issue string

	CreatedBy string // defaults to DefaultCreatedBy
}

// NewExecutor creates an Executor for store.
func NewExecutor(store *links.Store, config *ExecutorConfig) *Executor {
	if config == nil {
		config = &ExecutorConfig{}
	}

	publisher := config.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Executor{
		store:     store,
		publisher: publisher,
		logger:    logger,
		issue:     config.Issue,
		createdBy: cmp.Or(config.CreatedBy, DefaultCreatedBy),
	}
}

// Entry is one listed link.
type Entry struct {
	URL         string
	Destination string
}

// Result is the outcome of a successful Execute.
type Result struct {
	Operation Operation

	Slug   string        // create, update, single delete
	URL    string        // full URL for create and update
	Record *links.Record // create and update

	Tag     string // bulk delete
	Deleted int    // bulk delete

	Entries []Entry // list
}

// Execute validates d and applies it to the store. After a successful
// mutation the change is passed to the Publisher; a publishing failure is
// returned together with the Result of the mutation that already happened.
func (e *Executor) Execute(ctx context.Context, d Descriptor) (Result, error) {
	const op = "descriptor.executor.Execute"

	if err := d.Validate(); err != nil {
		return Result{}, err
	}

	var (
		res    Result
		change *Change
		err    error
	)
	switch d.Operation {
	case OpCreate:
		res, change, err = e.create(ctx, d.Create)
	case OpUpdate:
		res, change, err = e.update(ctx, d.Update)
	case OpDelete:
		res, change, err = e.delete(ctx, d.Delete)
	case OpList:
		res, err = e.list(ctx, d.List)
	}
	if err != nil {
		return Result{}, errx.E(op, errx.KindOf(err), err)
	}

	if change != nil {
		if err := e.publisher.Publish(ctx, *change); err != nil {
			return res, errx.E(op, errx.Unavailable, fmt.Errorf("publish change: %w", err))
		}
		e.logger.Info("change published", "operation", change.Operation, "slugs", change.Slugs)
	}
	return res, nil
}

func (e *Executor) create(ctx context.Context, c *Create) (Result, *Change, error) {
	const op = "descriptor.executor.create"

	if c.Slug == "" || c.Destination == "" {
		return Result{}, nil, errx.Errorf(op, errx.Invalid, "missing slug or destination for link creation")
	}

	tags := slices.Clone(c.Tags)
	if e.issue != "" {
		tags = append(tags, "issue-"+e.issue)
	}

	rec, err := e.store.Create(ctx, links.CreateRequest{
		Slug:                c.Slug,
		Destination:         c.Destination,
		UTMParams:           c.UTMParams,
		ExpiresAt:           c.ExpiresAt,
		RedirectAfterExpiry: c.RedirectAfterExpiry,
		Tags:                tags,
		Description:         c.Description,
		CreatedBy:           e.createdBy,
	})
	if err != nil {
		return Result{}, nil, err
	}

	res := Result{
		Operation: OpCreate,
		Slug:      rec.Slug,
		URL:       e.store.FullURL(rec.Slug, true),
		Record:    &rec,
	}
	change := &Change{
		Operation: OpCreate,
		Slugs:     []string{rec.Slug},
		Message:   e.message("Add link: /%s -> %s", rec.Slug, rec.Destination),
	}
	return res, change, nil
}

func (e *Executor) update(ctx context.Context, u *Update) (Result, *Change, error) {
	const op = "descriptor.executor.update"

	if u.Slug == "" {
		return Result{}, nil, errx.Errorf(op, errx.Invalid, "missing slug for link update")
	}

	rec, err := e.store.Update(ctx, u.Slug, u.Patch)
	if err != nil {
		return Result{}, nil, err
	}

	res := Result{
		Operation: OpUpdate,
		Slug:      rec.Slug,
		URL:       e.store.FullURL(rec.Slug, true),
		Record:    &rec,
	}
	change := &Change{
		Operation: OpUpdate,
		Slugs:     []string{rec.Slug},
		Message:   e.message("Update link: /%s", rec.Slug),
	}
	return res, change, nil
}

func (e *Executor) delete(ctx context.Context, d *Delete) (Result, *Change, error) {
	const op = "descriptor.executor.delete"

	switch {
	case d.Tag != "":
		slugs, err := e.store.DeleteTagged(ctx, d.Tag, d.Archive)
		if err != nil {
			return Result{}, nil, err
		}

		res := Result{Operation: OpDelete, Tag: d.Tag, Deleted: len(slugs)}
		if len(slugs) == 0 {
			return res, nil, nil
		}
		change := &Change{
			Operation: OpDelete,
			Slugs:     slugs,
			Message:   e.message("Delete %d links with tag: %s", len(slugs), d.Tag),
		}
		return res, change, nil

	case d.Slug != "":
		ok, err := e.store.Delete(ctx, d.Slug, d.Archive)
		if err != nil {
			return Result{}, nil, err
		}
		if !ok {
			return Result{}, nil, errx.Errorf(op, errx.NotFound, "link not found: /%s", d.Slug)
		}

		res := Result{Operation: OpDelete, Slug: d.Slug}
		change := &Change{
			Operation: OpDelete,
			Slugs:     []string{d.Slug},
			Message:   e.message("Delete link: /%s", d.Slug),
		}
		return res, change, nil

	default:
		return Result{}, nil, errx.Errorf(op, errx.Invalid, "specify either a slug or tags for deletion")
	}
}

func (e *Executor) list(ctx context.Context, l *List) (Result, error) {
	recs, err := e.store.List(ctx, l.Tags...)
	if err != nil {
		return Result{}, err
	}

	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, Entry{URL: e.store.FullURL(rec.Slug, true), Destination: rec.Destination})
	}
	return Result{Operation: OpList, Entries: entries}, nil
}

func (e *Executor) message(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	if e.issue != "" {
		msg += fmt.Sprintf(" (issue #%s)", e.issue)
	}
	return msg
}

// Message renders r for a human reader.
func (r Result) Message() string {
	var b strings.Builder

	switch r.Operation {
	case OpCreate:
		fmt.Fprintf(&b, "Link created: %s\n", r.URL)
		if r.Record == nil {
			break
		}
		fmt.Fprintf(&b, "Destination: %s\n", r.Record.Destination)
		if len(r.Record.UTMParams) > 0 {
			params := make([]string, 0, len(r.Record.UTMParams))
			for _, k := range slices.Sorted(maps.Keys(r.Record.UTMParams)) {
				params = append(params, k+"="+r.Record.UTMParams[k])
			}
			fmt.Fprintf(&b, "UTM parameters: %s\n", strings.Join(params, ", "))
		}
		if r.Record.ExpiresAt != nil {
			fmt.Fprintf(&b, "Expires: %s\n", r.Record.ExpiresAt.Format(time.RFC3339))
			if r.Record.RedirectAfterExpiry != nil {
				fmt.Fprintf(&b, "After expiry redirects to: %s\n", *r.Record.RedirectAfterExpiry)
			}
		}

	case OpUpdate:
		fmt.Fprintf(&b, "Link updated: %s\n", r.URL)

	case OpDelete:
		if r.Tag != "" {
			fmt.Fprintf(&b, "Deleted %d links with tag: %s\n", r.Deleted, r.Tag)
		} else {
			fmt.Fprintf(&b, "Link deleted: /%s\n", r.Slug)
		}

	case OpList:
		if len(r.Entries) == 0 {
			b.WriteString("No links found\n")
			break
		}
		fmt.Fprintf(&b, "Found %d link(s):\n", len(r.Entries))
		for _, entry := range r.Entries[:min(len(r.Entries), maxListed)] {
			fmt.Fprintf(&b, "- %s -> %s\n", entry.URL, entry.Destination)
		}
		if extra := len(r.Entries) - maxListed; extra > 0 {
			fmt.Fprintf(&b, "...and %d more\n", extra)
		}
	}

	return b.String()
}
