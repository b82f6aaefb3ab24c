package descriptor

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

var (
	urlRe  = regexp.MustCompile(`https?://\S+`)
	slugRe = regexp.MustCompile(`/(\w+)`)
)

// Heuristic reads a request with keyword matching. The first http(s) URL is
// the destination and the first "/word" is the slug. The operation is the
// first keyword found in the order delete, update, list; otherwise create.
//
// The slug pattern also matches inside URLs, so "https://luma.com" alone
// yields the slug "luma".
type Heuristic struct{}

func (Heuristic) Interpret(_ context.Context, text string) (Descriptor, error) {
	var destination, slug string
	if m := urlRe.FindString(text); m != "" {
		destination = m
	}
	if m := slugRe.FindStringSubmatch(text); m != nil {
		slug = m[1]
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "delete"):
		return Descriptor{Operation: OpDelete, Delete: &Delete{Slug: slug, Archive: true}}, nil

	case strings.Contains(lower, "update"):
		upd := &Update{Slug: slug}
		if destination != "" {
			upd.Patch.Destination = &destination
		}
		return Descriptor{Operation: OpUpdate, Update: upd}, nil

	case strings.Contains(lower, "list"):
		return Descriptor{Operation: OpList, List: &List{}}, nil

	default:
		return Descriptor{Operation: OpCreate, Create: &Create{Slug: slug, Destination: destination}}, nil
	}
}

// Fallback tries Primary and, when it fails, interprets the same text with
// Secondary.
type Fallback struct {
	Primary   Interpreter
	Secondary Interpreter
	Logger    *slog.Logger
}

func (f Fallback) Interpret(ctx context.Context, text string) (Descriptor, error) {
	d, err := f.Primary.Interpret(ctx, text)
	if err == nil {
		return d, nil
	}

	if f.Logger != nil {
		f.Logger.Warn("interpreter failed, falling back", "error", err)
	}
	return f.Secondary.Interpret(ctx, text)
}

// DecodeInterpreter treats the text as a JSON descriptor.
type DecodeInterpreter struct{}

func (DecodeInterpreter) Interpret(_ context.Context, text string) (Descriptor, error) {
	return Decode([]byte(text))
}
