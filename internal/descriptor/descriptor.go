// Package descriptor turns requests for link changes into typed operations
// and applies them to a links.Store.
//
// A request arrives either as the flat JSON document produced by an external
// interpreter (see Decode) or as free text handled by an Interpreter such as
// Heuristic. Either way the result is a Descriptor carrying exactly one
// payload, which an Executor runs against the store.
package descriptor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/sundayezeilo/openlinks/internal/errx"
	"github.com/sundayezeilo/openlinks/internal/links"
)

// Operation names the store operation a descriptor requests.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpList   Operation = "list"
)

// Descriptor is a parsed request. Exactly one payload is set, and it
// matches Operation.
type Descriptor struct {
	Operation Operation
	Create    *Create
	Update    *Update
	Delete    *Delete
	List      *List
}

// Create asks for a new link.
type Create struct {
	Slug                string
	Destination         string
	UTMParams           map[string]string
	ExpiresAt           string
	RedirectAfterExpiry string
	Tags                []string
	Description         string
}

// Update asks for the supplied fields of an existing link to change.
type Update struct {
	Slug  string
	Patch links.Patch
}

// Delete removes one link by slug, or every link carrying Tag when Tag is set.
type Delete struct {
	Slug    string
	Tag     string
	Archive bool
}

// List asks for active links, optionally filtered by tags (any match).
type List struct {
	Tags []string
}

// Interpreter turns free text into a Descriptor.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (Descriptor, error)
}

// Validate checks that d carries exactly the payload its operation needs.
func (d Descriptor) Validate() error {
	const op = "descriptor.Validate"

	set := 0
	for _, ok := range []bool{d.Create != nil, d.Update != nil, d.Delete != nil, d.List != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return errx.Errorf(op, errx.Invalid, "descriptor must carry exactly one payload, has %d", set)
	}

	var ok bool
	switch d.Operation {
	case OpCreate:
		ok = d.Create != nil
	case OpUpdate:
		ok = d.Update != nil
	case OpDelete:
		ok = d.Delete != nil
	case OpList:
		ok = d.List != nil
	default:
		return errx.Errorf(op, errx.Invalid, "unknown operation: %s", d.Operation)
	}
	if !ok {
		return errx.Errorf(op, errx.Invalid, "payload does not match operation %s", d.Operation)
	}
	return nil
}

// document is the flat wire form. Absent and null fields decode to nil.
type document struct {
	Operation           string            `json:"operation"`
	Slug                *string           `json:"slug"`
	Destination         *string           `json:"destination"`
	UTMParams           map[string]string `json:"utm_params"`
	ExpiresAt           *string           `json:"expires_at"`
	RedirectAfterExpiry *string           `json:"redirect_after_expiry"`
	Tags                []string          `json:"tags"`
	Description         *string           `json:"description"`
	Archive             *bool             `json:"archive"`
}

var fenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// Decode parses a flat JSON descriptor, optionally wrapped in a ```json
// Markdown fence. A missing operation means create.
//
// For updates, empty tags and utm_params are treated as not supplied; the
// flat form always carries them, so an empty value cannot mean "clear".
func Decode(b []byte) (Descriptor, error) {
	const op = "descriptor.Decode"

	if m := fenceRe.FindSubmatch(b); m != nil {
		b = m[1]
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&doc); err != nil {
		var syntaxErr *json.SyntaxError
		var unmarshalErr *json.UnmarshalTypeError

		switch {
		case errors.As(err, &syntaxErr):
			return Descriptor{}, errx.Errorf(op, errx.Invalid, "malformed JSON at position %d", syntaxErr.Offset)
		case errors.As(err, &unmarshalErr):
			return Descriptor{}, errx.Errorf(op, errx.Invalid, "invalid value for field %q", unmarshalErr.Field)
		case errors.Is(err, io.EOF):
			return Descriptor{}, errx.Errorf(op, errx.Invalid, "descriptor is empty")
		default:
			return Descriptor{}, errx.E(op, errx.Invalid, fmt.Errorf("failed to decode descriptor: %w", err))
		}
	}
	if dec.More() {
		return Descriptor{}, errx.Errorf(op, errx.Invalid, "descriptor contains multiple JSON objects")
	}

	d, err := doc.descriptor()
	if err != nil {
		return Descriptor{}, errx.E(op, errx.Invalid, err)
	}
	return d, nil
}

func (doc document) descriptor() (Descriptor, error) {
	operation := Operation(doc.Operation)
	if operation == "" {
		operation = OpCreate
	}

	switch operation {
	case OpCreate:
		return Descriptor{Operation: OpCreate, Create: &Create{
			Slug:                deref(doc.Slug),
			Destination:         deref(doc.Destination),
			UTMParams:           doc.UTMParams,
			ExpiresAt:           deref(doc.ExpiresAt),
			RedirectAfterExpiry: deref(doc.RedirectAfterExpiry),
			Tags:                doc.Tags,
			Description:         deref(doc.Description),
		}}, nil

	case OpUpdate:
		patch := links.Patch{
			Destination:         doc.Destination,
			ExpiresAt:           doc.ExpiresAt,
			RedirectAfterExpiry: doc.RedirectAfterExpiry,
			Description:         doc.Description,
		}
		if len(doc.Tags) > 0 {
			patch.Tags = doc.Tags
		}
		if len(doc.UTMParams) > 0 {
			patch.UTMParams = doc.UTMParams
		}
		return Descriptor{Operation: OpUpdate, Update: &Update{Slug: deref(doc.Slug), Patch: patch}}, nil

	case OpDelete:
		del := &Delete{Slug: deref(doc.Slug), Archive: true}
		if len(doc.Tags) > 0 {
			del.Tag = doc.Tags[0]
		}
		if doc.Archive != nil {
			del.Archive = *doc.Archive
		}
		return Descriptor{Operation: OpDelete, Delete: del}, nil

	case OpList:
		return Descriptor{Operation: OpList, List: &List{Tags: doc.Tags}}, nil

	default:
		return Descriptor{}, fmt.Errorf("unknown operation: %s", doc.Operation)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
