package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sundayezeilo/openlinks/internal/descriptor"
	"github.com/sundayezeilo/openlinks/internal/errx"
	"github.com/sundayezeilo/openlinks/internal/links"
)

// MaxDescriptorSize bounds what apply reads (1MB).
const MaxDescriptorSize = 1 << 20

func (c *CLI) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *CLI) create(ctx context.Context, args []string) error {
	const op = "cli.create"

	fs := c.flagSet("create")
	tags := fs.String("tags", "", "comma separated tags")
	expires := fs.String("expires", "", "expiration, e.g. \"30 days\" or 2025-12-31")
	redirect := fs.String("redirect", "", "destination after expiry")
	description := fs.String("description", "", "description")
	utm := fs.String("utm", "", "UTM parameters as k=v,...")

	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return errx.E(op, errx.Invalid, errUsage{"create <slug> <destination>"})
	}

	params, err := parseParams(*utm)
	if err != nil {
		return err
	}

	rec, err := c.store.Create(ctx, links.CreateRequest{
		Slug:                pos[0],
		Destination:         pos[1],
		UTMParams:           params,
		ExpiresAt:           *expires,
		RedirectAfterExpiry: *redirect,
		Tags:                splitList(*tags),
		Description:         *description,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "Created: %s\n", c.store.FullURL(rec.Slug, true))
	return c.writeJSON(rec)
}

func (c *CLI) read(ctx context.Context, args []string) error {
	const op = "cli.read"

	pos, err := parseArgs(c.flagSet("read"), args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errx.E(op, errx.Invalid, errUsage{"read <slug>"})
	}

	rec, ok, err := c.store.Read(ctx, pos[0])
	if err != nil {
		return err
	}
	if !ok {
		return errx.E(op, errx.NotFound, errNotFound{pos[0]})
	}
	return c.writeJSON(rec)
}

func (c *CLI) update(ctx context.Context, args []string) error {
	const op = "cli.update"

	fs := c.flagSet("update")
	destination := fs.String("destination", "", "new destination")
	expires := fs.String("expires", "", "new expiration; empty clears")
	redirect := fs.String("redirect", "", "destination after expiry; empty clears")
	tags := fs.String("tags", "", "replacement tags")
	description := fs.String("description", "", "new description")
	utm := fs.String("utm", "", "replacement UTM parameters as k=v,...")

	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errx.E(op, errx.Invalid, errUsage{"update <slug> [-destination url] [-expires text] [-redirect url] [-tags a,b] [-description text] [-utm k=v,...]"})
	}

	var patch links.Patch
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "destination":
			patch.Destination = destination
		case "expires":
			patch.ExpiresAt = expires
		case "redirect":
			patch.RedirectAfterExpiry = redirect
		case "tags":
			patch.Tags = splitList(*tags)
			if patch.Tags == nil {
				patch.Tags = []string{}
			}
		case "description":
			patch.Description = description
		case "utm":
			patch.UTMParams, flagErr = parseParams(*utm)
		}
	})
	if flagErr != nil {
		return flagErr
	}

	rec, err := c.store.Update(ctx, pos[0], patch)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "Updated: %s\n", c.store.FullURL(rec.Slug, true))
	return c.writeJSON(rec)
}

func (c *CLI) list(ctx context.Context, args []string) error {
	const op = "cli.list"

	fs := c.flagSet("list")
	tags := fs.String("tags", "", "only links carrying any of these tags")

	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return errx.E(op, errx.Invalid, errUsage{"list [-tags a,b]"})
	}

	recs, err := c.store.List(ctx, splitList(*tags)...)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "Found %d links:\n", len(recs))
	for _, rec := range recs {
		fmt.Fprintf(c.stdout, "  - %s -> %s\n", c.store.FullURL(rec.Slug, true), rec.Destination)
	}
	return nil
}

func (c *CLI) delete(ctx context.Context, args []string) error {
	const op = "cli.delete"

	fs := c.flagSet("delete")
	purge := fs.Bool("purge", false, "remove permanently instead of archiving")

	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errx.E(op, errx.Invalid, errUsage{"delete <slug> [-purge]"})
	}

	ok, err := c.store.Delete(ctx, pos[0], !*purge)
	if err != nil {
		return err
	}
	if !ok {
		return errx.E(op, errx.NotFound, errNotFound{pos[0]})
	}

	fmt.Fprintf(c.stdout, "Deleted: %s\n", pos[0])
	return nil
}

func (c *CLI) bulkDelete(ctx context.Context, args []string) error {
	const op = "cli.bulkDelete"

	fs := c.flagSet("bulk-delete")
	purge := fs.Bool("purge", false, "remove permanently instead of archiving")

	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errx.E(op, errx.Invalid, errUsage{"bulk-delete <tag> [-purge]"})
	}

	n, err := c.store.BulkDeleteByTag(ctx, pos[0], !*purge)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "Deleted %d links with tag: %s\n", n, pos[0])
	return nil
}

func (c *CLI) url(args []string) error {
	const op = "cli.url"

	pos, err := parseArgs(c.flagSet("url"), args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errx.E(op, errx.Invalid, errUsage{"url <slug>"})
	}

	fmt.Fprintln(c.stdout, c.store.FullURL(pos[0], true))
	return nil
}

func (c *CLI) apply(ctx context.Context, args []string) error {
	const op = "cli.apply"

	fs := c.flagSet("apply")
	file := fs.String("file", "-", "descriptor file; - reads stdin")
	issue := fs.String("issue", "", "issue number to tag created links with")
	fallback := fs.Bool("fallback", false, "interpret free text when the input is not a JSON descriptor")

	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return errx.E(op, errx.Invalid, errUsage{"apply [-file path] [-issue n] [-fallback]"})
	}

	input, err := c.readInput(*file)
	if err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	var interp descriptor.Interpreter = descriptor.DecodeInterpreter{}
	if *fallback {
		interp = descriptor.Fallback{
			Primary:   interp,
			Secondary: descriptor.Heuristic{},
			Logger:    c.logger,
		}
	}

	d, err := interp.Interpret(ctx, string(input))
	if err != nil {
		return err
	}

	exec := descriptor.NewExecutor(c.store, &descriptor.ExecutorConfig{
		Publisher: c.publisher,
		Logger:    c.logger,
		Issue:     *issue,
	})
	res, err := exec.Execute(ctx, d)
	if err != nil {
		return err
	}

	fmt.Fprint(c.stdout, res.Message())
	return nil
}

func (c *CLI) readInput(path string) ([]byte, error) {
	r := c.stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = f.Close()
		}()
		r = f
	}

	b, err := io.ReadAll(io.LimitReader(r, MaxDescriptorSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxDescriptorSize {
		return nil, fmt.Errorf("descriptor too large (max %d bytes)", MaxDescriptorSize)
	}
	return b, nil
}

func (c *CLI) writeJSON(v any) error {
	const op = "cli.writeJSON"

	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errx.E(op, errx.Internal, err)
	}
	return nil
}
