// Package cli implements the openlinks command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/sundayezeilo/openlinks/internal/descriptor"
	"github.com/sundayezeilo/openlinks/internal/errx"
	"github.com/sundayezeilo/openlinks/internal/links"
)

// Exit codes. Every failure exits with ExitFailure.
const (
	ExitOK      = 0
	ExitFailure = 1
)

const usage = `Usage: openlinks <command> [args...]

Commands:
  create <slug> <destination> [-tags a,b] [-expires text] [-redirect url] [-description text] [-utm k=v,...]
  read <slug>
  update <slug> [-destination url] [-expires text] [-redirect url] [-tags a,b] [-description text] [-utm k=v,...]
  list [-tags a,b]
  delete <slug> [-purge]
  bulk-delete <tag> [-purge]
  url <slug>
  apply [-file path] [-issue n] [-fallback]

Flags may appear anywhere; arguments after "--" are never read as flags.
`

// CLI dispatches commands to a links.Store.
type CLI struct {
	store     *links.Store
	publisher descriptor.Publisher
	logger    *slog.Logger
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
}

// Config holds optional settings for the CLI. Unset streams default to the
// process streams.
type Config struct {
	Publisher descriptor.Publisher
	Logger    *slog.Logger
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

// New creates a CLI for store.
func New(store *links.Store, config *Config) *CLI {
	if config == nil {
		config = &Config{}
	}

	c := &CLI{
		store:     store,
		publisher: config.Publisher,
		logger:    config.Logger,
		stdin:     config.Stdin,
		stdout:    config.Stdout,
		stderr:    config.Stderr,
	}
	if c.publisher == nil {
		c.publisher = descriptor.NopPublisher{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.stdin == nil {
		c.stdin = os.Stdin
	}
	if c.stdout == nil {
		c.stdout = os.Stdout
	}
	if c.stderr == nil {
		c.stderr = os.Stderr
	}
	return c
}

// errNotFound reports an absent slug; Run prints it without the "Error:" prefix.
type errNotFound struct{ slug string }

func (e errNotFound) Error() string { return "Link not found: " + e.slug }

// errUsage carries a usage problem for a single command.
type errUsage struct{ msg string }

func (e errUsage) Error() string { return e.msg }

// Run executes the command named by args[0] and returns the exit code.
func (c *CLI) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, usage)
		return ExitFailure
	}

	var err error
	switch name, rest := args[0], args[1:]; name {
	case "create":
		err = c.create(ctx, rest)
	case "read":
		err = c.read(ctx, rest)
	case "update":
		err = c.update(ctx, rest)
	case "list":
		err = c.list(ctx, rest)
	case "delete":
		err = c.delete(ctx, rest)
	case "bulk-delete":
		err = c.bulkDelete(ctx, rest)
	case "url":
		err = c.url(rest)
	case "apply":
		err = c.apply(ctx, rest)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(c.stdout, usage)
		return ExitOK
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", name)
		fmt.Fprint(c.stderr, usage)
		return ExitFailure
	}

	return c.report(args[0], err)
}

func (c *CLI) report(command string, err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, flag.ErrHelp) {
		return ExitOK
	}

	var notFound errNotFound
	var usageErr errUsage
	switch {
	case errors.As(err, &notFound):
		fmt.Fprintln(c.stderr, notFound.Error())
	case errors.As(err, &usageErr):
		fmt.Fprintf(c.stderr, "Usage: openlinks %s\n", usageErr.msg)
	default:
		fmt.Fprintf(c.stderr, "Error: %s\n", errx.Cause(err))
	}

	c.logger.Debug("command failed",
		"command", command,
		"code", ErrorKindToCode(errx.KindOf(err)),
		"op", errx.OpOf(err),
		"error", err,
	)
	return ExitCode(err)
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return ExitFailure
}

// ErrorKindToCode maps errx.Kind to a short label for logs.
func ErrorKindToCode(kind errx.Kind) string {
	switch kind {
	case errx.NotFound:
		return "not_found"
	case errx.Conflict:
		return "conflict"
	case errx.Invalid:
		return "invalid_input"
	case errx.Unavailable:
		return "unavailable"
	case errx.Internal:
		return "internal_error"
	default:
		return "internal_error"
	}
}

// parseArgs parses flags that may appear before, between or after
// positional arguments, and returns the positional ones. Everything after the
// first "--" is positional, so slugs starting with "-" can be passed.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var tail []string
	if i := slices.Index(args, "--"); i >= 0 {
		args, tail = args[:i], args[i+1:]
	}

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return append(positional, tail...), nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// splitList splits a comma separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseParams parses "k=v,k2=v2".
func parseParams(s string) (map[string]string, error) {
	const op = "cli.parseParams"

	out := make(map[string]string)
	for _, pair := range splitList(s) {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errx.Errorf(op, errx.Invalid, "invalid parameter %q (want key=value)", pair)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
