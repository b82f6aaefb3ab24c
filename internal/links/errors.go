package links

import "github.com/sundayezeilo/openlinks/internal/errx"

// IsValidation reports a malformed slug, URL or expiration timestamp.
func IsValidation(err error) bool { return errx.KindOf(err) == errx.Invalid }

// IsDuplicate reports a create for a slug that is already active.
func IsDuplicate(err error) bool { return errx.KindOf(err) == errx.Conflict }

// IsNotFound reports an operation on a slug that is not active.
func IsNotFound(err error) bool { return errx.KindOf(err) == errx.NotFound }

// IsPersistence reports a backend read or write failure.
func IsPersistence(err error) bool { return errx.KindOf(err) == errx.Unavailable }
