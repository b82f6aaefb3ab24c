// Package idgen produces row identifiers for database-backed link storage.
// Record ids stay slug-derived; these ids only key rows in the backend.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator yields row ids. Implementations must be safe for concurrent use.
type Generator interface {
	Generate() (uuid.UUID, error)
}

// DefaultAttempts bounds calls to uuid.NewV7 when TimeOrdered.Attempts is unset.
const DefaultAttempts = 2

// TimeOrdered generates UUID v7 values, so rows written close in time sit
// close together in the primary key index.
type TimeOrdered struct {
	// Attempts is the number of uuid.NewV7 calls made before giving up.
	// Zero or less means DefaultAttempts.
	Attempts int
}

func (g TimeOrdered) Generate() (uuid.UUID, error) {
	attempts := g.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var last error
	for range attempts {
		id, err := uuid.NewV7()
		if err == nil {
			return id, nil
		}
		last = err
	}
	return uuid.Nil, fmt.Errorf("row id: uuid v7 failed after %d attempts: %w", attempts, last)
}
