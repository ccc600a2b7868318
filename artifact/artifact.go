// Package artifact provides storage for generated files (charts, CSV
// exports, PDF reports). Stores publish write-once: data is durable before
// the returned Artifact becomes visible, so a reference handed to the user
// always points at a complete file. Expired artifacts are reclaimed by the
// Janitor.
package artifact

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an artifact id is unknown or already reclaimed.
var ErrNotFound = errors.New("artifact not found")

func notFound(threadID, artifactID string) error {
	return fmt.Errorf("%w: %s/%s", ErrNotFound, threadID, artifactID)
}
