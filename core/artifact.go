package core

import (
	"context"
	"time"
)

// ArtifactKind identifies the type of generated file.
type ArtifactKind string

const (
	// ArtifactChart is a rendered chart image (PNG).
	ArtifactChart ArtifactKind = "chart"
	// ArtifactCSV is an exported query result.
	ArtifactCSV ArtifactKind = "csv"
	// ArtifactPDF is a generated report document.
	ArtifactPDF ArtifactKind = "pdf"
)

// Artifact describes a generated file. The core creates artifacts write-once
// and hands references to the external file-serving collaborator, which
// deletes them after Expires. Location is the storage path (or key) of the
// durable copy; DownloadRef is the user-facing reference handed out in
// answers ("/downloads/<name>").
type Artifact struct {
	ID          string       `json:"id"`
	Kind        ArtifactKind `json:"kind"`
	Name        string       `json:"name"`
	Location    string       `json:"location"`
	DownloadRef string       `json:"download_ref"`
	Created     time.Time    `json:"created"`
	Expires     time.Time    `json:"expires"`
}

// Expired reports whether the artifact's retention window has passed.
func (a Artifact) Expired(now time.Time) bool { return now.After(a.Expires) }

// ArtifactStore persists generated files. Implementations must publish
// durably before returning: a returned Artifact may be referenced in a user
// answer, so a half-written file must never be observable. External-write
// tools derive the artifact name from their call id, making re-publication
// after a retry overwrite the same name instead of duplicating files.
type ArtifactStore interface {
	// Publish writes data durably and returns the finalized artifact with
	// Location, DownloadRef, Created and Expires populated.
	Publish(ctx context.Context, threadID string, art Artifact, data []byte) (Artifact, error)
	Get(ctx context.Context, threadID, artifactID string) ([]byte, Artifact, error)
	List(ctx context.Context, threadID string) ([]Artifact, error)
	Delete(ctx context.Context, threadID, artifactID string) error
}
