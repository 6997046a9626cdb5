package types

// Version is the canonical project version.
// The CLI, the echo worker, and the transcript record schema share it.
const Version = "0.3.0"

// TranscriptSchemaVersion is stamped on every transcript record.
// Bumped only when the record layout changes.
const TranscriptSchemaVersion = "1"
