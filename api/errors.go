package api

import (
	"fmt"
	"time"
)

// LockTimeoutError reports that another run held the migration lock past the
// configured wait. No state was changed; the attempt is safe to retry.
type LockTimeoutError struct {
	Key     int64
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("migration lock %d not acquired within %s: another run holds it", e.Key, e.Timeout)
}

// BatchPartialError reports a chunk failure after earlier chunks committed.
// Rollback cannot recover this; the operator must resume from the checkpoint
// or repair manually.
type BatchPartialError struct {
	Version         string
	ChunksCompleted int
	RowsProcessed   int64
	Err             error
}

func (e *BatchPartialError) Error() string {
	return fmt.Sprintf(
		"batched operation for %s failed after %d committed chunks (%d rows): %v",
		e.Version, e.ChunksCompleted, e.RowsProcessed, e.Err,
	)
}

func (e *BatchPartialError) Unwrap() error { return e.Err }

// RecordMissingError reports a rollback request for a version with no
// persisted record. The orchestrator refuses to roll past it.
type RecordMissingError struct {
	Version string
}

func (e *RecordMissingError) Error() string {
	return fmt.Sprintf("migration %s has no applied record, refusing to roll back past it", e.Version)
}

// MigrationError wraps a failure while applying or reversing one migration.
type MigrationError struct {
	Version   string
	Name      string
	Direction string
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s (%s) failed %s: %v", e.Version, e.Name, e.Direction, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
