package domain

import "time"

// Backfill cursor states. A failed cursor is resumable: re-issuing the
// backfill command continues from the persisted cursor, not from
// WindowStart.
const (
	BackfillPending    = "pending"
	BackfillInProgress = "in_progress"
	BackfillDone       = "done"
	BackfillFailed     = "failed"
)

// BackfillCursor is the persisted pagination state of one
// (exchange, market) backfill. It is saved only after the page's
// volume upserts commit, so a crash between upsert and save costs at
// most one re-fetched page, never lost data.
type BackfillCursor struct {
	Exchange    string
	Market      string
	Cursor      string // exchange-native pagination token; empty before the first page
	WindowStart time.Time
	WindowEnd   time.Time
	Status      string
	PagesDone   int
	UpdatedAt   time.Time
}
