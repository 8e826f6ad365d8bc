package event

// SyncMode selects which sync path the orchestrator runs for a request.
type SyncMode string

const (
	// SyncModeHistory walks the remote history feed from the stored cursor
	// (or seeds the cursor on first-ever sync).
	SyncModeHistory SyncMode = "history"
	// SyncModeLegacyList walks the full message listing page by page.
	// No deletions are computed on this path.
	SyncModeLegacyList SyncMode = "legacy-list"
)

// SyncRequested asks the orchestrator to run one sync page for a user.
// Produced by the poller, the push-notification listener, the HTTP
// trigger, or the orchestrator itself when a page has a continuation.
type SyncRequested struct {
	UserID            string
	Mode              SyncMode
	ContinuationToken string
	PageCounter       int
	// Deletion ids observed on earlier pages of this run, carried along
	// so they can be fanned out once the terminal page is applied.
	CarriedDeletedIDs []string
}

// EmbeddingRequested asks the embedding worker to index newly stored emails.
type EmbeddingRequested struct {
	UserID      string
	EmailIDs    []string
	BatchMarker string
}

// MailboxChanged tells the notification layer that a user's mirror changed.
type MailboxChanged struct {
	UserID          string
	ChangedEmailIDs []string
}
