package tracking

import (
	"context"

	"github.com/ignite/mailtrace/internal/domain"
)

// OpenOutcome reports what an open attempt did to the store.
type OpenOutcome int

const (
	// OpenTransitioned: this call flipped an unopened row to opened.
	OpenTransitioned OpenOutcome = iota + 1
	// OpenAlreadyApplied: rows exist for the key but every one is already
	// opened; first-open-wins, this call was a no-op.
	OpenAlreadyApplied
	// OpenInsertedNew: no row existed for the key, the candidate open-only
	// row was inserted instead.
	OpenInsertedNew
)

// Repository defines data access for tracking records.
// Implementations must be safe for concurrent use, and ApplyOpen must be
// atomic per call: of N racing calls for the same key, exactly one may
// observe OpenTransitioned against one unopened row, and exactly one may
// observe OpenInsertedNew when no row exists. Transition-or-insert must not
// split into separately visible steps.
type Repository interface {
	// Insert persists a new record. No uniqueness is enforced on the
	// (campaign, sender, recipient) key; multiple rows per key are expected.
	Insert(ctx context.Context, rec *domain.TrackingRecord) error

	// ApplyOpen applies one open for candidate's (campaign, sender,
	// recipient) key. It transitions the most recent unopened row matching
	// the key, stamping it with candidate's opened timestamp, user agent and
	// IP. "Most recent" means latest sent_timestamp, id as tie-break. If
	// every matching row is already opened the call is a no-op; if no row
	// matches at all, candidate itself is inserted.
	ApplyOpen(ctx context.Context, candidate *domain.TrackingRecord) (OpenOutcome, error)

	// Stats returns read-only rollups grouped by (campaign, sender).
	Stats(ctx context.Context) ([]domain.CampaignStats, error)

	// CampaignRecipients returns every record for one campaign.
	CampaignRecipients(ctx context.Context, campaignID string) ([]domain.TrackingRecord, error)
}
