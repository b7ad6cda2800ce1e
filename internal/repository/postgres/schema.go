package postgres

import (
	"database/sql"
	"fmt"
)

// The natural key (campaign_id, sender_email, recipient) is intentionally not
// unique: re-sends create additional rows. The index only serves lookups.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS pixel_tracks (
	id               TEXT PRIMARY KEY,
	campaign_id      TEXT NOT NULL,
	sender_email     TEXT NOT NULL,
	recipient        TEXT NOT NULL,
	is_sent          BOOLEAN NOT NULL DEFAULT FALSE,
	sent_timestamp   TIMESTAMPTZ,
	is_opened        BOOLEAN NOT NULL DEFAULT FALSE,
	opened_timestamp TIMESTAMPTZ,
	user_agent       TEXT,
	ip_address       TEXT
);

CREATE INDEX IF NOT EXISTS idx_pixel_tracks_key
	ON pixel_tracks (campaign_id, sender_email, recipient);
`

// Migrate creates the tracking schema if it does not exist yet.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply tracking schema: %w", err)
	}
	return nil
}
