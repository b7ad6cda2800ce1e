package domain

import "time"

// TrackingRecord is one recipient's delivery/open lifecycle within one
// campaign from one sender. The (CampaignID, SenderEmail, Recipient) triple is
// the lookup key but is deliberately not unique: re-sending the same recipient
// creates a second row, because each send is a distinct event.
//
// Invariants:
//   - IsOpened transitions false→true at most once; once true, the opened
//     timestamp, user agent and IP address are frozen.
//   - IsSent is set only at send time on a confirmed SMTP accept and is never
//     cleared retroactively.
type TrackingRecord struct {
	ID              string     `json:"id" db:"id"`
	CampaignID      string     `json:"campaign_id" db:"campaign_id"`
	SenderEmail     string     `json:"sender_email" db:"sender_email"`
	Recipient       string     `json:"recipient" db:"recipient"`
	IsSent          bool       `json:"is_sent" db:"is_sent"`
	SentTimestamp   *time.Time `json:"sent_timestamp,omitempty" db:"sent_timestamp"`
	IsOpened        bool       `json:"is_opened" db:"is_opened"`
	OpenedTimestamp *time.Time `json:"opened_timestamp,omitempty" db:"opened_timestamp"`
	UserAgent       *string    `json:"user_agent,omitempty" db:"user_agent"`
	IPAddress       *string    `json:"ip_address,omitempty" db:"ip_address"`
}

// CampaignStats is a read-only rollup of tracking records grouped by
// (campaign, sender). Computed by the repository for the dashboard; the core
// only guarantees the underlying rows are correct and race-free.
type CampaignStats struct {
	CampaignID  string     `json:"campaign_id"`
	SenderEmail string     `json:"sender_email"`
	TotalSent   int        `json:"total_sent"`
	TotalOpened int        `json:"total_opened"`
	FirstOpenAt *time.Time `json:"first_open_at,omitempty"`
	LastOpenAt  *time.Time `json:"last_open_at,omitempty"`
}
