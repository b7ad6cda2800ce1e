// Package memory holds in-memory repository implementations, used by unit
// tests and by the server's database-less dev mode.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/mailtrace/internal/domain"
	"github.com/ignite/mailtrace/internal/service/tracking"
)

// TrackingRepo implements tracking.Repository with a mutex-guarded slice.
// One lock per call gives the same per-call atomicity the Postgres
// implementation gets from row locking.
type TrackingRepo struct {
	mu      sync.Mutex
	records []*domain.TrackingRecord
}

// NewTrackingRepo creates an empty in-memory tracking repository.
func NewTrackingRepo() *TrackingRepo {
	return &TrackingRepo{}
}

func (r *TrackingRepo) Insert(_ context.Context, rec *domain.TrackingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

// ApplyOpen runs the whole transition-or-insert under one mutex hold, so
// racing first opens for the same key cannot each insert a row.
func (r *TrackingRepo) ApplyOpen(_ context.Context, candidate *domain.TrackingRecord) (tracking.OpenOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *domain.TrackingRecord
	found := false
	for _, rec := range r.records {
		if rec.CampaignID != candidate.CampaignID || rec.SenderEmail != candidate.SenderEmail ||
			rec.Recipient != candidate.Recipient {
			continue
		}
		found = true
		if rec.IsOpened {
			continue
		}
		// Most recent wins: latest sent timestamp, later insertion on ties.
		if target == nil || laterOrEqual(rec.SentTimestamp, target.SentTimestamp) {
			target = rec
		}
	}

	if target != nil {
		at := *candidate.OpenedTimestamp
		ua, addr := *candidate.UserAgent, *candidate.IPAddress
		target.IsOpened = true
		target.OpenedTimestamp = &at
		target.UserAgent = &ua
		target.IPAddress = &addr
		return tracking.OpenTransitioned, nil
	}
	if found {
		return tracking.OpenAlreadyApplied, nil
	}
	cp := *candidate
	r.records = append(r.records, &cp)
	return tracking.OpenInsertedNew, nil
}

func laterOrEqual(a, b *time.Time) bool {
	if a == nil {
		return b == nil
	}
	if b == nil {
		return true
	}
	return !a.Before(*b)
}

func (r *TrackingRepo) Stats(_ context.Context) ([]domain.CampaignStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct{ campaign, sender string }
	agg := make(map[key]*domain.CampaignStats)
	var order []key
	for _, rec := range r.records {
		k := key{rec.CampaignID, rec.SenderEmail}
		st, ok := agg[k]
		if !ok {
			st = &domain.CampaignStats{CampaignID: rec.CampaignID, SenderEmail: rec.SenderEmail}
			agg[k] = st
			order = append(order, k)
		}
		if rec.IsSent {
			st.TotalSent++
		}
		if rec.IsOpened {
			st.TotalOpened++
			if ts := rec.OpenedTimestamp; ts != nil {
				if st.FirstOpenAt == nil || ts.Before(*st.FirstOpenAt) {
					t := *ts
					st.FirstOpenAt = &t
				}
				if st.LastOpenAt == nil || ts.After(*st.LastOpenAt) {
					t := *ts
					st.LastOpenAt = &t
				}
			}
		}
	}

	out := make([]domain.CampaignStats, 0, len(order))
	for _, k := range order {
		out = append(out, *agg[k])
	}
	return out, nil
}

func (r *TrackingRepo) CampaignRecipients(_ context.Context, campaignID string) ([]domain.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.TrackingRecord
	for _, rec := range r.records {
		if rec.CampaignID == campaignID {
			out = append(out, *rec)
		}
	}
	return out, nil
}
