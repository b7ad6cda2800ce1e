package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailtrace/internal/domain"
	"github.com/ignite/mailtrace/internal/pkg/logger"
)

// Service implements tracking business logic over a Repository. All methods
// are safe for concurrent use if the repository is.
type Service struct {
	repo Repository
}

// NewService creates a tracking service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RecordSent inserts a fresh "sent" row for a confirmed SMTP accept. It never
// looks for an existing row: a re-send of the same recipient is a distinct
// event and gets a distinct row.
func (s *Service) RecordSent(ctx context.Context, campaignID, sender, recipient string) (*domain.TrackingRecord, error) {
	if campaignID == "" || sender == "" || recipient == "" {
		return nil, ErrMissingKey
	}

	now := time.Now().UTC()
	rec := &domain.TrackingRecord{
		ID:            uuid.New().String(),
		CampaignID:    campaignID,
		SenderEmail:   sender,
		Recipient:     recipient,
		IsSent:        true,
		SentTimestamp: &now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert sent record: %w", err)
	}

	logger.Info("recorded sent",
		"campaign_id", campaignID, "sender", sender, "recipient", recipient)
	return rec, nil
}

// RecordOpen applies one idempotent open for the key. The first open wins;
// later calls for the same key are no-ops. A beacon hit with no prior row at
// all (previewing client, or the send-side row write failed after SMTP
// already accepted) inserts an open-only row with is_sent=false. The
// transition-or-insert happens in one atomic repository call so racing first
// opens cannot each create a row.
func (s *Service) RecordOpen(ctx context.Context, campaignID, sender, recipient, userAgent, ip string) error {
	if campaignID == "" || sender == "" || recipient == "" {
		return ErrMissingKey
	}

	now := time.Now().UTC()
	candidate := &domain.TrackingRecord{
		ID:              uuid.New().String(),
		CampaignID:      campaignID,
		SenderEmail:     sender,
		Recipient:       recipient,
		IsSent:          false,
		IsOpened:        true,
		OpenedTimestamp: &now,
		UserAgent:       &userAgent,
		IPAddress:       &ip,
	}
	outcome, err := s.repo.ApplyOpen(ctx, candidate)
	if err != nil {
		return fmt.Errorf("apply open: %w", err)
	}

	switch outcome {
	case OpenTransitioned:
		logger.Info("recorded open",
			"campaign_id", campaignID, "sender", sender, "recipient", recipient)
	case OpenAlreadyApplied:
		logger.Debug("open already recorded",
			"campaign_id", campaignID, "sender", sender, "recipient", recipient)
	case OpenInsertedNew:
		logger.Warn("open with no prior send row, created open-only record",
			"campaign_id", campaignID, "sender", sender, "recipient", recipient)
	}
	return nil
}

// Stats returns (campaign, sender) rollups for the dashboard.
func (s *Service) Stats(ctx context.Context) ([]domain.CampaignStats, error) {
	return s.repo.Stats(ctx)
}

// CampaignRecipients returns every tracking record for one campaign.
func (s *Service) CampaignRecipients(ctx context.Context, campaignID string) ([]domain.TrackingRecord, error) {
	return s.repo.CampaignRecipients(ctx, campaignID)
}
