package tracking_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailtrace/internal/repository/memory"
	"github.com/ignite/mailtrace/internal/service/tracking"
)

const (
	campaign  = "launch-1"
	sender    = "alice@gmail.com"
	recipient = "bob@example.org"
)

func newService() *tracking.Service {
	return tracking.NewService(memory.NewTrackingRepo())
}

func TestRecordSentAlwaysInsertsFreshRow(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	first, err := svc.RecordSent(ctx, campaign, sender, recipient)
	require.NoError(t, err)
	second, err := svc.RecordSent(ctx, campaign, sender, recipient)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, first.IsSent)
	assert.NotNil(t, first.SentTimestamp)
	assert.False(t, first.IsOpened)

	recs, err := svc.CampaignRecipients(ctx, campaign)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRecordOpenIsIdempotent(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.RecordSent(ctx, campaign, sender, recipient)
	require.NoError(t, err)

	require.NoError(t, svc.RecordOpen(ctx, campaign, sender, recipient, "ua-1", "1.2.3.4"))
	recs, err := svc.CampaignRecipients(ctx, campaign)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	firstOpen := recs[0].OpenedTimestamp
	require.NotNil(t, firstOpen)

	// A second open is a no-op: timestamp, user agent and IP stay frozen.
	require.NoError(t, svc.RecordOpen(ctx, campaign, sender, recipient, "ua-2", "9.9.9.9"))
	recs, err = svc.CampaignRecipients(ctx, campaign)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, firstOpen, recs[0].OpenedTimestamp)
	assert.Equal(t, "ua-1", *recs[0].UserAgent)
	assert.Equal(t, "1.2.3.4", *recs[0].IPAddress)
}

func TestRecordOpenConcurrentRace(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.RecordSent(ctx, campaign, sender, recipient)
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.RecordOpen(ctx, campaign, sender, recipient, "ua", "1.1.1.1"))
		}()
	}
	wg.Wait()

	// Exactly one row, transitioned exactly once; no extra inserts from the
	// losing racers.
	recs, err := svc.CampaignRecipients(ctx, campaign)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsOpened)
	assert.NotNil(t, recs[0].OpenedTimestamp)
}

func TestRecordOpenConcurrentRaceWithoutPriorRow(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	// No send row exists yet: a prefetching client and the real open can hit
	// the beacon at the same instant. Exactly one open-only row may result.
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.RecordOpen(ctx, campaign, sender, recipient, "ua", "1.1.1.1"))
		}()
	}
	wg.Wait()

	recs, err := svc.CampaignRecipients(ctx, campaign)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].IsSent)
	assert.True(t, recs[0].IsOpened)
}

func TestRecordOpenWithoutPriorSendCreatesOpenOnlyRow(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	require.NoError(t, svc.RecordOpen(ctx, campaign, sender, recipient, "ua", "2.2.2.2"))

	recs, err := svc.CampaignRecipients(ctx, campaign)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].IsSent)
	assert.Nil(t, recs[0].SentTimestamp)
	assert.True(t, recs[0].IsOpened)
	assert.NotNil(t, recs[0].OpenedTimestamp)
}

func TestRecordOpenTargetsMostRecentUnopenedRow(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	// Two sends for the same key: a re-send creates a second row.
	_, err := svc.RecordSent(ctx, campaign, sender, recipient)
	require.NoError(t, err)
	_, err = svc.RecordSent(ctx, campaign, sender, recipient)
	require.NoError(t, err)

	require.NoError(t, svc.RecordOpen(ctx, campaign, sender, recipient, "ua", "1.1.1.1"))

	recs, err := svc.CampaignRecipients(ctx, campaign)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].IsOpened, "older row stays unopened")
	assert.True(t, recs[1].IsOpened, "most recent row takes the open")
}

func TestRecordRejectsMissingKeyFields(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.RecordSent(ctx, "", sender, recipient)
	assert.ErrorIs(t, err, tracking.ErrMissingKey)
	err = svc.RecordOpen(ctx, campaign, "", recipient, "ua", "ip")
	assert.ErrorIs(t, err, tracking.ErrMissingKey)
}

func TestStatsRollup(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.RecordSent(ctx, campaign, sender, "r1@x.com")
	require.NoError(t, err)
	_, err = svc.RecordSent(ctx, campaign, sender, "r2@x.com")
	require.NoError(t, err)
	require.NoError(t, svc.RecordOpen(ctx, campaign, sender, "r1@x.com", "ua", "ip"))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, campaign, stats[0].CampaignID)
	assert.Equal(t, sender, stats[0].SenderEmail)
	assert.Equal(t, 2, stats[0].TotalSent)
	assert.Equal(t, 1, stats[0].TotalOpened)
	assert.NotNil(t, stats[0].FirstOpenAt)
	assert.Equal(t, stats[0].FirstOpenAt, stats[0].LastOpenAt)
}
