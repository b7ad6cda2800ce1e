package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailtrace/internal/domain"
	"github.com/ignite/mailtrace/internal/smtp"
)

// fakeSession records sends and can fail them per recipient.
type fakeSession struct {
	dialer *fakeDialer
}

func (s *fakeSession) Send(from, to string, msg []byte) error {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()
	if err, ok := s.dialer.sendErrs[to]; ok {
		return err
	}
	s.dialer.sent = append(s.dialer.sent, to)
	return nil
}

func (s *fakeSession) Close() error {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()
	s.dialer.closed++
	return nil
}

// fakeDialer hands out fakeSessions. dialErr fails every Dial; sendErrs fails
// Send for specific recipients; started/release gate Dial for cancellation
// tests.
type fakeDialer struct {
	mu       sync.Mutex
	dialErr  error
	sendErrs map[string]error
	sent     []string
	dials    int
	closed   int

	started chan struct{}
	release chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, host string, port int, username, password string) (smtp.Session, error) {
	if d.started != nil {
		d.started <- struct{}{}
		<-d.release
	}
	d.mu.Lock()
	d.dials++
	err := d.dialErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakeSession{dialer: d}, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	err      error
	recorded []string
}

func (r *fakeRecorder) RecordSent(_ context.Context, campaignID, sender, recipient string) (*domain.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.recorded = append(r.recorded, recipient)
	return &domain.TrackingRecord{CampaignID: campaignID, SenderEmail: sender, Recipient: recipient, IsSent: true}, nil
}

func creds() Credentials {
	return Credentials{Email: "alice@gmail.com", Password: "secret"}
}

func jobsFor(recipients ...string) []domain.SendJob {
	jobs := make([]domain.SendJob, 0, len(recipients))
	for _, r := range recipients {
		jobs = append(jobs, domain.SendJob{
			CampaignID: "camp-1", Recipient: r, Subject: "s", Body: "<p>b</p>",
		})
	}
	return jobs
}

func TestDispatchAccounting(t *testing.T) {
	dialer := &fakeDialer{sendErrs: map[string]error{}}
	rec := &fakeRecorder{}
	e := NewEngine(dialer, rec, WithWorkers(3))

	// Two jobs share the same malformed recipient so their error messages
	// collapse to one distinct entry.
	jobs := jobsFor("a@x.com", "b@x.com", "not an address", "not an address", "c@x.com")
	summary, err := e.Dispatch(context.Background(), Request{
		Credentials: creds(), TrackingBaseURL: "http://t", Jobs: jobs,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.TotalCount)
	assert.Equal(t, 3, summary.SuccessCount)
	assert.Equal(t, 2, summary.FailureCount)
	assert.Equal(t, summary.TotalCount, summary.SuccessCount+summary.FailureCount)
	assert.Len(t, summary.Results, 5)
	assert.Len(t, summary.DistinctErrors, 1)
	assert.Len(t, rec.recorded, 3)
}

func TestDispatchAuthenticationFailure(t *testing.T) {
	dialer := &fakeDialer{
		dialErr: fmt.Errorf("%w: 535 5.7.8 bad credentials", smtp.ErrAuthRejected),
	}
	e := NewEngine(dialer, &fakeRecorder{}, WithWorkers(2))

	summary, err := e.Dispatch(context.Background(), Request{
		Credentials: creds(), TrackingBaseURL: "http://t", Jobs: jobsFor("a@x.com", "b@x.com"),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.SuccessCount)
	assert.Equal(t, 2, summary.FailureCount)
	for _, res := range summary.Results {
		assert.Equal(t, domain.ErrKindAuthentication, res.Kind)
	}
	assert.Len(t, summary.DistinctErrors, 1)
}

func TestDispatchTransportFailureForOneRecipient(t *testing.T) {
	dialer := &fakeDialer{
		sendErrs: map[string]error{"down@x.com": errors.New("connection reset")},
	}
	e := NewEngine(dialer, &fakeRecorder{}, WithWorkers(2))

	summary, err := e.Dispatch(context.Background(), Request{
		Credentials: creds(), TrackingBaseURL: "http://t",
		Jobs: jobsFor("a@x.com", "down@x.com", "b@x.com"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	assert.Equal(t, 3, summary.TotalCount)
	require.Len(t, summary.DistinctErrors, 1)
	assert.Contains(t, summary.DistinctErrors[0], "SMTP send failed")

	var failed *domain.SendResult
	for i := range summary.Results {
		if !summary.Results[i].Success {
			failed = &summary.Results[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, domain.ErrKindTransport, failed.Kind)
}

func TestDispatchRecordingFailureFailsLoud(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &fakeRecorder{err: errors.New("db write failed")}
	e := NewEngine(dialer, rec, WithWorkers(1))

	summary, err := e.Dispatch(context.Background(), Request{
		Credentials: creds(), TrackingBaseURL: "http://t", Jobs: jobsFor("a@x.com"),
	})
	require.NoError(t, err)

	// Mail went out, but the job still counts as failed.
	assert.Equal(t, []string{"a@x.com"}, dialer.sent)
	assert.Equal(t, 0, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	assert.Equal(t, domain.ErrKindRecording, summary.Results[0].Kind)
}

func TestDispatchClosesEverySession(t *testing.T) {
	dialer := &fakeDialer{
		sendErrs: map[string]error{"down@x.com": errors.New("connection reset")},
	}
	e := NewEngine(dialer, &fakeRecorder{}, WithWorkers(2))

	_, err := e.Dispatch(context.Background(), Request{
		Credentials: creds(), TrackingBaseURL: "http://t",
		Jobs: jobsFor("a@x.com", "down@x.com", "b@x.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, dialer.dials, dialer.closed)
}

func TestDispatchCancellationStopsUnclaimedJobs(t *testing.T) {
	dialer := &fakeDialer{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	e := NewEngine(dialer, &fakeRecorder{}, WithWorkers(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *domain.DispatchSummary, 1)
	go func() {
		summary, _ := e.Dispatch(ctx, Request{
			Credentials: creds(), TrackingBaseURL: "http://t",
			Jobs: jobsFor("a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com",
				"f@x.com", "g@x.com", "h@x.com", "i@x.com", "j@x.com"),
		})
		done <- summary
	}()

	// Wait for both workers to claim a job, then cancel before releasing.
	<-dialer.started
	<-dialer.started
	cancel()
	close(dialer.release)

	select {
	case summary := <-done:
		// The two in-flight jobs run to completion; nothing else is claimed.
		assert.Equal(t, 10, summary.TotalCount)
		assert.Len(t, summary.Results, 2)
		assert.Equal(t, 2, summary.SuccessCount+summary.FailureCount)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}
}

type fakeLimiter struct {
	err error
}

func (l *fakeLimiter) Wait(context.Context, string) error { return l.err }

func TestDispatchLimiterErrorKeepsCause(t *testing.T) {
	dialer := &fakeDialer{}
	e := NewEngine(dialer, &fakeRecorder{},
		WithWorkers(1), WithLimiter(&fakeLimiter{err: context.Canceled}))

	summary, err := e.Dispatch(context.Background(), Request{
		Credentials: creds(), TrackingBaseURL: "http://t", Jobs: jobsFor("a@x.com"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FailureCount)
	assert.Equal(t, domain.ErrKindTransport, summary.Results[0].Kind)
	// The underlying cause survives into the message, so a canceled dispatch
	// reads differently from a limiter fault in DistinctErrors.
	assert.Contains(t, summary.Results[0].Error, "rate limit wait for gmail.com")
	assert.Contains(t, summary.Results[0].Error, context.Canceled.Error())
	assert.Equal(t, 0, dialer.dials, "no SMTP dial after a failed rate limit wait")
}

func TestDispatchRequiresCredentials(t *testing.T) {
	e := NewEngine(&fakeDialer{}, &fakeRecorder{})
	_, err := e.Dispatch(context.Background(), Request{Jobs: jobsFor("a@x.com")})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestDispatchEmptyBatch(t *testing.T) {
	e := NewEngine(&fakeDialer{}, &fakeRecorder{})
	summary, err := e.Dispatch(context.Background(), Request{Credentials: creds()})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalCount)
	assert.Empty(t, summary.Results)
	assert.Empty(t, summary.DistinctErrors)
}
