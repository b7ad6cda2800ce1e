// Package dispatch runs campaign send batches through a bounded worker pool.
//
// Each worker negotiates its own SMTP session per job; sessions are not
// reused across jobs. Cancellation is cooperative: a canceled context stops
// new jobs from being claimed, already-claimed jobs run to completion.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/mailtrace/internal/domain"
	"github.com/ignite/mailtrace/internal/message"
	"github.com/ignite/mailtrace/internal/pkg/logger"
	"github.com/ignite/mailtrace/internal/smtp"
)

// DefaultWorkers is the pool size when the caller does not configure one.
const DefaultWorkers = 5

// Pool-level errors. These abort the whole dispatch, unlike per-job failures
// which only mark their own SendResult.
var (
	ErrNoCredentials = errors.New("sender email and password are required")
)

// Recorder persists a confirmed send. Satisfied by *tracking.Service.
type Recorder interface {
	RecordSent(ctx context.Context, campaignID, sender, recipient string) (*domain.TrackingRecord, error)
}

// Limiter gates send throughput per provider domain. Wait blocks until the
// send is admitted or ctx is done. Satisfied by *worker.SendRateLimiter.
type Limiter interface {
	Wait(ctx context.Context, domain string) error
}

// Credentials identify and authenticate the sending account.
type Credentials struct {
	Email    string
	Password string
}

// Request is one dispatch batch: a set of per-recipient jobs sent with one
// sender's credentials.
type Request struct {
	Credentials     Credentials
	TrackingBaseURL string
	Jobs            []domain.SendJob
}

// Engine fans a Request's jobs out over a fixed-size worker pool and blocks
// until every claimed job has produced a SendResult. An Engine is stateless
// across calls and safe to use from multiple goroutines.
type Engine struct {
	dialer   smtp.Dialer
	recorder Recorder
	limiter  Limiter
	workers  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLimiter installs a per-domain send rate limiter.
func WithLimiter(l Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// NewEngine creates a dispatch engine.
func NewEngine(dialer smtp.Dialer, recorder Recorder, opts ...Option) *Engine {
	e := &Engine{dialer: dialer, recorder: recorder, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch sends every job in the request and returns exact accounting.
// Per-job failures never abort the batch; they are categorized, counted and
// deduplicated into the summary. A canceled ctx stops unclaimed jobs;
// in-flight jobs finish and their results are included.
func (e *Engine) Dispatch(ctx context.Context, req Request) (*domain.DispatchSummary, error) {
	if req.Credentials.Email == "" || req.Credentials.Password == "" {
		return nil, ErrNoCredentials
	}

	total := len(req.Jobs)
	summary := &domain.DispatchSummary{TotalCount: total}
	if total == 0 {
		summary.DistinctErrors = []string{}
		return summary, nil
	}

	logger.Info("dispatch starting",
		"sender", req.Credentials.Email, "jobs", total, "workers", e.workers)

	jobs := make(chan domain.SendJob)
	go func() {
		defer close(jobs)
		for _, job := range req.Jobs {
			select {
			case <-ctx.Done():
				return
			case jobs <- job:
			}
		}
	}()

	var (
		mu      sync.Mutex
		results []domain.SendResult
		errSet  = make(map[string]struct{})
		wg      sync.WaitGroup
	)
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-jobs:
					if !ok {
						return
					}
					res := e.sendOne(ctx, req, job)
					mu.Lock()
					results = append(results, res)
					if !res.Success {
						errSet[res.Error] = struct{}{}
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	summary.Results = results
	for _, res := range results {
		if res.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
	}
	summary.DistinctErrors = make([]string, 0, len(errSet))
	for msg := range errSet {
		summary.DistinctErrors = append(summary.DistinctErrors, msg)
	}
	sort.Strings(summary.DistinctErrors)

	logger.Info("dispatch finished",
		"sender", req.Credentials.Email,
		"sent", summary.SuccessCount, "failed", summary.FailureCount, "total", total)
	return summary, nil
}

// sendOne runs one job end to end: validate, rate-limit, build, negotiate,
// send, record. Strictly sequential within the job; one attempt, no retry.
func (e *Engine) sendOne(ctx context.Context, req Request, job domain.SendJob) domain.SendResult {
	sender := req.Credentials.Email

	if _, err := mail.ParseAddress(job.Recipient); err != nil {
		return failure(job, domain.ErrKindInput,
			fmt.Sprintf("invalid recipient address %q", job.Recipient))
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, senderDomain(sender)); err != nil {
			return failure(job, domain.ErrKindTransport,
				fmt.Sprintf("rate limit wait for %s: %v", senderDomain(sender), err))
		}
	}

	msg, err := message.Build(job, sender, req.TrackingBaseURL)
	if err != nil {
		return failure(job, domain.ErrKindInput, fmt.Sprintf("build message: %v", err))
	}

	host, port := smtp.Resolve(sender)
	sess, err := e.dialer.Dial(ctx, host, port, sender, req.Credentials.Password)
	if err != nil {
		if errors.Is(err, smtp.ErrAuthRejected) {
			return failure(job, domain.ErrKindAuthentication,
				fmt.Sprintf("SMTP authentication failed: %v", err))
		}
		return failure(job, domain.ErrKindTransport, fmt.Sprintf("SMTP connect failed: %v", err))
	}
	defer sess.Close()

	if err := sess.Send(sender, job.Recipient, msg); err != nil {
		return failure(job, domain.ErrKindTransport, fmt.Sprintf("SMTP send failed: %v", err))
	}

	// Mail is out; a failed row write still fails the job so the caller's
	// accounting reflects confirmed tracking, not just SMTP acceptance.
	if _, err := e.recorder.RecordSent(ctx, job.CampaignID, sender, job.Recipient); err != nil {
		return failure(job, domain.ErrKindRecording,
			fmt.Sprintf("sent but failed to record tracking row: %v", err))
	}

	logger.Info("job sent", "campaign_id", job.CampaignID, "recipient", job.Recipient)
	return domain.SendResult{Recipient: job.Recipient, Success: true}
}

func failure(job domain.SendJob, kind domain.ErrorKind, msg string) domain.SendResult {
	logger.Error("job failed",
		"campaign_id", job.CampaignID, "recipient", job.Recipient,
		"kind", string(kind), "error", msg)
	return domain.SendResult{Recipient: job.Recipient, Kind: kind, Error: msg}
}

func senderDomain(sender string) string {
	if at := strings.LastIndex(sender, "@"); at >= 0 {
		return strings.ToLower(sender[at+1:])
	}
	return sender
}
