package domain

// ErrorKind categorizes a per-job dispatch failure. The set is fixed so that
// callers can aggregate failures across a batch without string matching.
type ErrorKind string

const (
	// ErrKindAuthentication means the SMTP server rejected the sender's
	// credentials on both transport attempts.
	ErrKindAuthentication ErrorKind = "authentication_failure"
	// ErrKindTransport covers connect, handshake and send errors after both
	// STARTTLS and implicit-TLS attempts failed.
	ErrKindTransport ErrorKind = "transport_failure"
	// ErrKindRecording means the message was accepted by the SMTP server but
	// the tracking row could not be written. Reported as a job failure on
	// purpose: success accounting reflects confirmed tracking, not just SMTP
	// acceptance.
	ErrKindRecording ErrorKind = "recording_failure"
	// ErrKindInput means the job itself was malformed (bad recipient address).
	ErrKindInput ErrorKind = "input_failure"
)

// Attachment is a named binary blob embedded into an outgoing message.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// SendJob is one per-recipient send task. Jobs are immutable once created and
// consumed exactly once by a dispatch worker; they are never persisted.
type SendJob struct {
	CampaignID  string       `json:"campaign_id"`
	Recipient   string       `json:"recipient"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendResult is the outcome of one SendJob. Never mutated after creation.
type SendResult struct {
	Recipient string    `json:"recipient"`
	Success   bool      `json:"success"`
	Kind      ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// DispatchSummary aggregates the results of one dispatch batch.
// DistinctErrors deduplicates failure messages so a caller sending to
// thousands of recipients sees a concise summary, not one line per failure.
type DispatchSummary struct {
	SuccessCount   int          `json:"success_count"`
	FailureCount   int          `json:"failure_count"`
	TotalCount     int          `json:"total_count"`
	Results        []SendResult `json:"results"`
	DistinctErrors []string     `json:"distinct_errors"`
}
