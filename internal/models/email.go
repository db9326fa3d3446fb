package models

import (
	"encoding/json"
	"time"
)

// Email is a stored message row. Address lists are kept in order and
// serialized as JSON by the repository.
type Email struct {
	ID           int64
	MessageID    string
	Subject      string
	Sender       string
	Recipients   []string
	Cc           []string
	Bcc          []string
	ContentText  string
	ContentHTML  string
	DateSent     *time.Time
	DateReceived time.Time
	RawHeaders   string
	DispatcherID *int64
	RFQ          bool
	RFQType      string
	CreatedAt    time.Time
}

// Attachment is a stored attachment row. The row exists iff the file at
// FilePath exists at ingest commit, and FileSize equals the bytes written.
type Attachment struct {
	ID                     int64
	EmailID                int64
	OriginalFilename       string
	StoredFilename         string
	FilePath               string
	FileSize               int64
	ContentType            string
	ContentDispositionType string
	ContentID              string
	Extra                  json.RawMessage
	CreatedAt              time.Time
}

// Forward statuses. Transitions are monotonic: pending -> sent or
// pending -> failed; failed is terminal and carries a non-empty error.
const (
	ForwardPending = "pending"
	ForwardSent    = "sent"
	ForwardFailed  = "failed"
)

// Forward is one forwarding attempt for a stored email.
type Forward struct {
	ID                int64
	EmailID           int64
	ToAddresses       []string
	CcAddresses       []string
	BccAddresses      []string
	AdditionalMessage string
	Status            string
	ErrorMessage      string
	ForwardedAt       *time.Time
	CreatedAt         time.Time
}

// PartContent is one decoded attachment part of a canonical message,
// carrying the raw bytes before they are materialized on disk.
type PartContent struct {
	Filename        string
	Content         []byte
	ContentType     string
	DispositionType string
	ContentID       string
}

// ParsedEmail is the canonical record: the decoded, charset-normalized
// in-memory representation of one message. The rule engine evaluates
// against it and set_field actions mutate its named fields.
type ParsedEmail struct {
	MessageID    string
	Subject      string
	Sender       string
	Recipients   []string
	Cc           []string
	Bcc          []string
	ContentText  string
	ContentHTML  string
	DateSent     *time.Time
	DateReceived time.Time
	RawHeaders   string
	DispatcherID *int64
	RFQ          bool
	RFQType      string
	Attachments  []PartContent
}

// SyncStats are the per-run counters of one ingestion tick. Every
// processed uid lands in exactly one of the four outcome buckets, so
// TotalProcessed = NewEmails + DuplicatesSkipped + RuleSkipped + Errors.
type SyncStats struct {
	TotalProcessed    int        `json:"total_processed"`
	NewEmails         int        `json:"new_emails"`
	DuplicatesSkipped int        `json:"duplicates_skipped"`
	RuleSkipped       int        `json:"rule_skipped"`
	Errors            int        `json:"errors"`
	LastMessageID     string     `json:"last_message_id,omitempty"`
	SyncTime          *time.Time `json:"sync_time,omitempty"`
}
