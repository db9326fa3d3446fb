// Package ingest runs the per-tick pipeline: search the mailbox, pull
// each unprocessed message through canonicalization, rules, storage and
// the repository, and acknowledge it upstream only after the commit.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mailroom/internal/mailbox"
	"mailroom/internal/mime"
	"mailroom/internal/models"
	"mailroom/internal/postproc"
	"mailroom/internal/rules"
	"mailroom/internal/storage"
)

// ErrSyncInProgress is returned when a run is requested while another is
// still in flight.
var ErrSyncInProgress = errors.New("sync already in progress")

// Mailbox is the slice of the IMAP client the pipeline needs.
type Mailbox interface {
	SearchUnprocessed(since time.Time) ([]uint32, error)
	FetchRaw(uid uint32) (*mailbox.Message, error)
	MarkProcessed(uid uint32) error
	Close() error
}

// Repository is the slice of the database layer the pipeline needs.
type Repository interface {
	EmailExists(ctx context.Context, messageID string) (bool, error)
	SaveEmailWithAttachments(ctx context.Context, email *models.Email, attachments []*models.Attachment) (int64, []int64, error)
	LoadActiveRules(ctx context.Context) ([]*models.Rule, error)
}

// AttachmentStore is the slice of the file store the pipeline needs.
type AttachmentStore interface {
	Save(emailUID uint32, originalFilename string, content []byte, receivedAt time.Time) (*storage.SavedFile, error)
}

// Options bound one run.
type Options struct {
	// Limit caps how many uids are processed; zero means no cap.
	Limit int
	// Since restricts the server-side search; nil means unbounded.
	Since *time.Time
}

// Status is the snapshot the HTTP surface exposes.
type Status struct {
	IsSyncing bool              `json:"is_syncing"`
	LastSync  *models.SyncStats `json:"last_sync,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

// Syncer executes runs with at most one in flight. Each run dials a
// fresh mailbox session and logs out at the end.
type Syncer struct {
	dial       func() (Mailbox, error)
	repo       Repository
	store      AttachmentStore
	engine     *rules.Engine
	classifier *postproc.Classifier
	registry   *postproc.Registry
	log        *logrus.Entry
	now        func() time.Time

	mu        sync.Mutex
	running   bool
	lastStats *models.SyncStats
	lastError string
}

// New wires a syncer.
func New(dial func() (Mailbox, error), repo Repository, store AttachmentStore,
	engine *rules.Engine, classifier *postproc.Classifier, registry *postproc.Registry,
	log *logrus.Entry) *Syncer {

	return &Syncer{
		dial:       dial,
		repo:       repo,
		store:      store,
		engine:     engine,
		classifier: classifier,
		registry:   registry,
		log:        log,
		now:        time.Now,
	}
}

// Status returns the current snapshot.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{IsSyncing: s.running, LastSync: s.lastStats, LastError: s.lastError}
}

// Run executes one ingestion pass. A second caller gets
// ErrSyncInProgress immediately instead of queuing.
func (s *Syncer) Run(ctx context.Context, opts Options) (*models.SyncStats, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()

	stats, err := s.run(ctx, opts)

	s.mu.Lock()
	s.running = false
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastStats = stats
	}
	s.mu.Unlock()

	return stats, err
}

func (s *Syncer) run(ctx context.Context, opts Options) (*models.SyncStats, error) {
	mb, err := s.dial()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close mailbox session")
		}
	}()

	activeRules, err := s.repo.LoadActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	var since time.Time
	if opts.Since != nil {
		since = *opts.Since
	}
	uids, err := mb.SearchUnprocessed(since)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(uids) > opts.Limit {
		uids = uids[:opts.Limit]
	}

	now := s.now()
	stats := &models.SyncStats{SyncTime: &now}
	s.log.WithField("count", len(uids)).Info("starting sync run")

	for _, uid := range uids {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.TotalProcessed++
		s.processUID(ctx, mb, activeRules, uid, stats)
	}

	s.log.WithFields(logrus.Fields{
		"total":      stats.TotalProcessed,
		"new":        stats.NewEmails,
		"duplicates": stats.DuplicatesSkipped,
		"skipped":    stats.RuleSkipped,
		"errors":     stats.Errors,
	}).Info("sync run finished")
	return stats, nil
}

// processUID lands each uid in exactly one stats bucket. The upstream
// flag is set only after a successful commit or a deliberate skip;
// every error path leaves it untouched so the next run retries.
func (s *Syncer) processUID(ctx context.Context, mb Mailbox, activeRules []*models.Rule,
	uid uint32, stats *models.SyncStats) {

	log := s.log.WithField("uid", uid)

	msg, err := mb.FetchRaw(uid)
	if err != nil {
		log.WithError(err).Error("failed to fetch message")
		stats.Errors++
		return
	}

	// date_received records when this service ingested the message, not
	// when the upstream server stored it. A re-flagged years-old message
	// still lands with a current timestamp.
	parsed, err := mime.Parse(msg.Raw, s.now(), log)
	if err != nil {
		log.WithError(err).Error("failed to parse message")
		stats.Errors++
		return
	}
	if parsed.MessageID == "" {
		log.Warn("message without Message-ID, leaving for retry")
		stats.Errors++
		return
	}
	log = log.WithField("message_id", parsed.MessageID)

	exists, err := s.repo.EmailExists(ctx, parsed.MessageID)
	if err != nil {
		log.WithError(err).Error("failed to check for duplicate")
		stats.Errors++
		return
	}
	if exists {
		stats.DuplicatesSkipped++
		s.ack(mb, uid, log)
		return
	}

	effect := s.engine.Apply(activeRules, parsed)
	for _, e := range effect.Errors {
		log.WithField("detail", e).Warn("rule action error")
	}
	if effect.ShouldSkip {
		log.WithFields(logrus.Fields{
			"rules":  effect.MatchedRules,
			"reason": effect.SkipReason,
		}).Info("message skipped by rule")
		stats.RuleSkipped++
		s.ack(mb, uid, log)
		return
	}

	parsed.RFQ, parsed.RFQType = s.classifier.Classify(parsed)

	attachments := s.materializeAttachments(ctx, uid, parsed, log)

	email := toEmail(parsed)
	if _, _, err := s.repo.SaveEmailWithAttachments(ctx, email, attachments); err != nil {
		log.WithError(err).Error("failed to persist message")
		stats.Errors++
		return
	}

	stats.NewEmails++
	stats.LastMessageID = parsed.MessageID
	s.ack(mb, uid, log)
}

// materializeAttachments writes attachment bytes to disk and builds the
// rows. A failed file write drops that attachment and keeps the rest.
func (s *Syncer) materializeAttachments(ctx context.Context, uid uint32,
	parsed *models.ParsedEmail, log *logrus.Entry) []*models.Attachment {

	var attachments []*models.Attachment
	for _, part := range parsed.Attachments {
		saved, err := s.store.Save(uid, part.Filename, part.Content, parsed.DateReceived)
		if err != nil {
			log.WithError(err).WithField("filename", part.Filename).Warn("failed to store attachment")
			continue
		}

		att := &models.Attachment{
			OriginalFilename:       part.Filename,
			StoredFilename:         saved.StoredFilename,
			FilePath:               saved.FilePath,
			FileSize:               saved.FileSize,
			ContentType:            part.ContentType,
			ContentDispositionType: part.DispositionType,
			ContentID:              part.ContentID,
		}
		if parsed.RFQ {
			att.Extra = s.registry.Run(ctx, parsed.RFQType, saved.FilePath, part.ContentType)
		}
		attachments = append(attachments, att)
	}
	return attachments
}

// ack marks the uid processed upstream. An ack failure is only logged;
// the message will be deduplicated on the next run.
func (s *Syncer) ack(mb Mailbox, uid uint32, log *logrus.Entry) {
	if err := mb.MarkProcessed(uid); err != nil {
		log.WithError(err).Warn("failed to mark message processed")
	}
}

func toEmail(parsed *models.ParsedEmail) *models.Email {
	return &models.Email{
		MessageID:    parsed.MessageID,
		Subject:      parsed.Subject,
		Sender:       parsed.Sender,
		Recipients:   parsed.Recipients,
		Cc:           parsed.Cc,
		Bcc:          parsed.Bcc,
		ContentText:  parsed.ContentText,
		ContentHTML:  parsed.ContentHTML,
		DateSent:     parsed.DateSent,
		DateReceived: parsed.DateReceived,
		RawHeaders:   parsed.RawHeaders,
		DispatcherID: parsed.DispatcherID,
		RFQ:          parsed.RFQ,
		RFQType:      parsed.RFQType,
	}
}
