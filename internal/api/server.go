// Package api exposes the HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"mailroom/internal/db"
	"mailroom/internal/forward"
	"mailroom/internal/ingest"
	"mailroom/internal/models"
	"mailroom/internal/scheduler"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Repository is the slice of the database layer the API needs.
type Repository interface {
	ListEmails(ctx context.Context, limit, offset int, sender string) ([]*models.Email, int, error)
	GetEmailByID(ctx context.Context, id int64) (*models.Email, error)
	GetAttachments(ctx context.Context, emailID int64) ([]*models.Attachment, error)
	ListForwards(ctx context.Context, emailID int64) ([]*models.Forward, error)
	DeleteEmail(ctx context.Context, emailID int64) error
	GetStats(ctx context.Context) (*db.Stats, error)
}

// AttachmentStore removes stored attachment files.
type AttachmentStore interface {
	Delete(storedFilename string) error
}

// Syncer triggers and reports ingestion runs.
type Syncer interface {
	Run(ctx context.Context, opts ingest.Options) (*models.SyncStats, error)
	Status() ingest.Status
}

// Scheduler reports the periodic job.
type Scheduler interface {
	Status() scheduler.Status
}

// Forwarder delivers stored mail to new recipients.
type Forwarder interface {
	Forward(ctx context.Context, emailID int64, req forward.Request) error
}

// Server holds the handler dependencies.
type Server struct {
	repo      Repository
	store     AttachmentStore
	syncer    Syncer
	scheduler Scheduler
	forwarder Forwarder
	log       *logrus.Entry
}

// New wires the server.
func New(repo Repository, store AttachmentStore, syncer Syncer, sched Scheduler, forwarder Forwarder, log *logrus.Entry) *Server {
	return &Server{repo: repo, store: store, syncer: syncer, scheduler: sched, forwarder: forwarder, log: log}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Post("/sync/manual", s.handleManualSync)
	r.Get("/sync/status", s.handleSyncStatus)
	r.Get("/scheduler/status", s.handleSchedulerStatus)

	r.Route("/emails", func(r chi.Router) {
		r.Get("/", s.handleListEmails)
		r.Get("/{email_id}", s.handleGetEmail)
		r.Delete("/{email_id}", s.handleDeleteEmail)
		r.Post("/{email_id}/forward", s.handleForward)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "mailroom email service",
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "mailroom",
	})
}

func (s *Server) handleManualSync(w http.ResponseWriter, r *http.Request) {
	var opts ingest.Options

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	if v := r.URL.Query().Get("since_date"); v != "" {
		since, err := parseSinceDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since_date")
			return
		}
		opts.Since = &since
	}

	stats, err := s.syncer.Run(r.Context(), opts)
	if err != nil {
		if errors.Is(err, ingest.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"success": false,
				"message": "sync already in progress",
			})
			return
		}
		s.log.WithError(err).Error("manual sync failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := s.syncer.Status()

	resp := map[string]interface{}{
		"is_syncing":      status.IsSyncing,
		"last_sync_stats": status.LastSync,
		"last_sync_time":  nil,
	}
	if status.LastSync != nil {
		resp["last_sync_time"] = status.LastSync.SyncTime
	}
	if status.LastError != "" {
		resp["last_error"] = status.LastError
	}

	if stats, err := s.repo.GetStats(r.Context()); err != nil {
		s.log.WithError(err).Warn("failed to load database stats")
	} else {
		resp["database_stats"] = stats
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	sender := r.URL.Query().Get("sender")

	emails, total, err := s.repo.ListEmails(r.Context(), limit, offset, sender)
	if err != nil {
		s.log.WithError(err).Error("failed to list emails")
		writeError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"emails": emailSummaries(emails),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := emailID(w, r)
	if !ok {
		return
	}

	email, err := s.repo.GetEmailByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("failed to load email")
		writeError(w, http.StatusInternalServerError, "failed to load email")
		return
	}

	attachments, err := s.repo.GetAttachments(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("failed to load attachments")
		writeError(w, http.StatusInternalServerError, "failed to load attachments")
		return
	}
	forwards, err := s.repo.ListForwards(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("failed to load forwards")
		writeError(w, http.StatusInternalServerError, "failed to load forwards")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email":       emailDetail(email),
		"attachments": attachmentViews(attachments),
		"forwards":    forwardViews(forwards),
	})
}

func (s *Server) handleDeleteEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := emailID(w, r)
	if !ok {
		return
	}

	attachments, err := s.repo.GetAttachments(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("failed to load attachments")
		writeError(w, http.StatusInternalServerError, "failed to delete email")
		return
	}

	err = s.repo.DeleteEmail(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("failed to delete email")
		writeError(w, http.StatusInternalServerError, "failed to delete email")
		return
	}

	// Rows first, files after: a file that outlives its row is only
	// orphaned disk space, a row without its file is a broken forward.
	for _, att := range attachments {
		if err := s.store.Delete(att.StoredFilename); err != nil {
			s.log.WithError(err).WithField("filename", att.StoredFilename).Warn("failed to remove attachment file")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "email deleted",
		"email_id": id,
	})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	id, ok := emailID(w, r)
	if !ok {
		return
	}

	var req forward.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.forwarder.Forward(r.Context(), id, req)
	switch {
	case errors.Is(err, forward.ErrNoRecipients):
		writeError(w, http.StatusBadRequest, "to_addresses is required")
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "email not found")
	case err != nil:
		s.log.WithError(err).Error("forward failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":  "email forwarded",
			"email_id": id,
		})
	}
}

func emailID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "email_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid email id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// parseSinceDate accepts a date or a full timestamp.
func parseSinceDate(v string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized date format")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
