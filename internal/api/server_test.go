package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"mailroom/internal/db"
	"mailroom/internal/forward"
	"mailroom/internal/ingest"
	"mailroom/internal/models"
	"mailroom/internal/scheduler"
)

type apiRepo struct {
	emails map[int64]*models.Email
	atts   map[int64][]*models.Attachment
}

func (r *apiRepo) ListEmails(ctx context.Context, limit, offset int, sender string) ([]*models.Email, int, error) {
	var out []*models.Email
	for _, e := range r.emails {
		out = append(out, e)
	}
	return out, len(out), nil
}

func (r *apiRepo) GetEmailByID(ctx context.Context, id int64) (*models.Email, error) {
	e, ok := r.emails[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return e, nil
}

func (r *apiRepo) GetAttachments(ctx context.Context, emailID int64) ([]*models.Attachment, error) {
	return r.atts[emailID], nil
}

func (r *apiRepo) ListForwards(ctx context.Context, emailID int64) ([]*models.Forward, error) {
	return nil, nil
}

func (r *apiRepo) DeleteEmail(ctx context.Context, emailID int64) error {
	if _, ok := r.emails[emailID]; !ok {
		return db.ErrNotFound
	}
	delete(r.emails, emailID)
	return nil
}

func (r *apiRepo) GetStats(ctx context.Context) (*db.Stats, error) {
	return &db.Stats{TotalEmails: len(r.emails)}, nil
}

type apiStore struct {
	deleted []string
}

func (s *apiStore) Delete(storedFilename string) error {
	s.deleted = append(s.deleted, storedFilename)
	return nil
}

type apiSyncer struct {
	busy    bool
	lastOpt ingest.Options
}

func (s *apiSyncer) Run(ctx context.Context, opts ingest.Options) (*models.SyncStats, error) {
	if s.busy {
		return nil, ingest.ErrSyncInProgress
	}
	s.lastOpt = opts
	return &models.SyncStats{TotalProcessed: 1, NewEmails: 1}, nil
}

func (s *apiSyncer) Status() ingest.Status {
	return ingest.Status{IsSyncing: s.busy}
}

type apiScheduler struct{}

func (apiScheduler) Status() scheduler.Status {
	return scheduler.Status{JobID: "sync_emails", MaxInstances: 1, MisfireGraceSec: 60}
}

type apiForwarder struct {
	err    error
	called bool
}

func (f *apiForwarder) Forward(ctx context.Context, emailID int64, req forward.Request) error {
	f.called = true
	if len(req.To) == 0 {
		return forward.ErrNoRecipients
	}
	return f.err
}

func testServer(repo *apiRepo, syncer *apiSyncer, fwd *apiForwarder) http.Handler {
	return testServerWithStore(repo, &apiStore{}, syncer, fwd)
}

func testServerWithStore(repo *apiRepo, store *apiStore, syncer *apiSyncer, fwd *apiForwarder) http.Handler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(repo, store, syncer, apiScheduler{}, fwd, logrus.NewEntry(logger)).Router()
}

func seedRepo() *apiRepo {
	return &apiRepo{
		emails: map[int64]*models.Email{
			1: {ID: 1, MessageID: "<m1@x>", Subject: "s", Sender: "a@b.c", DateReceived: time.Now()},
		},
		atts: map[int64][]*models.Attachment{},
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRootAndHealth(t *testing.T) {
	h := testServer(seedRepo(), &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["version"] != Version {
		t.Errorf("version = %v", body["version"])
	}

	rec = doRequest(t, h, http.MethodGet, "/health", "")
	if body := decode(t, rec); body["status"] != "healthy" {
		t.Errorf("health = %v", body)
	}
}

func TestManualSync(t *testing.T) {
	syncer := &apiSyncer{}
	h := testServer(seedRepo(), syncer, &apiForwarder{})

	rec := doRequest(t, h, http.MethodPost, "/sync/manual?limit=10&since_date=2026-03-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true {
		t.Errorf("body = %v", body)
	}
	if syncer.lastOpt.Limit != 10 {
		t.Errorf("limit = %d", syncer.lastOpt.Limit)
	}
	if syncer.lastOpt.Since == nil || !syncer.lastOpt.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v", syncer.lastOpt.Since)
	}
}

func TestManualSyncBadSinceDate(t *testing.T) {
	h := testServer(seedRepo(), &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodPost, "/sync/manual?since_date=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestManualSyncBusy(t *testing.T) {
	h := testServer(seedRepo(), &apiSyncer{busy: true}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodPost, "/sync/manual", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if body := decode(t, rec); body["success"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestSyncStatusIncludesDatabaseStats(t *testing.T) {
	h := testServer(seedRepo(), &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodGet, "/sync/status", "")
	body := decode(t, rec)
	if body["is_syncing"] != false {
		t.Errorf("is_syncing = %v", body["is_syncing"])
	}
	stats, ok := body["database_stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("database_stats missing: %v", body)
	}
	if stats["total_emails"] != float64(1) {
		t.Errorf("total_emails = %v", stats["total_emails"])
	}
}

func TestSyncStatusBeforeFirstRun(t *testing.T) {
	h := testServer(seedRepo(), &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodGet, "/sync/status", "")
	body := decode(t, rec)
	v, ok := body["last_sync_time"]
	if !ok {
		t.Fatalf("last_sync_time missing: %v", body)
	}
	if v != nil {
		t.Errorf("last_sync_time = %v, want null before the first run", v)
	}
}

func TestSchedulerStatus(t *testing.T) {
	h := testServer(seedRepo(), &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodGet, "/scheduler/status", "")
	body := decode(t, rec)
	if body["job_id"] != "sync_emails" {
		t.Errorf("job_id = %v", body["job_id"])
	}
	if body["misfire_grace_time"] != float64(60) {
		t.Errorf("misfire_grace_time = %v", body["misfire_grace_time"])
	}
}

func TestGetEmail(t *testing.T) {
	h := testServer(seedRepo(), &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodGet, "/emails/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	email, ok := body["email"].(map[string]interface{})
	if !ok || email["message_id"] != "<m1@x>" {
		t.Errorf("body = %v", body)
	}

	rec = doRequest(t, h, http.MethodGet, "/emails/99", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/emails/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListEmails(t *testing.T) {
	h := testServer(seedRepo(), &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodGet, "/emails/?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["total"] != float64(1) {
		t.Errorf("total = %v", body["total"])
	}
	if body["limit"] != float64(5) {
		t.Errorf("limit = %v", body["limit"])
	}
}

func TestDeleteEmail(t *testing.T) {
	repo := seedRepo()
	h := testServer(repo, &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodDelete, "/emails/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(repo.emails) != 0 {
		t.Error("email not deleted")
	}

	rec = doRequest(t, h, http.MethodDelete, "/emails/1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteEmailRemovesAttachmentFiles(t *testing.T) {
	repo := seedRepo()
	repo.atts[1] = []*models.Attachment{
		{EmailID: 1, OriginalFilename: "a.pdf", StoredFilename: "202603021405_1_a.pdf"},
		{EmailID: 1, OriginalFilename: "b.png", StoredFilename: "202603021405_1_b.png"},
	}
	store := &apiStore{}
	h := testServerWithStore(repo, store, &apiSyncer{}, &apiForwarder{})

	rec := doRequest(t, h, http.MethodDelete, "/emails/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.deleted) != 2 {
		t.Fatalf("deleted %d files, want 2: %v", len(store.deleted), store.deleted)
	}
	if store.deleted[0] != "202603021405_1_a.pdf" || store.deleted[1] != "202603021405_1_b.png" {
		t.Errorf("deleted files = %v", store.deleted)
	}

	// A missing email must not touch the store.
	rec = doRequest(t, h, http.MethodDelete, "/emails/99", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(store.deleted) != 2 {
		t.Errorf("store touched for missing email: %v", store.deleted)
	}
}

func TestForwardEndpoint(t *testing.T) {
	fwd := &apiForwarder{}
	h := testServer(seedRepo(), &apiSyncer{}, fwd)

	rec := doRequest(t, h, http.MethodPost, "/emails/1/forward",
		`{"to_addresses":["ops@example.net"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !fwd.called {
		t.Error("forwarder not invoked")
	}

	rec = doRequest(t, h, http.MethodPost, "/emails/1/forward", `{"to_addresses":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for empty to_addresses", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/emails/1/forward", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad body", rec.Code)
	}

	fwd.err = errors.New("smtp connection failed")
	rec = doRequest(t, h, http.MethodPost, "/emails/1/forward",
		`{"to_addresses":["ops@example.net"]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 on transport failure", rec.Code)
	}
}

func TestForwardMissingEmail(t *testing.T) {
	fwd := &apiForwarder{err: db.ErrNotFound}
	h := testServer(seedRepo(), &apiSyncer{}, fwd)

	rec := doRequest(t, h, http.MethodPost, "/emails/42/forward",
		`{"to_addresses":["ops@example.net"]}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
