package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailroom/internal/models"
)

func TestSaveForward(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	email := testEmail("<m1@example.com>", time.Now())
	emailID, _, err := d.SaveEmailWithAttachments(ctx, email, nil)
	if err != nil {
		t.Fatalf("failed to save email: %v", err)
	}

	fwd := &models.Forward{
		EmailID:           emailID,
		ToAddresses:       []string{"ops@example.net"},
		CcAddresses:       []string{"audit@example.net"},
		AdditionalMessage: "please handle",
	}
	id, err := d.SaveForward(ctx, fwd)
	if err != nil {
		t.Fatalf("failed to save forward: %v", err)
	}

	got, err := d.GetForward(ctx, id)
	if err != nil {
		t.Fatalf("failed to load forward: %v", err)
	}
	if got.Status != models.ForwardPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.ForwardedAt != nil {
		t.Error("expected forwarded_at to be unset on a pending record")
	}
	if len(got.ToAddresses) != 1 || got.ToAddresses[0] != "ops@example.net" {
		t.Errorf("unexpected to addresses: %v", got.ToAddresses)
	}
	if got.AdditionalMessage != "please handle" {
		t.Errorf("additional message = %q", got.AdditionalMessage)
	}
}

func TestUpdateForwardStatus(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	email := testEmail("<m1@example.com>", time.Now())
	emailID, _, err := d.SaveEmailWithAttachments(ctx, email, nil)
	if err != nil {
		t.Fatalf("failed to save email: %v", err)
	}

	sentID, err := d.SaveForward(ctx, &models.Forward{EmailID: emailID, ToAddresses: []string{"a@b.c"}})
	if err != nil {
		t.Fatalf("failed to save forward: %v", err)
	}
	if err := d.UpdateForwardStatus(ctx, sentID, models.ForwardSent, ""); err != nil {
		t.Fatalf("failed to mark sent: %v", err)
	}
	got, err := d.GetForward(ctx, sentID)
	if err != nil {
		t.Fatalf("failed to load forward: %v", err)
	}
	if got.Status != models.ForwardSent {
		t.Errorf("status = %q, want sent", got.Status)
	}
	if got.ForwardedAt == nil {
		t.Error("expected forwarded_at on a sent record")
	}

	failedID, err := d.SaveForward(ctx, &models.Forward{EmailID: emailID, ToAddresses: []string{"a@b.c"}})
	if err != nil {
		t.Fatalf("failed to save forward: %v", err)
	}
	if err := d.UpdateForwardStatus(ctx, failedID, models.ForwardFailed, "smtp authentication failed"); err != nil {
		t.Fatalf("failed to mark failed: %v", err)
	}
	got, err = d.GetForward(ctx, failedID)
	if err != nil {
		t.Fatalf("failed to load forward: %v", err)
	}
	if got.Status != models.ForwardFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.ForwardedAt != nil {
		t.Error("expected forwarded_at to stay unset on a failed record")
	}
	if got.ErrorMessage != "smtp authentication failed" {
		t.Errorf("error message = %q", got.ErrorMessage)
	}

	if err := d.UpdateForwardStatus(ctx, failedID+100, models.ForwardSent, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing record, got %v", err)
	}
}

func TestListForwards(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	email := testEmail("<m1@example.com>", time.Now())
	emailID, _, err := d.SaveEmailWithAttachments(ctx, email, nil)
	if err != nil {
		t.Fatalf("failed to save email: %v", err)
	}

	first, err := d.SaveForward(ctx, &models.Forward{EmailID: emailID, ToAddresses: []string{"a@b.c"}})
	if err != nil {
		t.Fatalf("failed to save forward: %v", err)
	}
	second, err := d.SaveForward(ctx, &models.Forward{EmailID: emailID, ToAddresses: []string{"d@e.f"}})
	if err != nil {
		t.Fatalf("failed to save forward: %v", err)
	}

	forwards, err := d.ListForwards(ctx, emailID)
	if err != nil {
		t.Fatalf("failed to list forwards: %v", err)
	}
	if len(forwards) != 2 {
		t.Fatalf("expected 2 forwards, got %d", len(forwards))
	}
	if forwards[0].ID != second || forwards[1].ID != first {
		t.Errorf("expected newest-first order, got %d, %d", forwards[0].ID, forwards[1].ID)
	}

	if _, err := d.GetForward(ctx, first+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
