package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mailroom/internal/models"
)

// SaveForward inserts a forward record. New records start as pending.
func (d *DB) SaveForward(ctx context.Context, fwd *models.Forward) (int64, error) {
	if fwd.Status == "" {
		fwd.Status = models.ForwardPending
	}

	to, err := encodeList(fwd.ToAddresses)
	if err != nil {
		return 0, err
	}
	cc, err := encodeList(fwd.CcAddresses)
	if err != nil {
		return 0, err
	}
	bcc, err := encodeList(fwd.BccAddresses)
	if err != nil {
		return 0, err
	}

	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO email_forwards (email_id, to_addresses, cc_addresses,
			bcc_addresses, additional_message, forward_status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fwd.EmailID, to, cc, bcc, fwd.AdditionalMessage, fwd.Status, fwd.ErrorMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to insert forward record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read forward id: %w", err)
	}
	fwd.ID = id
	return id, nil
}

// UpdateForwardStatus records the outcome of a forward attempt. A sent
// record gets its forwarded_at timestamp; a failed one carries the error.
func (d *DB) UpdateForwardStatus(ctx context.Context, forwardID int64, status, errorMessage string) error {
	var forwardedAt sql.NullTime
	if status == models.ForwardSent {
		forwardedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}

	res, err := d.conn.ExecContext(ctx, `
		UPDATE email_forwards
		SET forward_status = ?, error_message = ?, forwarded_at = ?
		WHERE id = ?`,
		status, errorMessage, forwardedAt, forwardID)
	if err != nil {
		return fmt.Errorf("failed to update forward status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForwards returns the forward history of an email, newest first.
func (d *DB) ListForwards(ctx context.Context, emailID int64) ([]*models.Forward, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, email_id, to_addresses, cc_addresses, bcc_addresses,
			additional_message, forward_status, error_message, forwarded_at, created_at
		FROM email_forwards WHERE email_id = ? ORDER BY created_at DESC, id DESC`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query forwards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var forwards []*models.Forward
	for rows.Next() {
		fwd, err := scanForward(rows)
		if err != nil {
			return nil, err
		}
		forwards = append(forwards, fwd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate forwards: %w", err)
	}
	return forwards, nil
}

// GetForward returns one forward record or ErrNotFound.
func (d *DB) GetForward(ctx context.Context, forwardID int64) (*models.Forward, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, email_id, to_addresses, cc_addresses, bcc_addresses,
			additional_message, forward_status, error_message, forwarded_at, created_at
		FROM email_forwards WHERE id = ?`, forwardID)
	return scanForward(row)
}

func scanForward(row rowScanner) (*models.Forward, error) {
	var fwd models.Forward
	var to, cc, bcc, additional, errorMessage sql.NullString
	var forwardedAt sql.NullTime

	err := row.Scan(&fwd.ID, &fwd.EmailID, &to, &cc, &bcc,
		&additional, &fwd.Status, &errorMessage, &forwardedAt, &fwd.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan forward record: %w", err)
	}

	if fwd.ToAddresses, err = decodeList(to); err != nil {
		return nil, err
	}
	if fwd.CcAddresses, err = decodeList(cc); err != nil {
		return nil, err
	}
	if fwd.BccAddresses, err = decodeList(bcc); err != nil {
		return nil, err
	}
	fwd.AdditionalMessage = additional.String
	fwd.ErrorMessage = errorMessage.String
	if forwardedAt.Valid {
		fwd.ForwardedAt = &forwardedAt.Time
	}
	return &fwd, nil
}
