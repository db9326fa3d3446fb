package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mailroom/internal/models"
)

const emailColumns = `id, message_id, subject, sender, recipients, cc, bcc,
	content_text, content_html, date_sent, date_received, raw_headers,
	dispatcher_id, rfq, rfq_type, created_at`

// SaveEmailWithAttachments stores an email and its attachment rows in one
// transaction. The operation is idempotent on message_id: if a row already
// exists its id is returned and nothing is inserted, including attachments
// (first-seen rows are authoritative).
func (d *DB) SaveEmailWithAttachments(ctx context.Context, email *models.Email,
	attachments []*models.Attachment) (int64, []int64, error) {

	var emailID int64
	var attachmentIDs []int64

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM emails WHERE message_id = ?", email.MessageID).Scan(&existing)
		if err == nil {
			emailID = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check existing email: %w", err)
		}

		recipients, err := encodeList(email.Recipients)
		if err != nil {
			return err
		}
		cc, err := encodeList(email.Cc)
		if err != nil {
			return err
		}
		bcc, err := encodeList(email.Bcc)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO emails (message_id, subject, sender, recipients, cc, bcc,
				content_text, content_html, date_sent, date_received, raw_headers,
				dispatcher_id, rfq, rfq_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			email.MessageID, email.Subject, email.Sender, recipients, cc, bcc,
			email.ContentText, email.ContentHTML, nullTime(email.DateSent),
			email.DateReceived, email.RawHeaders, nullInt(email.DispatcherID),
			email.RFQ, email.RFQType)
		if err != nil {
			return fmt.Errorf("failed to insert email: %w", err)
		}
		emailID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read email id: %w", err)
		}

		for _, att := range attachments {
			att.EmailID = emailID
			res, err := tx.ExecContext(ctx, `
				INSERT INTO attachments (email_id, original_filename, stored_filename,
					file_path, file_size, content_type, content_disposition_type,
					content_id, extra)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				att.EmailID, att.OriginalFilename, att.StoredFilename,
				att.FilePath, att.FileSize, att.ContentType,
				att.ContentDispositionType, att.ContentID, nullJSON(att.Extra))
			if err != nil {
				return fmt.Errorf("failed to insert attachment %s: %w", att.OriginalFilename, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read attachment id: %w", err)
			}
			att.ID = id
			attachmentIDs = append(attachmentIDs, id)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return emailID, attachmentIDs, nil
}

// GetEmailByID returns the email row or ErrNotFound.
func (d *DB) GetEmailByID(ctx context.Context, id int64) (*models.Email, error) {
	row := d.conn.QueryRowContext(ctx,
		"SELECT "+emailColumns+" FROM emails WHERE id = ?", id)
	return scanEmail(row)
}

// GetEmailByMessageID returns the email row or ErrNotFound.
func (d *DB) GetEmailByMessageID(ctx context.Context, messageID string) (*models.Email, error) {
	row := d.conn.QueryRowContext(ctx,
		"SELECT "+emailColumns+" FROM emails WHERE message_id = ?", messageID)
	return scanEmail(row)
}

// EmailExists reports whether a message_id is already stored.
func (d *DB) EmailExists(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := d.conn.QueryRowContext(ctx,
		"SELECT 1 FROM emails WHERE message_id = ? LIMIT 1", messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return true, nil
}

// ListEmails returns a page of emails ordered by received date descending,
// optionally filtered by sender substring, plus the total row count for
// the filter.
func (d *DB) ListEmails(ctx context.Context, limit, offset int, sender string) ([]*models.Email, int, error) {
	where := ""
	args := []interface{}{}
	if sender != "" {
		where = "WHERE sender LIKE ?"
		args = append(args, "%"+sender+"%")
	}

	var total int
	if err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM emails "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count emails: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := d.conn.QueryContext(ctx,
		"SELECT "+emailColumns+" FROM emails "+where+
			" ORDER BY date_received DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var emails []*models.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, 0, err
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate emails: %w", err)
	}
	return emails, total, nil
}

// GetAttachments returns the attachment rows of an email in insert order.
func (d *DB) GetAttachments(ctx context.Context, emailID int64) ([]*models.Attachment, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, email_id, original_filename, stored_filename, file_path,
			file_size, content_type, content_disposition_type, content_id,
			extra, created_at
		FROM attachments WHERE email_id = ? ORDER BY id`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attachments []*models.Attachment
	for rows.Next() {
		var att models.Attachment
		var contentID, dispositionType, extra sql.NullString
		err := rows.Scan(&att.ID, &att.EmailID, &att.OriginalFilename,
			&att.StoredFilename, &att.FilePath, &att.FileSize, &att.ContentType,
			&dispositionType, &contentID, &extra, &att.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		att.ContentDispositionType = dispositionType.String
		att.ContentID = contentID.String
		if extra.Valid {
			att.Extra = json.RawMessage(extra.String)
		}
		attachments = append(attachments, &att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}
	return attachments, nil
}

// LatestReceivedAt returns the newest date_received, or nil when the
// store is empty.
func (d *DB) LatestReceivedAt(ctx context.Context) (*time.Time, error) {
	var latest time.Time
	err := d.conn.QueryRowContext(ctx,
		"SELECT date_received FROM emails ORDER BY date_received DESC LIMIT 1").Scan(&latest)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest received date: %w", err)
	}
	return &latest, nil
}

// Stats summarizes the stored mail.
type Stats struct {
	TotalEmails      int        `json:"total_emails"`
	TotalAttachments int        `json:"total_attachments"`
	TodayEmails      int        `json:"today_emails"`
	LatestEmailTime  *time.Time `json:"latest_email_time"`
}

// GetStats returns message and attachment counts plus the newest
// received date.
func (d *DB) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM emails").Scan(&stats.TotalEmails); err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}
	if err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM attachments").Scan(&stats.TotalAttachments); err != nil {
		return nil, fmt.Errorf("failed to count attachments: %w", err)
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM emails WHERE date_received >= ?", midnight).Scan(&stats.TodayEmails); err != nil {
		return nil, fmt.Errorf("failed to count today's emails: %w", err)
	}

	latest, err := d.LatestReceivedAt(ctx)
	if err != nil {
		return nil, err
	}
	stats.LatestEmailTime = latest
	return &stats, nil
}

// mutableEmailFields is the whitelist for UpdateEmailField.
var mutableEmailFields = map[string]bool{
	"dispatcher_id": true,
}

// UpdateEmailField updates one whitelisted column of an email row.
// Non-whitelisted field names fail with ErrInvalidField.
func (d *DB) UpdateEmailField(ctx context.Context, emailID int64, field string, value interface{}) error {
	if !mutableEmailFields[field] {
		return fmt.Errorf("%w: %s", ErrInvalidField, field)
	}
	res, err := d.conn.ExecContext(ctx,
		"UPDATE emails SET "+field+" = ? WHERE id = ?", value, emailID)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", field, err)
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

// DeleteEmail removes an email row; attachments and forward records
// cascade at the schema level.
func (d *DB) DeleteEmail(ctx context.Context, emailID int64) error {
	res, err := d.conn.ExecContext(ctx, "DELETE FROM emails WHERE id = ?", emailID)
	if err != nil {
		return fmt.Errorf("failed to delete email: %w", err)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEmail(row rowScanner) (*models.Email, error) {
	var email models.Email
	var recipients, cc, bcc, rfqType sql.NullString
	var dateSent sql.NullTime
	var dispatcherID sql.NullInt64
	var rfq int64

	err := row.Scan(&email.ID, &email.MessageID, &email.Subject, &email.Sender,
		&recipients, &cc, &bcc, &email.ContentText, &email.ContentHTML,
		&dateSent, &email.DateReceived, &email.RawHeaders,
		&dispatcherID, &rfq, &rfqType, &email.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan email: %w", err)
	}

	if email.Recipients, err = decodeList(recipients); err != nil {
		return nil, err
	}
	if email.Cc, err = decodeList(cc); err != nil {
		return nil, err
	}
	if email.Bcc, err = decodeList(bcc); err != nil {
		return nil, err
	}
	if dateSent.Valid {
		email.DateSent = &dateSent.Time
	}
	if dispatcherID.Valid {
		email.DispatcherID = &dispatcherID.Int64
	}
	email.RFQ = rfq != 0
	email.RFQType = rfqType.String
	return &email, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
