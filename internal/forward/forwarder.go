// Package forward composes and delivers stored messages to new
// recipients over the configured SMTP relay.
package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"mailroom/internal/conf"
	"mailroom/internal/models"
)

// ErrNoRecipients is returned when a forward request names nobody.
var ErrNoRecipients = errors.New("no recipients given")

// Repository is the slice of the database layer the forwarder needs.
type Repository interface {
	GetEmailByID(ctx context.Context, id int64) (*models.Email, error)
	GetAttachments(ctx context.Context, emailID int64) ([]*models.Attachment, error)
	SaveForward(ctx context.Context, fwd *models.Forward) (int64, error)
	UpdateForwardStatus(ctx context.Context, forwardID int64, status, errorMessage string) error
}

// AttachmentReader loads stored attachment bytes.
type AttachmentReader interface {
	Read(storedFilename string) ([]byte, error)
}

// Request is one forward operation.
type Request struct {
	To                []string `json:"to_addresses"`
	Cc                []string `json:"cc_addresses"`
	Bcc               []string `json:"bcc_addresses"`
	AdditionalMessage string   `json:"additional_message"`
}

// sendFunc delivers raw message bytes; swapped out in tests.
type sendFunc func(cfg conf.MailboxConfig, from string, recipients []string, msg []byte) error

// Forwarder loads, composes and delivers.
type Forwarder struct {
	repo Repository
	atts AttachmentReader
	cfg  conf.MailboxConfig
	send sendFunc
	log  *logrus.Entry
}

// New wires a forwarder using the real SMTP sender.
func New(repo Repository, atts AttachmentReader, cfg conf.MailboxConfig, log *logrus.Entry) *Forwarder {
	return &Forwarder{repo: repo, atts: atts, cfg: cfg, send: sendSMTP, log: log}
}

// Forward delivers a stored email to new recipients. A pending record is
// written before any delivery attempt; the outcome transitions it to
// sent or failed.
func (f *Forwarder) Forward(ctx context.Context, emailID int64, req Request) error {
	if len(req.To) == 0 {
		return ErrNoRecipients
	}

	email, err := f.repo.GetEmailByID(ctx, emailID)
	if err != nil {
		return err
	}
	attachments, err := f.repo.GetAttachments(ctx, emailID)
	if err != nil {
		return err
	}

	record := &models.Forward{
		EmailID:           emailID,
		ToAddresses:       req.To,
		CcAddresses:       req.Cc,
		BccAddresses:      req.Bcc,
		AdditionalMessage: req.AdditionalMessage,
		Status:            models.ForwardPending,
	}
	forwardID, err := f.repo.SaveForward(ctx, record)
	if err != nil {
		return err
	}

	msg, err := f.compose(email, attachments, req)
	if err != nil {
		return f.fail(ctx, forwardID, fmt.Sprintf("failed to compose message: %v", err))
	}

	recipients := append(append(append([]string{}, req.To...), req.Cc...), req.Bcc...)
	if err := f.send(f.cfg, f.cfg.Username, recipients, msg); err != nil {
		return f.fail(ctx, forwardID, err.Error())
	}

	if err := f.repo.UpdateForwardStatus(ctx, forwardID, models.ForwardSent, ""); err != nil {
		return err
	}
	f.log.WithFields(logrus.Fields{
		"email_id":   emailID,
		"forward_id": forwardID,
		"recipients": len(recipients),
	}).Info("email forwarded")
	return nil
}

func (f *Forwarder) fail(ctx context.Context, forwardID int64, message string) error {
	if err := f.repo.UpdateForwardStatus(ctx, forwardID, models.ForwardFailed, message); err != nil {
		f.log.WithError(err).Error("failed to record forward failure")
	}
	return errors.New(message)
}

// compose builds the outbound MIME message.
func (f *Forwarder) compose(email *models.Email, attachments []*models.Attachment, req Request) ([]byte, error) {
	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(forwardSubject(email.Subject))
	header.SetAddressList("From", []*mail.Address{{Address: f.cfg.Username}})
	header.SetAddressList("To", toAddressList(req.To))
	if len(req.Cc) > 0 {
		header.SetAddressList("Cc", toAddressList(req.Cc))
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline writer: %w", err)
	}
	if err := writeInlinePart(iw, "text/plain", composeText(email, req.AdditionalMessage)); err != nil {
		return nil, err
	}
	if email.ContentHTML != "" {
		html, inserted := composeHTML(email, req.AdditionalMessage)
		if !inserted {
			f.log.WithField("email_id", email.ID).Warn("html body has no body tag, forwarding unchanged")
		}
		if err := writeInlinePart(iw, "text/html", html); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close inline writer: %w", err)
	}

	for _, att := range attachments {
		content, err := f.atts.Read(att.StoredFilename)
		if err != nil {
			return nil, fmt.Errorf("failed to load attachment %s: %w", att.OriginalFilename, err)
		}

		var ah mail.AttachmentHeader
		ah.Set("Content-Type", att.ContentType)
		ah.SetFilename(att.OriginalFilename)
		if att.ContentDispositionType != "" {
			ah.Set("Content-Disposition",
				fmt.Sprintf("%s; filename=%q", att.ContentDispositionType, att.OriginalFilename))
		}
		if att.ContentID != "" {
			ah.Set("Content-Id", "<"+att.ContentID+">")
		}

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := aw.Write(content); err != nil {
			return nil, fmt.Errorf("failed to write attachment: %w", err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.Set("Content-Type", contentType+"; charset=utf-8")
	w, err := iw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

func toAddressList(addrs []string) []*mail.Address {
	list := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		list = append(list, &mail.Address{Address: a})
	}
	return list
}

// sendSMTP delivers over implicit TLS with PLAIN auth.
func sendSMTP(cfg conf.MailboxConfig, from string, recipients []string, msg []byte) error {
	conn, err := tls.Dial("tcp", cfg.SMTPAddr(), &tls.Config{ServerName: cfg.SMTPHost})
	if err != nil {
		return fmt.Errorf("smtp connection failed: %w", err)
	}
	client, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer func() { _ = client.Close() }()

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp authentication failed: %w", err)
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp sender rejected: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s rejected: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return client.Quit()
}
