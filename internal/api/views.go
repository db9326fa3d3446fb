package api

import (
	"encoding/json"
	"time"

	"mailroom/internal/models"
)

// emailSummary is the list-view shape, bodies omitted.
type emailSummary struct {
	ID           int64      `json:"id"`
	MessageID    string     `json:"message_id"`
	Subject      string     `json:"subject"`
	Sender       string     `json:"sender"`
	DateSent     *time.Time `json:"date_sent,omitempty"`
	DateReceived time.Time  `json:"date_received"`
	DispatcherID *int64     `json:"dispatcher_id,omitempty"`
	RFQ          bool       `json:"rfq"`
	RFQType      string     `json:"rfq_type,omitempty"`
}

type emailView struct {
	emailSummary
	Recipients  []string `json:"recipients"`
	Cc          []string `json:"cc,omitempty"`
	Bcc         []string `json:"bcc,omitempty"`
	ContentText string   `json:"content_text"`
	ContentHTML string   `json:"content_html"`
}

type attachmentView struct {
	ID               int64           `json:"id"`
	OriginalFilename string          `json:"original_filename"`
	StoredFilename   string          `json:"stored_filename"`
	FileSize         int64           `json:"file_size"`
	ContentType      string          `json:"content_type"`
	ContentID        string          `json:"content_id,omitempty"`
	Extra            json.RawMessage `json:"extra,omitempty"`
}

type forwardView struct {
	ID           int64      `json:"id"`
	ToAddresses  []string   `json:"to_addresses"`
	CcAddresses  []string   `json:"cc_addresses,omitempty"`
	BccAddresses []string   `json:"bcc_addresses,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ForwardedAt  *time.Time `json:"forwarded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func summarize(email *models.Email) emailSummary {
	return emailSummary{
		ID:           email.ID,
		MessageID:    email.MessageID,
		Subject:      email.Subject,
		Sender:       email.Sender,
		DateSent:     email.DateSent,
		DateReceived: email.DateReceived,
		DispatcherID: email.DispatcherID,
		RFQ:          email.RFQ,
		RFQType:      email.RFQType,
	}
}

func emailSummaries(emails []*models.Email) []emailSummary {
	out := make([]emailSummary, 0, len(emails))
	for _, email := range emails {
		out = append(out, summarize(email))
	}
	return out
}

func emailDetail(email *models.Email) emailView {
	return emailView{
		emailSummary: summarize(email),
		Recipients:   email.Recipients,
		Cc:           email.Cc,
		Bcc:          email.Bcc,
		ContentText:  email.ContentText,
		ContentHTML:  email.ContentHTML,
	}
}

func attachmentViews(atts []*models.Attachment) []attachmentView {
	out := make([]attachmentView, 0, len(atts))
	for _, att := range atts {
		out = append(out, attachmentView{
			ID:               att.ID,
			OriginalFilename: att.OriginalFilename,
			StoredFilename:   att.StoredFilename,
			FileSize:         att.FileSize,
			ContentType:      att.ContentType,
			ContentID:        att.ContentID,
			Extra:            att.Extra,
		})
	}
	return out
}

func forwardViews(forwards []*models.Forward) []forwardView {
	out := make([]forwardView, 0, len(forwards))
	for _, fwd := range forwards {
		out = append(out, forwardView{
			ID:           fwd.ID,
			ToAddresses:  fwd.ToAddresses,
			CcAddresses:  fwd.CcAddresses,
			BccAddresses: fwd.BccAddresses,
			Status:       fwd.Status,
			ErrorMessage: fwd.ErrorMessage,
			ForwardedAt:  fwd.ForwardedAt,
			CreatedAt:    fwd.CreatedAt,
		})
	}
	return out
}
