package rules

import (
	"net/mail"
	"strings"

	"mailroom/internal/models"
)

// extractor pulls one field value out of the canonical record.
type extractor func(email *models.ParsedEmail) string

// extractors is keyed by the condition field enum. Unimplemented field
// kinds return an empty string rather than failing the condition.
var extractors = map[models.FieldType]extractor{
	models.FieldSender:     extractSender,
	models.FieldSubject:    extractSubject,
	models.FieldBody:       func(*models.ParsedEmail) string { return "" },
	models.FieldHeader:     func(*models.ParsedEmail) string { return "" },
	models.FieldAttachment: func(*models.ParsedEmail) string { return "" },
}

// extractSender returns the bare address. Stored senders are already
// bare, but rules may run on records built elsewhere, so display-name
// wrappers are stripped here too.
func extractSender(email *models.ParsedEmail) string {
	sender := strings.TrimSpace(email.Sender)
	if sender == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(sender); err == nil {
		return addr.Address
	}
	if start := strings.LastIndex(sender, "<"); start >= 0 {
		if end := strings.Index(sender[start:], ">"); end > 0 {
			return sender[start+1 : start+end]
		}
	}
	return sender
}

func extractSubject(email *models.ParsedEmail) string {
	return email.Subject
}
