package forward

import (
	"fmt"
	"regexp"
	"strings"

	"mailroom/internal/models"
)

var bodyTag = regexp.MustCompile(`(?i)<body[^>]*>`)

// forwardSubject prefixes the subject unless it already carries a
// forward marker. The prefix check is deliberately case-sensitive.
func forwardSubject(subject string) string {
	if strings.HasPrefix(subject, "Fwd:") || strings.HasPrefix(subject, "FW:") {
		return subject
	}
	return "Fwd: " + subject
}

// headerBlockText renders the forwarded-message header block for the
// plain-text body.
func headerBlockText(email *models.Email) string {
	var b strings.Builder
	b.WriteString("---------- Forwarded message ----------\n")
	fmt.Fprintf(&b, "From: %s\n", email.Sender)
	if email.DateSent != nil {
		fmt.Fprintf(&b, "Date: %s\n", email.DateSent.Format("Mon, 2 Jan 2006 15:04:05 -0700"))
	}
	fmt.Fprintf(&b, "Subject: %s\n", email.Subject)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(email.Recipients, ", "))
	if len(email.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(email.Cc, ", "))
	}
	return b.String()
}

// headerBlockHTML renders the same block for the HTML body.
func headerBlockHTML(email *models.Email) string {
	var b strings.Builder
	b.WriteString(`<div class="forwarded-message">`)
	b.WriteString("---------- Forwarded message ----------<br>")
	fmt.Fprintf(&b, "From: %s<br>", email.Sender)
	if email.DateSent != nil {
		fmt.Fprintf(&b, "Date: %s<br>", email.DateSent.Format("Mon, 2 Jan 2006 15:04:05 -0700"))
	}
	fmt.Fprintf(&b, "Subject: %s<br>", email.Subject)
	fmt.Fprintf(&b, "To: %s<br>", strings.Join(email.Recipients, ", "))
	if len(email.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s<br>", strings.Join(email.Cc, ", "))
	}
	b.WriteString("</div>")
	return b.String()
}

// composeText builds the outbound plain-text body.
func composeText(email *models.Email, additionalMessage string) string {
	var b strings.Builder
	if additionalMessage != "" {
		b.WriteString(additionalMessage)
		b.WriteString("\n\n")
	}
	b.WriteString(headerBlockText(email))
	b.WriteString("\n")
	b.WriteString(email.ContentText)
	return b.String()
}

// composeHTML inserts the header block right after the opening body tag.
// Without a body tag the HTML passes through unchanged; the caller logs
// a warning in that case.
func composeHTML(email *models.Email, additionalMessage string) (string, bool) {
	block := headerBlockHTML(email)
	if additionalMessage != "" {
		block = "<div>" + additionalMessage + "</div>" + block
	}

	loc := bodyTag.FindStringIndex(email.ContentHTML)
	if loc == nil {
		return email.ContentHTML, false
	}
	return email.ContentHTML[:loc[1]] + block + email.ContentHTML[loc[1]:], true
}
