// Package mime turns raw RFC-822 bytes into the canonical record the
// rest of the pipeline works with.
package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	stdmime "mime"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"mailroom/internal/models"
)

// ErrParse is returned when a message cannot be parsed at all. Single
// bad parts are skipped with a warning instead.
var ErrParse = errors.New("failed to parse message")

var (
	whitespaceRun = regexp.MustCompile(`[\s\r\n]+`)
	wordDecoder   = stdmime.WordDecoder{CharsetReader: charset.Reader}
)

// Parse decodes one raw message into the canonical record. receivedAt is
// the ingestion timestamp and becomes date_received; the sender's own
// Date header is kept separately as date_sent.
func Parse(raw []byte, receivedAt time.Time, log *logrus.Entry) (*models.ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if mr == nil {
		return nil, fmt.Errorf("%w: empty reader", ErrParse)
	}

	header := mr.Header
	parsed := &models.ParsedEmail{
		MessageID:    normalizeHeaderText(header.Get("Message-Id")),
		Subject:      normalizeHeaderText(header.Get("Subject")),
		DateReceived: receivedAt,
		RawHeaders:   rawHeaderBlock(raw),
	}

	if from := addressList(header, "From", log); len(from) > 0 {
		parsed.Sender = from[0]
	}
	parsed.Recipients = addressList(header, "To", log)
	parsed.Cc = addressList(header, "Cc", log)
	parsed.Bcc = addressList(header, "Bcc", log)

	if date, err := header.Date(); err == nil && !date.IsZero() {
		parsed.DateSent = &date
	}

	var textParts, htmlParts []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				log.WithError(err).Warn("unknown charset in part, decoding lossily")
			} else {
				// The multipart reader resumes at the next boundary, so
				// one bad part does not lose the rest of the message.
				log.WithError(err).Warn("skipping malformed part")
				continue
			}
		}
		if part == nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			if att, ok := readAttachment(h.Header, part.Body, log); ok {
				parsed.Attachments = append(parsed.Attachments, att)
			}

		case *mail.InlineHeader:
			contentType, ctParams, _ := h.ContentType()
			_, dispParams, _ := h.ContentDisposition()

			// Inline parts carrying a filename are attachments too.
			if partFilename(ctParams, dispParams) != "" {
				if att, ok := readAttachment(h.Header, part.Body, log); ok {
					parsed.Attachments = append(parsed.Attachments, att)
				}
				continue
			}

			switch contentType {
			case "text/plain":
				body, err := io.ReadAll(part.Body)
				if err != nil {
					log.WithError(err).Warn("failed to read text part")
					continue
				}
				textParts = append(textParts, strings.ToValidUTF8(string(body), "�"))
			case "text/html":
				body, err := io.ReadAll(part.Body)
				if err != nil {
					log.WithError(err).Warn("failed to read html part")
					continue
				}
				htmlParts = append(htmlParts, strings.ToValidUTF8(string(body), "�"))
			}
		}
	}

	parsed.ContentText = strings.Join(textParts, "\n")
	parsed.ContentHTML = strings.Join(htmlParts, "\n")
	return parsed, nil
}

// normalizeHeaderText word-decodes an unstructured header value and
// collapses internal whitespace runs to single spaces.
func normalizeHeaderText(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		decoded = raw
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(decoded, " "))
}

// addressList parses an address header into bare addresses, display
// names discarded.
func addressList(header mail.Header, key string, log *logrus.Entry) []string {
	if header.Get(key) == "" {
		return nil
	}
	list, err := header.AddressList(key)
	if err != nil {
		log.WithError(err).WithField("header", key).Warn("failed to parse address list")
		return nil
	}
	addrs := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.Address != "" {
			addrs = append(addrs, addr.Address)
		}
	}
	return addrs
}

// readAttachment decodes one attachment part. Empty attachments are
// dropped with a warning.
func readAttachment(h message.Header, body io.Reader, log *logrus.Entry) (models.PartContent, bool) {
	contentType, ctParams, _ := h.ContentType()
	disposition, dispParams, _ := h.ContentDisposition()
	filename := partFilename(ctParams, dispParams)

	content, err := io.ReadAll(body)
	if err != nil {
		log.WithError(err).WithField("filename", filename).Warn("failed to read attachment part")
		return models.PartContent{}, false
	}
	if len(content) == 0 {
		log.WithField("filename", filename).Warn("dropping empty attachment")
		return models.PartContent{}, false
	}

	return models.PartContent{
		Filename:        filename,
		Content:         content,
		ContentType:     contentType,
		DispositionType: disposition,
		ContentID:       strings.Trim(h.Get("Content-Id"), "<>"),
	}, true
}

// partFilename resolves a part's filename: word-encoded decode first,
// then the RFC 2231 parameter decode go-message already applied, then
// percent-decoding when a % survives, finally the raw value.
func partFilename(ctParams, dispParams map[string]string) string {
	raw := dispParams["filename"]
	if raw == "" {
		raw = ctParams["name"]
	}
	if raw == "" {
		return ""
	}

	if decoded, err := wordDecoder.DecodeHeader(raw); err == nil {
		raw = decoded
	}
	if strings.Contains(raw, "%") {
		if unescaped, err := url.PathUnescape(raw); err == nil {
			raw = unescaped
		}
	}
	return strings.TrimSpace(raw)
}

// rawHeaderBlock returns the verbatim header section of the message.
func rawHeaderBlock(raw []byte) string {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return string(raw[:i])
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return string(raw[:i])
	}
	return string(raw)
}
