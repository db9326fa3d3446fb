// Package postproc classifies stored mail and runs type-specific
// attachment processors.
package postproc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"mailroom/internal/models"
)

// Processor extracts structured data from one stored attachment file.
// The result lands in the attachment row's extra column.
type Processor interface {
	Process(ctx context.Context, filePath, contentType string) (json.RawMessage, error)
}

// Classifier decides whether a canonical record is a request for
// quotation and of which type.
type Classifier struct {
	log *logrus.Entry
}

// NewClassifier returns a classifier.
func NewClassifier(log *logrus.Entry) *Classifier {
	return &Classifier{log: log}
}

// rfqSenderTypes maps sender-domain markers to an rfq type.
var rfqSenderTypes = map[string]string{
	"shipserv": "shipserv",
}

// Classify inspects sender and subject. The match is deliberately
// narrow: only known marketplace senders produce a type.
func (c *Classifier) Classify(email *models.ParsedEmail) (bool, string) {
	sender := strings.ToLower(email.Sender)
	for marker, rfqType := range rfqSenderTypes {
		if strings.Contains(sender, marker) {
			return true, rfqType
		}
	}
	subject := strings.ToLower(email.Subject)
	if strings.HasPrefix(subject, "rfq") || strings.Contains(subject, "request for quotation") {
		return true, "generic"
	}
	return false, ""
}

// Registry maps rfq types to attachment processors. It ships empty;
// deployments register processors at startup.
type Registry struct {
	processors map[string]Processor
	log        *logrus.Entry
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{processors: map[string]Processor{}, log: log}
}

// Register binds a processor to an rfq type, replacing any previous one.
func (r *Registry) Register(rfqType string, p Processor) {
	r.processors[rfqType] = p
}

// Run executes the processor registered for rfqType against one stored
// attachment. A missing processor or a processor failure yields nil; the
// attachment persists without extra data either way.
func (r *Registry) Run(ctx context.Context, rfqType, filePath, contentType string) json.RawMessage {
	p, ok := r.processors[rfqType]
	if !ok {
		return nil
	}
	extra, err := p.Process(ctx, filePath, contentType)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"rfq_type": rfqType,
			"file":     filePath,
		}).Warn("attachment processor failed")
		return nil
	}
	return extra
}
