// Package email renders digest emails and hands them to the job queue for
// at-least-once delivery. Actual transport lives behind the queue handler.
package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/logger"
)

// JobKindDigestEmail is the queue kind for outgoing digest emails.
const JobKindDigestEmail = "digest_email"

// Message is the queued email payload.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Queue is the enqueue side of the job worker.
type Queue interface {
	EnqueueJob(kind string, payload []byte, runAt time.Time) (uuid.UUID, error)
}

// Stats summarize a digest for its header line.
type Stats struct {
	Total int
}

var digestTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Georgia, serif; max-width: 600px; margin: 0 auto;">
  <h2>Your reading highlights</h2>
  <p>{{.Stats.Total}} highlight{{if ne .Stats.Total 1}}s{{end}} for {{.Date}}.</p>
  {{range .Highlights}}
  <blockquote style="border-left: 3px solid #ccc; padding-left: 1em;">
    <p>{{.Content}}</p>
    <footer>— {{.BookTitle}}{{if .Author}}, {{.Author}}{{end}}</footer>
    {{if .Note}}<p><em>{{.Note}}</em></p>{{end}}
  </blockquote>
  {{end}}
</body>
</html>`))

// RenderDigest renders the digest HTML for the given highlights.
func RenderDigest(highlights []domain.Highlight, stats Stats, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := digestTmpl.Execute(&buf, struct {
		Highlights []domain.Highlight
		Stats      Stats
		Date       string
	}{highlights, stats, now.Format("January 2, 2006")})
	if err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}
	return buf.String(), nil
}

// DigestMailer implements digest.Mailer on top of the job queue.
type DigestMailer struct {
	queue Queue
	log   *logger.Logger
}

// NewDigestMailer creates a mailer enqueueing into the given queue.
func NewDigestMailer(queue Queue, log *logger.Logger) *DigestMailer {
	return &DigestMailer{queue: queue, log: log.With("service", "mailer")}
}

// SendDigest renders the digest and enqueues it for delivery. It returns an
// error only when rendering or the enqueue itself fails; delivery retries
// belong to the worker.
func (m *DigestMailer) SendDigest(to string, highlights []domain.Highlight, now time.Time) error {
	html, err := RenderDigest(highlights, Stats{Total: len(highlights)}, now)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(Message{
		To:      to,
		Subject: fmt.Sprintf("Your reading highlights for %s", now.Format("Jan 2")),
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email payload: %w", err)
	}

	jobID, err := m.queue.EnqueueJob(JobKindDigestEmail, payload, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue digest email: %w", err)
	}
	m.log.Info("digest email enqueued", "job_id", jobID.String())
	return nil
}
