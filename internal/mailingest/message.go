// Package mailingest collects CV/JD documents submitted as email
// attachments: a Poller fetches unseen messages from a Mailbox, classifies
// each attachment by a subject code ("[CV]"/"[JD]" or filename prefix), and
// hands the parsed result to an Enqueuer for asynchronous ingestion.
//
// No IMAP or MIME parsing library appears anywhere in the example pack, so
// this package (and only this package) is built on the standard library's
// net/mail and mime/multipart — the one stdlib-only boundary in this repo.
package mailingest

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"time"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// subjectCode maps a bracketed subject prefix to the document kind every
// attachment in the message should be classified as, absent a more specific
// filename hint.
func subjectCode(subject string) (domain.DocumentKind, bool) {
	s := strings.ToUpper(subject)
	switch {
	case strings.Contains(s, "[CV]"), strings.Contains(s, "[RESUME]"):
		return domain.DocumentCV, true
	case strings.Contains(s, "[JD]"), strings.Contains(s, "[JOB]"):
		return domain.DocumentJD, true
	default:
		return "", false
	}
}

// filenameKind classifies an attachment by its filename prefix or suffix.
// ParseMessage tries it first and uses the subject code only when it finds
// no match, so a message with both a CV and a JD attached can still be
// classified per-attachment.
func filenameKind(filename string) (domain.DocumentKind, bool) {
	s := strings.ToLower(filename)
	switch {
	case strings.HasPrefix(s, "cv_"), strings.HasPrefix(s, "resume_"), strings.Contains(s, "_cv."), strings.Contains(s, "_resume."):
		return domain.DocumentCV, true
	case strings.HasPrefix(s, "jd_"), strings.HasPrefix(s, "job_"), strings.Contains(s, "_jd."), strings.Contains(s, "_job."):
		return domain.DocumentJD, true
	default:
		return "", false
	}
}

// ParseMessage decodes a raw RFC 822 message and classifies each attachment
// it carries. Messages with no classifiable attachment return an empty
// Attachments slice rather than an error, so the caller can skip and mark it
// seen without treating it as a poll failure.
func ParseMessage(id string, raw []byte) (domain.MailIngestTaskPayload, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return domain.MailIngestTaskPayload{}, fmt.Errorf("parse message %s: %w", id, err)
	}

	subject := msg.Header.Get("Subject")
	from := msg.Header.Get("From")
	defaultKind, hasDefault := subjectCode(subject)

	receivedAt := time.Now().UTC()
	if d, err := msg.Header.Date(); err == nil {
		receivedAt = d.UTC()
	}

	payload := domain.MailIngestTaskPayload{
		MessageID:  id,
		From:       from,
		Subject:    subject,
		ReceivedAt: receivedAt,
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		// Not a multipart message: nothing to attach, just headers worth
		// recording (e.g. a plain-text application body with no file).
		return payload, nil
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return payload, fmt.Errorf("read part of message %s: %w", id, err)
		}

		disposition, dparams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		filename := dparams["filename"]
		if disposition != "attachment" && filename == "" {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return payload, fmt.Errorf("read attachment %q of message %s: %w", filename, id, err)
		}
		if len(data) == 0 {
			continue
		}

		kind, ok := filenameKind(filename)
		if !ok {
			kind, ok = defaultKind, hasDefault
		}
		if !ok {
			continue
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "application/octet-stream"
		}
		payload.Attachments = append(payload.Attachments, domain.MailAttachmentPayload{
			Filename: filename,
			MIME:     partType,
			Data:     data,
			Kind:     kind,
		})
	}

	return payload, nil
}
