// Package parser implements domain.Parser: it turns an uploaded file into
// sanitized, PII-masked plain text ready for extraction.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cvmatch/matching-engine/internal/domain"
	"github.com/cvmatch/matching-engine/pkg/textx"
)

// MaxBytes is the largest upload the Parser will accept, enforced by the
// HTTP layer via http.MaxBytesReader before the bytes ever reach Parse.
const MaxBytes = 10 * 1024 * 1024

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?\d{1,3}[ \-.]?)?(?:\(?\d{2,4}\)?[ \-.]?){2,4}\d{2,4}`)
)

// Parser extracts plain text from uploads, delegating PDF/DOCX conversion
// to an external TextExtractor (e.g. Apache Tika) and masking PII before
// the text reaches the extractor/embedder pipeline.
type Parser struct {
	extractor domain.TextExtractor
}

// New constructs a Parser. extractor may be nil if only .txt uploads are
// expected; PDF/DOCX uploads will then fail with ErrInvalidArgument.
func New(extractor domain.TextExtractor) *Parser {
	return &Parser{extractor: extractor}
}

// allowedExt enforces an allowlist for uploads: .txt, .pdf, .docx.
func allowedExt(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".txt") || strings.HasSuffix(n, ".pdf") || strings.HasSuffix(n, ".docx")
}

func allowedMIMEFor(m string, filename string) bool {
	m = strings.ToLower(m)
	if strings.HasSuffix(strings.ToLower(filename), ".txt") && strings.HasPrefix(m, "text/") {
		return true
	}
	if strings.HasPrefix(m, "text/plain") {
		return true
	}
	return m == "application/pdf" || m == "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

// Parse implements domain.Parser.
func (p *Parser) Parse(ctx domain.Context, fileName string, mime string, data []byte) (string, []string, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidArgument)
	}
	if int64(len(data)) > MaxBytes {
		return "", nil, fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrTooLarge, len(data), MaxBytes)
	}
	if !allowedExt(fileName) {
		return "", nil, fmt.Errorf("%w: unsupported extension for %s", domain.ErrUnsupportedMIME, fileName)
	}

	sniffed := mimetype.Detect(data).String()
	effectiveMIME := mime
	if effectiveMIME == "" {
		effectiveMIME = sniffed
	}
	if !allowedMIMEFor(sniffed, fileName) {
		return "", nil, fmt.Errorf("%w: content %q does not match allowed types for %s", domain.ErrUnsupportedMIME, sniffed, fileName)
	}

	var warnings []string
	raw, err := p.extractRaw(ctx, fileName, data)
	if err != nil {
		return "", nil, err
	}

	text := textx.SanitizeText(raw)
	masked, hits := maskPII(text)
	if hits > 0 {
		warnings = append(warnings, fmt.Sprintf("masked %d pii occurrence(s)", hits))
	}
	if strings.TrimSpace(masked) == "" {
		return "", warnings, fmt.Errorf("%w: no extractable text", domain.ErrInvalidArgument)
	}
	return masked, warnings, nil
}

func (p *Parser) extractRaw(ctx domain.Context, fileName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == ".pdf" || ext == ".docx" {
		if p.extractor == nil {
			return "", fmt.Errorf("%w: %s requires an external text extractor", domain.ErrInvalidArgument, strings.TrimPrefix(ext, "."))
		}
		tmp, err := os.CreateTemp("", "upload-*")
		if err != nil {
			return "", err
		}
		defer func() { _ = os.Remove(tmp.Name()); _ = tmp.Close() }()
		if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
			return "", err
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		return p.extractor.ExtractPath(ctx, fileName, tmp.Name())
	}
	return string(data), nil
}

// maskPII replaces email and phone-shaped substrings with placeholder
// tokens; callers that need the originals (e.g. for human review) should
// keep the raw bytes separately out-of-band.
func maskPII(s string) (string, int) {
	hits := 0
	s = emailRe.ReplaceAllStringFunc(s, func(string) string { hits++; return "[EMAIL]" })
	s = phoneRe.ReplaceAllStringFunc(s, func(m string) string {
		if len(strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, m)) < 7 {
			return m
		}
		hits++
		return "[PHONE]"
	})
	return s, hits
}
