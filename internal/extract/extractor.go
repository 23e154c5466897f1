// Package extract turns sanitized document text into a deterministic
// Structured record via a strict-schema LLM call, with caching, chunking,
// and retry-on-schema-error.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkoukk/tiktoken-go"

	"github.com/cvmatch/matching-engine/internal/adapter/ai"
	"github.com/cvmatch/matching-engine/internal/domain"
)

const (
	// chunkThreshold is the character count above which text is windowed
	// before extraction, so a single LLM call never sees an unbounded
	// document.
	chunkThreshold = 100_000
	chunkSize      = 80_000
	chunkOverlap   = 2_000
	maxOutputChars = 1200 * 4 // ~1200-token ceiling, 4 chars/token heuristic
	maxAttempts    = 4        // initial try + 3 backoff retries (1s/2s/4s)

	retryInitialInterval = 1 * time.Second
	retryMultiplier      = 2.0
	retryMaxInterval     = 4 * time.Second
)

// Extractor implements domain.Extractor on top of a raw domain.AIClient.
type Extractor struct {
	ai            domain.AIClient
	cache         domain.Cache
	validator     *ai.ResponseValidator
	promptVersion string
	modelID       string
}

// New constructs an Extractor.
func New(client domain.AIClient, cache domain.Cache, promptVersion, modelID string) *Extractor {
	return &Extractor{
		ai:            client,
		cache:         cache,
		validator:     ai.NewResponseValidator(client),
		promptVersion: promptVersion,
		modelID:       modelID,
	}
}

type extractionJSON struct {
	Title            string   `json:"title"`
	Category         string   `json:"category"`
	ExperienceYears  float64  `json:"experience_years"`
	Skills           []string `json:"skills"`
	Responsibilities []string `json:"responsibilities"`
}

// Extract implements domain.Extractor.
func (e *Extractor) Extract(ctx domain.Context, kind domain.DocumentKind, text string) (domain.Structured, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Structured{}, fmt.Errorf("%w: empty document text", domain.ErrInvalidArgument)
	}

	key := cacheKey(text, kind, e.promptVersion, e.modelID)
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, "extract", key); err == nil && ok {
			var s domain.Structured
			if err := json.Unmarshal(cached, &s); err == nil {
				return s, nil
			}
		}
	}

	windows := splitWindows(text)
	skillStats, skillOrder := map[string]*termStats{}, []string(nil)
	respStats, respOrder := map[string]*termStats{}, []string(nil)
	var first extractionJSON
	for i, w := range windows {
		parsed, err := e.extractWindow(ctx, kind, w)
		if err != nil {
			return domain.Structured{}, fmt.Errorf("extract window %d/%d: %w", i+1, len(windows), err)
		}
		if i == 0 {
			first = parsed
		}
		mergeTerms(skillStats, &skillOrder, parsed.Skills, i)
		mergeTerms(respStats, &respOrder, parsed.Responsibilities, i)
	}

	structured := domain.Structured{
		Title:           strings.TrimSpace(first.Title),
		Category:        strings.TrimSpace(first.Category),
		ExperienceYears: first.ExperienceYears,
		PromptVersion:   e.promptVersion,
		ModelID:         e.modelID,
	}
	if structured.Title == "" {
		structured.Title = domain.PadToken
	}
	fillSlots(structured.Skills[:], rankAndTruncate(skillStats, skillOrder, domain.SkillSlots))
	fillSlots(structured.Responsibilities[:], rankAndTruncate(respStats, respOrder, domain.RespSlots))

	if e.cache != nil {
		if b, err := json.Marshal(structured); err == nil {
			_ = e.cache.Set(ctx, "extract", key, b, 24*3600)
		}
	}
	return structured, nil
}

// extractWindow runs one window through the AI client and schema validator,
// retrying with exponential backoff (1s/2s/4s) only on the errors spec §4.2
// step 5 names as transient (schema-invalid output, 429/502/503/504
// upstream responses); anything else fails the window immediately.
func (e *Extractor) extractWindow(ctx domain.Context, kind domain.DocumentKind, text string) (extractionJSON, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = retryInitialInterval
	expo.Multiplier = retryMultiplier
	expo.MaxInterval = retryMaxInterval
	expo.RandomizationFactor = 0
	policy := backoff.WithMaxRetries(expo, maxAttempts-1)

	var parsed extractionJSON
	op := func() error {
		raw, err := e.ai.ChatJSON(ctx, systemPrompt(kind), userPrompt(kind, text), maxOutputChars/4)
		if err != nil {
			if isRetryableExtractionError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		validation, verr := e.validator.ValidateResponse(ctx, raw)
		if verr != nil {
			if isRetryableExtractionError(verr) {
				return verr
			}
			return backoff.Permanent(verr)
		}
		if !validation.IsValid {
			return fmt.Errorf("%w: %d validation issue(s)", domain.ErrSchemaInvalid, len(validation.Issues))
		}
		if err := json.Unmarshal([]byte(validation.CleanedResponse), &parsed); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return extractionJSON{}, fmt.Errorf("exhausted %d attempts: %w", maxAttempts, err)
	}
	return parsed, nil
}

// isRetryableExtractionError reports whether err is one of the transient
// classes spec §4.2 step 5 names: a schema-invalid LLM response, or an
// upstream 429/502/503/504. Anything else (invalid argument, internal,
// not-found, ...) is terminal.
func isRetryableExtractionError(err error) bool {
	return errors.Is(err, domain.ErrSchemaInvalid) ||
		errors.Is(err, domain.ErrUpstreamRateLimit) ||
		errors.Is(err, domain.ErrUpstreamUnavail) ||
		errors.Is(err, domain.ErrRateLimited)
}

// splitWindows enforces the chunk threshold by running the document through
// overlapping 80k-char windows (2k-char overlap) once it exceeds 100k chars,
// so no single LLM call sees an unbounded document while still covering the
// whole text.
func splitWindows(text string) []string {
	if len(text) <= chunkThreshold {
		return []string{text}
	}
	var windows []string
	for start := 0; start < len(text); {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		windows = append(windows, text[start:end])
		if end == len(text) {
			break
		}
		start = end - chunkOverlap
	}
	return windows
}

// termStats tracks a skill/responsibility term's merge state across
// windows: how many distinct windows mentioned it (freq) and the most
// recent window that did (lastSeen, 1-indexed) so later windows count as
// more relevant than earlier ones.
type termStats struct {
	display  string
	freq     int
	lastSeen int
}

// mergeTerms folds one window's (already in-window deduplicated) terms into
// the running cross-window tally, keyed case-insensitively so "Go" and "go"
// count as the same skill.
func mergeTerms(stats map[string]*termStats, order *[]string, items []string, windowIdx int) {
	seen := make(map[string]bool, len(items))
	for _, raw := range items {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		st, ok := stats[key]
		if !ok {
			st = &termStats{display: s}
			stats[key] = st
			*order = append(*order, key)
		}
		st.freq++
		st.lastSeen = windowIdx + 1
	}
}

// rankAndTruncate re-ranks merged terms by frequency x recency-weight and
// truncates to limit, breaking ties by first-seen order.
func rankAndTruncate(stats map[string]*termStats, order []string, limit int) []string {
	ranked := make([]string, len(order))
	copy(ranked, order)
	sort.SliceStable(ranked, func(a, b int) bool {
		sa, sb := stats[ranked[a]], stats[ranked[b]]
		return sa.freq*sa.lastSeen > sb.freq*sb.lastSeen
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, k := range ranked {
		out[i] = stats[k].display
	}
	return out
}

// fillSlots case-insensitively deduplicates src (keeping first-seen casing)
// before trimming/padding into dst, so two occurrences of the same skill
// never consume two slots.
func fillSlots(dst []string, src []string) {
	deduped := make([]string, 0, len(src))
	seen := make(map[string]bool, len(src))
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, s)
	}
	for i := range dst {
		if i < len(deduped) {
			dst[i] = deduped[i]
		} else {
			dst[i] = domain.PadToken
		}
	}
}

func cacheKey(text string, kind domain.DocumentKind, promptVersion, modelID string) string {
	h := sha256.Sum256([]byte(string(kind) + "|" + promptVersion + "|" + modelID + "|" + text))
	return hex.EncodeToString(h[:])
}

// countTokens exposes tiktoken-based budgeting for callers (e.g. the
// orchestrator) that want to pre-flight a document's token footprint before
// enqueuing an extraction job.
func countTokens(text, model string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return len(text) / 4
		}
	}
	return len(enc.Encode(text, nil, nil))
}

// CountTokens is the exported form of countTokens.
func CountTokens(text, model string) int { return countTokens(text, model) }

func systemPrompt(kind domain.DocumentKind) string {
	switch kind {
	case domain.DocumentJD:
		return "You extract structured fields from a job description. Respond with strict JSON only: " +
			"{\"title\":string,\"category\":string,\"experience_years\":number,\"skills\":[string,...],\"responsibilities\":[string,...]}. " +
			"category is a short free-form class tag such as \"Software Engineering\". " +
			fmt.Sprintf("Return exactly %d skills and %d responsibilities; pad unused slots with %q.", domain.SkillSlots, domain.RespSlots, domain.PadToken)
	default:
		return "You extract structured fields from a candidate CV. Respond with strict JSON only: " +
			"{\"title\":string,\"category\":string,\"experience_years\":number,\"skills\":[string,...],\"responsibilities\":[string,...]}. " +
			"category is a short free-form class tag such as \"Software Engineering\". " +
			fmt.Sprintf("Return exactly %d skills and %d responsibilities; pad unused slots with %q.", domain.SkillSlots, domain.RespSlots, domain.PadToken)
	}
}

func userPrompt(kind domain.DocumentKind, text string) string {
	label := "CV Text"
	if kind == domain.DocumentJD {
		label = "Job Description Text"
	}
	return label + ":\n" + text
}
